package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openoverlayrouter/oord/pkg/config"
	"github.com/openoverlayrouter/oord/pkg/daemon"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the configuration file")
	verbosity := flag.Int("v", 0, "log verbosity")
	backend := flag.String("backend", "", "network backend: auto, kernel, apple, ios, vpp")
	socketPath := flag.String("socket", "", "control socket path")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("oord version %s\n", version)
		os.Exit(0)
	}

	logger, setVerbosity := newLogger(os.Stdout, *verbosity)

	d, err := daemon.New(daemon.Options{
		ConfigPath: *configPath,
		Flags: map[string]interface{}{
			"backend": *backend,
			"socket":  *socketPath,
			"v":       *verbosity,
		},
		SetVerbosity: setVerbosity,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
