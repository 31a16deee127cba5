// Package platform selects the network manager backend once, at startup.
package platform

import (
	"fmt"
	"runtime"
	"time"

	"github.com/go-logr/logr"

	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/apple"
	"github.com/openoverlayrouter/oord/pkg/netm/kernel"
	"github.com/openoverlayrouter/oord/pkg/netm/vpp"
)

// Kind names a backend
type Kind string

const (
	Auto   Kind = "auto"
	Kernel Kind = "kernel"
	Apple  Kind = "apple"
	IOS    Kind = "ios"
	VPP    Kind = "vpp"
)

// Kinds lists every accepted value
var Kinds = []Kind{Auto, Kernel, Apple, IOS, VPP}

// Parse validates s; the empty string is Auto
func Parse(s string) (Kind, error) {
	if s == "" {
		return Auto, nil
	}
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown network backend %q", s)
}

// Detect returns the backend native to goos. VPP is never detected; it
// has to be asked for.
func Detect(goos string) Kind {
	switch goos {
	case "ios":
		return IOS
	case "darwin":
		return Apple
	default:
		return Kernel
	}
}

// Config holds everything any backend may need
type Config struct {
	Backend Kind
	Policy  netm.StatusPolicy

	// kernel
	Namespace string
	Table     uint32

	// ios
	IOSPort int

	// vpp
	VPPURL          string
	VPPPollInterval time.Duration

	Logger logr.Logger
}

// Resolve turns Auto into the concrete backend of the running OS
func (c Config) Resolve() Kind {
	if c.Backend == "" || c.Backend == Auto {
		return Detect(runtime.GOOS)
	}
	return c.Backend
}

// New builds the selected backend. The choice is final for the process.
func New(cfg Config) (netm.Backend, error) {
	kind := cfg.Resolve()
	cfg.Logger.Info("Selected network manager backend", "backend", string(kind), "os", runtime.GOOS)

	switch kind {
	case Kernel:
		return kernel.New(kernel.Config{
			Namespace: cfg.Namespace,
			Policy:    cfg.Policy,
			Table:     cfg.Table,
			Logger:    cfg.Logger,
		})
	case Apple, IOS:
		variant := apple.MacOS
		if kind == IOS {
			variant = apple.IOS
		}
		b, err := apple.New(apple.Config{
			Variant: variant,
			Policy:  cfg.Policy,
			Port:    cfg.IOSPort,
			Logger:  cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case VPP:
		return vpp.New(vpp.Config{
			URL:          cfg.VPPURL,
			PollInterval: cfg.VPPPollInterval,
			Policy:       cfg.Policy,
			Logger:       cfg.Logger,
		}), nil
	default:
		return nil, netm.InitError("select backend", fmt.Errorf("unknown network backend %q", kind))
	}
}
