package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openoverlayrouter/oord/pkg/config"
)

// settle lets editors finish writing before the file is read
const settle = 100 * time.Millisecond

func (d *Daemon) watchConfig(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Error(err, "Failed to create config watcher")
		return
	}
	defer watcher.Close()

	// Watch the directory (handles vim's rename-based saves)
	configPath := filepath.Clean(d.opts.ConfigPath)
	configDir := filepath.Dir(configPath)
	if err := watcher.Add(configDir); err != nil {
		d.logger.Error(err, "Failed to watch config directory", "path", configDir)
		return
	}

	d.logger.Info("Watching config file for changes", "path", configPath)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			d.logger.Info("Config file changed, reloading", "path", event.Name)
			select {
			case <-ctx.Done():
				return
			case <-time.After(settle):
			}
			d.reloadConfig()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error(err, "Config watcher error")
		}
	}
}

// reloadConfig applies the runtime settings of the file. Settings that need
// a restart are reported and keep their current value.
func (d *Daemon) reloadConfig() {
	next, err := config.LoadFromFile(d.opts.ConfigPath)
	if err != nil {
		d.logger.Error(err, "Invalid config, keeping current configuration", "path", d.opts.ConfigPath)
		return
	}
	next.MergeWithFlags(d.opts.Flags)
	if err := next.Validate(); err != nil {
		d.logger.Error(err, "Invalid config, keeping current configuration", "path", d.opts.ConfigPath)
		return
	}
	d.apply(next)
}

func (d *Daemon) apply(next *config.Config) {
	d.mu.Lock()
	cur := d.cfg
	applied, restart := cur.Changes(next)

	updated := *cur
	updated.Logging = next.Logging
	updated.Net.Priority = next.Net.Priority
	updated.Net.RouteTable = next.Net.RouteTable
	updated.Net.RouteFamily = next.Net.RouteFamily
	d.cfg = &updated
	d.mu.Unlock()

	for _, name := range restart {
		d.logger.Info("Setting changed but requires a restart", "setting", name)
	}

	for _, name := range applied {
		switch name {
		case "logging.verbosity":
			if d.opts.SetVerbosity != nil {
				d.opts.SetVerbosity(updated.Logging.Verbosity)
			}
			d.logger.Info("Verbosity updated", "old", cur.Logging.Verbosity, "new", updated.Logging.Verbosity)

		case "net.priority":
			if !d.manager.SetPolicy(updated.StatusPolicy()) {
				d.logger.Info("Backend does not support policy changes, restart to apply", "setting", name)
				continue
			}
			d.registry.Load()
			d.logger.Info("Interface priority updated",
				"primary", updated.Net.Priority.Primary,
				"cellular", updated.Net.Priority.Cellular)

		case "net.route_table":
			if updated.Net.RouteTable == 0 {
				continue
			}
			if err := d.ReloadRoutes(updated.Net.RouteTable, updated.Family()); err != nil {
				d.logger.Error(err, "Failed to reload routes", "table", updated.Net.RouteTable)
			}
		}
	}

	if len(applied) > 0 {
		d.logger.Info("Config reloaded successfully", "applied", applied)
	}
}
