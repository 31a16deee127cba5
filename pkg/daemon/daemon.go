package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/openoverlayrouter/oord/pkg/cdp"
	"github.com/openoverlayrouter/oord/pkg/config"
	"github.com/openoverlayrouter/oord/pkg/health"
	"github.com/openoverlayrouter/oord/pkg/ifstate"
	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/platform"
	"github.com/openoverlayrouter/oord/pkg/socket"
)

const (
	// defaultTableRetry bounds the startup retries of the reverse address table
	defaultTableRetry = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Options configures a Daemon
type Options struct {
	// ConfigPath is the YAML file; a missing file means defaults
	ConfigPath string

	// Flags override file values, see config.MergeWithFlags
	Flags map[string]interface{}

	// SetVerbosity applies logging.verbosity at runtime; nil ignores it
	SetVerbosity func(v int)

	// Backend replaces the platform backend selected from the configuration
	Backend netm.Backend

	// TableRetry bounds the retries of the startup address table build
	TableRetry time.Duration

	Logger logr.Logger
}

// Daemon represents the oord daemon
type Daemon struct {
	opts   Options
	logger logr.Logger

	mu  sync.RWMutex
	cfg *config.Config

	kind      platform.Kind
	selection cdp.Selection
	manager   *netm.Manager
	registry  *ifstate.Registry
	startTime time.Time

	socketServer *socket.Server
	healthServer *health.Server
}

// New loads the configuration and selects the backend. Nothing is started.
func New(opts Options) (*Daemon, error) {
	cfg, err := loadConfig(opts.ConfigPath, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.MergeWithFlags(opts.Flags)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.TableRetry <= 0 {
		opts.TableRetry = defaultTableRetry
	}

	d := &Daemon{
		opts:   opts,
		logger: opts.Logger,
		cfg:    cfg,
	}

	pc := cfg.Platform()
	pc.Logger = d.logger
	d.kind = pc.Resolve()

	backend := opts.Backend
	if backend == nil {
		backend, err = platform.New(pc)
		if err != nil {
			return nil, err
		}
	}

	device, _ := cdp.ParseDevice(cfg.Control.Mode)
	plane, _ := cdp.ParseDataPlane(cfg.Control.DataPlane)
	d.selection = cdp.Select(device, plane, d.kind)

	d.manager = netm.NewManager(backend, d.logger)
	d.registry = ifstate.New(d.manager, d.logger)
	d.manager.AddHandler(d.registry)
	d.manager.AddHandler(cdp.NewNotifier(d.selection, d.logger))

	if opts.SetVerbosity != nil {
		opts.SetVerbosity(cfg.Logging.Verbosity)
	}
	return d, nil
}

func loadConfig(path string, logger logr.Logger) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("Config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return cfg, err
}

// Run starts every subsystem and blocks until ctx is done or one of them fails
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.startTime = time.Now()
	cfg := d.cfg
	d.mu.Unlock()

	d.logger.Info("Starting oord daemon",
		"backend", d.manager.BackendName(),
		"selection", d.selection.String())

	if err := d.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start network manager: %w", err)
	}
	defer func() {
		if err := d.manager.Close(); err != nil {
			d.logger.Error(err, "Failed to release network manager backend")
		}
	}()

	d.registry.Load()

	table, err := d.buildAddressTable(ctx)
	if err != nil {
		return fmt.Errorf("failed to build address table: %w", err)
	}
	d.logger.Info("Address table built", "addresses", len(table))

	d.socketServer = socket.NewServer(cfg.Server.SocketPath, d, d.logger)
	if err := d.socketServer.Start(); err != nil {
		return fmt.Errorf("failed to start socket server: %w", err)
	}
	defer d.socketServer.Stop()

	if cfg.HealthEnabled() {
		d.healthServer = health.NewServer(health.Config{
			Address:    cfg.Health.Address,
			Port:       cfg.Health.Port,
			Backend:    d.manager.BackendName(),
			Interfaces: d.registry,
			Logger:     d.logger,
		})
		if err := d.healthServer.Start(); err != nil {
			d.logger.Error(err, "Failed to start health server")
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			d.healthServer.Stop(sctx)
		}()
		d.healthServer.SetReady(true)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.manager.Run(gctx)
	})
	if d.opts.ConfigPath != "" {
		g.Go(func() error {
			d.watchConfig(gctx)
			return nil
		})
	}

	d.logger.Info("Daemon started successfully")
	err = g.Wait()
	d.logger.Info("Daemon stopping")
	return err
}

// buildAddressTable retries the reverse table walk until it succeeds or the
// retry budget is spent
func (d *Daemon) buildAddressTable(ctx context.Context) (netm.AddressTable, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = d.opts.TableRetry

	var table netm.AddressTable
	err := backoff.RetryNotify(func() error {
		t, err := d.manager.ReverseAddressTable()
		if err != nil {
			return err
		}
		table = t
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		d.logger.Error(err, "Address table build failed, retrying", "in", next.String())
	})
	return table, err
}

func (d *Daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Socket command implementations

func (d *Daemon) GetStatus() socket.StatusResponse {
	list := d.registry.List()
	up := 0
	for _, iface := range list {
		if iface.Status == netm.StatusUp {
			up++
		}
	}
	d.mu.RLock()
	started := d.startTime
	d.mu.RUnlock()

	uptime := ""
	if !started.IsZero() {
		uptime = time.Since(started).Round(time.Second).String()
	}
	return socket.StatusResponse{
		Backend:    d.manager.BackendName(),
		Device:     string(d.selection.Device),
		DataPlane:  string(d.selection.DataPlane),
		Interfaces: len(list),
		Up:         up,
		Uptime:     uptime,
	}
}

func (d *Daemon) Interfaces() []netm.Interface {
	return d.registry.List()
}

func (d *Daemon) Addresses(name string, family lispaddr.Family) []lispaddr.Address {
	return d.manager.Addresses(name, family)
}

func (d *Daemon) Gateway(name string, family lispaddr.Family) (lispaddr.Address, bool) {
	return d.manager.Gateway(name, family)
}

func (d *Daemon) BestSourceAddress(dst lispaddr.Address) (lispaddr.Address, bool) {
	return d.manager.BestSourceAddress(dst)
}

func (d *Daemon) ReverseAddressTable() (netm.AddressTable, error) {
	return d.manager.ReverseAddressTable()
}

func (d *Daemon) ReloadRoutes(table uint32, family lispaddr.Family) error {
	d.logger.Info("Reloading routes", "table", table, "family", family.String())
	return d.manager.ReloadRoutes(table, family)
}
