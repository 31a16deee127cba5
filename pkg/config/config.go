package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openoverlayrouter/oord/pkg/cdp"
	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/platform"
)

// Config represents the oord daemon configuration
type Config struct {
	// Network manager configuration
	Net NetConfig `yaml:"net"`

	// Control plane personality and data plane
	Control ControlConfig `yaml:"control"`

	// Control socket
	Server ServerConfig `yaml:"server"`

	// Health check configuration
	Health HealthConfig `yaml:"health,omitempty"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// NetConfig holds network manager settings
type NetConfig struct {
	// Backend: auto, kernel, apple, ios, vpp. Read once at startup.
	Backend string `yaml:"backend,omitempty"`

	// Namespace is a named Linux network namespace for the kernel backend
	Namespace string `yaml:"namespace,omitempty"`

	// RequireGateway reports running interfaces without a default gateway as down (default: true)
	RequireGateway *bool `yaml:"require_gateway,omitempty"`

	// Priority forces the cellular interface down while the primary is up
	Priority netm.Priority `yaml:"priority,omitempty"`

	// IOSPort is the loopback port of the iOS tunnel provider channel (default: 10002)
	IOSPort int `yaml:"ios_port,omitempty"`

	// RouteTable is reloaded when the configuration changes; 0 disables
	RouteTable uint32 `yaml:"route_table,omitempty"`

	// RouteFamily of the reloaded table: 4 or 6 (default: 4)
	RouteFamily string `yaml:"route_family,omitempty"`

	VPP VPPConfig `yaml:"vpp,omitempty"`
}

// VPPConfig holds VPP agent settings
type VPPConfig struct {
	// URL of the agent REST API (default: http://127.0.0.1:9191)
	URL string `yaml:"url,omitempty"`

	// PollInterval in seconds (default: 5)
	PollInterval int `yaml:"poll_interval,omitempty"`
}

// ControlConfig selects the control device and data plane
type ControlConfig struct {
	// Mode: xtr, ms, mr, rtr, mn, ddt
	Mode string `yaml:"mode,omitempty"`

	// DataPlane: auto, tun, vpp, apple, vpnapi
	DataPlane string `yaml:"data_plane,omitempty"`
}

// ServerConfig holds control socket settings
type ServerConfig struct {
	SocketPath string `yaml:"socket_path,omitempty"`
}

// HealthConfig holds health check settings
type HealthConfig struct {
	// Enabled controls whether health check server runs (default: true)
	Enabled *bool `yaml:"enabled,omitempty"`

	// Port for health check server (default: 8082)
	Port int `yaml:"port,omitempty"`

	// Address to bind (default: 127.0.0.1)
	Address string `yaml:"address,omitempty"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Verbosity is the logr V-level enabled
	Verbosity int `yaml:"verbosity,omitempty"`
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file exists
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// setDefaults sets default values for unspecified fields
func (c *Config) setDefaults() {
	if c.Net.Backend == "" {
		c.Net.Backend = string(platform.Auto)
	}
	if c.Net.RequireGateway == nil {
		require := true
		c.Net.RequireGateway = &require
	}
	if c.Net.IOSPort == 0 {
		c.Net.IOSPort = 10002
	}
	if c.Net.RouteFamily == "" {
		c.Net.RouteFamily = "4"
	}
	if c.Net.VPP.URL == "" {
		c.Net.VPP.URL = "http://127.0.0.1:9191"
	}
	if c.Net.VPP.PollInterval == 0 {
		c.Net.VPP.PollInterval = 5
	}

	if c.Control.Mode == "" {
		c.Control.Mode = string(cdp.XTR)
	}
	if c.Control.DataPlane == "" {
		c.Control.DataPlane = string(cdp.AutoPlane)
	}

	if c.Server.SocketPath == "" {
		c.Server.SocketPath = getDefaultSocketPath()
	}

	if c.Health.Enabled == nil {
		enabled := true
		c.Health.Enabled = &enabled
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8082
	}
	if c.Health.Address == "" {
		c.Health.Address = "127.0.0.1"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := platform.Parse(c.Net.Backend); err != nil {
		return err
	}
	if c.Net.IOSPort <= 0 || c.Net.IOSPort > 65535 {
		return fmt.Errorf("invalid net.ios_port %d", c.Net.IOSPort)
	}
	if _, err := lispaddr.ParseFamily(c.Net.RouteFamily); err != nil {
		return fmt.Errorf("invalid net.route_family: %w", err)
	}
	p := c.Net.Priority
	if (p.Primary == "") != (p.Cellular == "") {
		return fmt.Errorf("net.priority needs both primary and cellular")
	}
	if p.Primary != "" && p.Primary == p.Cellular {
		return fmt.Errorf("net.priority primary and cellular must differ")
	}
	if c.Net.VPP.PollInterval < 0 {
		return fmt.Errorf("invalid net.vpp.poll_interval %d", c.Net.VPP.PollInterval)
	}

	if _, err := cdp.ParseDevice(c.Control.Mode); err != nil {
		return err
	}
	if _, err := cdp.ParseDataPlane(c.Control.DataPlane); err != nil {
		return err
	}

	if c.Server.SocketPath == "" {
		return fmt.Errorf("server.socket_path is required")
	}
	if c.Health.Port <= 0 || c.Health.Port > 65535 {
		return fmt.Errorf("invalid health.port %d", c.Health.Port)
	}
	if c.Logging.Verbosity < 0 {
		return fmt.Errorf("invalid logging.verbosity %d", c.Logging.Verbosity)
	}
	return nil
}

// HealthEnabled reports whether the health server should run
func (c *Config) HealthEnabled() bool {
	return c.Health.Enabled != nil && *c.Health.Enabled
}

// StatusPolicy builds the interface status policy
func (c *Config) StatusPolicy() netm.StatusPolicy {
	return netm.StatusPolicy{
		Priority:       c.Net.Priority,
		RequireGateway: c.Net.RequireGateway == nil || *c.Net.RequireGateway,
	}
}

// Platform builds the backend selection from the configuration
func (c *Config) Platform() platform.Config {
	kind, _ := platform.Parse(c.Net.Backend)
	return platform.Config{
		Backend:         kind,
		Policy:          c.StatusPolicy(),
		Namespace:       c.Net.Namespace,
		Table:           c.Net.RouteTable,
		IOSPort:         c.Net.IOSPort,
		VPPURL:          c.Net.VPP.URL,
		VPPPollInterval: time.Duration(c.Net.VPP.PollInterval) * time.Second,
	}
}

// Family returns the address family of the reloaded route table
func (c *Config) Family() lispaddr.Family {
	f, err := lispaddr.ParseFamily(c.Net.RouteFamily)
	if err != nil {
		return lispaddr.FamilyIPv4
	}
	return f
}

// Changes compares c with next. applied lists the settings that take
// effect at runtime; restart lists the ones needing a daemon restart.
func (c *Config) Changes(next *Config) (applied, restart []string) {
	if c.Logging.Verbosity != next.Logging.Verbosity {
		applied = append(applied, "logging.verbosity")
	}
	if c.Net.Priority != next.Net.Priority {
		applied = append(applied, "net.priority")
	}
	if c.Net.RouteTable != next.Net.RouteTable || c.Net.RouteFamily != next.Net.RouteFamily {
		applied = append(applied, "net.route_table")
	}

	frozen := []struct {
		name string
		a, b any
	}{
		{"net.backend", c.Net.Backend, next.Net.Backend},
		{"net.namespace", c.Net.Namespace, next.Net.Namespace},
		{"net.require_gateway", c.Net.RequireGateway, next.Net.RequireGateway},
		{"net.ios_port", c.Net.IOSPort, next.Net.IOSPort},
		{"net.vpp", c.Net.VPP, next.Net.VPP},
		{"control", c.Control, next.Control},
		{"server", c.Server, next.Server},
		{"health", c.Health, next.Health},
	}
	for _, f := range frozen {
		if !reflect.DeepEqual(f.a, f.b) {
			restart = append(restart, f.name)
		}
	}
	return applied, restart
}

// MergeWithFlags merges CLI flags with config file (flags take precedence)
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if backend, ok := flags["backend"].(string); ok && backend != "" {
		c.Net.Backend = backend
	}
	if socket, ok := flags["socket"].(string); ok && socket != "" {
		c.Server.SocketPath = socket
	}
	if v, ok := flags["v"].(int); ok && v > c.Logging.Verbosity {
		c.Logging.Verbosity = v
	}
}
