//go:build !windows

package config

// DefaultPath is where the daemon looks for its configuration
const DefaultPath = "/etc/oor/oord.yml"

// getDefaultSocketPath returns the platform-specific default socket path
func getDefaultSocketPath() string {
	return "/var/run/oord.sock"
}
