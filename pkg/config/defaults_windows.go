//go:build windows

package config

// DefaultPath is where the daemon looks for its configuration
const DefaultPath = `C:\ProgramData\oor\oord.yml`

// getDefaultSocketPath returns the platform-specific default socket path
func getDefaultSocketPath() string {
	// Windows named pipe path
	return `\\.\pipe\oord`
}
