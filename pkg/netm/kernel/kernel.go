// Package kernel implements the netlink backend for Linux hosts.
package kernel

import (
	"github.com/go-logr/logr"

	"github.com/openoverlayrouter/oord/pkg/netm"
)

// Name of the backend
const Name = "kernel"

const (
	sourceNetlink = "netlink"
	sourceReload  = "reload"

	// mainTable is RT_TABLE_MAIN
	mainTable = 254
)

// Config holds backend configuration
type Config struct {
	// Namespace is a named network namespace to operate in; empty is the current one
	Namespace string
	Policy    netm.StatusPolicy
	// Table is the routing table default gateways are read from; 0 selects main
	Table  uint32
	Logger logr.Logger
}

func (c Config) table() int {
	if c.Table == 0 {
		return mainTable
	}
	return int(c.Table)
}
