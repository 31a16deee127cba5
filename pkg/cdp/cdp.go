// Package cdp selects the control-plane device personality and the
// data-plane implementation of the daemon.
package cdp

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
	"github.com/openoverlayrouter/oord/pkg/netm/platform"
)

// Device is a control-plane personality
type Device string

const (
	XTR Device = "xtr"
	MS  Device = "ms"
	MR  Device = "mr"
	RTR Device = "rtr"
	MN  Device = "mn"
	DDT Device = "ddt"
)

// Devices lists every personality
var Devices = []Device{XTR, MS, MR, RTR, MN, DDT}

// ParseDevice validates s; the empty string is XTR
func ParseDevice(s string) (Device, error) {
	if s == "" {
		return XTR, nil
	}
	for _, d := range Devices {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown control device %q", s)
}

// TracksInterfaces reports whether the personality owns local RLOCs and so
// consumes interface change events. Mapping system nodes do not.
func (d Device) TracksInterfaces() bool {
	switch d {
	case XTR, RTR, MN:
		return true
	}
	return false
}

// DataPlane is a data-plane implementation
type DataPlane string

const (
	AutoPlane DataPlane = "auto"
	TUN       DataPlane = "tun"
	VPP       DataPlane = "vpp"
	Apple     DataPlane = "apple"
	VPNAPI    DataPlane = "vpnapi"
)

// DataPlanes lists every accepted value
var DataPlanes = []DataPlane{AutoPlane, TUN, VPP, Apple, VPNAPI}

// ParseDataPlane validates s; the empty string is AutoPlane
func ParseDataPlane(s string) (DataPlane, error) {
	if s == "" {
		return AutoPlane, nil
	}
	for _, p := range DataPlanes {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown data plane %q", s)
}

// SelectDevice picks the control device
func SelectDevice(requested Device) Device {
	if requested == "" {
		return XTR
	}
	return requested
}

// SelectDataPlane resolves AutoPlane from the network backend in use,
// preferring VPN-API, then VPP, then Apple, then TUN.
func SelectDataPlane(requested DataPlane, backend platform.Kind) DataPlane {
	if requested != "" && requested != AutoPlane {
		return requested
	}
	switch backend {
	case platform.IOS:
		return VPNAPI
	case platform.VPP:
		return VPP
	case platform.Apple:
		return Apple
	default:
		return TUN
	}
}

// Selection is the active control device and data plane
type Selection struct {
	Device    Device
	DataPlane DataPlane
}

// Select resolves both axes
func Select(device Device, plane DataPlane, backend platform.Kind) Selection {
	return Selection{
		Device:    SelectDevice(device),
		DataPlane: SelectDataPlane(plane, backend),
	}
}

func (s Selection) String() string {
	return fmt.Sprintf("%s/%s", s.Device, s.DataPlane)
}

// Notifier is the netm.Handler feeding interface changes to the selected
// control device and data plane. Personalities that do not track
// interfaces ignore every event.
type Notifier struct {
	sel    Selection
	logger logr.Logger
}

// NewNotifier creates the handler for sel
func NewNotifier(sel Selection, logger logr.Logger) *Notifier {
	return &Notifier{sel: sel, logger: logger.WithName("cdp")}
}

func (n *Notifier) LinkChanged(index, newIndex int, state netm.Status) {
	if !n.sel.Device.TracksInterfaces() {
		return
	}
	n.logger.V(1).Info("Interface status update", "device", string(n.sel.Device), "dataPlane", string(n.sel.DataPlane),
		"index", index, "newIndex", newIndex, "status", state.String())
}

func (n *Notifier) AddressChanged(op netm.Op, index int, addr lispaddr.Address) {
	if !n.sel.Device.TracksInterfaces() {
		return
	}
	n.logger.V(1).Info("RLOC address update", "device", string(n.sel.Device), "dataPlane", string(n.sel.DataPlane),
		"op", op.String(), "index", index, "address", addr.String())
}

func (n *Notifier) RouteChanged(op netm.Op, index int, dst, gw, src lispaddr.Address) {
	if !n.sel.Device.TracksInterfaces() || !dst.IsUnspecified() {
		return
	}
	n.logger.V(1).Info("Default gateway update", "device", string(n.sel.Device), "dataPlane", string(n.sel.DataPlane),
		"op", op.String(), "index", index, "gateway", gw.String())
}
