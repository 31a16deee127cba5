package netm

// Priority names a primary egress interface and a cellular backup. While the
// primary is Up the cellular interface is reported Down whatever its own link
// flags say, so only one data-plane egress is usable at a time. An empty
// Priority disables the override.
type Priority struct {
	Primary  string `yaml:"primary,omitempty" json:"primary,omitempty"`
	Cellular string `yaml:"cellular,omitempty" json:"cellular,omitempty"`
}

// Enabled reports whether both interfaces are named
func (p Priority) Enabled() bool {
	return p.Primary != "" && p.Cellular != "" && p.Primary != p.Cellular
}

// StatusPolicy derives an interface status from raw link observations
type StatusPolicy struct {
	Priority Priority
	// RequireGateway turns a running interface without a default gateway into Down
	RequireGateway bool
}

// LinkProbe is what a backend observed about one interface
type LinkProbe struct {
	Exists     bool
	Running    bool
	HasGateway bool
}

// Resolve computes the status of name. probe is called for name and, when the
// priority override applies, for the primary interface; it is never cached.
func (p StatusPolicy) Resolve(name string, probe func(name string) LinkProbe) Status {
	if p.Priority.Enabled() && name == p.Priority.Cellular {
		if p.derive(probe(p.Priority.Primary)) == StatusUp {
			return StatusDown
		}
	}
	return p.derive(probe(name))
}

func (p StatusPolicy) derive(lp LinkProbe) Status {
	switch {
	case !lp.Exists:
		return StatusNoExist
	case !lp.Running:
		return StatusDown
	case p.RequireGateway && !lp.HasGateway:
		return StatusDown
	default:
		return StatusUp
	}
}
