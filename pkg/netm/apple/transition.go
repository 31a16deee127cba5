package apple

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

// Transition codes sent by the iOS tunnel provider
const (
	// ToCellular means the primary network was lost and cellular took over
	ToCellular = 1
	// ToPrimary means the primary network came back
	ToPrimary = 2
)

func parseTransition(payload []byte) (int, error) {
	s := string(bytes.TrimRight(payload, "\x00\r\n "))
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid transition message %q: %w", s, err)
	}
	return code, nil
}

func (b *Backend) translateTransition(payload []byte) ([]netm.Event, error) {
	code, err := parseTransition(payload)
	if err != nil {
		return nil, netm.ParseError("transition", err)
	}

	prio := b.policy.Priority
	log := b.logger.WithValues("transition", uuid.NewString(), "code", code)

	switch code {
	case ToCellular:
		primary, cellular, err := b.pairIndexes(prio)
		if err != nil {
			return nil, err
		}
		log.Info("Primary network lost, switching to cellular", "primary", prio.Primary, "cellular", prio.Cellular)
		return []netm.Event{
			netm.LinkChanged{Index: primary, NewIndex: primary, State: netm.StatusDown},
			netm.LinkChanged{Index: cellular, NewIndex: cellular, State: netm.StatusUp},
		}, nil

	case ToPrimary:
		primary, cellular, err := b.pairIndexes(prio)
		if err != nil {
			return nil, err
		}
		addrs := b.Addresses(prio.Primary, lispaddr.FamilyIPv4)
		if len(addrs) == 0 {
			log.Info("Primary network has no IPv4 address yet, ignoring transition", "primary", prio.Primary)
			return nil, nil
		}
		log.Info("Primary network restored", "primary", prio.Primary, "address", addrs[0].String())

		events := []netm.Event{
			netm.AddressChanged{Op: netm.OpAdd, Index: primary, Address: addrs[0]},
		}
		if gw, ok := b.Gateway(prio.Primary, lispaddr.FamilyIPv4); ok {
			events = append(events, netm.RouteChanged{
				Op:          netm.OpAdd,
				Index:       primary,
				Destination: lispaddr.Any(lispaddr.FamilyIPv4),
				Gateway:     gw,
				Source:      gw,
			})
		} else {
			log.Info("Primary network has no default gateway", "primary", prio.Primary)
		}
		return append(events,
			netm.LinkChanged{Index: primary, NewIndex: primary, State: netm.StatusUp},
			netm.LinkChanged{Index: cellular, NewIndex: cellular, State: netm.StatusDown},
		), nil

	default:
		log.Info("Ignoring unknown transition")
		return nil, nil
	}
}

func (b *Backend) pairIndexes(prio netm.Priority) (primary, cellular int, err error) {
	if !prio.Enabled() {
		return 0, 0, netm.QueryError("transition", errors.New("no primary/cellular pair configured"))
	}
	primary = b.sys.NameToIndex(prio.Primary)
	cellular = b.sys.NameToIndex(prio.Cellular)
	switch {
	case primary == 0:
		return 0, 0, netm.QueryError("transition", fmt.Errorf("%s: %w", prio.Primary, netm.ErrNoExist))
	case cellular == 0:
		return 0, 0, netm.QueryError("transition", fmt.Errorf("%s: %w", prio.Cellular, netm.ErrNoExist))
	}
	return primary, cellular, nil
}
