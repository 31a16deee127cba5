// Package rtmsg walks the binary routing messages returned by a BSD routing
// table dump (sysctl NET_RT_DUMP / NET_RT_FLAGS) and extracts default gateways.
//
// A dump is a sequence of messages. Each message starts with a fixed header
// whose first word holds the message length; the header is followed by one
// sockaddr record per bit set in the header's address mask, in ascending bit
// order, each padded up to the kernel's word size.
package rtmsg

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openoverlayrouter/oord/pkg/lispaddr"
)

// Address roles, by bit index in the message address mask
const (
	RTAXDst = iota
	RTAXGateway
	RTAXNetmask
	RTAXGenmask
	RTAXIfp
	RTAXIfa
	RTAXAuthor
	RTAXBrd
	RTAXMax
)

const (
	// RTADst is set when a destination record is present
	RTADst = 1 << RTAXDst
	// RTAGateway is set when a gateway record is present
	RTAGateway = 1 << RTAXGateway

	afInet = 2

	// offsets shared by the BSD rt_msghdr layouts
	offMsgLen  = 0
	offVersion = 2
	offType    = 3
	offIndex   = 4
	offFlags   = 8
	offAddrs   = 12
	minHeader  = 16

	sockaddrInLen = 8
)

var (
	// ErrZeroLength is returned for a message or record declaring a zero length
	ErrZeroLength = errors.New("zero declared length")
	// ErrTruncated is returned when a declared length runs past the buffer
	ErrTruncated = errors.New("truncated routing message")
)

// Layout describes the platform specific shape of a routing dump
type Layout struct {
	// HeaderLen is sizeof(struct rt_msghdr)
	HeaderLen int
	// Align is the boundary sockaddr records are padded to
	Align int
	// ByteOrder of the header fields; the host order of the dumping kernel
	ByteOrder binary.ByteOrder
}

var (
	// Darwin is the macOS/iOS layout. xnu pads sockaddrs to 32-bit words.
	Darwin = Layout{HeaderLen: 92, Align: 4, ByteOrder: binary.LittleEndian}
	// FreeBSD is the amd64/arm64 FreeBSD layout
	FreeBSD = Layout{HeaderLen: 152, Align: 8, ByteOrder: binary.LittleEndian}
)

// Message is one decoded routing message
type Message struct {
	// Offset of the message inside the dump
	Offset  int
	Len     int
	Version uint8
	Type    uint8
	Index   int
	Flags   int32
	Addrs   int32
	// Sockaddrs holds the raw record of every role whose bit is set in Addrs
	Sockaddrs [RTAXMax][]byte
}

// Has reports whether every bit of mask is set in the address mask
func (m *Message) Has(mask int32) bool {
	return m.Addrs&mask == mask
}

// Family returns the address family byte of the record at role, or 0
func (m *Message) Family(role int) uint8 {
	sa := m.Sockaddrs[role]
	if len(sa) < 2 {
		return 0
	}
	return sa[1]
}

// IPv4 decodes the sockaddr_in record at role
func (m *Message) IPv4(role int) (lispaddr.Address, bool) {
	sa := m.Sockaddrs[role]
	if len(sa) < sockaddrInLen || sa[1] != afInet {
		return lispaddr.Address{}, false
	}
	a, err := lispaddr.FromBytes(lispaddr.FamilyIPv4, sa[4:8])
	if err != nil {
		return lispaddr.Address{}, false
	}
	return a, true
}

// Roundup pads a declared record length to the layout alignment
func (l Layout) Roundup(n int) int {
	return (n + l.Align - 1) &^ (l.Align - 1)
}

// Walk calls fn for each message of buf in order. It stops at the first
// malformed message and returns an error wrapping ErrZeroLength or
// ErrTruncated; every advance is bounds checked and strictly positive.
func (l Layout) Walk(buf []byte, fn func(*Message) error) error {
	if l.HeaderLen < minHeader || l.Align <= 0 || l.Align&(l.Align-1) != 0 {
		return fmt.Errorf("invalid layout %+v", l)
	}

	for off := 0; off < len(buf); {
		if len(buf)-off < 2 {
			return fmt.Errorf("message at %d: %w", off, ErrTruncated)
		}
		msgLen := int(l.ByteOrder.Uint16(buf[off+offMsgLen:]))
		if msgLen == 0 {
			return fmt.Errorf("message at %d: %w", off, ErrZeroLength)
		}
		if msgLen < l.HeaderLen || off+msgLen > len(buf) {
			return fmt.Errorf("message at %d with length %d: %w", off, msgLen, ErrTruncated)
		}

		msg, err := l.decode(buf[off:off+msgLen], off)
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
		off += msgLen
	}
	return nil
}

func (l Layout) decode(raw []byte, off int) (*Message, error) {
	m := &Message{
		Offset:  off,
		Len:     len(raw),
		Version: raw[offVersion],
		Type:    raw[offType],
		Index:   int(l.ByteOrder.Uint16(raw[offIndex:])),
		Flags:   int32(l.ByteOrder.Uint32(raw[offFlags:])),
		Addrs:   int32(l.ByteOrder.Uint32(raw[offAddrs:])),
	}

	cur := l.HeaderLen
	for i := 0; i < RTAXMax; i++ {
		if m.Addrs&(1<<i) == 0 {
			continue
		}
		if cur >= len(raw) {
			return nil, fmt.Errorf("message at %d, record %d: %w", off, i, ErrTruncated)
		}
		saLen := int(raw[cur])
		if saLen == 0 {
			if i != RTAXNetmask && i != RTAXGenmask {
				return nil, fmt.Errorf("message at %d, record %d: %w", off, i, ErrZeroLength)
			}
			// xnu writes an all-zeros mask as an empty record occupying one word
			cur += l.Align
			continue
		}
		if cur+saLen > len(raw) {
			return nil, fmt.Errorf("message at %d, record %d: %w", off, i, ErrTruncated)
		}
		m.Sockaddrs[i] = raw[cur : cur+saLen]
		cur += l.Roundup(saLen)
	}
	return m, nil
}

// DefaultGateway returns the IPv4 gateway of the default route leaving the
// interface called ifname. nameOf resolves a message's interface index.
// When several default routes match, the last one in the dump wins.
// ok is false when no message qualifies; err is non-nil when buf is malformed,
// in which case no gateway is returned.
func (l Layout) DefaultGateway(buf []byte, ifname string, nameOf func(index int) (string, error)) (gw lispaddr.Address, ok bool, err error) {
	err = l.Walk(buf, func(m *Message) error {
		if !m.Has(RTADst | RTAGateway) {
			return nil
		}
		if m.Family(RTAXDst) != afInet || m.Family(RTAXGateway) != afInet {
			return nil
		}
		dst, valid := m.IPv4(RTAXDst)
		if !valid || !dst.IsUnspecified() {
			return nil
		}
		name, nerr := nameOf(m.Index)
		if nerr != nil || name != ifname {
			return nil
		}
		if g, valid := m.IPv4(RTAXGateway); valid {
			gw, ok = g, true
		}
		return nil
	})
	if err != nil {
		return lispaddr.Address{}, false, err
	}
	return gw, ok, nil
}
