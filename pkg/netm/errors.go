package netm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoExist is returned when a queried interface is not known to the OS.
	// It is an expected outcome and is not logged as an error.
	ErrNoExist = errors.New("interface does not exist")

	// ErrUnsupported is returned for capabilities the platform cannot provide
	ErrUnsupported = errors.New("not supported by backend")
)

// Kind is the category of a network manager error
type Kind int

const (
	KindUnknown Kind = iota
	// KindInit means backend resource acquisition failed; fatal to startup
	KindInit
	// KindQuery means a single OS query failed; the call returns its "none" value
	KindQuery
	// KindParse means a routing message buffer was malformed; the parse pass is aborted
	KindParse
	// KindSource means a backend event source was lost and could not be
	// restored; it stops the event loop
	KindSource
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindQuery:
		return "query"
	case KindParse:
		return "parse"
	case KindSource:
		return "source"
	default:
		return "unknown"
	}
}

// Error is a network manager error tagged with its Kind and the failed operation
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InitError wraps err as a KindInit error of op
func InitError(op string, err error) error {
	return &Error{Kind: KindInit, Op: op, Err: err}
}

// QueryError wraps err as a KindQuery error of op
func QueryError(op string, err error) error {
	return &Error{Kind: KindQuery, Op: op, Err: err}
}

// ParseError wraps err as a KindParse error of op
func ParseError(op string, err error) error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// SourceError wraps err as a KindSource error of op
func SourceError(op string, err error) error {
	return &Error{Kind: KindSource, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
