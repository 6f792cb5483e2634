package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognized means no handler accepted the command: unknown
	// namespace or verb, wrong argument count, wrong channel type, or an
	// empty verb.
	ErrUnrecognized = errors.New("unrecognized command")

	// ErrUnknownChannel is returned by Instrument.ChannelID for names the
	// instrument does not have.
	ErrUnknownChannel = errors.New("unknown channel")
)

// ArgumentKind categorizes argument errors.
type ArgumentKind int

const (
	// ArgInvalidUint indicates an argument that is not an unsigned integer.
	ArgInvalidUint ArgumentKind = iota
	// ArgInvalidFloat indicates an argument that is not a floating-point number.
	ArgInvalidFloat
	// ArgInvalidLiteral indicates an argument that is not one of the accepted keywords.
	ArgInvalidLiteral
)

// ArgumentError reports an argument that failed to parse. The command it
// belongs to is aborted before any mutator runs.
type ArgumentError struct {
	Kind  ArgumentKind
	Value string
	Err   error
}

func (e *ArgumentError) Error() string {
	switch e.Kind {
	case ArgInvalidUint:
		return fmt.Sprintf("invalid u64 '%s'", e.Value)
	case ArgInvalidFloat:
		return fmt.Sprintf("invalid double '%s'", e.Value)
	case ArgInvalidLiteral:
		return fmt.Sprintf("invalid keyword '%s'", e.Value)
	default:
		return fmt.Sprintf("invalid argument '%s'", e.Value)
	}
}

// Unwrap returns the underlying strconv error, if any.
func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// IsUnrecognized reports whether err means the command was not accepted at
// all, as opposed to accepted and then refused by the instrument.
func IsUnrecognized(err error) bool {
	var argErr *ArgumentError
	return errors.Is(err, ErrUnrecognized) || errors.Is(err, ErrUnknownChannel) || errors.As(err, &argErr)
}
