// Package session runs the per-connection read, tokenize and dispatch loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"

	"github.com/scpi-bridge/internal/bridge"
	"github.com/scpi-bridge/internal/logging"
	"github.com/scpi-bridge/internal/scpi"
)

// TerminateVerb ends the session when sent as a command in any namespace.
const TerminateVerb = "EXIT"

// LineSource delivers one command line per call, terminator removed. It
// returns io.EOF when the stream ends.
type LineSource interface {
	ReadLine() (string, error)
}

// Session serves one client. Lines are handled strictly one at a time.
type Session struct {
	id         string
	src        LineSource
	w          io.Writer
	dispatcher *bridge.Dispatcher
}

// New creates a session reading from src and writing replies to w.
func New(src LineSource, w io.Writer, dispatcher *bridge.Dispatcher) *Session {
	return &Session{
		id:         uuid.NewString(),
		src:        src,
		w:          w,
		dispatcher: dispatcher,
	}
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Run loops until the source ends, the terminate verb is received or a
// reply cannot be written. End of stream and termination return nil.
func (s *Session) Run(ctx context.Context) error {
	for {
		line, err := s.src.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("session %s: read: %w", s.id, err)
		}
		logging.Tracef("session %s: <- %q", s.id, line)

		cmd := scpi.Tokenize(line)
		if cmd.Query {
			if err := s.query(ctx, cmd); err != nil {
				return err
			}
			continue
		}

		if cmd.Verb == TerminateVerb {
			logging.Debugf("session %s: terminated by client", s.id)
			return nil
		}
		s.command(cmd)
	}
}

func (s *Session) query(ctx context.Context, cmd scpi.Command) error {
	reply, err := s.dispatcher.Query(ctx, cmd)
	if err != nil {
		logging.Debugf("session %s: %v", s.id, err)
		return nil
	}
	logging.Tracef("session %s: -> %q", s.id, reply)

	if err := scpi.WriteReply(s.w, reply); err != nil {
		return fmt.Errorf("session %s: write: %w", s.id, err)
	}
	return nil
}

// command never replies. Failures only reach the log.
func (s *Session) command(cmd scpi.Command) {
	err := s.dispatcher.Command(cmd)
	if err == nil {
		return
	}

	var argErr *bridge.ArgumentError
	switch {
	case errors.As(err, &argErr):
		logging.Warnf("session %s: %s: %v", s.id, cmd, err)
	case bridge.IsUnrecognized(err):
		logging.Debugf("session %s: %v", s.id, err)
	default:
		log.Printf("session %s: instrument refused %s: %v", s.id, cmd, err)
	}
}
