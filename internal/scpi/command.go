// Package scpi implements the line grammar of the bridge protocol.
//
// A line has the form
//
//	[SUBJECT:]VERB[?] [ARG[,ARG...]]
//
// Only the first colon is structural, so "TRIG:EDGE:DIR RISING" has subject
// TRIG and verb EDGE:DIR. A '?' anywhere marks the line as a query and is
// removed from the text.
package scpi

import "strings"

// Command is a tokenized protocol line.
type Command struct {
	// Subject is the namespace prefix: empty for device commands, "TRIG" for
	// the trigger, otherwise a channel name.
	Subject string
	Verb    string
	Query   bool
	// Args are raw, unvalidated argument tokens in source order.
	Args []string
}

// String renders the command back into canonical wire form.
func (c Command) String() string {
	var b strings.Builder
	if c.Subject != "" {
		b.WriteString(c.Subject)
		b.WriteByte(':')
	}
	b.WriteString(c.Verb)
	if c.Query {
		b.WriteByte('?')
	}
	if len(c.Args) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(c.Args, ","))
	}
	return b.String()
}

// Tokenize splits a raw line into a Command. It never fails: degenerate input
// yields a Command with an empty Verb.
func Tokenize(line string) Command {
	var (
		cmd      Command
		tok      strings.Builder
		verbOpen = true
		sawColon bool
	)

	flush := func() {
		if tok.Len() == 0 {
			return
		}
		if verbOpen {
			cmd.Verb = tok.String()
			verbOpen = false
		} else {
			cmd.Args = append(cmd.Args, tok.String())
		}
		tok.Reset()
	}

	// Bytes, not runes: arguments pass through unchanged even when they are
	// not valid UTF-8.
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == ':' && !sawColon:
			sawColon = true
			cmd.Subject = tok.String()
			tok.Reset()
		case c == '?':
			cmd.Query = true
		case c == ',':
			flush()
		case isSpace(c):
			flush()
		default:
			tok.WriteByte(c)
		}
	}

	if tok.Len() > 0 {
		if cmd.Verb == "" {
			cmd.Verb = tok.String()
		} else {
			cmd.Args = append(cmd.Args, tok.String())
		}
	}

	return cmd
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
