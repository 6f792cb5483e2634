package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/scpi-bridge/internal/scpi"
	"github.com/scpi-bridge/internal/session"
)

// errNoReply marks a query the server did not answer in time. Unrecognized
// queries are never answered.
var errNoReply = errors.New("no reply")

// Reply is the outcome of one query.
type Reply struct {
	Query string
	Text  string
	Err   error
}

// Client sends lines to a server and collects query replies.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// Dial connects to addr.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), timeout: timeout}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes line and waits for one reply per query it contains. It
// reports whether the line ends the session.
func (c *Client) Send(line string) ([]Reply, bool, error) {
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		return nil, false, err
	}

	var replies []Reply
	for _, part := range strings.Split(line, ";") {
		cmd := scpi.Tokenize(part)
		if !cmd.Query {
			if cmd.Verb == session.TerminateVerb {
				return replies, true, nil
			}
			continue
		}

		reply := Reply{Query: strings.TrimSpace(part)}
		reply.Text, reply.Err = c.readReply()
		replies = append(replies, reply)
		if reply.Err != nil && !errors.Is(reply.Err, errNoReply) {
			return replies, false, reply.Err
		}
	}
	return replies, false, nil
}

func (c *Client) readReply() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	line, err := c.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return "", errNoReply
		}
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}
