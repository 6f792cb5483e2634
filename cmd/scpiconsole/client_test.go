package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scpi-bridge/internal/bridge"
	"github.com/scpi-bridge/internal/config"
	"github.com/scpi-bridge/internal/instrument/fake"
	"github.com/scpi-bridge/internal/server"
)

func startBridge(t *testing.T) (string, *fake.Instrument) {
	t.Helper()
	inst := fake.New()
	srv, err := server.NewServer(config.SCPIConfig{
		AllowedCIDRs:   []string{"127.0.0.0/8", "::1/128"},
		MaxConnections: 1,
	}, bridge.NewDispatcher(inst, nil))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv.Addr().String(), inst
}

func TestClientQueries(t *testing.T) {
	addr, _ := startBridge(t)
	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	replies, done, err := c.Send("*IDN?;RATES?")
	require.NoError(t, err)
	assert.False(t, done)
	require.Len(t, replies, 2)
	assert.Equal(t, "Fake,FAKE-2,F0001,0.1", replies[0].Text)
	assert.Equal(t, "RATES?", replies[1].Query)
	assert.Equal(t, "1e12,5e11,", replies[1].Text)
}

func TestClientCommandsWaitForNothing(t *testing.T) {
	addr, inst := startBridge(t)
	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	replies, _, err := c.Send("RATE 1000;START")
	require.NoError(t, err)
	assert.Empty(t, replies)

	replies, _, err = c.Send("ARMED?")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "1", replies[0].Text)
	assert.Len(t, inst.Calls(), 2)
}

func TestClientUnansweredQuery(t *testing.T) {
	addr, _ := startBridge(t)
	c, err := Dial(addr, 100*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	replies, _, err := c.Send("BOGUS?")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.True(t, errors.Is(replies[0].Err, errNoReply))

	// The connection is still usable afterwards.
	replies, _, err = c.Send("CHANS?")
	require.NoError(t, err)
	assert.Equal(t, "2", replies[0].Text)
}

func TestClientExit(t *testing.T) {
	addr, _ := startBridge(t)
	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	replies, done, err := c.Send("CHANS?;EXIT")
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, replies, 1)
}

func TestPrintReplies(t *testing.T) {
	var out bytes.Buffer
	printReplies(&out, []Reply{
		{Query: "CHANS?", Text: "4"},
		{Query: "FOO?", Err: errNoReply},
	})
	assert.Contains(t, out.String(), "4")
	assert.Contains(t, out.String(), "FOO?: no reply")
}

func TestRunScript(t *testing.T) {
	addr, inst := startBridge(t)
	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	script := "RATE 2000\n\nCHANS?\nEXIT\nSTART\n"
	var out bytes.Buffer
	require.NoError(t, runScript(c, strings.NewReader(script), &out))

	assert.Contains(t, out.String(), "2")
	// Lines after EXIT are never sent.
	assert.Equal(t, []fake.Call{{Method: "SetSampleRate", Value: uint64(2000)}}, inst.Calls())
}
