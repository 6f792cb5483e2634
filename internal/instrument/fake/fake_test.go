package fake

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scpi-bridge/internal/bridge"
	"github.com/scpi-bridge/internal/instrumenttest"
)

func TestConformance(t *testing.T) {
	instrumenttest.RunConformance(t, func(t *testing.T) bridge.Instrument {
		return New()
	}, instrumenttest.Capabilities{
		ChannelNames:   []string{"C1", "C2", "D0", "EX"},
		AnalogChannels: 2,
	})
}

func TestRecordsCalls(t *testing.T) {
	f := New()
	id, _ := f.ChannelID("C2")

	assert.NoError(t, f.SetAnalogOffset(id, 0.5))
	assert.NoError(t, f.SetSampleRate(1000))
	assert.Equal(t, []Call{
		{Method: "SetAnalogOffset", Channel: id, Value: 0.5},
		{Method: "SetSampleRate", Value: uint64(1000)},
	}, f.Calls())

	f.Reset()
	assert.Empty(t, f.Calls())
}

func TestErrInjection(t *testing.T) {
	f := New()
	f.Err = errors.New("refused")

	assert.EqualError(t, f.ForceTrigger(), "refused")
	assert.Len(t, f.Calls(), 1)
}

func TestAddChannel(t *testing.T) {
	f := New()
	id := f.AddChannel("C3", bridge.ChannelAnalog)

	assert.Equal(t, id, f.AddChannel("C3", bridge.ChannelAnalog))
	assert.Equal(t, 3, f.ChannelCount())
	assert.Equal(t, []string{"C1", "C2", "D0", "EX", "C3"}, f.ChannelNames())
}
