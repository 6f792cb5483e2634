// Package instrumenttest provides a conformance suite that every
// bridge.Instrument implementation must pass.
package instrumenttest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scpi-bridge/internal/bridge"
)

// Capabilities describes what the implementation under test exposes.
type Capabilities struct {
	// ChannelNames lists every channel the instrument accepts.
	ChannelNames []string
	// AnalogChannels is the expected ChannelCount.
	AnalogChannels int
}

// RunConformance runs the suite. newInstrument must return a fresh instance
// for every call; cleanup is the caller's job (t.Cleanup).
func RunConformance(t *testing.T, newInstrument func(t *testing.T) bridge.Instrument, caps Capabilities) {
	t.Helper()

	t.Run("Identity", func(t *testing.T) {
		inst := newInstrument(t)
		assert.NotEmpty(t, inst.Make())
		assert.NotEmpty(t, inst.Model())
		assert.NotEmpty(t, inst.Serial())
		assert.NotEmpty(t, inst.FirmwareVersion())
	})

	t.Run("Capabilities", func(t *testing.T) {
		inst := newInstrument(t)
		assert.Equal(t, caps.AnalogChannels, inst.ChannelCount())

		rates := inst.SampleRates()
		require.NotEmpty(t, rates)
		for _, r := range rates {
			assert.NotZero(t, r, "sample rate must be non-zero")
		}
		assert.NotEmpty(t, inst.SampleDepths())
	})

	t.Run("ChannelIDsStableAndUnique", func(t *testing.T) {
		inst := newInstrument(t)
		seen := make(map[bridge.ChannelID]string)
		analog := 0
		for _, name := range caps.ChannelNames {
			id, err := inst.ChannelID(name)
			require.NoError(t, err, name)

			again, err := inst.ChannelID(name)
			require.NoError(t, err)
			assert.Equal(t, id, again, "id for %s must be stable", name)

			if other, dup := seen[id]; dup {
				t.Errorf("channels %s and %s share id %d", other, name, id)
			}
			seen[id] = name

			switch typ := inst.ChannelType(id); typ {
			case bridge.ChannelAnalog:
				analog++
			case bridge.ChannelDigital, bridge.ChannelExternalTrigger:
			default:
				t.Errorf("channel %s has invalid type %d", name, typ)
			}
		}
		assert.Equal(t, caps.AnalogChannels, analog)
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		inst := newInstrument(t)
		for _, name := range []string{"", "NOPE", "TRIG"} {
			_, err := inst.ChannelID(name)
			assert.True(t, errors.Is(err, bridge.ErrUnknownChannel), "ChannelID(%q) = %v", name, err)
		}
	})

	t.Run("Acquisition", func(t *testing.T) {
		inst := newInstrument(t)
		assert.False(t, inst.IsTriggerArmed())

		require.NoError(t, inst.StartAcquisition(false))
		assert.True(t, inst.IsTriggerArmed())

		require.NoError(t, inst.ForceTrigger())
		require.NoError(t, inst.StopAcquisition())
		assert.False(t, inst.IsTriggerArmed())
	})

	t.Run("AcceptsReportedRatesAndDepths", func(t *testing.T) {
		inst := newInstrument(t)
		for _, r := range inst.SampleRates() {
			assert.NoError(t, inst.SetSampleRate(r))
		}
		for _, d := range inst.SampleDepths() {
			assert.NoError(t, inst.SetSampleDepth(d))
		}
	})

	t.Run("ChannelSettings", func(t *testing.T) {
		inst := newInstrument(t)
		for _, name := range caps.ChannelNames {
			id, err := inst.ChannelID(name)
			require.NoError(t, err)

			assert.NoError(t, inst.SetChannelEnabled(id, true))
			assert.NoError(t, inst.SetChannelEnabled(id, false))

			switch inst.ChannelType(id) {
			case bridge.ChannelAnalog:
				assert.NoError(t, inst.SetAnalogRange(id, 2))
				assert.NoError(t, inst.SetAnalogOffset(id, -0.5))
			case bridge.ChannelDigital:
				assert.NoError(t, inst.SetDigitalThreshold(id, 1.4))
				assert.NoError(t, inst.SetDigitalHysteresis(id, 0.1))
			}
		}
	})

	t.Run("Trigger", func(t *testing.T) {
		inst := newInstrument(t)
		require.NotEmpty(t, caps.ChannelNames)
		id, err := inst.ChannelID(caps.ChannelNames[0])
		require.NoError(t, err)

		assert.NoError(t, inst.SetTriggerSource(id))
		assert.NoError(t, inst.SetTriggerTypeEdge())
		assert.NoError(t, inst.SetEdgeTriggerEdge("RISING"))
		assert.NoError(t, inst.SetTriggerLevel(0.25))
		assert.NoError(t, inst.SetTriggerDelay(1000))
	})
}
