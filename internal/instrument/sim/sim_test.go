package sim

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scpi-bridge/internal/bridge"
	"github.com/scpi-bridge/internal/config"
	"github.com/scpi-bridge/internal/instrumenttest"
	"github.com/scpi-bridge/internal/scpi"
	"github.com/scpi-bridge/internal/store"
	"github.com/scpi-bridge/internal/telemetry"
)

func testConfig() config.InstrumentConfig {
	return config.Default().Instrument
}

func newSim(t *testing.T, opts ...Option) *Instrument {
	t.Helper()
	s, err := New(testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	cfg := testConfig()
	names := make([]string, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		names = append(names, ch.Name)
	}

	instrumenttest.RunConformance(t, func(t *testing.T) bridge.Instrument {
		return newSim(t)
	}, instrumenttest.Capabilities{
		ChannelNames:   names,
		AnalogChannels: 4,
	})
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.InstrumentConfig)
	}{
		{"no channels", func(c *config.InstrumentConfig) { c.Channels = nil }},
		{"no rates", func(c *config.InstrumentConfig) { c.SampleRatesHz = nil }},
		{"no depths", func(c *config.InstrumentConfig) { c.SampleDepths = nil }},
		{"bad type", func(c *config.InstrumentConfig) { c.Channels[0].Type = "optical" }},
		{"duplicate", func(c *config.InstrumentConfig) { c.Channels[1].Name = c.Channels[0].Name }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestDefaults(t *testing.T) {
	s := newSim(t)
	st := s.Settings()

	assert.Equal(t, uint64(1000), st.SampleRate)
	assert.Equal(t, uint64(1000), st.SampleDepth)
	assert.Equal(t, "C1", st.TriggerSource)
	assert.Equal(t, "RISING", st.TriggerEdge)
	assert.True(t, st.Channels["C1"].Enabled)
	assert.Equal(t, "DC1M", st.Channels["C1"].Coupling)
	assert.False(t, st.Channels["D0"].Enabled)
}

func TestValidation(t *testing.T) {
	s := newSim(t)
	c1, _ := s.ChannelID("C1")
	d0, _ := s.ChannelID("D0")

	assert.ErrorIs(t, s.SetSampleRate(1234), ErrUnsupportedRate)
	assert.ErrorIs(t, s.SetSampleDepth(7), ErrUnsupportedDepth)
	assert.ErrorIs(t, s.SetEdgeTriggerEdge("SIDEWAYS"), ErrInvalidEdge)
	assert.ErrorIs(t, s.SetAnalogCoupling(c1, "DC"), ErrInvalidCoupling)
	assert.ErrorIs(t, s.SetAnalogRange(c1, 0), ErrInvalidRange)
	assert.ErrorIs(t, s.SetDigitalHysteresis(d0, -1), ErrInvalidHysteresis)
	assert.ErrorIs(t, s.SetTriggerSource(99), bridge.ErrUnknownChannel)

	assert.Equal(t, testConfig().SampleRatesHz[0], s.Settings().SampleRate)
}

func TestSingleShotForce(t *testing.T) {
	s := newSim(t)

	require.NoError(t, s.StartAcquisition(true))
	assert.True(t, s.IsTriggerArmed())
	require.NoError(t, s.ForceTrigger())
	assert.False(t, s.IsTriggerArmed())

	require.NoError(t, s.StartAcquisition(false))
	require.NoError(t, s.ForceTrigger())
	assert.True(t, s.IsTriggerArmed())
}

func TestConcurrentMutationsSerialized(t *testing.T) {
	s := newSim(t)
	c1, _ := s.ChannelID("C1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.SetAnalogOffset(c1, float64(i)))
		}(i)
	}
	wg.Wait()

	offset := s.Settings().Channels["C1"].Offset
	assert.True(t, offset >= 0 && offset < 20)
}

func TestClose(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.True(t, errors.Is(s.SetSampleRate(1000), ErrClosed))
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	s, err := New(testConfig(), WithStore(st))
	require.NoError(t, err)
	c2, _ := s.ChannelID("C2")
	require.NoError(t, s.SetSampleRate(1000000))
	require.NoError(t, s.SetAnalogOffset(c2, -0.75))
	require.NoError(t, s.SetEdgeTriggerEdge("FALLING"))
	require.NoError(t, s.Close())

	restored, err := New(testConfig(), WithStore(st))
	require.NoError(t, err)
	defer restored.Close()

	got := restored.Settings()
	assert.Equal(t, uint64(1000000), got.SampleRate)
	assert.Equal(t, -0.75, got.Channels["C2"].Offset)
	assert.Equal(t, "FALLING", got.TriggerEdge)
	assert.False(t, restored.IsTriggerArmed())
}

func TestRestoreIgnoresValuesNoLongerAllowed(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	defer st.Close()

	cfg := testConfig()
	require.NoError(t, st.Save(cfg.Serial, Settings{
		SampleRate:    42,
		SampleDepth:   cfg.SampleDepths[1],
		TriggerSource: "GONE",
		TriggerEdge:   "SIDEWAYS",
		Channels:      map[string]ChannelSettings{"GONE": {Enabled: true}},
	}))

	s := newSim(t, WithStore(st))
	got := s.Settings()
	assert.Equal(t, cfg.SampleRatesHz[0], got.SampleRate)
	assert.Equal(t, cfg.SampleDepths[1], got.SampleDepth)
	assert.Equal(t, "C1", got.TriggerSource)
	assert.Equal(t, "RISING", got.TriggerEdge)
	assert.NotContains(t, got.Channels, "GONE")
}

func TestTelemetry(t *testing.T) {
	rec := &telemetry.Recorder{}
	s := newSim(t, WithPublisher(rec))

	require.NoError(t, s.StartAcquisition(false))
	require.NoError(t, s.SetSampleDepth(10000))
	assert.Error(t, s.SetSampleDepth(3))

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, telemetry.KindAcquisition, events[0].Kind)
	assert.Equal(t, "START", events[0].Name)
	assert.True(t, events[0].Armed)
	assert.Equal(t, telemetry.KindSetting, events[1].Kind)
	assert.Equal(t, "DEPTH", events[1].Name)
	assert.Equal(t, uint64(10000), events[1].Value)
	assert.Equal(t, "SIM0001", events[1].Serial)
}

func TestQueries(t *testing.T) {
	s := newSim(t)
	reg := bridge.NewQueryRegistry()
	s.RegisterQueries(reg)
	d := bridge.NewDispatcher(s, reg)
	ctx := context.Background()

	for _, line := range []string{
		"RATE 100000",
		"TRIG:LEV 0.5",
		"TRIG:DELAY 2000",
		"TRIG:SOU D3",
		"TRIG:EDGE:DIR ANY",
		"C2:OFF",
		"C3:OFFS -1.25",
		"C3:RANGE 5",
		"C3:COUP AC1M",
		"D1:THRESH 2.5",
	} {
		require.NoError(t, d.Command(scpi.Tokenize(line)), line)
	}

	tests := []struct {
		query string
		want  string
	}{
		{"RATE?", "100000"},
		{"DEPTH?", "1000"},
		{"TRIG:LEV?", "0.5"},
		{"TRIG:DELAY?", "2000"},
		{"TRIG:SOU?", "D3"},
		{"TRIG:MODE?", "EDGE"},
		{"TRIG:EDGE:DIR?", "ANY"},
		{"C1:ON?", "1"},
		{"C2:ON?", "0"},
		{"C3:OFFS?", "-1.25"},
		{"C3:RANGE?", "5"},
		{"C3:COUP?", "AC1M"},
		{"D1:THRESH?", "2.5"},
		{"D1:HYS?", "0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := d.Query(ctx, scpi.Tokenize(tt.query))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueriesUnrecognized(t *testing.T) {
	s := newSim(t)
	reg := bridge.NewQueryRegistry()
	s.RegisterQueries(reg)
	d := bridge.NewDispatcher(s, reg)

	for _, line := range []string{
		"C1:RATE?",
		"LEV?",
		"C1:LEV?",
		"TRIG:ON?",
		"C9:ON?",
		"D0:OFFS?",
		"C1:THRESH?",
		"C1:OFFS? 1",
	} {
		_, err := d.Query(context.Background(), scpi.Tokenize(line))
		assert.ErrorIs(t, err, bridge.ErrUnrecognized, line)
	}
}
