// Package sim implements a simulated instrument driven entirely by
// configuration. All mutations from all sessions are applied in FIFO order by
// a single worker goroutine.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scpi-bridge/internal/bridge"
	"github.com/scpi-bridge/internal/config"
	"github.com/scpi-bridge/internal/logging"
	"github.com/scpi-bridge/internal/telemetry"
)

const (
	queueSize       = 100
	queueTimeout    = 5 * time.Second
	executeTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

var (
	ErrBusy              = errors.New("instrument busy")
	ErrClosed            = errors.New("instrument closed")
	ErrUnsupportedRate   = errors.New("unsupported sample rate")
	ErrUnsupportedDepth  = errors.New("unsupported sample depth")
	ErrInvalidCoupling   = errors.New("invalid coupling")
	ErrInvalidEdge       = errors.New("invalid trigger edge")
	ErrInvalidRange      = errors.New("invalid range")
	ErrInvalidHysteresis = errors.New("invalid hysteresis")
)

// Edge directions accepted by SetEdgeTriggerEdge
var edges = []string{"RISING", "FALLING", "ANY"}

// Couplings accepted by SetAnalogCoupling
var couplings = []string{"DC1M", "AC1M", "DC50", "GND"}

// SettingsStore persists settings snapshots keyed by serial number.
type SettingsStore interface {
	Save(serial string, v interface{}) error
	Load(serial string, v interface{}) (bool, error)
}

// ChannelSettings holds the per-input settings.
type ChannelSettings struct {
	Enabled    bool    `json:"enabled"`
	Coupling   string  `json:"coupling,omitempty"`
	Range      float64 `json:"range,omitempty"`
	Offset     float64 `json:"offset"`
	Threshold  float64 `json:"threshold,omitempty"`
	Hysteresis float64 `json:"hysteresis,omitempty"`
}

// Settings is the persisted part of the instrument state.
type Settings struct {
	SampleRate    uint64                     `json:"sampleRate"`
	SampleDepth   uint64                     `json:"sampleDepth"`
	TriggerDelay  uint64                     `json:"triggerDelayFs"`
	TriggerSource string                     `json:"triggerSource"`
	TriggerLevel  float64                    `json:"triggerLevel"`
	TriggerEdge   string                     `json:"triggerEdge"`
	Channels      map[string]ChannelSettings `json:"channels"`
}

type channel struct {
	name string
	typ  bridge.ChannelType
}

type request struct {
	name     string
	apply    func(s *Instrument) (interface{}, error)
	response chan error
}

// Instrument is a simulated instrument.
type Instrument struct {
	cfg      config.InstrumentConfig
	channels []channel
	byName   map[string]bridge.ChannelID

	mu       sync.RWMutex
	settings Settings
	armed    bool
	oneShot  bool

	store     SettingsStore
	publisher telemetry.Publisher

	commandQueue chan request
	stopChan     chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

// Option configures an Instrument.
type Option func(*Instrument)

// WithStore persists settings after every accepted mutation.
func WithStore(st SettingsStore) Option {
	return func(s *Instrument) { s.store = st }
}

// WithPublisher publishes an event for every accepted mutation.
func WithPublisher(p telemetry.Publisher) Option {
	return func(s *Instrument) { s.publisher = p }
}

// New creates a simulated instrument and starts its worker. Settings saved
// for the configured serial number are restored when a store is given.
func New(cfg config.InstrumentConfig, opts ...Option) (*Instrument, error) {
	if len(cfg.Channels) == 0 {
		return nil, errors.New("no channels configured")
	}
	if len(cfg.SampleRatesHz) == 0 || len(cfg.SampleDepths) == 0 {
		return nil, errors.New("sample rates and depths must not be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Instrument{
		cfg:          cfg,
		byName:       make(map[string]bridge.ChannelID, len(cfg.Channels)),
		publisher:    telemetry.Nop{},
		commandQueue: make(chan request, queueSize),
		stopChan:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, ch := range cfg.Channels {
		typ, err := channelType(ch.Type)
		if err != nil {
			cancel()
			return nil, err
		}
		if _, dup := s.byName[ch.Name]; dup {
			cancel()
			return nil, fmt.Errorf("duplicate channel %s", ch.Name)
		}
		s.byName[ch.Name] = bridge.ChannelID(len(s.channels))
		s.channels = append(s.channels, channel{name: ch.Name, typ: typ})
	}

	s.settings = s.defaults()
	if s.store != nil {
		if err := s.restore(); err != nil {
			cancel()
			return nil, err
		}
	}

	s.wg.Add(1)
	go s.commandWorker()

	return s, nil
}

func channelType(name string) (bridge.ChannelType, error) {
	switch name {
	case config.ChannelAnalog:
		return bridge.ChannelAnalog, nil
	case config.ChannelDigital:
		return bridge.ChannelDigital, nil
	case config.ChannelTrigger:
		return bridge.ChannelExternalTrigger, nil
	default:
		return 0, fmt.Errorf("invalid channel type %q", name)
	}
}

func (s *Instrument) defaults() Settings {
	st := Settings{
		SampleRate:    s.cfg.SampleRatesHz[0],
		SampleDepth:   s.cfg.SampleDepths[0],
		TriggerSource: s.channels[0].name,
		TriggerEdge:   edges[0],
		Channels:      make(map[string]ChannelSettings, len(s.channels)),
	}
	for _, ch := range s.channels {
		switch ch.typ {
		case bridge.ChannelAnalog:
			st.Channels[ch.name] = ChannelSettings{Enabled: true, Coupling: couplings[0], Range: 1}
		case bridge.ChannelDigital:
			st.Channels[ch.name] = ChannelSettings{Threshold: 1.4, Hysteresis: 0.1}
		default:
			st.Channels[ch.name] = ChannelSettings{}
		}
	}
	return st
}

// restore merges a saved snapshot over the defaults, ignoring values the
// current configuration no longer allows.
func (s *Instrument) restore() error {
	var saved Settings
	ok, err := s.store.Load(s.cfg.Serial, &saved)
	if err != nil {
		return fmt.Errorf("restore settings: %w", err)
	}
	if !ok {
		return nil
	}

	if contains(s.cfg.SampleRatesHz, saved.SampleRate) {
		s.settings.SampleRate = saved.SampleRate
	}
	if contains(s.cfg.SampleDepths, saved.SampleDepth) {
		s.settings.SampleDepth = saved.SampleDepth
	}
	if _, known := s.byName[saved.TriggerSource]; known {
		s.settings.TriggerSource = saved.TriggerSource
	}
	if containsString(edges, saved.TriggerEdge) {
		s.settings.TriggerEdge = saved.TriggerEdge
	}
	s.settings.TriggerDelay = saved.TriggerDelay
	s.settings.TriggerLevel = saved.TriggerLevel
	for name, cs := range saved.Channels {
		if _, known := s.settings.Channels[name]; known {
			s.settings.Channels[name] = cs
		}
	}

	log.Printf("Restored settings for %s", s.cfg.Serial)
	return nil
}

// commandWorker applies mutations in FIFO order
func (s *Instrument) commandWorker() {
	defer s.wg.Done()

	for {
		select {
		case req := <-s.commandQueue:
			req.response <- s.process(req)
		case <-s.stopChan:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Instrument) process(req request) error {
	s.mu.Lock()
	value, err := req.apply(s)
	snapshot := s.snapshot()
	armed := s.armed
	s.mu.Unlock()

	if err != nil {
		return err
	}

	if s.store != nil {
		if err := s.store.Save(s.cfg.Serial, snapshot); err != nil {
			log.Printf("Failed to save settings: %v", err)
		}
	}

	kind := telemetry.KindSetting
	if req.name == "START" || req.name == "STOP" || req.name == "FORCE" {
		kind = telemetry.KindAcquisition
	}
	ev := telemetry.Event{
		Serial: s.cfg.Serial,
		Kind:   kind,
		Name:   req.name,
		Value:  value,
		Armed:  armed,
	}
	if err := s.publisher.Publish(ev); err != nil {
		logging.Debugf("telemetry publish failed: %v", err)
	}
	return nil
}

// snapshot copies the settings; the caller holds mu.
func (s *Instrument) snapshot() Settings {
	cp := s.settings
	cp.Channels = make(map[string]ChannelSettings, len(s.settings.Channels))
	for k, v := range s.settings.Channels {
		cp.Channels[k] = v
	}
	return cp
}

// execute queues a mutation and waits for the worker to apply it.
func (s *Instrument) execute(name string, apply func(s *Instrument) (interface{}, error)) error {
	response := make(chan error, 1)
	req := request{name: name, apply: apply, response: response}

	select {
	case s.commandQueue <- req:
		select {
		case err := <-response:
			return err
		case <-time.After(executeTimeout):
			return fmt.Errorf("%s: timeout", name)
		case <-s.ctx.Done():
			return ErrClosed
		}
	case <-time.After(queueTimeout):
		return ErrBusy
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// Settings returns a copy of the current settings.
func (s *Instrument) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// Close stops the worker. Later mutations fail with ErrClosed.
func (s *Instrument) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.stopChan)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown timeout")
	}
}

func (s *Instrument) Make() string            { return s.cfg.Make }
func (s *Instrument) Model() string           { return s.cfg.Model }
func (s *Instrument) Serial() string          { return s.cfg.Serial }
func (s *Instrument) FirmwareVersion() string { return s.cfg.FirmwareVersion }

// ChannelCount returns the number of analog channels.
func (s *Instrument) ChannelCount() int {
	n := 0
	for _, ch := range s.channels {
		if ch.typ == bridge.ChannelAnalog {
			n++
		}
	}
	return n
}

func (s *Instrument) SampleRates() []uint64 {
	return append([]uint64(nil), s.cfg.SampleRatesHz...)
}

func (s *Instrument) SampleDepths() []uint64 {
	return append([]uint64(nil), s.cfg.SampleDepths...)
}

// ChannelNames returns the configured channel names in configuration order.
func (s *Instrument) ChannelNames() []string {
	names := make([]string, len(s.channels))
	for i, ch := range s.channels {
		names[i] = ch.name
	}
	return names
}

func (s *Instrument) ChannelID(name string) (bridge.ChannelID, error) {
	id, ok := s.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", bridge.ErrUnknownChannel, name)
	}
	return id, nil
}

func (s *Instrument) ChannelType(id bridge.ChannelID) bridge.ChannelType {
	if int(id) >= len(s.channels) {
		return -1
	}
	return s.channels[id].typ
}

func (s *Instrument) channelName(id bridge.ChannelID) (string, error) {
	if int(id) >= len(s.channels) {
		return "", fmt.Errorf("%w: id %d", bridge.ErrUnknownChannel, id)
	}
	return s.channels[id].name, nil
}

func (s *Instrument) IsTriggerArmed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed
}

func (s *Instrument) StartAcquisition(oneShot bool) error {
	return s.execute("START", func(s *Instrument) (interface{}, error) {
		s.armed = true
		s.oneShot = oneShot
		return oneShot, nil
	})
}

// ForceTrigger completes a pending single-shot capture.
func (s *Instrument) ForceTrigger() error {
	return s.execute("FORCE", func(s *Instrument) (interface{}, error) {
		if s.armed && s.oneShot {
			s.armed = false
		}
		return nil, nil
	})
}

func (s *Instrument) StopAcquisition() error {
	return s.execute("STOP", func(s *Instrument) (interface{}, error) {
		s.armed = false
		s.oneShot = false
		return nil, nil
	})
}

func (s *Instrument) SetSampleRate(hz uint64) error {
	if !contains(s.cfg.SampleRatesHz, hz) {
		return fmt.Errorf("%w: %d", ErrUnsupportedRate, hz)
	}
	return s.execute("RATE", func(s *Instrument) (interface{}, error) {
		s.settings.SampleRate = hz
		return hz, nil
	})
}

func (s *Instrument) SetSampleDepth(samples uint64) error {
	if !contains(s.cfg.SampleDepths, samples) {
		return fmt.Errorf("%w: %d", ErrUnsupportedDepth, samples)
	}
	return s.execute("DEPTH", func(s *Instrument) (interface{}, error) {
		s.settings.SampleDepth = samples
		return samples, nil
	})
}

func (s *Instrument) SetTriggerDelay(fs uint64) error {
	return s.execute("TRIG:DELAY", func(s *Instrument) (interface{}, error) {
		s.settings.TriggerDelay = fs
		return fs, nil
	})
}

func (s *Instrument) SetTriggerSource(id bridge.ChannelID) error {
	name, err := s.channelName(id)
	if err != nil {
		return err
	}
	return s.execute("TRIG:SOU", func(s *Instrument) (interface{}, error) {
		s.settings.TriggerSource = name
		return name, nil
	})
}

func (s *Instrument) SetTriggerLevel(volts float64) error {
	return s.execute("TRIG:LEV", func(s *Instrument) (interface{}, error) {
		s.settings.TriggerLevel = volts
		return volts, nil
	})
}

// SetTriggerTypeEdge is accepted as-is; edge is the only trigger type.
func (s *Instrument) SetTriggerTypeEdge() error {
	return s.execute("TRIG:MODE", func(s *Instrument) (interface{}, error) {
		return "EDGE", nil
	})
}

func (s *Instrument) SetEdgeTriggerEdge(edge string) error {
	if !containsString(edges, edge) {
		return fmt.Errorf("%w: %s", ErrInvalidEdge, edge)
	}
	return s.execute("TRIG:EDGE:DIR", func(s *Instrument) (interface{}, error) {
		s.settings.TriggerEdge = edge
		return edge, nil
	})
}

func (s *Instrument) SetChannelEnabled(id bridge.ChannelID, enabled bool) error {
	verb := "OFF"
	if enabled {
		verb = "ON"
	}
	return s.updateChannel(id, verb, enabled, func(cs *ChannelSettings) { cs.Enabled = enabled })
}

func (s *Instrument) SetAnalogCoupling(id bridge.ChannelID, coupling string) error {
	if !containsString(couplings, coupling) {
		return fmt.Errorf("%w: %s", ErrInvalidCoupling, coupling)
	}
	return s.updateChannel(id, "COUP", coupling, func(cs *ChannelSettings) { cs.Coupling = coupling })
}

func (s *Instrument) SetAnalogRange(id bridge.ChannelID, volts float64) error {
	if volts <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidRange, volts)
	}
	return s.updateChannel(id, "RANGE", volts, func(cs *ChannelSettings) { cs.Range = volts })
}

func (s *Instrument) SetAnalogOffset(id bridge.ChannelID, volts float64) error {
	return s.updateChannel(id, "OFFS", volts, func(cs *ChannelSettings) { cs.Offset = volts })
}

func (s *Instrument) SetDigitalThreshold(id bridge.ChannelID, volts float64) error {
	return s.updateChannel(id, "THRESH", volts, func(cs *ChannelSettings) { cs.Threshold = volts })
}

func (s *Instrument) SetDigitalHysteresis(id bridge.ChannelID, volts float64) error {
	if volts < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidHysteresis, volts)
	}
	return s.updateChannel(id, "HYS", volts, func(cs *ChannelSettings) { cs.Hysteresis = volts })
}

func (s *Instrument) updateChannel(id bridge.ChannelID, verb string, value interface{}, update func(*ChannelSettings)) error {
	name, err := s.channelName(id)
	if err != nil {
		return err
	}
	return s.execute(name+":"+verb, func(s *Instrument) (interface{}, error) {
		cs := s.settings.Channels[name]
		update(&cs)
		s.settings.Channels[name] = cs
		return value, nil
	})
}

func contains(values []uint64, v uint64) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

var _ bridge.Instrument = (*Instrument)(nil)
