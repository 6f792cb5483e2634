// Package fake provides a recording Instrument for testing the dispatcher
// and session layers.
package fake

import (
	"fmt"
	"sync"

	"github.com/scpi-bridge/internal/bridge"
)

// Call records one mutator invocation.
type Call struct {
	Method  string
	Channel bridge.ChannelID
	Value   interface{}
}

type channel struct {
	id  bridge.ChannelID
	typ bridge.ChannelType
}

// Instrument implements bridge.Instrument by recording every mutator call.
type Instrument struct {
	mu sync.Mutex

	MakeName     string
	ModelName    string
	SerialNumber string
	Firmware     string
	Rates        []uint64
	Depths       []uint64

	channels map[string]channel
	order    []string
	armed    bool
	calls    []Call

	// Err, when set, is returned by every mutator after the call is recorded.
	Err error
}

// New returns a fake with two analog channels (C1, C2), one digital channel
// (D0) and an external trigger input (EX).
func New() *Instrument {
	f := &Instrument{
		MakeName:     "Fake",
		ModelName:    "FAKE-2",
		SerialNumber: "F0001",
		Firmware:     "0.1",
		Rates:        []uint64{1000, 2000},
		Depths:       []uint64{100, 1000},
		channels:     make(map[string]channel),
	}
	f.AddChannel("C1", bridge.ChannelAnalog)
	f.AddChannel("C2", bridge.ChannelAnalog)
	f.AddChannel("D0", bridge.ChannelDigital)
	f.AddChannel("EX", bridge.ChannelExternalTrigger)
	return f
}

// AddChannel registers a channel and returns its handle.
func (f *Instrument) AddChannel(name string, typ bridge.ChannelType) bridge.ChannelID {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.channels[name]; ok {
		return ch.id
	}
	id := bridge.ChannelID(len(f.order))
	f.channels[name] = channel{id: id, typ: typ}
	f.order = append(f.order, name)
	return id
}

// ChannelNames returns the registered channel names in registration order.
func (f *Instrument) ChannelNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// Calls returns a copy of the recorded calls.
func (f *Instrument) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Reset forgets recorded calls.
func (f *Instrument) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Instrument) record(method string, ch bridge.ChannelID, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Channel: ch, Value: value})
	return f.Err
}

func (f *Instrument) Make() string            { return f.MakeName }
func (f *Instrument) Model() string           { return f.ModelName }
func (f *Instrument) Serial() string          { return f.SerialNumber }
func (f *Instrument) FirmwareVersion() string { return f.Firmware }

// ChannelCount returns the number of analog channels.
func (f *Instrument) ChannelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.channels {
		if ch.typ == bridge.ChannelAnalog {
			n++
		}
	}
	return n
}

func (f *Instrument) SampleRates() []uint64  { return append([]uint64(nil), f.Rates...) }
func (f *Instrument) SampleDepths() []uint64 { return append([]uint64(nil), f.Depths...) }

func (f *Instrument) StartAcquisition(oneShot bool) error {
	f.mu.Lock()
	f.armed = true
	f.mu.Unlock()
	return f.record("StartAcquisition", 0, oneShot)
}

func (f *Instrument) ForceTrigger() error {
	return f.record("ForceTrigger", 0, nil)
}

func (f *Instrument) StopAcquisition() error {
	f.mu.Lock()
	f.armed = false
	f.mu.Unlock()
	return f.record("StopAcquisition", 0, nil)
}

func (f *Instrument) IsTriggerArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

func (f *Instrument) ChannelID(name string) (bridge.ChannelID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", bridge.ErrUnknownChannel, name)
	}
	return ch.id, nil
}

func (f *Instrument) ChannelType(id bridge.ChannelID) bridge.ChannelType {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.id == id {
			return ch.typ
		}
	}
	return bridge.ChannelAnalog
}

func (f *Instrument) SetChannelEnabled(id bridge.ChannelID, enabled bool) error {
	return f.record("SetChannelEnabled", id, enabled)
}

func (f *Instrument) SetAnalogCoupling(id bridge.ChannelID, coupling string) error {
	return f.record("SetAnalogCoupling", id, coupling)
}

func (f *Instrument) SetAnalogRange(id bridge.ChannelID, volts float64) error {
	return f.record("SetAnalogRange", id, volts)
}

func (f *Instrument) SetAnalogOffset(id bridge.ChannelID, volts float64) error {
	return f.record("SetAnalogOffset", id, volts)
}

func (f *Instrument) SetDigitalThreshold(id bridge.ChannelID, volts float64) error {
	return f.record("SetDigitalThreshold", id, volts)
}

func (f *Instrument) SetDigitalHysteresis(id bridge.ChannelID, volts float64) error {
	return f.record("SetDigitalHysteresis", id, volts)
}

func (f *Instrument) SetSampleRate(hz uint64) error {
	return f.record("SetSampleRate", 0, hz)
}

func (f *Instrument) SetSampleDepth(samples uint64) error {
	return f.record("SetSampleDepth", 0, samples)
}

func (f *Instrument) SetTriggerDelay(fs uint64) error {
	return f.record("SetTriggerDelay", 0, fs)
}

func (f *Instrument) SetTriggerSource(id bridge.ChannelID) error {
	return f.record("SetTriggerSource", id, nil)
}

func (f *Instrument) SetTriggerLevel(volts float64) error {
	return f.record("SetTriggerLevel", 0, volts)
}

func (f *Instrument) SetTriggerTypeEdge() error {
	return f.record("SetTriggerTypeEdge", 0, nil)
}

func (f *Instrument) SetEdgeTriggerEdge(edge string) error {
	return f.record("SetEdgeTriggerEdge", 0, edge)
}

var _ bridge.Instrument = (*Instrument)(nil)
