package bridge

// ChannelID is an implementation-defined handle for one instrument input. It
// must be unique across channel types and stable for the provider's lifetime.
type ChannelID uint

// ChannelType determines which channel commands are legal for a channel.
type ChannelType int

const (
	ChannelAnalog ChannelType = iota
	ChannelDigital
	ChannelExternalTrigger
)

func (t ChannelType) String() string {
	switch t {
	case ChannelAnalog:
		return "analog"
	case ChannelDigital:
		return "digital"
	case ChannelExternalTrigger:
		return "trigger"
	default:
		return "unknown"
	}
}

// Identity answers the *IDN? query.
type Identity interface {
	Make() string
	Model() string
	Serial() string
	FirmwareVersion() string
}

// Capabilities reports what the instrument can currently do.
type Capabilities interface {
	// ChannelCount returns the number of analog channels.
	ChannelCount() int

	// SampleRates returns the legal sample rates in Hz for the current
	// configuration, in the order they should be reported. A zero rate has no
	// sample period and is left out of RATES replies.
	SampleRates() []uint64

	// SampleDepths returns the legal memory depths in samples.
	SampleDepths() []uint64
}

// Acquisition controls capture.
type Acquisition interface {
	// StartAcquisition arms the trigger. With oneShot set only a single
	// waveform is captured.
	StartAcquisition(oneShot bool) error
	ForceTrigger() error
	StopAcquisition() error
	IsTriggerArmed() bool
}

// Channels resolves channel names and configures individual inputs.
type Channels interface {
	// ChannelID converts a name such as "C2" into a handle. Unknown names
	// return an error wrapping ErrUnknownChannel.
	ChannelID(name string) (ChannelID, error)

	// ChannelType returns the type of a handle obtained from ChannelID.
	ChannelType(id ChannelID) ChannelType

	SetChannelEnabled(id ChannelID, enabled bool) error

	SetAnalogCoupling(id ChannelID, coupling string) error
	// SetAnalogRange sets the full-scale range, max to min, in volts.
	SetAnalogRange(id ChannelID, volts float64) error
	SetAnalogOffset(id ChannelID, volts float64) error

	// SetDigitalThreshold sets the logic high threshold in volts.
	SetDigitalThreshold(id ChannelID, volts float64) error
	SetDigitalHysteresis(id ChannelID, volts float64) error
}

// Sampling configures the timebase.
type Sampling interface {
	SetSampleRate(hz uint64) error
	SetSampleDepth(samples uint64) error
}

// Trigger configures the trigger.
type Trigger interface {
	SetTriggerDelay(fs uint64) error
	SetTriggerSource(id ChannelID) error
	SetTriggerLevel(volts float64) error
	SetTriggerTypeEdge() error
	// SetEdgeTriggerEdge selects the active edge ("RISING", "FALLING", ...).
	// Legality of the value is up to the implementation.
	SetEdgeTriggerEdge(edge string) error
}

// Instrument is the capability set the dispatcher drives. There is one
// implementation per instrument family. The dispatcher assumes exclusive use
// for the duration of a call; implementations shared between sessions must
// serialize access themselves.
type Instrument interface {
	Identity
	Capabilities
	Acquisition
	Channels
	Sampling
	Trigger
}
