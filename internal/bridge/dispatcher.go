// Package bridge routes tokenized protocol commands to an Instrument.
//
// Commands are resolved through a route table keyed by namespace, verb and
// channel type. The device namespace has an empty subject, the trigger
// namespace the subject "TRIG", and every other subject names a channel.
// Channel commands are looked up first for the channel's own type and then
// for verbs legal on every type, so a type-specific verb sent to a channel of
// another type is unrecognized.
//
// Commands never produce a reply. Queries produce exactly one line, or
// nothing when unrecognized.
package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/scpi-bridge/internal/scpi"
)

// TriggerSubject is the subject of the trigger namespace.
const TriggerSubject = "TRIG"

type namespace int

const (
	nsDevice namespace = iota
	nsTrigger
	nsChannel
)

func (n namespace) String() string {
	switch n {
	case nsDevice:
		return "device"
	case nsTrigger:
		return "trigger"
	default:
		return "channel"
	}
}

// anyChannel keys routes that do not depend on the channel type.
const anyChannel ChannelType = -1

type routeKey struct {
	ns     namespace
	verb   string
	chType ChannelType
}

type handlerFunc func(inst Instrument, ch ChannelID, args []string) error

type route struct {
	nargs int
	run   handlerFunc
}

var commandRoutes = map[routeKey]route{
	// Device
	{nsDevice, "START", anyChannel}:  {0, noArgs(func(i Instrument) error { return i.StartAcquisition(false) })},
	{nsDevice, "SINGLE", anyChannel}: {0, noArgs(func(i Instrument) error { return i.StartAcquisition(true) })},
	{nsDevice, "FORCE", anyChannel}:  {0, noArgs(Instrument.ForceTrigger)},
	{nsDevice, "STOP", anyChannel}:   {0, noArgs(Instrument.StopAcquisition)},
	{nsDevice, "RATE", anyChannel}:   {1, uintArg(Instrument.SetSampleRate)},
	{nsDevice, "DEPTH", anyChannel}:  {1, uintArg(Instrument.SetSampleDepth)},

	// Trigger
	{nsTrigger, "DELAY", anyChannel}:    {1, uintArg(Instrument.SetTriggerDelay)},
	{nsTrigger, "SOU", anyChannel}:      {1, triggerSource},
	{nsTrigger, "MODE", anyChannel}:     {1, triggerMode},
	{nsTrigger, "LEV", anyChannel}:      {1, floatArg(Instrument.SetTriggerLevel)},
	{nsTrigger, "EDGE:DIR", anyChannel}: {1, textArg(Instrument.SetEdgeTriggerEdge)},

	// Channels of every type
	{nsChannel, "ON", anyChannel}:  {0, channelEnable(true)},
	{nsChannel, "OFF", anyChannel}: {0, channelEnable(false)},

	// Analog channels
	{nsChannel, "COUP", ChannelAnalog}:  {1, channelText(Instrument.SetAnalogCoupling)},
	{nsChannel, "RANGE", ChannelAnalog}: {1, channelFloat(Instrument.SetAnalogRange)},
	{nsChannel, "OFFS", ChannelAnalog}:  {1, channelFloat(Instrument.SetAnalogOffset)},

	// Digital channels
	{nsChannel, "THRESH", ChannelDigital}: {1, channelFloat(Instrument.SetDigitalThreshold)},
	{nsChannel, "HYS", ChannelDigital}:    {1, channelFloat(Instrument.SetDigitalHysteresis)},
}

type queryFunc func(inst Instrument) string

var queryRoutes = map[string]queryFunc{
	"*IDN":   identity,
	"CHANS":  func(i Instrument) string { return strconv.Itoa(i.ChannelCount()) },
	"ARMED":  armed,
	"RATES":  samplePeriods,
	"DEPTHS": sampleDepths,
}

// Dispatcher executes commands and queries against one Instrument. It holds
// no state of its own beyond its collaborators.
type Dispatcher struct {
	inst    Instrument
	queries *QueryRegistry
}

// NewDispatcher creates a dispatcher. queries supplies device-specific
// queries and may be nil.
func NewDispatcher(inst Instrument, queries *QueryRegistry) *Dispatcher {
	if queries == nil {
		queries = NewQueryRegistry()
	}
	return &Dispatcher{
		inst:    inst,
		queries: queries,
	}
}

// Command executes a non-query command. The returned error describes why the
// command was not executed, or the instrument's refusal; it is diagnostic
// only and must not be sent to the client.
func (d *Dispatcher) Command(cmd scpi.Command) error {
	if cmd.Verb == "" {
		return fmt.Errorf("%w: empty verb", ErrUnrecognized)
	}

	var (
		ns     = nsDevice
		ch     ChannelID
		chType = anyChannel
	)

	switch cmd.Subject {
	case "":
	case TriggerSubject:
		ns = nsTrigger
	default:
		ns = nsChannel
		id, err := d.inst.ChannelID(cmd.Subject)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnrecognized, cmd.Subject, err)
		}
		ch = id
		chType = d.inst.ChannelType(id)
	}

	r, ok := commandRoutes[routeKey{ns, cmd.Verb, chType}]
	if !ok && ns == nsChannel {
		r, ok = commandRoutes[routeKey{ns, cmd.Verb, anyChannel}]
	}
	if !ok {
		if ns == nsChannel {
			return fmt.Errorf("%w: %s not valid for %s channel %s", ErrUnrecognized, cmd.Verb, chType, cmd.Subject)
		}
		return fmt.Errorf("%w: %s command %s", ErrUnrecognized, ns, cmd.Verb)
	}

	if len(cmd.Args) != r.nargs {
		return fmt.Errorf("%w: %s expects %d argument(s), got %d", ErrUnrecognized, cmd.Verb, r.nargs, len(cmd.Args))
	}

	if err := r.run(d.inst, ch, cmd.Args); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// Query answers a query command. The built-in queries ignore the subject;
// anything else is offered to the device-specific registry. An error means
// no reply must be sent.
func (d *Dispatcher) Query(ctx context.Context, cmd scpi.Command) (string, error) {
	if q, ok := queryRoutes[cmd.Verb]; ok {
		return q(d.inst), nil
	}

	if h, ok := d.queries.Get(cmd.Verb); ok && cmd.Verb != "" {
		reply, err := h.Handle(ctx, cmd)
		if err != nil {
			return "", fmt.Errorf("%s: %w", cmd, err)
		}
		return reply, nil
	}

	return "", fmt.Errorf("%w: query %s", ErrUnrecognized, cmd)
}

// Queries returns the registry of device-specific queries.
func (d *Dispatcher) Queries() *QueryRegistry {
	return d.queries
}

func noArgs(set func(Instrument) error) handlerFunc {
	return func(inst Instrument, _ ChannelID, _ []string) error {
		return set(inst)
	}
}

func uintArg(set func(Instrument, uint64) error) handlerFunc {
	return func(inst Instrument, _ ChannelID, args []string) error {
		v, err := parseUint(args[0])
		if err != nil {
			return err
		}
		return set(inst, v)
	}
}

func floatArg(set func(Instrument, float64) error) handlerFunc {
	return func(inst Instrument, _ ChannelID, args []string) error {
		v, err := parseFloat(args[0])
		if err != nil {
			return err
		}
		return set(inst, v)
	}
}

func textArg(set func(Instrument, string) error) handlerFunc {
	return func(inst Instrument, _ ChannelID, args []string) error {
		return set(inst, args[0])
	}
}

func channelEnable(enabled bool) handlerFunc {
	return func(inst Instrument, ch ChannelID, _ []string) error {
		return inst.SetChannelEnabled(ch, enabled)
	}
}

func channelFloat(set func(Instrument, ChannelID, float64) error) handlerFunc {
	return func(inst Instrument, ch ChannelID, args []string) error {
		v, err := parseFloat(args[0])
		if err != nil {
			return err
		}
		return set(inst, ch, v)
	}
}

func channelText(set func(Instrument, ChannelID, string) error) handlerFunc {
	return func(inst Instrument, ch ChannelID, args []string) error {
		return set(inst, ch, args[0])
	}
}

func triggerSource(inst Instrument, _ ChannelID, args []string) error {
	id, err := inst.ChannelID(args[0])
	if err != nil {
		return fmt.Errorf("%w: trigger source %s: %w", ErrUnrecognized, args[0], err)
	}
	return inst.SetTriggerSource(id)
}

func triggerMode(inst Instrument, _ ChannelID, args []string) error {
	if args[0] != "EDGE" {
		return &ArgumentError{Kind: ArgInvalidLiteral, Value: args[0]}
	}
	return inst.SetTriggerTypeEdge()
}

func identity(inst Instrument) string {
	return strings.Join([]string{inst.Make(), inst.Model(), inst.Serial(), inst.FirmwareVersion()}, ",")
}

func armed(inst Instrument) string {
	if inst.IsTriggerArmed() {
		return "1"
	}
	return "0"
}

func samplePeriods(inst Instrument) string {
	var b strings.Builder
	for _, rate := range inst.SampleRates() {
		if rate == 0 {
			continue
		}
		b.WriteString(formatPeriod(FemtosecondsPerSecond / float64(rate)))
		b.WriteByte(',')
	}
	return b.String()
}

func sampleDepths(inst Instrument) string {
	var b strings.Builder
	for _, depth := range inst.SampleDepths() {
		b.WriteString(strconv.FormatUint(depth, 10))
		b.WriteByte(',')
	}
	return b.String()
}
