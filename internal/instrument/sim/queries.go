package sim

import (
	"context"
	"fmt"
	"strconv"

	"github.com/scpi-bridge/internal/bridge"
	"github.com/scpi-bridge/internal/scpi"
)

// RegisterQueries adds the simulator's setting read-back queries to reg.
func (s *Instrument) RegisterQueries(reg *bridge.QueryRegistry) {
	for _, q := range s.queries() {
		reg.Register(q)
	}
}

func (s *Instrument) queries() []*bridge.QueryFunc {
	return []*bridge.QueryFunc{
		{
			Name:        "RATE",
			Description: "Current sample rate in Hz",
			Func: s.deviceQuery(func(st Settings) string {
				return strconv.FormatUint(st.SampleRate, 10)
			}),
		},
		{
			Name:        "DEPTH",
			Description: "Current memory depth in samples",
			Func: s.deviceQuery(func(st Settings) string {
				return strconv.FormatUint(st.SampleDepth, 10)
			}),
		},
		{
			Name:        "LEV",
			Description: "Trigger level in volts",
			Func: s.triggerQuery(func(st Settings) string {
				return formatFloat(st.TriggerLevel)
			}),
		},
		{
			Name:        "DELAY",
			Description: "Trigger delay in femtoseconds",
			Func: s.triggerQuery(func(st Settings) string {
				return strconv.FormatUint(st.TriggerDelay, 10)
			}),
		},
		{
			Name:        "SOU",
			Description: "Trigger source channel",
			Func: s.triggerQuery(func(st Settings) string {
				return st.TriggerSource
			}),
		},
		{
			Name:        "MODE",
			Description: "Trigger type",
			Func: s.triggerQuery(func(Settings) string {
				return "EDGE"
			}),
		},
		{
			Name:        "EDGE:DIR",
			Description: "Active trigger edge",
			Func: s.triggerQuery(func(st Settings) string {
				return st.TriggerEdge
			}),
		},
		{
			Name:        "ON",
			Description: "1 if the channel is enabled",
			Func: s.channelQuery(nil, func(cs ChannelSettings) string {
				if cs.Enabled {
					return "1"
				}
				return "0"
			}),
		},
		{
			Name:        "COUP",
			Description: "Analog channel coupling",
			Func: s.channelQuery(analogOnly, func(cs ChannelSettings) string {
				return cs.Coupling
			}),
		},
		{
			Name:        "RANGE",
			Description: "Analog channel full-scale range in volts",
			Func: s.channelQuery(analogOnly, func(cs ChannelSettings) string {
				return formatFloat(cs.Range)
			}),
		},
		{
			Name:        "OFFS",
			Description: "Analog channel offset in volts",
			Func: s.channelQuery(analogOnly, func(cs ChannelSettings) string {
				return formatFloat(cs.Offset)
			}),
		},
		{
			Name:        "THRESH",
			Description: "Digital channel threshold in volts",
			Func: s.channelQuery(digitalOnly, func(cs ChannelSettings) string {
				return formatFloat(cs.Threshold)
			}),
		},
		{
			Name:        "HYS",
			Description: "Digital channel hysteresis in volts",
			Func: s.channelQuery(digitalOnly, func(cs ChannelSettings) string {
				return formatFloat(cs.Hysteresis)
			}),
		},
	}
}

type queryFunc func(ctx context.Context, cmd scpi.Command) (string, error)

func analogOnly(t bridge.ChannelType) bool  { return t == bridge.ChannelAnalog }
func digitalOnly(t bridge.ChannelType) bool { return t == bridge.ChannelDigital }

func (s *Instrument) deviceQuery(read func(Settings) string) queryFunc {
	return func(_ context.Context, cmd scpi.Command) (string, error) {
		if cmd.Subject != "" || len(cmd.Args) != 0 {
			return "", fmt.Errorf("%w: %s", bridge.ErrUnrecognized, cmd)
		}
		return read(s.Settings()), nil
	}
}

func (s *Instrument) triggerQuery(read func(Settings) string) queryFunc {
	return func(_ context.Context, cmd scpi.Command) (string, error) {
		if cmd.Subject != bridge.TriggerSubject || len(cmd.Args) != 0 {
			return "", fmt.Errorf("%w: %s", bridge.ErrUnrecognized, cmd)
		}
		return read(s.Settings()), nil
	}
}

func (s *Instrument) channelQuery(legal func(bridge.ChannelType) bool, read func(ChannelSettings) string) queryFunc {
	return func(_ context.Context, cmd scpi.Command) (string, error) {
		if len(cmd.Args) != 0 {
			return "", fmt.Errorf("%w: %s", bridge.ErrUnrecognized, cmd)
		}
		id, err := s.ChannelID(cmd.Subject)
		if err != nil {
			return "", fmt.Errorf("%w: %w", bridge.ErrUnrecognized, err)
		}
		if legal != nil && !legal(s.ChannelType(id)) {
			return "", fmt.Errorf("%w: %s not valid for %s channel", bridge.ErrUnrecognized, cmd.Verb, s.ChannelType(id))
		}

		s.mu.RLock()
		cs := s.settings.Channels[cmd.Subject]
		s.mu.RUnlock()
		return read(cs), nil
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
