// Package telemetry publishes instrument status events.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/scpi-bridge/internal/config"
	"github.com/scpi-bridge/internal/logging"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	quiesceMillis  = 250
)

// Event kinds
const (
	KindAcquisition = "acquisition"
	KindSetting     = "setting"
)

// Event describes one accepted state change of an instrument.
type Event struct {
	Serial  string      `json:"serial"`
	Kind    string      `json:"kind"`
	Name    string      `json:"name"`
	Value   interface{} `json:"value,omitempty"`
	Armed   bool        `json:"armed"`
	Created time.Time   `json:"ts"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ev Event) error
	Close() error
}

// New returns an MQTT publisher when a broker is configured and a no-op
// publisher otherwise.
func New(cfg config.MQTTConfig) (Publisher, error) {
	if cfg.Broker == "" {
		return Nop{}, nil
	}
	return NewMQTT(cfg)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }
func (Nop) Close() error        { return nil }

// MQTT publishes events as JSON to <topic>/status.
type MQTT struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTT connects to the configured broker.
func NewMQTT(cfg config.MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(time.Duration(cfg.KeepAliveSec) * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.Username = cfg.Username
	opts.Password = cfg.Password
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	log.Printf("Telemetry publishing to %s topic %s", cfg.Broker, StatusTopic(cfg.Topic))

	return &MQTT{
		client: client,
		topic:  StatusTopic(cfg.Topic),
		qos:    byte(cfg.QoS),
	}, nil
}

// StatusTopic returns the topic status events are published to.
func StatusTopic(base string) string {
	return base + "/status"
}

// Encode renders ev as the JSON payload sent on the wire.
func Encode(ev Event) ([]byte, error) {
	if ev.Created.IsZero() {
		ev.Created = time.Now().UTC()
	}
	return json.Marshal(ev)
}

func (m *MQTT) Publish(ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	logging.Tracef("telemetry: %s %s", m.topic, payload)

	token := m.client.Publish(m.topic, m.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s: timeout", m.topic)
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(quiesceMillis)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (r *Recorder) Publish(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
