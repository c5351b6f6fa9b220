package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
)

// MQTTConfig describes the broker connection
type MQTTConfig struct {
	Broker         string // tcp://host:port
	ClientID       string
	Topic          string // Prefix, ticks go to <topic>/tick and phases to <topic>/phase
	QoS            byte
	ConnectTimeout time.Duration
}

// ConnectMQTT connects to the broker. The client reconnects on its own after
// the initial connection succeeded.
func ConnectMQTT(conf MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(conf.Broker).
		SetClientID(conf.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(conf.ConnectTimeout)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(conf.ConnectTimeout) {
		return nil, fmt.Errorf("connecting to %s: timeout after %s", conf.Broker, conf.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", conf.Broker, err)
	}

	return client, nil
}

// WithMQTTLogger sets the logger for the publisher
func WithMQTTLogger(logger *slog.Logger) func(p *MQTTPublisher) {
	return func(p *MQTTPublisher) {
		p.logger = logger.With(slog.String("component", "mqtt"))
	}
}

// WithQoS sets the QoS of published messages
func WithQoS(qos byte) func(p *MQTTPublisher) {
	return func(p *MQTTPublisher) {
		p.qos = qos
	}
}

// MQTTPublisher publishes controller ticks and phase changes. Publishing is
// asynchronous, delivery errors are only logged.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger *slog.Logger
}

func NewMQTTPublisher(client mqtt.Client, topic string, options ...func(p *MQTTPublisher)) *MQTTPublisher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	p := MQTTPublisher{
		client: client,
		topic:  topic,
		logger: logger,
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Record implements flight.Sink
func (p *MQTTPublisher) Record(t flight.Tick) {
	p.publish(p.topic+"/tick", false, tickMessage(t))
}

// PhaseChanged implements flight.PhaseObserver. Phase messages are retained so
// late subscribers see the current phase.
func (p *MQTTPublisher) PhaseChanged(from, to flight.Phase) {
	p.publish(p.topic+"/phase", true, phaseMessage(from, to))
}

func (p *MQTTPublisher) publish(topic string, retained bool, m Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		p.logger.Error(fmt.Sprintf("marshaling %s message: %s", m.Type, err.Error()))
		return
	}

	token := p.client.Publish(topic, p.qos, retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.logger.Debug(fmt.Sprintf("publishing to %s: %s", topic, err.Error()))
		}
	}()
}

// Close disconnects from the broker, waiting up to 250ms for in-flight messages
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
