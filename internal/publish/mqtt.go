package publish

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
)

const (
	connectTimeout  = 10 * time.Second
	disconnectQuiet = 250 // ms
)

// Config of the MQTT broker connection.
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	ClientID string // random when empty
	Username string
	Password string
	QoS      byte
	Retain   bool
}

func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt: broker is required")
	}
	if c.Topic == "" {
		return errors.New("mqtt: topic is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt: invalid QoS %d", c.QoS)
	}
	return nil
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher sends detection events to an MQTT topic as JSON.
type MQTTPublisher struct {
	cfg    Config
	client client

	closeOnce sync.Once

	logger *slog.Logger
}

type Option func(p *MQTTPublisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *MQTTPublisher) {
		p.logger = logger
	}
}

func withClient(c client) Option {
	return func(p *MQTTPublisher) {
		p.client = c
	}
}

// NewMQTTPublisher connects to the broker. The paho client reconnects on its
// own after the initial connection succeeds.
func NewMQTTPublisher(cfg Config, options ...Option) (*MQTTPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &MQTTPublisher{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(p)
	}

	p.logger = p.logger.With(slog.String("component", "mqtt"))

	if p.client == nil {
		p.client = mqtt.NewClient(p.clientOptions())
	}

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.client.Disconnect(0)
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.Broker, err)
	}

	p.logger.Info("Connected to MQTT broker", slog.String("broker", cfg.Broker), slog.String("topic", cfg.Topic))

	return p, nil
}

func (p *MQTTPublisher) clientOptions() *mqtt.ClientOptions {
	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(clientID)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warn("MQTT connection lost", slog.Any("error", err))
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		p.logger.Info("Reconnecting to MQTT broker")
	})

	return opts
}

func generateClientID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "rtl-sdr-analyzer_" + hex.EncodeToString(b)
}

// Payload builds the JSON message published for an event.
func Payload(sessionID int64, event *detection.DetectionEvent) ([]byte, error) {
	m := event.ToMap()
	m["session"] = sessionID
	return json.Marshal(m)
}

// Publish sends the event and waits for the broker to acknowledge it or for
// ctx to end.
func (p *MQTTPublisher) Publish(ctx context.Context, sessionID int64, event *detection.DetectionEvent) error {
	if event == nil {
		return errors.New("cannot publish nil event")
	}

	data, err := Payload(sessionID, event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retain, data)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err = token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.cfg.Topic, err)
	}
	return nil
}

// Close disconnects from the broker. It is safe to call Close multiple times.
func (p *MQTTPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.client.Disconnect(disconnectQuiet)
		p.logger.Info("Disconnected from MQTT broker")
	})
	return nil
}
