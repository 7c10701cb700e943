package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	codescanner "github.com/e7canasta/code-scanner"
)

// ErrNotConnected is returned by Publish before Connect succeeds or while
// the client is reconnecting.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// Config configures the MQTT emitter.
type Config struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker   string
	ClientID string
	// Topic is the topic root; events go to <Topic>/<event kind>.
	Topic    string
	QoS      byte
	Encoding string
	// PublishTimeout bounds each publish (default 2s).
	PublishTimeout time.Duration
}

// publisher is the part of mqtt.Client the emitter publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes session events to an MQTT broker.
type MQTTEmitter struct {
	cfg    Config
	encode Encoder
	logger *slog.Logger

	client mqtt.Client
	pub    publisher

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// New validates cfg. Call Connect before publishing.
func New(cfg Config, logger *slog.Logger) (*MQTTEmitter, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("emitter: broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("emitter: topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("emitter: qos must be 0, 1 or 2")
	}
	encode, err := EncoderFor(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTEmitter{
		cfg:       cfg,
		encode:    encode,
		logger:    logger,
		published: make(map[string]uint64),
	}, nil
}

// Connect dials the broker. The client reconnects on its own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("emitter: mqtt connected", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("emitter: mqtt connection lost, reconnecting", "broker", e.cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	e.mu.Lock()
	e.client = client
	e.pub = client
	e.mu.Unlock()

	e.logger.Info("emitter: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Topic returns the topic ev is published to.
func (e *MQTTEmitter) Topic(ev codescanner.Event) string {
	return e.cfg.Topic + "/" + ev.Kind.String()
}

// Publish sends ev and waits up to PublishTimeout for the broker.
func (e *MQTTEmitter) Publish(ev codescanner.Event) error {
	e.mu.RLock()
	pub, connected := e.pub, e.connected
	e.mu.RUnlock()
	if pub == nil || !connected {
		e.countError()
		return ErrNotConnected
	}

	payload, err := e.encode(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: encode %s: %w", ev.Kind, err)
	}

	topic := e.Topic(ev)
	token := pub.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.countError()
		return fmt.Errorf("emitter: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish to %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("emitter: event published", "topic", topic, "size", len(payload), "session_id", ev.SessionID)
	return nil
}

// Forward publishes every event from events until it closes or ctx is
// done. Publish failures are logged, not returned.
func (e *MQTTEmitter) Forward(ctx context.Context, events <-chan codescanner.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.Publish(ev); err != nil {
				e.logger.Warn("emitter: publish failed", "kind", ev.Kind, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() {
	e.mu.Lock()
	client := e.client
	e.connected = false
	e.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		e.logger.Info("emitter: mqtt disconnected")
	}
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns a snapshot of publish counters.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
