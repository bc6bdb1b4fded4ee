// Package events publishes completed predictions to an MQTT broker so other
// services can react to recognized signs.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/mudra/internal/store"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// message in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// DefaultTopic is the topic prefix predictions are published under.
const DefaultTopic = "mudra/predictions"

// Event is the JSON payload of one published prediction.
type Event struct {
	ID         string  `json:"id,omitempty"`
	Recognizer string  `json:"recognizer"`
	SessionID  string  `json:"session_id"`
	Label      string  `json:"label"`
	ClassIndex int     `json:"class_index"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Timeout  time.Duration
}

// Publisher sends predictions to <topic>/<recognizer>.
type Publisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// Connect dials the broker and returns a Publisher using it.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("mudra-%d", time.Now().Unix())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("connected to MQTT broker", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT: %w", token.Error())
	}
	return NewPublisher(client, cfg), nil
}

// NewPublisher wraps an already configured client.
func NewPublisher(client mqtt.Client, cfg Config) *Publisher {
	topic := strings.TrimSuffix(cfg.Topic, "/")
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Publisher{client: client, topic: topic, qos: cfg.QoS, timeout: timeout}
}

// Topic returns the topic a recognizer's predictions are published to.
func (p *Publisher) Topic(recognizer string) string {
	return p.topic + "/" + recognizer
}

// Create publishes a prediction. It satisfies the recognizer's prediction
// recorder interface.
func (p *Publisher) Create(pred *store.Prediction) error {
	ts := pred.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	payload, err := json.Marshal(Event{
		ID:         pred.ID,
		Recognizer: pred.Recognizer,
		SessionID:  pred.SessionID,
		Label:      pred.Label,
		ClassIndex: pred.ClassIndex,
		Confidence: pred.Confidence,
		Timestamp:  ts.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	token := p.client.Publish(p.Topic(pred.Recognizer), p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Close disconnects from the broker, waiting briefly for in-flight messages.
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
