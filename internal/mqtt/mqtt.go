package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"crd-explorer/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ReadingMessage is one backfilled reading as published on the broker.
type ReadingMessage struct {
	StationID  string    `json:"station_id"`
	VariableID int       `json:"variable_id"`
	Timestamp  time.Time `json:"timestamp"`
	Value      *float64  `json:"value"`
}

var errStopped = errors.New("mqtt client stopped")

type Subscriber struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	// MessageHandler is called for each well-formed reading message
	MessageHandler func(msg ReadingMessage) error
}

// MQTTSubscriber interface for attaching message handlers
type MQTTSubscriber interface {
	SetMessageHandler(handler func(msg ReadingMessage) error)
}

// SetMessageHandler sets the handler for reading messages
func (s *Subscriber) SetMessageHandler(handler func(msg ReadingMessage) error) {
	s.MessageHandler = handler
}

func NewSubscriber(cfg config.Config, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect establishes connection to the MQTT broker and subscribes to the configured topic.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return errStopped
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			break
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return errStopped
		default:
		}
	}

	if err := s.subscribe(); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("subscribe: %w", err)
	}

	return nil
}

func (s *Subscriber) subscribe() error {
	// the OnConnect callback may not have run yet
	if !s.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	topic := s.cfg.MQTTTopic
	qos := byte(1) // at least once; upserts make redelivery harmless

	token := s.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	msg, err := DecodeReading(payload)
	if err != nil {
		s.logger.Warn("invalid reading message",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}

	if s.MessageHandler == nil {
		return
	}
	if err := s.MessageHandler(msg); err != nil {
		s.logger.Error("message handler failed",
			"topic", topic,
			"station_id", msg.StationID,
			"variable_id", msg.VariableID,
			"error", err,
		)
		return
	}
	s.logger.Debug("processed reading message",
		"station_id", msg.StationID,
		"variable_id", msg.VariableID,
		"timestamp", msg.Timestamp,
	)
}

// DecodeReading parses and shape-checks a reading payload. Catalog checks
// (known station, measured variable) belong to the handler.
func DecodeReading(payload []byte) (ReadingMessage, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ReadingMessage{}, fmt.Errorf("decode reading: %w", err)
	}
	if err := validateReading(msg); err != nil {
		return ReadingMessage{}, err
	}
	return msg, nil
}

func validateReading(m ReadingMessage) error {
	if m.StationID == "" {
		return fmt.Errorf("station_id is required")
	}
	if m.VariableID <= 0 {
		return fmt.Errorf("variable_id must be positive: %d", m.VariableID)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if m.Value == nil {
		return fmt.Errorf("value is required")
	}
	if math.IsNaN(*m.Value) || math.IsInf(*m.Value, 0) {
		return fmt.Errorf("value must be finite: %v", *m.Value)
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.MQTTTopic)
		token.WaitTimeout(2 * time.Second)
	}

	// not under s.mu: paho calls back into setConnected
	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
