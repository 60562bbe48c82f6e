// Package mqttstore keeps device state as retained messages on an MQTT
// broker, one topic per field.
package mqttstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"smart-control/internal/domain"
	"smart-control/internal/infra/feed"
)

type Config struct {
	BrokerURL    string
	BaseTopic    string
	ClientID     string
	Username     string
	Password     string
	WriteTimeout time.Duration
}

type Store struct {
	cfg    Config
	client mqtt.Client
	hub    *feed.Hub
	logger *slog.Logger
	now    func() time.Time
}

func OptsFromConfig(cfg Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("smart_control_%d", rand.IntN(100000))
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	opts.WillEnabled = true
	opts.WillPayload = []byte(PayloadOffline)
	opts.WillRetained = true
	opts.WillTopic = BridgeStateTopic(cfg.BaseTopic)
	opts.WillQos = 1

	return opts
}

func New(cfg Config, logger *slog.Logger) *Store {
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "smart_control"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	s := &Store{
		cfg:    cfg,
		hub:    feed.NewHub(),
		logger: logger.With("component", "mqttstore"),
		now:    time.Now,
	}

	opts := OptsFromConfig(cfg)
	opts.OnConnect = s.onConnect
	opts.OnConnectionLost = s.onConnectionLost
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		s.logger.Info("reconnecting to broker", "broker", cfg.BrokerURL)
	}
	s.client = mqtt.NewClient(opts)
	return s
}

// Connect starts the client and waits until the first connection has its
// subscription in place. The client keeps retrying in the background.
func (s *Store) Connect(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connecting to %s: %w", s.cfg.BrokerURL, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for up := range s.hub.WatchConnection(watchCtx) {
		if up {
			return nil
		}
	}
	return ctx.Err()
}

func (s *Store) Close() {
	if s.client.IsConnectionOpen() {
		token := s.client.Publish(BridgeStateTopic(s.cfg.BaseTopic), 1, true, PayloadOffline)
		token.WaitTimeout(s.cfg.WriteTimeout)
	}
	s.client.Disconnect(250)
	s.hub.SetConnected(false)
}

func (s *Store) onConnect(client mqtt.Client) {
	s.logger.Info("connected to broker", "broker", s.cfg.BrokerURL)

	client.Publish(BridgeStateTopic(s.cfg.BaseTopic), 1, true, PayloadOnline)

	// Clean sessions drop subscriptions, so resubscribe on every connect. The
	// broker replays the retained values of every field.
	topic := fmt.Sprintf("%s/+", s.cfg.BaseTopic)
	token := client.Subscribe(topic, 1, s.onMessage)
	if !token.WaitTimeout(s.cfg.WriteTimeout) {
		s.logger.Error("subscribe timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("subscribe failed", "topic", topic, "error", err)
		return
	}
	s.hub.SetConnected(true)
}

func (s *Store) onConnectionLost(_ mqtt.Client, err error) {
	s.logger.Warn("connection to broker lost", "error", err)
	s.hub.SetConnected(false)
}

func (s *Store) onMessage(_ mqtt.Client, msg mqtt.Message) {
	field, ok := ParseFieldTopic(s.cfg.BaseTopic, msg.Topic())
	if !ok {
		return
	}
	if len(msg.Payload()) == 0 {
		// retained value cleared
		return
	}

	p, err := DecodePayload(msg.Payload())
	if err != nil {
		s.logger.Warn("ignoring invalid state payload", "topic", msg.Topic(), "error", err)
		return
	}

	s.hub.Publish(domain.Update{
		Field:     field,
		Value:     p.Value,
		UpdatedAt: p.UpdatedAt,
		Source:    p.Source,
	})
}

func (s *Store) Subscribe(ctx context.Context, field domain.DeviceField) (<-chan domain.Update, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownField, field)
	}
	return s.hub.Subscribe(ctx, field), nil
}

// Write publishes value as the retained state of field. The local view only
// changes when the broker echoes the message back.
func (s *Store) Write(ctx context.Context, field domain.DeviceField, value domain.State, source string) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownField, field)
	}
	if !s.hub.Connected() || !s.client.IsConnectionOpen() {
		return domain.ErrStoreDisconnected
	}

	payload, err := EncodePayload(Payload{Value: value, UpdatedAt: s.now().UTC(), Source: source})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}

	token := s.client.Publish(FieldTopic(s.cfg.BaseTopic, field), 1, true, payload)
	timer := time.NewTimer(s.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			if errors.Is(err, mqtt.ErrNotConnected) {
				return domain.ErrStoreDisconnected
			}
			return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: publish timed out", domain.ErrStoreWrite)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) Connected() bool {
	return s.hub.Connected()
}

func (s *Store) WatchConnection(ctx context.Context) <-chan bool {
	return s.hub.WatchConnection(ctx)
}
