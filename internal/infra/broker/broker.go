// Package broker runs an embedded MQTT broker so a single binary can serve as
// its own device state store.
package broker

import (
	"fmt"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Config struct {
	Addr      string
	BaseTopic string
	Users     []User
}

type Broker struct {
	server *mochi.Server
	cfg    Config
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func New(cfg Config, logger *slog.Logger) (*Broker, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":1883"
	}
	logger = logger.With("component", "broker")

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger,
	})

	if len(cfg.Users) == 0 {
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, fmt.Errorf("adding auth hook: %w", err)
		}
	} else {
		if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger(cfg.Users)}); err != nil {
			return nil, fmt.Errorf("adding auth hook: %w", err)
		}
	}

	if err := server.AddHook(&StateGuardHook{baseTopic: cfg.BaseTopic, logger: logger}, nil); err != nil {
		return nil, fmt.Errorf("adding state guard hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: cfg.Addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("adding listener on %s: %w", cfg.Addr, err)
	}

	return &Broker{server: server, cfg: cfg, logger: logger}, nil
}

// ledger lets configured users and local connections in; everyone may read,
// only authenticated users and local clients may write.
func ledger(users []User) *auth.Ledger {
	l := &auth.Ledger{
		Auth: auth.AuthRules{
			{Remote: "127.0.0.1:*", Allow: true},
			{Remote: "localhost:*", Allow: true},
		},
		ACL: auth.ACLRules{
			{Remote: "127.0.0.1:*"},
		},
	}
	for _, u := range users {
		l.Auth = append(l.Auth, auth.AuthRule{
			Username: auth.RString(u.Username),
			Password: auth.RString(u.Password),
			Allow:    true,
		})
		l.ACL = append(l.ACL, auth.ACLRule{
			Username: auth.RString(u.Username),
			Filters:  auth.Filters{"#": auth.ReadWrite},
		})
	}
	l.ACL = append(l.ACL, auth.ACLRule{
		Filters: auth.Filters{"#": auth.ReadOnly},
	})
	return l
}

// Start begins accepting connections. Listeners run in their own goroutines.
func (b *Broker) Start() error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	b.logger.Info("embedded broker listening", "addr", b.cfg.Addr)
	return nil
}

// Publish injects a message through the inline client.
func (b *Broker) Publish(topic string, payload []byte, retain bool) error {
	return b.server.Publish(topic, payload, retain, 1)
}

func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.server.Close()
	})
	return b.closeErr
}
