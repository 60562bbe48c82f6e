package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Intent   IntentConfig   `yaml:"intent"`
	Speech   SpeechConfig   `yaml:"speech"`
	Broker   BrokerConfig   `yaml:"broker"`
	HTTP     HTTPConfig     `yaml:"http"`
	Mapper   MapperConfig   `yaml:"mapper"`
	Pushover PushoverConfig `yaml:"pushover"`
	Log      LogConfig      `yaml:"log"`
}

type StoreConfig struct {
	Backend        string        `yaml:"backend"`
	BrokerURL      string        `yaml:"broker_url"`
	BaseTopic      string        `yaml:"base_topic"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

type IntentConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	SocksProxy string        `yaml:"socks_proxy"`
}

type SpeechConfig struct {
	Source        string `yaml:"source"`
	Language      string `yaml:"language"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	FileDir       string `yaml:"file_dir"`
	SampleRate    int    `yaml:"sample_rate"`
}

type BrokerConfig struct {
	Embedded bool         `yaml:"embedded"`
	Addr     string       `yaml:"addr"`
	Users    []BrokerUser `yaml:"users"`
}

type BrokerUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
	// RateLimit is the number of command requests allowed per minute per IP.
	RateLimit int `yaml:"rate_limit"`
}

type MapperConfig struct {
	RequireExplicitValue bool `yaml:"require_explicit_value"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Title   string `yaml:"title"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	BackendMemory = "memory"
	BackendMQTT   = "mqtt"

	SpeechNone       = "none"
	SpeechMicrophone = "microphone"
	SpeechFile       = "file"
	SpeechUpload     = "upload"
)

// Load reads a YAML config file. ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Store.BaseTopic == "" {
		c.Store.BaseTopic = "smart_control"
	}
	if c.Store.WriteTimeout == 0 {
		c.Store.WriteTimeout = 5 * time.Second
	}
	if c.Store.ConfirmTimeout == 0 {
		c.Store.ConfirmTimeout = 10 * time.Second
	}
	if c.Broker.Addr == "" {
		c.Broker.Addr = ":1883"
	}
	if c.Store.BrokerURL == "" && c.Broker.Embedded {
		c.Store.BrokerURL = localBrokerURL(c.Broker.Addr)
	}
	if c.Intent.Timeout == 0 {
		c.Intent.Timeout = 10 * time.Second
	}
	if c.Speech.Source == "" {
		c.Speech.Source = SpeechNone
	}
	if c.Speech.Language == "" {
		c.Speech.Language = "en"
	}
	if c.Speech.FileDir == "" {
		c.Speech.FileDir = "./audio"
	}
	if c.Speech.SampleRate == 0 {
		c.Speech.SampleRate = 16000
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func localBrokerURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "tcp://127.0.0.1:1883"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "tcp://" + net.JoinHostPort(host, port)
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendMemory:
	case BackendMQTT:
		if c.Store.BrokerURL == "" {
			errs = append(errs, errors.New("store.broker_url is required for the mqtt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}

	if c.Intent.BaseURL == "" {
		errs = append(errs, errors.New("intent.base_url is required"))
	}

	switch c.Speech.Source {
	case SpeechNone:
	case SpeechMicrophone, SpeechFile, SpeechUpload:
		if c.Speech.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Errorf("speech.openai_api_key is required for source %q", c.Speech.Source))
		}
	default:
		errs = append(errs, fmt.Errorf("speech.source: unknown source %q", c.Speech.Source))
	}

	if c.Store.WriteTimeout < 0 || c.Store.ConfirmTimeout < 0 || c.Intent.Timeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	if c.Pushover.Enabled && (c.Pushover.Token == "" || c.Pushover.UserKey == "") {
		errs = append(errs, errors.New("pushover.token and pushover.user_key are required when pushover is enabled"))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
