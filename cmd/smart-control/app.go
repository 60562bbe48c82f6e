package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"smart-control/config"
	"smart-control/internal/application"
	"smart-control/internal/infra/audio"
	"smart-control/internal/infra/broker"
	"smart-control/internal/infra/dialogflow"
	"smart-control/internal/infra/memstore"
	"smart-control/internal/infra/metrics"
	"smart-control/internal/infra/mqttstore"
	"smart-control/internal/infra/openai"
	"smart-control/internal/infra/pushover"
	"smart-control/internal/infra/web"
)

const connectTimeout = 30 * time.Second

type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	controller *application.Controller
	web        *web.Server

	closeOnce sync.Once
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Broker.Embedded {
		users := make([]broker.User, 0, len(cfg.Broker.Users))
		for _, u := range cfg.Broker.Users {
			users = append(users, broker.User{Username: u.Username, Password: u.Password})
		}
		b, err := broker.New(broker.Config{
			Addr:      cfg.Broker.Addr,
			BaseTopic: cfg.Store.BaseTopic,
			Users:     users,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := b.Start(); err != nil {
			return nil, err
		}
		a.onClose(func() {
			if err := b.Close(); err != nil {
				logger.Warn("closing broker", "error", err)
			}
		})
	}

	store, err := a.createStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	resolver, err := a.createResolver()
	if err != nil {
		a.Close()
		return nil, err
	}

	recognizer, speechMode, uploads := a.createRecognizer()
	capture := application.NewCapture(recognizer, logger)

	var notifier application.Notifier = &application.NoopNotifier{}
	if cfg.Pushover.Enabled {
		notifier = pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey, cfg.Pushover.Title)
	}

	recorder := metrics.NewRecorder()

	a.controller = application.NewController(
		store,
		resolver,
		capture,
		notifier,
		recorder,
		application.ControllerConfig{
			Mapper:         application.MapperOptions{RequireExplicitValue: cfg.Mapper.RequireExplicitValue},
			IntentTimeout:  cfg.Intent.Timeout,
			ConfirmTimeout: cfg.Store.ConfirmTimeout,
		},
		logger,
	)

	opts := web.Options{
		AuthToken:  cfg.HTTP.AuthToken,
		RateLimit:  cfg.HTTP.RateLimit,
		SpeechMode: speechMode,
		Metrics:    metrics.Handler(recorder.Registry()),
		Version:    versioninfo.Short(),
	}
	if uploads != nil {
		opts.Uploads = uploads
	}
	a.web = web.NewServer(a.controller, opts, logger)

	return a, nil
}

func (a *app) createStore(ctx context.Context) (application.StateStore, error) {
	switch a.cfg.Store.Backend {
	case config.BackendMQTT:
		s := mqttstore.New(mqttstore.Config{
			BrokerURL:    a.cfg.Store.BrokerURL,
			BaseTopic:    a.cfg.Store.BaseTopic,
			ClientID:     a.cfg.Store.ClientID,
			Username:     a.cfg.Store.Username,
			Password:     a.cfg.Store.Password,
			WriteTimeout: a.cfg.Store.WriteTimeout,
		}, a.logger)
		a.onClose(s.Close)

		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := s.Connect(connectCtx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// the client keeps retrying; the dashboard shows the store as offline
			a.logger.Warn("device store not reachable yet", "broker", a.cfg.Store.BrokerURL, "error", err)
		}
		return s, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory device store, state is lost on restart")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
}

func (a *app) createResolver() (application.IntentResolver, error) {
	var opts []dialogflow.Option
	if a.cfg.Intent.SocksProxy != "" {
		hc, err := dialogflow.NewSocksHTTPClient(a.cfg.Intent.SocksProxy, a.cfg.Intent.Timeout)
		if err != nil {
			return nil, fmt.Errorf("configuring socks proxy: %w", err)
		}
		opts = append(opts, dialogflow.WithHTTPClient(hc))
	}
	return dialogflow.NewClient(a.cfg.Intent.BaseURL, a.cfg.Intent.Timeout, a.logger, opts...), nil
}

// createRecognizer picks the server-side speech pipeline. Without one the
// page falls back to the browser's own recognition.
func (a *app) createRecognizer() (application.Recognizer, string, *audio.UploadRecorder) {
	cfg := a.cfg.Speech
	if cfg.Source == config.SpeechNone {
		return application.UnsupportedRecognizer{}, web.SpeechBrowser, nil
	}

	var whisper *openai.WhisperClient
	if cfg.OpenAIBaseURL != "" {
		whisper = openai.NewWhisperClientWithURL(cfg.OpenAIAPIKey, cfg.Language, cfg.OpenAIBaseURL)
	} else {
		whisper = openai.NewWhisperClient(cfg.OpenAIAPIKey, cfg.Language)
	}

	switch cfg.Source {
	case config.SpeechMicrophone:
		return audio.NewRecognizer(audio.NewMicrophone(cfg.SampleRate, a.logger), whisper, a.logger), web.SpeechServer, nil
	case config.SpeechFile:
		return audio.NewRecognizer(audio.NewFileRecorder(cfg.FileDir), whisper, a.logger), web.SpeechServer, nil
	case config.SpeechUpload:
		uploads := audio.NewUploadRecorder()
		return audio.NewRecognizer(uploads, whisper, a.logger), web.SpeechUpload, uploads
	default:
		a.logger.Warn("unknown speech source, using browser recognition", "source", cfg.Source)
		return application.UnsupportedRecognizer{}, web.SpeechBrowser, nil
	}
}

// Run serves until ctx ends or a component fails.
func (a *app) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- a.controller.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		errCh <- a.web.Start(ctx, a.cfg.HTTP.Addr)
	}()

	var first error
	select {
	case first = <-errCh:
		cancel()
	case <-ctx.Done():
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if first == nil && err != nil && !errors.Is(err, context.Canceled) {
			first = err
		}
	}
	if first == nil || errors.Is(first, context.Canceled) {
		return ctx.Err()
	}
	return first
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}
