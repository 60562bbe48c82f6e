// Package web serves the dashboard page, its JSON API and the websocket
// event stream.
package web

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"smart-control/internal/application"
	"smart-control/internal/domain"
)

//go:embed static/index.html
var indexHTML []byte

// Dashboard is the controller surface the web layer drives.
type Dashboard interface {
	View() application.DashboardView
	Toggle(ctx context.Context, field domain.DeviceField) error
	Set(ctx context.Context, field domain.DeviceField, value domain.State, source string) error
	StartCapture(ctx context.Context) application.CaptureResult
	StopCapture()
	SetTranscript(text string)
	Execute(ctx context.Context) (domain.CommandOutcome, error)
	ExecuteText(ctx context.Context, text string) (domain.CommandOutcome, error)
	Watch() (<-chan application.Event, func())
}

// AudioSink accepts recordings uploaded by the page.
type AudioSink interface {
	Submit(data []byte) error
}

// Speech modes reported to the page.
const (
	SpeechServer  = "server"
	SpeechUpload  = "upload"
	SpeechBrowser = "browser"
)

type Options struct {
	AuthToken string
	// RateLimit is the number of command requests per minute per client IP.
	RateLimit  int
	SpeechMode string
	Uploads    AudioSink
	Metrics    http.Handler
	Version    string
}

type Server struct {
	dashboard Dashboard
	opts      Options
	limiter   *RateLimiter
	logger    *slog.Logger
	echo      *echo.Echo
	done      chan struct{}
}

func NewServer(dashboard Dashboard, opts Options, logger *slog.Logger) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 30
	}
	if opts.SpeechMode == "" {
		opts.SpeechMode = SpeechBrowser
	}
	s := &Server{
		dashboard: dashboard,
		opts:      opts,
		limiter:   NewRateLimiter(opts.RateLimit, time.Minute),
		logger:    logger.With("component", "web"),
		done:      make(chan struct{}),
	}
	s.echo = s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	close(s.done)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))

	e.GET("/", s.handleIndex)
	e.GET("/health", s.handleHealth)
	e.GET("/ws", s.handleWebSocket)
	e.GET("/api/state", s.handleState)
	e.GET("/api/info", s.handleInfo)
	if s.opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.opts.Metrics))
	}

	// Command endpoints are rate limited and, when configured, token protected.
	api := e.Group("/api", s.limiter.Middleware, s.requireToken)
	api.POST("/devices/:field/toggle", s.handleToggle)
	api.PUT("/devices/:field", s.handleSet)
	api.POST("/capture/start", s.handleCaptureStart)
	api.POST("/capture/stop", s.handleCaptureStop)
	api.POST("/capture/audio", s.handleCaptureAudio)
	api.PUT("/transcript", s.handleTranscript)
	api.POST("/execute", s.handleExecute)

	return e
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.AuthToken == "" {
			return next(c)
		}
		token := c.Request().Header.Get("X-Auth-Token")
		if token == "" {
			token = c.QueryParam("token")
		}
		if token != s.opts.AuthToken {
			s.logger.Warn("unauthorized request", "path", c.Path(), "remote", c.RealIP())
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return next(c)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "status", code, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, errorResponse{Error: msg})
}
