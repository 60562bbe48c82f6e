package web

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"smart-control/internal/domain"
	"smart-control/internal/infra/audio"
)

const maxAudioBytes = 10 * 1024 * 1024

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, indexHTML)
}

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	StoreConnected bool   `json:"store_connected"`
}

func (s *Server) handleHealth(c echo.Context) error {
	view := s.dashboard.View()
	resp := healthResponse{
		Status:         "ok",
		Version:        s.opts.Version,
		StoreConnected: view.Connected,
	}
	if !view.Connected {
		resp.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

type infoResponse struct {
	Version     string `json:"version"`
	Speech      string `json:"speech"`
	AuthEnabled bool   `json:"auth_enabled"`
}

func (s *Server) handleInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, infoResponse{
		Version:     s.opts.Version,
		Speech:      s.opts.SpeechMode,
		AuthEnabled: s.opts.AuthToken != "",
	})
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dashboard.View())
}

func (s *Server) handleToggle(c echo.Context) error {
	field, err := domain.ParseField(c.Param("field"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err := s.dashboard.Toggle(c.Request().Context(), field); err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusAccepted, s.dashboard.View())
}

type setRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSet(c echo.Context) error {
	field, err := domain.ParseField(c.Param("field"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	var req setRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	value, err := domain.ParseState(req.Value)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.dashboard.Set(c.Request().Context(), field, value, domain.SourceManual); err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusAccepted, s.dashboard.View())
}

func storeError(err error) error {
	switch {
	case errors.Is(err, domain.ErrStoreDisconnected):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrStoreWrite):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return err
	}
}

// handleCaptureStart blocks until the session yields its result. A newer
// start request aborts this one, which then reports "ended".
func (s *Server) handleCaptureStart(c echo.Context) error {
	res := s.dashboard.StartCapture(c.Request().Context())
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCaptureStop(c echo.Context) error {
	s.dashboard.StopCapture()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCaptureAudio(c echo.Context) error {
	if s.opts.Uploads == nil {
		return echo.NewHTTPError(http.StatusNotFound, "audio upload not enabled")
	}

	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxAudioBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if len(data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty audio")
	}

	if err := s.opts.Uploads.Submit(data); err != nil {
		if errors.Is(err, audio.ErrUploadBusy) || errors.Is(err, audio.ErrNotListening) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return err
	}
	s.logger.Info("audio uploaded", "bytes", len(data))
	return c.NoContent(http.StatusAccepted)
}

type transcriptRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTranscript(c echo.Context) error {
	var req transcriptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s.dashboard.SetTranscript(req.Text)
	return c.NoContent(http.StatusNoContent)
}

type executeResponse struct {
	Outcome domain.CommandOutcome `json:"outcome"`
	Message string                `json:"message"`
}

func (s *Server) handleExecute(c echo.Context) error {
	var req transcriptRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	ctx := c.Request().Context()
	var (
		outcome domain.CommandOutcome
		err     error
	)
	if strings.TrimSpace(req.Text) != "" {
		outcome, err = s.dashboard.ExecuteText(ctx, req.Text)
	} else {
		outcome, err = s.dashboard.Execute(ctx)
	}

	switch {
	case errors.Is(err, domain.ErrEmptyTranscript):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return storeError(err)
	}
	return c.JSON(http.StatusOK, executeResponse{Outcome: outcome, Message: outcome.String()})
}
