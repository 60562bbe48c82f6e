package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-control/internal/application"
	"smart-control/internal/domain"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	server := httptest.NewServer(Handler(r.Registry()))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorder_Exposition(t *testing.T) {
	r := NewRecorder()

	r.ObserveCommand(domain.OutcomeApplied)
	r.ObserveCommand(domain.OutcomeApplied)
	r.ObserveCommand(domain.OutcomeUnrecognized)
	r.ObserveWrite(domain.FieldAlarm, nil)
	r.ObserveWrite(domain.FieldAlarm, errors.New("timeout"))
	r.ObserveCapture(application.CaptureFailed, domain.CaptureNoSpeech)
	r.SetState(domain.FieldMovieNight, domain.StateOn)
	r.SetState(domain.FieldOverride, domain.StateOff)
	r.SetConnected(true)

	body := scrape(t, r)

	assert.Contains(t, body, `smart_control_commands_total{outcome="applied"} 2`)
	assert.Contains(t, body, `smart_control_commands_total{outcome="unrecognized"} 1`)
	assert.Contains(t, body, `smart_control_store_writes_total{field="alarm",result="ok"} 1`)
	assert.Contains(t, body, `smart_control_store_writes_total{field="alarm",result="error"} 1`)
	assert.Contains(t, body, `smart_control_captures_total{error_kind="no-speech",status="error"} 1`)
	assert.Contains(t, body, `smart_control_device_state{field="movie_night"} 1`)
	assert.Contains(t, body, `smart_control_device_state{field="override"} 0`)
	assert.Contains(t, body, "smart_control_store_connected 1")
	assert.Contains(t, body, "go_goroutines")
}
