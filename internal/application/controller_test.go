package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-control/internal/application"
	"smart-control/internal/domain"
	"smart-control/internal/infra/memstore"
)

type mockResolver struct {
	mu      sync.Mutex
	results map[string]domain.IntentResult
	calls   []string
}

func (m *mockResolver) Resolve(_ context.Context, text string) domain.IntentResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, text)
	if r, ok := m.results[text]; ok {
		return r
	}
	return domain.UnknownIntent()
}

func (m *mockResolver) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// silentStore acknowledges writes without ever delivering them, so tests can
// observe the writing phase.
type silentStore struct {
	*memstore.Store
	mu     sync.Mutex
	writes []domain.State
}

func (s *silentStore) Write(_ context.Context, _ domain.DeviceField, value domain.State, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, value)
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (r *recordingNotifier) Notify(_ context.Context, notice domain.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
	return nil
}

func (r *recordingNotifier) Notices() []domain.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notice(nil), r.notices...)
}

func startController(t *testing.T, store application.StateStore, resolver application.IntentResolver, cfg application.ControllerConfig) *application.Controller {
	t.Helper()
	ctrl := application.NewController(store, resolver, nil, &application.NoopNotifier{}, nil, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return ctrl.View().Connected }, time.Second, 5*time.Millisecond)
	return ctrl
}

func deviceView(view application.DashboardView, field domain.DeviceField) application.DeviceView {
	for _, d := range view.Devices {
		if d.Field == field {
			return d
		}
	}
	return application.DeviceView{}
}

func waitNotice(t *testing.T, events <-chan application.Event, kind domain.NoticeKind) domain.Notice {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == application.EventNotice && ev.Notice.Kind == kind {
				return *ev.Notice
			}
		case <-timeout:
			t.Fatalf("notice %s not emitted", kind)
		}
	}
}

func TestController_VoiceCommandApplied(t *testing.T) {
	store := memstore.New()
	resolver := &mockResolver{results: map[string]domain.IntentResult{
		"turn on the alarm": {
			IntentName: "alarm_toggle",
			Parameters: map[string]string{"state": "on"},
		},
	}}
	ctrl := startController(t, store, resolver, application.DefaultControllerConfig())

	events, stop := ctrl.Watch()
	defer stop()

	ctrl.SetTranscript("turn on the alarm")
	outcome, err := ctrl.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Applied(domain.FieldAlarm, domain.StateOn), outcome)

	require.Eventually(t, func() bool {
		d := deviceView(ctrl.View(), domain.FieldAlarm)
		return d.Value == domain.StateOn && d.Phase == application.PhaseIdle
	}, time.Second, 5*time.Millisecond)

	n := waitNotice(t, events, domain.NoticeCommandApplied)
	assert.Equal(t, domain.FieldAlarm, n.Field)
	assert.Empty(t, ctrl.Transcript(), "transcript is consumed")
}

func TestController_UnknownCommand(t *testing.T) {
	store := memstore.New()
	resolver := &mockResolver{}
	ctrl := startController(t, store, resolver, application.DefaultControllerConfig())

	events, stop := ctrl.Watch()
	defer stop()

	outcome, err := ctrl.ExecuteText(context.Background(), "do a backflip")
	require.NoError(t, err)
	assert.Equal(t, domain.Unrecognized("unknown"), outcome)

	n := waitNotice(t, events, domain.NoticeUnrecognized)
	assert.Contains(t, n.Message, "unknown")
	assert.Equal(t, 0, store.Writes())
	assert.Equal(t, domain.StateOff, ctrl.Snapshot().Get(domain.FieldAlarm))
}

func TestController_ResolverUnavailable(t *testing.T) {
	resolver := &mockResolver{results: map[string]domain.IntentResult{
		"turn on the alarm": {IntentName: domain.IntentUnknown, Parameters: map[string]string{}, Unavailable: true},
	}}
	ctrl := startController(t, memstore.New(), resolver, application.DefaultControllerConfig())

	events, stop := ctrl.Watch()
	defer stop()

	outcome, err := ctrl.ExecuteText(context.Background(), "turn on the alarm")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTransportFailure, outcome.Kind)
	waitNotice(t, events, domain.NoticeResolutionFailed)
}

func TestController_EmptyTranscriptRejected(t *testing.T) {
	resolver := &mockResolver{}
	ctrl := startController(t, memstore.New(), resolver, application.DefaultControllerConfig())

	ctrl.SetTranscript("   ")
	_, err := ctrl.Execute(context.Background())
	assert.ErrorIs(t, err, domain.ErrEmptyTranscript)
	assert.Empty(t, resolver.Calls())
	assert.False(t, ctrl.View().Processing)
}

func TestController_ToggleWaitsForStore(t *testing.T) {
	store := &silentStore{Store: memstore.New()}
	cfg := application.DefaultControllerConfig()
	cfg.ConfirmTimeout = time.Minute
	ctrl := startController(t, store, &mockResolver{}, cfg)

	require.NoError(t, ctrl.Toggle(context.Background(), domain.FieldMovieNight))

	d := deviceView(ctrl.View(), domain.FieldMovieNight)
	assert.Equal(t, domain.StateOff, d.Value, "no optimistic value")
	assert.Equal(t, application.PhaseWriting, d.Phase)
	assert.Equal(t, domain.StateOn, d.Pending)

	// the authoritative value arrives through the subscription
	require.NoError(t, store.Store.Write(context.Background(), domain.FieldMovieNight, domain.StateOn, "other"))
	require.Eventually(t, func() bool {
		d := deviceView(ctrl.View(), domain.FieldMovieNight)
		return d.Value == domain.StateOn && d.Phase == application.PhaseIdle
	}, time.Second, 5*time.Millisecond)
}

func TestController_ConfirmTimeout(t *testing.T) {
	store := &silentStore{Store: memstore.New()}
	cfg := application.DefaultControllerConfig()
	cfg.ConfirmTimeout = 30 * time.Millisecond
	ctrl := startController(t, store, &mockResolver{}, cfg)

	events, stop := ctrl.Watch()
	defer stop()

	require.NoError(t, ctrl.Set(context.Background(), domain.FieldAlarm, domain.StateOn, domain.SourceManual))
	n := waitNotice(t, events, domain.NoticeStoreConfirm)
	assert.Equal(t, domain.FieldAlarm, n.Field)

	d := deviceView(ctrl.View(), domain.FieldAlarm)
	assert.Equal(t, application.PhaseIdle, d.Phase)
	assert.Equal(t, domain.StateOff, d.Value)
}

func TestController_WriteFailure(t *testing.T) {
	store := memstore.New()
	ctrl := startController(t, store, &mockResolver{}, application.DefaultControllerConfig())

	events, stop := ctrl.Watch()
	defer stop()

	store.FailWrites(errors.New("quota exceeded"))
	err := ctrl.Toggle(context.Background(), domain.FieldOverride)
	assert.ErrorIs(t, err, domain.ErrStoreWrite)

	waitNotice(t, events, domain.NoticeStoreWriteFailure)
	d := deviceView(ctrl.View(), domain.FieldOverride)
	assert.Equal(t, application.PhaseIdle, d.Phase)
	assert.Equal(t, domain.StateOff, d.Value)
}

func TestController_SameValueSettles(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Write(context.Background(), domain.FieldAlarm, domain.StateOn, "seed"))
	ctrl := startController(t, store, &mockResolver{}, application.DefaultControllerConfig())

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Get(domain.FieldAlarm) == domain.StateOn
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ctrl.Set(context.Background(), domain.FieldAlarm, domain.StateOn, domain.SourceManual))
	assert.Equal(t, application.PhaseIdle, deviceView(ctrl.View(), domain.FieldAlarm).Phase)
}

func TestController_VoiceToggleUsesConfirmedValue(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Write(context.Background(), domain.FieldOverride, domain.StateOn, "seed"))
	resolver := &mockResolver{results: map[string]domain.IntentResult{
		"toggle override": {IntentName: "override_toggle"},
	}}
	ctrl := startController(t, store, resolver, application.DefaultControllerConfig())

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Get(domain.FieldOverride) == domain.StateOn
	}, time.Second, 5*time.Millisecond)

	outcome, err := ctrl.ExecuteText(context.Background(), "toggle override")
	require.NoError(t, err)
	assert.Equal(t, domain.Applied(domain.FieldOverride, domain.StateOff), outcome)
}

func TestController_ConnectivityNotices(t *testing.T) {
	store := memstore.New()
	notifier := &recordingNotifier{}
	ctrl := application.NewController(store, &mockResolver{}, nil, notifier, nil, application.DefaultControllerConfig(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctrl.Run(ctx) }()
	require.Eventually(t, func() bool { return ctrl.View().Connected }, time.Second, 5*time.Millisecond)

	events, stop := ctrl.Watch()
	defer stop()

	store.SetConnected(false)
	waitNotice(t, events, domain.NoticeStoreDisconnected)
	assert.False(t, ctrl.View().Connected)

	store.SetConnected(true)
	waitNotice(t, events, domain.NoticeStoreConnected)

	require.Eventually(t, func() bool { return len(notifier.Notices()) == 1 }, time.Second, 5*time.Millisecond)
	sent := notifier.Notices()[0]
	assert.Equal(t, domain.NoticeStoreDisconnected, sent.Kind)
	assert.Equal(t, domain.NoticeError, sent.Level)
	assert.Contains(t, sent.Message, "lost")
}

func TestController_CaptureFillsTranscript(t *testing.T) {
	rec := newBlockingRecognizer()
	capture := application.NewCapture(rec, discardLogger())
	ctrl := application.NewController(memstore.New(), &mockResolver{}, capture, nil, nil, application.DefaultControllerConfig(), discardLogger())

	rec.replies <- "movie night on"
	res := ctrl.StartCapture(context.Background())

	assert.Equal(t, application.CaptureTranscriptReady, res.Status)
	assert.Equal(t, "movie night on", ctrl.Transcript())
	assert.False(t, ctrl.View().Listening)
}

func TestController_CaptureUnsupported(t *testing.T) {
	ctrl := application.NewController(memstore.New(), &mockResolver{}, nil, nil, nil, application.DefaultControllerConfig(), discardLogger())

	events, stop := ctrl.Watch()
	defer stop()

	res := ctrl.StartCapture(context.Background())
	assert.Equal(t, domain.CaptureUnsupported, res.ErrorKind)
	waitNotice(t, events, domain.NoticeCaptureError)
}

// gatedResolver holds every call until the test releases it.
type gatedResolver struct {
	entered chan string
	release chan struct{}
}

func (g *gatedResolver) Resolve(ctx context.Context, text string) domain.IntentResult {
	g.entered <- text
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return domain.UnknownIntent()
}

func TestController_ProcessingSpansOverlappingExecutions(t *testing.T) {
	resolver := &gatedResolver{entered: make(chan string, 2), release: make(chan struct{})}
	ctrl := startController(t, memstore.New(), resolver, application.DefaultControllerConfig())

	done := make(chan struct{}, 2)
	for _, text := range []string{"alarm on", "movie night off"} {
		go func() {
			_, _ = ctrl.ExecuteText(context.Background(), text)
			done <- struct{}{}
		}()
	}
	<-resolver.entered
	<-resolver.entered
	assert.True(t, ctrl.View().Processing)

	resolver.release <- struct{}{}
	<-done
	assert.True(t, ctrl.View().Processing, "still processing while one execution is in flight")

	resolver.release <- struct{}{}
	<-done
	assert.False(t, ctrl.View().Processing)
}

func TestController_SlowWatcherKeepsLatestState(t *testing.T) {
	ctrl := application.NewController(memstore.New(), &mockResolver{}, nil, nil, nil, application.DefaultControllerConfig(), discardLogger())

	events, stop := ctrl.Watch()
	defer stop()

	for i := range 50 {
		ctrl.SetTranscript(fmt.Sprintf("draft %d", i))
	}

	var last application.Event
	for drained := false; !drained; {
		select {
		case ev := <-events:
			last = ev
		default:
			drained = true
		}
	}
	require.Equal(t, application.EventState, last.Type)
	assert.Equal(t, "draft 49", last.View.Transcript)
}
