package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"smart-control/internal/domain"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseWriting Phase = "writing"
)

type ControllerConfig struct {
	Mapper         MapperOptions
	IntentTimeout  time.Duration
	ConfirmTimeout time.Duration
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		IntentTimeout:  10 * time.Second,
		ConfirmTimeout: 10 * time.Second,
	}
}

type DeviceView struct {
	Field       domain.DeviceField `json:"field"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Value       domain.State       `json:"value"`
	Phase       Phase              `json:"phase"`
	Pending     domain.State       `json:"pending,omitempty"`
}

type DashboardView struct {
	Devices    []DeviceView `json:"devices"`
	Transcript string       `json:"transcript"`
	Listening  bool         `json:"listening"`
	Processing bool         `json:"processing"`
	Connected  bool         `json:"connected"`
}

type EventType string

const (
	EventState  EventType = "state"
	EventNotice EventType = "notice"
)

type Event struct {
	Type   EventType      `json:"type"`
	View   *DashboardView `json:"view,omitempty"`
	Notice *domain.Notice `json:"notice,omitempty"`
}

type fieldPhase struct {
	writing bool
	pending domain.State
	seq     uint64
}

// Controller owns the mirrored device state and wires capture, intent
// resolution, command mapping and store writes together. The mirror is only
// ever changed by store subscription deliveries.
type Controller struct {
	store    StateStore
	resolver IntentResolver
	capture  *Capture
	notifier Notifier
	metrics  Metrics
	cfg      ControllerConfig
	logger   *slog.Logger

	mu         sync.Mutex
	mirror     domain.Snapshot
	phases     map[domain.DeviceField]*fieldPhase
	transcript string
	inflight   int
	connected  bool
	seenConn   bool

	watchMu  sync.Mutex
	watchers map[int]chan Event
	nextID   int
}

func NewController(
	store StateStore,
	resolver IntentResolver,
	capture *Capture,
	notifier Notifier,
	metrics Metrics,
	cfg ControllerConfig,
	logger *slog.Logger,
) *Controller {
	if notifier == nil {
		notifier = &NoopNotifier{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	defaults := DefaultControllerConfig()
	if cfg.IntentTimeout <= 0 {
		cfg.IntentTimeout = defaults.IntentTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaults.ConfirmTimeout
	}

	c := &Controller{
		store:    store,
		resolver: resolver,
		capture:  capture,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		mirror:   make(domain.Snapshot),
		phases:   make(map[domain.DeviceField]*fieldPhase),
		watchers: make(map[int]chan Event),
	}
	for _, f := range domain.Fields {
		c.phases[f] = &fieldPhase{}
	}
	if capture != nil {
		capture.OnListeningChange(func(bool) { c.publishState() })
	}
	return c
}

// Run subscribes to every field and to the store's connectivity signal and
// keeps the mirror current until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	conn := c.store.WatchConnection(ctx)

	var wg sync.WaitGroup
	for _, field := range domain.Fields {
		updates, err := c.store.Subscribe(ctx, field)
		if err != nil {
			c.notice(ctx, domain.NoticeError, domain.NoticeSubscription, field,
				fmt.Sprintf("Cannot follow %s: %v", field.Info().Title, err))
			return fmt.Errorf("subscribing to %s: %w", field, err)
		}

		wg.Add(1)
		go func(updates <-chan domain.Update) {
			defer wg.Done()
			for u := range updates {
				c.applyUpdate(u)
			}
		}(updates)
	}

	c.logger.Info("controller ready", "fields", len(domain.Fields))

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case up, ok := <-conn:
			if !ok {
				conn = nil
				continue
			}
			c.setConnected(ctx, up)
		}
	}
}

func (c *Controller) applyUpdate(u domain.Update) {
	if !u.Field.Valid() {
		return
	}

	c.mu.Lock()
	c.mirror[u.Field] = u.Value
	phase := c.phases[u.Field]
	phase.writing = false
	phase.pending = ""
	phase.seq++
	c.mu.Unlock()

	c.logger.Debug("store update", "field", u.Field, "value", u.Value, "source", u.Source)
	c.metrics.SetState(u.Field, u.Value)
	c.publishState()
}

func (c *Controller) setConnected(ctx context.Context, connected bool) {
	c.mu.Lock()
	changed := !c.seenConn || c.connected != connected
	first := !c.seenConn
	c.connected = connected
	c.seenConn = true
	c.mu.Unlock()

	if !changed {
		return
	}

	c.metrics.SetConnected(connected)
	switch {
	case !connected:
		c.logger.Warn("store disconnected")
		c.notice(ctx, domain.NoticeError, domain.NoticeStoreDisconnected, "", "Connection to device store lost")
	case !first:
		c.logger.Info("store reconnected")
		c.notice(ctx, domain.NoticeInfo, domain.NoticeStoreConnected, "", "Connection to device store restored")
	}
	c.publishState()
}

// Snapshot returns a copy of the store-confirmed state.
func (c *Controller) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(domain.Snapshot, len(domain.Fields))
	for _, f := range domain.Fields {
		out[f] = c.mirror.Get(f)
	}
	return out
}

func (c *Controller) View() DashboardView {
	listening := c.capture != nil && c.capture.Listening()

	c.mu.Lock()
	defer c.mu.Unlock()

	view := DashboardView{
		Devices:    make([]DeviceView, 0, len(domain.Fields)),
		Transcript: c.transcript,
		Listening:  listening,
		Processing: c.inflight > 0,
		Connected:  c.connected,
	}
	for _, f := range domain.Fields {
		info := f.Info()
		phase := c.phases[f]
		dv := DeviceView{
			Field:       f,
			Title:       info.Title,
			Description: info.Description,
			Value:       c.mirror.Get(f),
			Phase:       PhaseIdle,
		}
		if phase.writing {
			dv.Phase = PhaseWriting
			dv.Pending = phase.pending
		}
		view.Devices = append(view.Devices, dv)
	}
	return view
}

// Toggle requests the inverse of the field's confirmed value.
func (c *Controller) Toggle(ctx context.Context, field domain.DeviceField) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownField, field)
	}
	c.mu.Lock()
	next := c.mirror.Get(field).Invert()
	c.mu.Unlock()
	return c.Set(ctx, field, next, domain.SourceManual)
}

// Set asks the store to persist value. The rendered value only changes once
// the subscription delivers it.
func (c *Controller) Set(ctx context.Context, field domain.DeviceField, value domain.State, source string) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownField, field)
	}
	if _, err := domain.ParseState(string(value)); err != nil {
		return err
	}

	c.mu.Lock()
	phase := c.phases[field]
	phase.writing = true
	phase.pending = value
	phase.seq++
	seq := phase.seq
	c.mu.Unlock()
	c.publishState()

	err := c.store.Write(ctx, field, value, source)
	c.metrics.ObserveWrite(field, err)
	if err != nil {
		c.settle(field, seq)
		c.logger.Error("store write failed", "field", field, "value", value, "error", err)
		c.notice(ctx, domain.NoticeError, domain.NoticeStoreWriteFailure, field,
			fmt.Sprintf("Could not update %s: %v", field.Info().Title, err))
		return err
	}

	c.mu.Lock()
	// nothing will be delivered when the store already holds this value
	sameValue := phase.seq == seq && c.mirror.Get(field) == value && c.hasValueLocked(field)
	c.mu.Unlock()
	if sameValue {
		c.settle(field, seq)
		return nil
	}

	time.AfterFunc(c.cfg.ConfirmTimeout, func() {
		if c.settle(field, seq) {
			c.logger.Warn("store did not confirm write", "field", field, "value", value)
			c.notice(context.Background(), domain.NoticeWarn, domain.NoticeStoreConfirm, field,
				fmt.Sprintf("%s update was not confirmed by the store", field.Info().Title))
		}
	})
	return nil
}

func (c *Controller) hasValueLocked(field domain.DeviceField) bool {
	_, ok := c.mirror[field]
	return ok
}

// settle returns the field to idle if seq is still the latest request.
func (c *Controller) settle(field domain.DeviceField, seq uint64) bool {
	c.mu.Lock()
	phase := c.phases[field]
	if phase.seq != seq || !phase.writing {
		c.mu.Unlock()
		return false
	}
	phase.writing = false
	phase.pending = ""
	c.mu.Unlock()
	c.publishState()
	return true
}

// StartCapture runs one capture session. A ready transcript replaces the
// current one; failures become notices.
func (c *Controller) StartCapture(ctx context.Context) CaptureResult {
	if c.capture == nil {
		res := CaptureResult{Status: CaptureFailed, ErrorKind: domain.CaptureUnsupported, Err: domain.ErrCaptureUnsupported}
		c.captureNotice(ctx, res)
		return res
	}

	c.mu.Lock()
	c.transcript = ""
	c.mu.Unlock()

	res := c.capture.Start(ctx)
	c.metrics.ObserveCapture(res.Status, res.ErrorKind)

	switch res.Status {
	case CaptureTranscriptReady:
		c.logger.Info("transcript ready", "text", res.Transcript)
		c.SetTranscript(res.Transcript)
	case CaptureFailed:
		c.captureNotice(ctx, res)
	}
	return res
}

func (c *Controller) StopCapture() {
	if c.capture != nil {
		c.capture.Stop()
	}
}

func (c *Controller) captureNotice(ctx context.Context, res CaptureResult) {
	level := domain.NoticeError
	msg := fmt.Sprintf("Speech capture failed: %s", res.ErrorKind)
	switch res.ErrorKind {
	case domain.CaptureNoSpeech:
		level = domain.NoticeWarn
		msg = "No speech detected, try again"
	case domain.CaptureUnsupported:
		msg = "Speech capture is not supported here"
	case domain.CapturePermissionDenied:
		msg = "Microphone access denied"
	}
	c.notice(ctx, level, domain.NoticeCaptureError, "", msg)
}

func (c *Controller) SetTranscript(text string) {
	c.mu.Lock()
	c.transcript = strings.TrimSpace(text)
	c.mu.Unlock()
	c.publishState()
}

func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// Execute consumes the current transcript and runs it through the intent
// service, the mapper and the store.
func (c *Controller) Execute(ctx context.Context) (domain.CommandOutcome, error) {
	c.mu.Lock()
	text := c.transcript
	c.transcript = ""
	c.mu.Unlock()
	return c.execute(ctx, text)
}

// ExecuteText runs text directly, replacing any pending transcript.
func (c *Controller) ExecuteText(ctx context.Context, text string) (domain.CommandOutcome, error) {
	c.mu.Lock()
	c.transcript = ""
	c.mu.Unlock()
	return c.execute(ctx, text)
}

func (c *Controller) execute(ctx context.Context, text string) (domain.CommandOutcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.publishState()
		c.notice(ctx, domain.NoticeWarn, domain.NoticeEmptyTranscript, "", "Say something before executing a command")
		return domain.CommandOutcome{}, domain.ErrEmptyTranscript
	}

	c.trackProcessing(1)
	defer c.trackProcessing(-1)

	resolveCtx, cancel := context.WithTimeout(ctx, c.cfg.IntentTimeout)
	result := c.resolver.Resolve(resolveCtx, text)
	cancel()

	outcome := MapCommandWithOptions(result, c.Snapshot(), c.cfg.Mapper)
	if result.Unavailable {
		outcome = domain.TransportFailure()
	}

	c.logger.Info("voice command",
		"text", text,
		"intent", result.IntentName,
		"outcome", outcome.Kind,
	)
	c.metrics.ObserveCommand(outcome.Kind)

	switch outcome.Kind {
	case domain.OutcomeApplied:
		if err := c.Set(ctx, outcome.Field, outcome.Value, domain.SourceVoice); err != nil {
			return outcome, fmt.Errorf("applying %s: %w", outcome.Field, err)
		}
		c.notice(ctx, domain.NoticeInfo, domain.NoticeCommandApplied, outcome.Field,
			fmt.Sprintf("%s updated via voice", outcome.Field.Info().Title))
	case domain.OutcomeUnrecognized:
		msg := fmt.Sprintf("Unknown command: %s", outcome.IntentName)
		if outcome.IntentName == "" {
			msg = "No intent detected"
		}
		c.notice(ctx, domain.NoticeWarn, domain.NoticeUnrecognized, "", msg)
	case domain.OutcomeMissingParameter:
		c.notice(ctx, domain.NoticeWarn, domain.NoticeMissingParameter, outcome.Field,
			fmt.Sprintf("Say on or off for %s", outcome.Field.Info().Title))
	case domain.OutcomeTransportFailure:
		c.notice(ctx, domain.NoticeError, domain.NoticeResolutionFailed, "", "Intent service unavailable, command not understood")
	}

	return outcome, nil
}

// trackProcessing counts executions in flight; the view reports processing
// until the last one finishes.
func (c *Controller) trackProcessing(delta int) {
	c.mu.Lock()
	c.inflight += delta
	c.mu.Unlock()
	c.publishState()
}

// Watch streams state and notice events. The returned func unregisters the
// watcher and closes the channel.
func (c *Controller) Watch() (<-chan Event, func()) {
	ch := make(chan Event, 32)

	c.watchMu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, id)
			c.watchMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publishState() {
	view := c.View()
	c.broadcast(Event{Type: EventState, View: &view})
}

func (c *Controller) notice(ctx context.Context, level domain.NoticeLevel, kind domain.NoticeKind, field domain.DeviceField, msg string) {
	n := domain.Notice{
		Level:   level,
		Kind:    kind,
		Message: msg,
		Field:   field,
		Time:    time.Now(),
	}
	c.broadcast(Event{Type: EventNotice, Notice: &n})

	if level == domain.NoticeInfo && kind != domain.NoticeCommandApplied {
		return
	}
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := c.notifier.Notify(notifyCtx, n); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("notifying", "kind", kind, "error", err)
		}
	}()
}

func (c *Controller) broadcast(ev Event) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for id, ch := range c.watchers {
		select {
		case ch <- ev:
			continue
		default:
		}
		// a slow watcher loses its oldest event so the latest view still lands
		select {
		case old := <-ch:
			c.logger.Debug("dropping event for slow watcher", "watcher", id, "type", old.Type)
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
