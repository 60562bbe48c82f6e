package application

import "smart-control/internal/domain"

// Metrics receives controller observations. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveCommand(outcome domain.OutcomeKind)
	ObserveWrite(field domain.DeviceField, err error)
	ObserveCapture(status CaptureStatus, kind domain.CaptureErrorKind)
	SetState(field domain.DeviceField, value domain.State)
	SetConnected(connected bool)
}

type NoopMetrics struct{}

func (NoopMetrics) ObserveCommand(domain.OutcomeKind) {}

func (NoopMetrics) ObserveWrite(domain.DeviceField, error) {}

func (NoopMetrics) ObserveCapture(CaptureStatus, domain.CaptureErrorKind) {}

func (NoopMetrics) SetState(domain.DeviceField, domain.State) {}

func (NoopMetrics) SetConnected(bool) {}
