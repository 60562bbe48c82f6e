package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCaptureUnsupported = errors.New("speech capture not supported")
	ErrNoSpeech           = errors.New("no speech detected")
	ErrPermissionDenied   = errors.New("audio device permission denied")
	ErrCaptureNetwork     = errors.New("speech service unreachable")

	ErrUnknownField    = errors.New("unknown device field")
	ErrInvalidState    = errors.New("invalid device state")
	ErrEmptyTranscript = errors.New("empty transcript")

	ErrStoreWrite        = errors.New("store write failed")
	ErrStoreDisconnected = errors.New("store disconnected")
)

type CaptureErrorKind string

const (
	CaptureUnsupported      CaptureErrorKind = "unsupported-environment"
	CaptureNoSpeech         CaptureErrorKind = "no-speech"
	CapturePermissionDenied CaptureErrorKind = "permission-denied"
	CaptureNetwork          CaptureErrorKind = "network"
	CaptureOther            CaptureErrorKind = "other"
)

// CaptureError wraps a recognizer failure with its classified kind.
type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture error: %s", e.Kind)
	}
	return fmt.Sprintf("capture error (%s): %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// ClassifyCaptureError maps a recognizer error onto a capture error kind.
func ClassifyCaptureError(err error) CaptureErrorKind {
	var ce *CaptureError
	switch {
	case errors.As(err, &ce):
		return ce.Kind
	case errors.Is(err, ErrCaptureUnsupported):
		return CaptureUnsupported
	case errors.Is(err, ErrNoSpeech):
		return CaptureNoSpeech
	case errors.Is(err, ErrPermissionDenied):
		return CapturePermissionDenied
	case errors.Is(err, ErrCaptureNetwork):
		return CaptureNetwork
	default:
		return CaptureOther
	}
}
