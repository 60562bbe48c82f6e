package domain

import "time"

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

type NoticeKind string

const (
	NoticeCommandApplied    NoticeKind = "command_applied"
	NoticeUnrecognized      NoticeKind = "unrecognized_command"
	NoticeMissingParameter  NoticeKind = "missing_parameter"
	NoticeResolutionFailed  NoticeKind = "resolution_unavailable"
	NoticeEmptyTranscript   NoticeKind = "empty_transcript"
	NoticeCaptureError      NoticeKind = "capture_error"
	NoticeStoreWriteFailure NoticeKind = "store_write_failure"
	NoticeStoreConfirm      NoticeKind = "store_confirm_timeout"
	NoticeStoreDisconnected NoticeKind = "store_disconnected"
	NoticeStoreConnected    NoticeKind = "store_connected"
	NoticeSubscription      NoticeKind = "subscription_error"
)

// Notice is a user-facing message produced by the controller.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Kind    NoticeKind  `json:"kind"`
	Message string      `json:"message"`
	Field   DeviceField `json:"field,omitempty"`
	Time    time.Time   `json:"time"`
}
