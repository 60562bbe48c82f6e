package domain

import "fmt"

// IntentUnknown is the intent name the resolver reports when nothing matched.
const IntentUnknown = "unknown"

// IntentResult is the structured answer of the intent service. An empty
// IntentName means the utterance was not understood. Unavailable is only set
// when the result is the resolver's fallback after a transport failure.
type IntentResult struct {
	IntentName  string            `json:"intent_name"`
	Parameters  map[string]string `json:"parameters"`
	Unavailable bool              `json:"unavailable,omitempty"`
}

func UnknownIntent() IntentResult {
	return IntentResult{IntentName: IntentUnknown, Parameters: map[string]string{}}
}

// IntentFields maps intent display names to the field they control.
var IntentFields = map[string]DeviceField{
	"alarm_toggle":       FieldAlarm,
	"override_toggle":    FieldOverride,
	"movie_night_toggle": FieldMovieNight,
	"movie_toggle":       FieldMovieNight,
}

// StateParameters are the parameter keys checked, in order, for a target value.
var StateParameters = []string{"state", "device-state"}

type OutcomeKind string

const (
	OutcomeApplied          OutcomeKind = "applied"
	OutcomeUnrecognized     OutcomeKind = "unrecognized"
	OutcomeMissingParameter OutcomeKind = "missing_parameter"
	OutcomeTransportFailure OutcomeKind = "transport_failure"
)

// CommandOutcome is a tagged variant; which fields are meaningful depends on Kind.
type CommandOutcome struct {
	Kind       OutcomeKind `json:"kind"`
	Field      DeviceField `json:"field,omitempty"`
	Value      State       `json:"value,omitempty"`
	IntentName string      `json:"intent_name,omitempty"`
}

func Applied(field DeviceField, value State) CommandOutcome {
	return CommandOutcome{Kind: OutcomeApplied, Field: field, Value: value}
}

func Unrecognized(intentName string) CommandOutcome {
	return CommandOutcome{Kind: OutcomeUnrecognized, IntentName: intentName}
}

func MissingParameter(field DeviceField) CommandOutcome {
	return CommandOutcome{Kind: OutcomeMissingParameter, Field: field}
}

func TransportFailure() CommandOutcome {
	return CommandOutcome{Kind: OutcomeTransportFailure}
}

func (o CommandOutcome) String() string {
	switch o.Kind {
	case OutcomeApplied:
		return fmt.Sprintf("%s set to %s", o.Field.Info().Title, o.Value)
	case OutcomeUnrecognized:
		return fmt.Sprintf("unknown command: %s", o.IntentName)
	case OutcomeMissingParameter:
		return fmt.Sprintf("missing or invalid value for %s", o.Field.Info().Title)
	case OutcomeTransportFailure:
		return "intent service unavailable"
	default:
		return string(o.Kind)
	}
}
