package application

import (
	"strings"

	"smart-control/internal/domain"
)

type MapperOptions struct {
	// RequireExplicitValue rejects commands without a state parameter
	// instead of toggling the current value.
	RequireExplicitValue bool
}

// MapCommand turns a resolved intent into an update instruction. It is pure:
// the same result and snapshot always produce the same outcome.
func MapCommand(result domain.IntentResult, current domain.Snapshot) domain.CommandOutcome {
	return MapCommandWithOptions(result, current, MapperOptions{})
}

func MapCommandWithOptions(result domain.IntentResult, current domain.Snapshot, opts MapperOptions) domain.CommandOutcome {
	name := strings.TrimSpace(result.IntentName)
	if name == "" || name == domain.IntentUnknown {
		return domain.Unrecognized(name)
	}

	field, ok := domain.IntentFields[name]
	if !ok {
		return domain.Unrecognized(name)
	}

	raw, found := stateParameter(result.Parameters)
	if !found {
		if opts.RequireExplicitValue {
			return domain.MissingParameter(field)
		}
		return domain.Applied(field, current.Get(field).Invert())
	}

	value, err := domain.ParseState(raw)
	if err != nil {
		return domain.MissingParameter(field)
	}

	return domain.Applied(field, value)
}

// stateParameter returns the first non-empty value among the known state keys.
func stateParameter(params map[string]string) (string, bool) {
	for _, key := range domain.StateParameters {
		if v, ok := params[key]; ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}
