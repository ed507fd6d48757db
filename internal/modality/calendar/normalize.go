package calendar

import (
	"encoding/json"
	"time"

	"github.com/corvid-labs/envsim/internal/apierr"
)

// coerceTime rewrites payload[key] in place from an RFC 3339 string (the
// shape a JSON request body produces) to a time.Time, leaving an
// already-native time.Time or an absent key untouched. Calendar is the
// only modality whose payload carries timestamps nested inside fields
// other than the envelope-level scheduled_time, so it is the one place
// this conversion has to happen by hand rather than via the engine's
// request decoding.
func coerceTime(payload map[string]any, key string) error {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil
	}
	if _, ok := v.(time.Time); ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return apierr.NewValidationf("calendar: %s must be an RFC3339 timestamp", key)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return apierr.NewValidationf("calendar: %s must be an RFC3339 timestamp: %v", key, err)
	}
	payload[key] = t
	return nil
}

// coerceRule rewrites payload[key] in place from the map[string]any a
// JSON object decodes to into a *Rule, via a marshal round-trip so
// Rule's own json tags (and time.Time's RFC3339 unmarshaling for
// Until) do the field-by-field work.
func coerceRule(payload map[string]any, key string) error {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil
	}
	if _, ok := v.(*Rule); ok {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return apierr.NewValidationf("calendar: invalid %s: %v", key, err)
	}
	var rule Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return apierr.NewValidationf("calendar: invalid %s: %v", key, err)
	}
	payload[key] = &rule
	return nil
}

// coerceStringSlice rewrites payload[key] in place from the []any a
// JSON array decodes to into a []string.
func coerceStringSlice(payload map[string]any, key string) error {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil
	}
	if _, ok := v.([]string); ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return apierr.NewValidationf("calendar: %s must be an array of strings", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return apierr.NewValidationf("calendar: %s must be an array of strings", key)
		}
		out = append(out, s)
	}
	payload[key] = out
	return nil
}
