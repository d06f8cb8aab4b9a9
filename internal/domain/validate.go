package domain

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayouts lists accepted ISO-8601 renderings, most specific first.
// Layouts without an offset are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing "Z" is accepted.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
}

// RequiredFields are the fields every event must carry.
var RequiredFields = []string{FieldTimestamp, FieldSourceIP, FieldEventType}

// ValidateEvent checks required fields and the timestamp format.
// It is applied once at the pipeline boundary.
func ValidateEvent(e *RawEvent) error {
	if e == nil {
		return NewValidationError("", "event is nil")
	}
	for _, f := range RequiredFields {
		if v, _ := e.CategoricalField(f); strings.TrimSpace(v) == "" {
			return NewValidationError(f, "missing required field")
		}
	}
	if _, err := ParseTimestamp(e.Timestamp); err != nil {
		return NewValidationError(FieldTimestamp, "%v", err)
	}
	return nil
}

// ValidateBatch validates every event, reporting the first failure with
// its position in the batch.
func ValidateBatch(events []RawEvent) error {
	if len(events) == 0 {
		return NewEmptyBatchError("validate")
	}
	for i := range events {
		if err := ValidateEvent(&events[i]); err != nil {
			if de, ok := err.(*Error); ok {
				de.Stage = fmt.Sprintf("record %d", i)
			}
			return err
		}
	}
	return nil
}
