// Package model defines the values that flow through the ingest pipeline.
package model

import "fmt"

// Sample is one timestamped reading from the sensor feed.
type Sample struct {
	Timestamp int64 `json:"timestamp"`
	Value     int64 `json:"value"`
}

// Default ADC range of the reference sensor (12-bit).
const (
	DefaultValueMin = 0
	DefaultValueMax = 4095
)

// Limits bounds what Validate accepts.
type Limits struct {
	ValueMin int64
	ValueMax int64
}

// DefaultLimits returns the 12-bit ADC range.
func DefaultLimits() Limits {
	return Limits{ValueMin: DefaultValueMin, ValueMax: DefaultValueMax}
}

// IngestError reports a sample rejected before it reached the buffer.
type IngestError struct {
	Field  string
	Reason string
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("invalid sample: %s %s", e.Field, e.Reason)
}

// Validate checks s against l.
func (l Limits) Validate(s Sample) error {
	if s.Timestamp < 0 {
		return &IngestError{Field: "timestamp", Reason: "must not be negative"}
	}
	if s.Value < l.ValueMin || s.Value > l.ValueMax {
		return &IngestError{
			Field:  "value",
			Reason: fmt.Sprintf("%d outside [%d, %d]", s.Value, l.ValueMin, l.ValueMax),
		}
	}
	return nil
}
