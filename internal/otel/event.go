// Package otel records structured pipeline events.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and background drain goroutine.
// An optional RingBuffer keeps recent events in memory for /debug/events.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Ingest events
	KindIngestReject EventKind = "ingest.reject"
	KindBatchDetach  EventKind = "batch.detach"

	// Analysis events
	KindAnalysisStart    EventKind = "analysis.start"
	KindAnalysisComplete EventKind = "analysis.complete"
	KindAnalysisError    EventKind = "analysis.error"

	// Sink events
	KindSinkError EventKind = "sink.error"

	// System events
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is the universal event record. Every field except Kind and
// Time is optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time     `json:"t"`
	Level     Level         `json:"level,omitempty"`
	Kind      EventKind     `json:"kind"`
	Comp      string        `json:"comp,omitempty"`       // component: "pipeline", "api", "mqtt", "main"
	SessionID string        `json:"session_id,omitempty"` // random hex, same for entire process run
	BatchID   string        `json:"batch_id,omitempty"`
	Seq       uint64        `json:"seq,omitempty"`
	Dur       time.Duration `json:"-"`                // not serialized directly
	DurMs     float64       `json:"dur_ms,omitempty"` // computed from Dur at marshal time
	Count     int           `json:"count,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Err       string        `json:"err,omitempty"`
	Msg       string        `json:"msg,omitempty"` // free text
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
