package main

import (
	"strings"
	"testing"
	"time"
)

const sampleLog = `{"t":"2026-01-02T03:04:05Z","level":"info","kind":"batch.detach","comp":"pipeline","batch_id":"a","seq":1,"count":50}
not json
{"t":"2026-01-02T03:04:06Z","level":"error","kind":"analysis.error","comp":"pipeline","batch_id":"a","seq":1,"dur_ms":10000,"err":"timeout"}

{"t":"2026-01-02T03:04:07Z","level":"info","kind":"analysis.complete","comp":"pipeline","batch_id":"b","seq":2,"dur_ms":812.5,"provider":"openai"}
`

func TestReadTailLines(t *testing.T) {
	all := func(eventRecord) bool { return true }

	lines := readTailLines(strings.NewReader(sampleLog), 2, all)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].ev.Kind != "analysis.error" || lines[1].ev.Kind != "analysis.complete" {
		t.Errorf("tail kinds = %s, %s", lines[0].ev.Kind, lines[1].ev.Kind)
	}
	if got := readTailLines(strings.NewReader(sampleLog), 0, all); got != nil {
		t.Errorf("tail 0 = %v, want nil", got)
	}
}

func TestEventFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter eventFilter
		want   int
	}{
		{"none", eventFilter{}, 3},
		{"kind prefix", eventFilter{kind: "analysis"}, 2},
		{"min level", eventFilter{level: "warn"}, 1},
		{"batch", eventFilter{batch: "a"}, 2},
		{"comp miss", eventFilter{comp: "mqtt"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readTailLines(strings.NewReader(sampleLog), 10, tt.filter.match)
			if len(got) != tt.want {
				t.Errorf("matched %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFormatEvent(t *testing.T) {
	ev := eventRecord{
		Time:     time.Date(2026, 1, 2, 3, 4, 7, 0, time.UTC),
		Level:    "info",
		Kind:     "analysis.complete",
		Comp:     "pipeline",
		Seq:      2,
		DurMs:    812.4,
		Provider: "openai",
	}
	got := formatEvent(ev)
	for _, want := range []string{"03:04:07.000", "INFO", "analysis.complete", "#2", "(812ms)", "via=openai"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatEvent() = %q, missing %q", got, want)
		}
	}
}
