package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/abelbrown/ecgmon/internal/brain"
	"github.com/abelbrown/ecgmon/internal/model"
	"github.com/abelbrown/ecgmon/internal/otel"
	"github.com/abelbrown/ecgmon/internal/pipeline"
)

type staticSummarizer struct{ text string }

func (s staticSummarizer) Summarize(ctx context.Context, b model.Batch) (brain.Result, error) {
	return brain.Result{Text: fmt.Sprintf("%s %d", s.text, b.Seq), Provider: "static"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *pipeline.Pipeline, *otel.RingBuffer) {
	t.Helper()

	ring := otel.NewRingBuffer(64)
	events := otel.NewNullLogger()
	events.SetRingBuffer(ring)
	t.Cleanup(events.Close)

	p, err := pipeline.New(pipeline.DefaultConfig(), staticSummarizer{text: "summary"}, pipeline.WithEvents(events))
	if err != nil {
		t.Fatalf("pipeline.New() error: %v", err)
	}
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	ts := httptest.NewServer(NewServer(":0", p, ring).Handler())
	t.Cleanup(ts.Close)
	return ts, p, ring
}

func postSample(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/ecg", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /ecg: %v", err)
	}
	return resp
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestIngestAndLatest(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var empty map[string]any
	getJSON(t, ts.URL+"/latest", &empty)
	if len(empty) != 0 {
		t.Errorf("GET /latest before ingest = %v, want {}", empty)
	}

	resp := postSample(t, ts.URL, `{"timestamp": 1700000000, "value": 512}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var ack map[string]string
	json.NewDecoder(resp.Body).Decode(&ack)
	if ack["status"] != "received" {
		t.Errorf("ack = %v", ack)
	}

	var latest model.Sample
	getJSON(t, ts.URL+"/latest", &latest)
	if latest != (model.Sample{Timestamp: 1700000000, Value: 512}) {
		t.Errorf("latest = %+v", latest)
	}
}

func TestIngestBadRequests(t *testing.T) {
	ts, p, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `hello`},
		{"missing value", `{"timestamp": 1}`},
		{"missing timestamp", `{"value": 1}`},
		{"float value", `{"timestamp": 1, "value": 1.5}`},
		{"string value", `{"timestamp": 1, "value": "high"}`},
		{"out of range", `{"timestamp": 1, "value": 99999}`},
		{"negative timestamp", `{"timestamp": -5, "value": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postSample(t, ts.URL, tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
	if got := p.Stats().Accepted; got != 0 {
		t.Errorf("Accepted = %d, want 0", got)
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/ecg")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /ecg status = %d, want 405", resp.StatusCode)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	ts, p, _ := newTestServer(t)

	var hist struct {
		History []string `json:"history"`
	}
	getJSON(t, ts.URL+"/analysis/history", &hist)
	if hist.History == nil || len(hist.History) != 0 {
		t.Errorf("initial history = %#v, want empty array", hist.History)
	}

	for i := 0; i < 350; i++ {
		resp := postSample(t, ts.URL, fmt.Sprintf(`{"timestamp": %d, "value": %d}`, i, i))
		resp.Body.Close()
		if (i+1)%50 == 0 {
			want := (i + 1) / 50
			deadline := time.Now().Add(2 * time.Second)
			for p.Stats().History < want && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}

	getJSON(t, ts.URL+"/analysis/history", &hist)
	want := []string{"summary 7", "summary 6", "summary 5", "summary 4", "summary 3"}
	if len(hist.History) != len(want) {
		t.Fatalf("history = %v, want %v", hist.History, want)
	}
	for i := range want {
		if hist.History[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, hist.History[i], want[i])
		}
	}
}

func TestIngestAfterShutdown(t *testing.T) {
	ts, p, _ := newTestServer(t)
	p.Shutdown(context.Background())

	resp := postSample(t, ts.URL, `{"timestamp": 1, "value": 1}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHealthAndStats(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var health map[string]string
	getJSON(t, ts.URL+"/health", &health)
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}

	resp := postSample(t, ts.URL, `{"timestamp": 1, "value": 1}`)
	resp.Body.Close()

	var stats pipeline.Stats
	getJSON(t, ts.URL+"/stats", &stats)
	if stats.Accepted != 1 || stats.Buffered != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDebugEvents(t *testing.T) {
	ts, _, ring := newTestServer(t)

	ring.Push(otel.Event{Kind: otel.KindStartup, Level: otel.LevelInfo, Msg: "up"})
	ring.Push(otel.Event{Kind: otel.KindBatchDetach, Level: otel.LevelInfo, BatchID: "b-1", Seq: 1})
	ring.Push(otel.Event{Kind: otel.KindAnalysisError, Level: otel.LevelError, BatchID: "b-1", Seq: 1})
	ring.Push(otel.Event{Kind: otel.KindBatchDetach, Level: otel.LevelInfo, BatchID: "b-2", Seq: 2})

	query := func(q string) []otel.Event {
		t.Helper()
		var out struct {
			Events []otel.Event `json:"events"`
		}
		getJSON(t, ts.URL+"/debug/events"+q, &out)
		if out.Events == nil {
			t.Fatalf("%s: events should be an array, not null", q)
		}
		return out.Events
	}

	if got := query("?n=2"); len(got) != 2 || got[1].BatchID != "b-2" {
		t.Errorf("n=2 = %+v", got)
	}
	if got := query("?kind=sys.startup"); len(got) != 1 || got[0].Msg != "up" {
		t.Errorf("kind filter = %+v", got)
	}
	if got := query("?batch=b-1"); len(got) != 2 || got[0].Kind != otel.KindBatchDetach || got[1].Kind != otel.KindAnalysisError {
		t.Errorf("batch filter = %+v", got)
	}
	if got := query("?seq=2"); len(got) != 1 || got[0].BatchID != "b-2" {
		t.Errorf("seq filter = %+v", got)
	}
	if got := query("?level=warn"); len(got) != 1 || got[0].Kind != otel.KindAnalysisError {
		t.Errorf("level filter = %+v", got)
	}
	if got := query("?batch=missing"); len(got) != 0 {
		t.Errorf("unknown batch = %+v", got)
	}

	for _, q := range []string{"?n=zero", "?seq=abc", "?seq=0"} {
		resp, err := http.Get(ts.URL + "/debug/events" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestDebugWork(t *testing.T) {
	ts, p, _ := newTestServer(t)
	for i := 0; i < 50; i++ {
		resp := postSample(t, ts.URL, fmt.Sprintf(`{"timestamp": %d, "value": 1}`, i))
		resp.Body.Close()
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(p.RecentWork(1)) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	var out struct {
		Work []map[string]any `json:"work"`
	}
	getJSON(t, ts.URL+"/debug/work", &out)
	if len(out.Work) != 1 || out.Work[0]["status"] != "complete" {
		t.Errorf("work = %+v", out.Work)
	}
}
