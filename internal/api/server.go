package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/abelbrown/ecgmon/internal/history"
	"github.com/abelbrown/ecgmon/internal/logging"
	"github.com/abelbrown/ecgmon/internal/model"
	"github.com/abelbrown/ecgmon/internal/otel"
	"github.com/abelbrown/ecgmon/internal/pipeline"
	"github.com/abelbrown/ecgmon/internal/work"
)

// Pipeline is what the server needs from the ingest pipeline.
type Pipeline interface {
	Ingest(ctx context.Context, s model.Sample) error
	Latest() (model.Sample, bool)
	Recent() []history.Entry
	RecentWork(n int) []work.Item
	Stats() pipeline.Stats
}

// ingestRequest distinguishes a missing field from a zero value.
type ingestRequest struct {
	Timestamp *int64 `json:"timestamp"`
	Value     *int64 `json:"value"`
}

func (r ingestRequest) sample() (model.Sample, error) {
	switch {
	case r.Timestamp == nil:
		return model.Sample{}, errors.New("missing field timestamp")
	case r.Value == nil:
		return model.Sample{}, errors.New("missing field value")
	}
	return model.Sample{Timestamp: *r.Timestamp, Value: *r.Value}, nil
}

// maxBody caps a single ingest request.
const maxBody = 4 << 10

// Server implements the HTTP API server
type Server struct {
	pipe   Pipeline
	events *otel.RingBuffer
	addr   string
	server *http.Server
}

// NewServer creates a new API server. events may be nil.
func NewServer(addr string, pipe Pipeline, events *otel.RingBuffer) *Server {
	s := &Server{
		pipe:   pipe,
		events: events,
		addr:   addr,
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ecg", s.handleIngest)
	mux.HandleFunc("GET /latest", s.handleLatest)
	mux.HandleFunc("GET /analysis/history", s.handleHistory)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /debug/events", s.handleEvents)
	mux.HandleFunc("GET /debug/work", s.handleWork)

	return mux
}

// Start listens and serves until Stop. It returns nil after a clean Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	logging.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleIngest accepts one sample
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	sample, err := req.sample()
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	err = s.pipe.Ingest(r.Context(), sample)
	var ie *model.IngestError
	switch {
	case err == nil:
	case errors.As(err, &ie):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, pipeline.ErrClosed):
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	default:
		http.Error(w, fmt.Sprintf("Ingest failed: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "received"})
}

// handleLatest returns the most recent sample, or {} before the first one
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	sample, ok := s.pipe.Latest()
	if !ok {
		writeJSON(w, struct{}{})
		return
	}
	writeJSON(w, sample)
}

// handleHistory returns summary texts, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.pipe.Recent()
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	writeJSON(w, map[string][]string{"history": texts})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.pipe.Stats())
}

// handleEvents returns the last n structured events (default 50), optionally
// narrowed by kind prefix, batch ID, seq and minimum level.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n, ok := parseCount(w, r, 50)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := otel.Filter{
		Kind:     q.Get("kind"),
		BatchID:  q.Get("batch"),
		MinLevel: otel.Level(q.Get("level")),
	}
	if v := q.Get("seq"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil || seq == 0 {
			http.Error(w, "Invalid seq", http.StatusBadRequest)
			return
		}
		f.Seq = seq
	}

	events := []otel.Event{}
	if s.events != nil {
		if found := s.events.Query(f, n); found != nil {
			events = found
		}
	}
	writeJSON(w, map[string]any{"events": events})
}

// handleWork returns recently finished analysis dispatches
func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	n, ok := parseCount(w, r, 20)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{"work": s.pipe.RecentWork(n)})
}

func parseCount(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("n")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		http.Error(w, "Invalid n", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Encode response failed", "error", err)
	}
}
