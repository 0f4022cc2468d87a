// Package mqttsource feeds samples published on an MQTT topic into the
// ingest pipeline.
package mqttsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/abelbrown/ecgmon/internal/logging"
	"github.com/abelbrown/ecgmon/internal/model"
	"github.com/abelbrown/ecgmon/internal/otel"
)

const comp = "mqtt"

// Ingester accepts samples. *pipeline.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, s model.Sample) error
}

// Config describes the broker connection.
type Config struct {
	Broker    string // host:port
	Topic     string
	ClientID  string
	QoS       byte
	KeepAlive uint16 // seconds

	MinBackoff time.Duration // first reconnect delay
	MaxBackoff time.Duration
}

// Source subscribes to one topic and ingests every sample it receives.
type Source struct {
	cfg    Config
	ing    Ingester
	events *otel.Logger

	received atomic.Uint64
	rejected atomic.Uint64
}

// New creates a Source. events may be nil.
func New(cfg Config, ing Ingester, events *otel.Logger) *Source {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Source{cfg: cfg, ing: ing, events: events}
}

// Run connects and consumes until ctx is done, reconnecting with exponential
// backoff when the connection drops. It returns nil on cancellation.
func (s *Source) Run(ctx context.Context) error {
	backoff := s.cfg.MinBackoff
	for {
		start := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		// A session that stayed up for a while resets the backoff
		if time.Since(start) > s.cfg.MaxBackoff {
			backoff = s.cfg.MinBackoff
		}

		logging.Warn("MQTT session ended, reconnecting", "broker", s.cfg.Broker, "backoff", backoff, "error", err)
		s.events.Error(otel.KindError, comp, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// session runs one connection until it fails or ctx ends.
func (s *Source) session(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.cfg.Broker)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.Broker, err)
	}

	lost := make(chan error, 1)
	signal := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: s.cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				s.handle(ctx, pr.Packet.Payload)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			signal(fmt.Errorf("client error: %w", err))
		},
		OnServerDisconnect: func(dc *paho.Disconnect) {
			signal(fmt.Errorf("server disconnect (reason %d)", dc.ReasonCode))
		},
	})

	ca, err := client.Connect(ctx, &paho.Connect{
		ClientID:   s.cfg.ClientID,
		KeepAlive:  s.cfg.KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("connect: %w", err)
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return fmt.Errorf("connect refused (reason %d)", ca.ReasonCode)
	}

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic: s.cfg.Topic,
			QoS:   s.cfg.QoS,
		}},
	}); err != nil {
		client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return fmt.Errorf("subscribe %s: %w", s.cfg.Topic, err)
	}

	logging.Info("MQTT subscribed", "broker", s.cfg.Broker, "topic", s.cfg.Topic, "client_id", s.cfg.ClientID)
	s.events.Info(otel.KindStartup, comp, "subscribed to "+s.cfg.Topic)

	select {
	case <-ctx.Done():
		client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return ctx.Err()
	case err := <-lost:
		conn.Close()
		return err
	}
}

// handle decodes payload as one sample or an array of samples and ingests
// each in order. Malformed payloads are logged and dropped.
func (s *Source) handle(ctx context.Context, payload []byte) (accepted int) {
	samples, err := decode(payload)
	if err != nil {
		s.rejected.Add(1)
		logging.Warn("MQTT payload dropped", "topic", s.cfg.Topic, "error", err)
		s.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindIngestReject, Comp: comp, Err: err.Error()})
		return 0
	}

	for _, sample := range samples {
		s.received.Add(1)
		if err := s.ing.Ingest(ctx, sample); err != nil {
			s.rejected.Add(1)
			logging.Debug("MQTT sample rejected", "sample", sample, "error", err)
			continue
		}
		accepted++
	}
	return accepted
}

// Received returns how many samples were decoded from the topic.
func (s *Source) Received() uint64 { return s.received.Load() }

// Rejected returns how many payloads or samples were dropped.
func (s *Source) Rejected() uint64 { return s.rejected.Load() }

func decode(payload []byte) ([]model.Sample, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("decode sample array: %w", err)
		}
		out := make([]model.Sample, 0, len(raw))
		for i, r := range raw {
			s, err := decodeOne(r)
			if err != nil {
				return nil, fmt.Errorf("sample %d: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil
	}

	s, err := decodeOne(trimmed)
	if err != nil {
		return nil, err
	}
	return []model.Sample{s}, nil
}

func decodeOne(data []byte) (model.Sample, error) {
	var v struct {
		Timestamp *int64 `json:"timestamp"`
		Value     *int64 `json:"value"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return model.Sample{}, fmt.Errorf("decode sample: %w", err)
	}
	if v.Timestamp == nil || v.Value == nil {
		return model.Sample{}, errors.New("sample needs timestamp and value")
	}
	return model.Sample{Timestamp: *v.Timestamp, Value: *v.Value}, nil
}
