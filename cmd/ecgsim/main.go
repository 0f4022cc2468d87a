// Command ecgsim streams a synthetic ECG trace to a running ecgmon.
//
// Usage:
//
//	ecgsim -url http://localhost:8000 -rate 50 -bpm 72
//	ecgsim -n 500 -workers 4       Send 500 samples as fast as possible
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/ecgmon/internal/logging"
	"github.com/abelbrown/ecgmon/internal/model"
)

func main() {
	url := flag.String("url", "http://localhost:8000", "ecgmon base URL")
	rate := flag.Float64("rate", 50, "Samples per second (0 = unthrottled)")
	count := flag.Int("n", 0, "Stop after this many samples (0 = run until interrupted)")
	bpm := flag.Float64("bpm", 72, "Simulated heart rate")
	noise := flag.Float64("noise", 15, "Gaussian noise amplitude in ADC counts")
	workers := flag.Int("workers", 1, "Concurrent senders")
	level := flag.String("log", "info", "Log level")
	flag.Parse()

	if err := logging.Init(logging.Options{Level: *level}); err != nil {
		fmt.Fprintf(os.Stderr, "ecgsim: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen := &generator{bpm: *bpm, noise: *noise, sampleRate: *rate}
	if gen.sampleRate <= 0 {
		gen.sampleRate = 250
	}

	samples := make(chan model.Sample, 64)
	var sent, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(samples)
		var tick <-chan time.Time
		if *rate > 0 {
			t := time.NewTicker(time.Duration(float64(time.Second) / *rate))
			defer t.Stop()
			tick = t.C
		}
		for i := 0; *count == 0 || i < *count; i++ {
			if tick != nil {
				select {
				case <-gctx.Done():
					return nil
				case <-tick:
				}
			}
			select {
			case <-gctx.Done():
				return nil
			case samples <- gen.next(i):
			}
		}
		return nil
	})

	client := &http.Client{Timeout: 5 * time.Second}
	for w := 0; w < max(*workers, 1); w++ {
		g.Go(func() error {
			for s := range samples {
				if err := post(gctx, client, *url, s); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					failed.Add(1)
					logging.Warn("Send failed", "timestamp", s.Timestamp, "error", err)
					continue
				}
				if n := sent.Add(1); n%100 == 0 {
					logging.Info("Progress", "sent", n, "failed", failed.Load())
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logging.Error("ecgsim failed", "error", err)
	}
	logging.Info("Done", "sent", sent.Load(), "failed", failed.Load())
}

func post(ctx context.Context, client *http.Client, base string, s model.Sample) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/ecg", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// generator produces a crude PQRST waveform on a 12-bit scale.
type generator struct {
	bpm        float64
	noise      float64
	sampleRate float64
}

const baseline = 2048

func (g *generator) next(i int) model.Sample {
	t := float64(i) / g.sampleRate
	beat := 60 / g.bpm
	phase := math.Mod(t, beat) / beat // 0..1 within a cardiac cycle

	v := baseline +
		wave(phase, 0.20, 0.025, 120) + // P
		wave(phase, 0.28, 0.008, -150) + // Q
		wave(phase, 0.30, 0.010, 1400) + // R
		wave(phase, 0.32, 0.008, -300) + // S
		wave(phase, 0.55, 0.040, 280) // T
	v += rand.NormFloat64() * g.noise

	v = math.Max(model.DefaultValueMin, math.Min(model.DefaultValueMax, v))
	return model.Sample{
		Timestamp: time.Now().UnixMilli(),
		Value:     int64(math.Round(v)),
	}
}

// wave is a Gaussian bump of height amp centered at mu with width sigma.
func wave(x, mu, sigma, amp float64) float64 {
	d := (x - mu) / sigma
	return amp * math.Exp(-0.5*d*d)
}
