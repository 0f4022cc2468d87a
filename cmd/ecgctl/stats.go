package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abelbrown/ecgmon/internal/model"
	"github.com/abelbrown/ecgmon/internal/pipeline"
	"github.com/abelbrown/ecgmon/internal/work"
)

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "", "ecgmon base URL (default $ECGMON_URL)")
	showWork := fs.Bool("work", false, "Include recently finished dispatches")
	fs.Parse(os.Args[1:])

	base := serverURL(*url)

	var s pipeline.Stats
	getJSON(base, "/stats", &s)

	fmt.Printf("Samples accepted:      %d\n", s.Accepted)
	fmt.Printf("Samples rejected:      %d\n", s.Rejected)
	fmt.Printf("Buffered:              %d\n", s.Buffered)
	fmt.Printf("\nBatches dispatched:    %d\n", s.Batches)
	fmt.Printf("Analyses succeeded:    %d\n", s.Succeeded)
	fmt.Printf("Analyses failed:       %d\n", s.Failed)
	fmt.Printf("In flight:             %d\n", s.InFlight)
	fmt.Printf("\nHistory retained:      %d (of %d ever)\n", s.History, s.HistoryTotal)
	fmt.Printf("\nWork pool:             %s\n", s.Work)

	if !*showWork {
		return
	}

	var out struct {
		Work []work.Item `json:"work"`
	}
	getJSON(base, "/debug/work?n=20", &out)
	fmt.Printf("\nRecent dispatches (%d):\n", len(out.Work))
	for _, item := range out.Work {
		line := fmt.Sprintf("  %-6s %-9s %-20s %8s", item.ID, item.Status, item.Description, item.Duration().Round(time.Millisecond))
		if item.Err != "" {
			line += "  " + truncate(item.Err, 60)
		}
		fmt.Println(line)
	}
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	url := fs.String("url", "", "ecgmon base URL (default $ECGMON_URL)")
	fs.Parse(os.Args[1:])

	var out struct {
		History []string `json:"history"`
	}
	getJSON(serverURL(*url), "/analysis/history", &out)

	if len(out.History) == 0 {
		fmt.Println("No analyses yet.")
		return
	}
	for i, text := range out.History {
		fmt.Printf("%d. %s\n", i+1, strings.TrimSpace(text))
	}
}

func runLatest() {
	fs := flag.NewFlagSet("latest", flag.ExitOnError)
	url := fs.String("url", "", "ecgmon base URL (default $ECGMON_URL)")
	fs.Parse(os.Args[1:])

	var raw json.RawMessage
	getJSON(serverURL(*url), "/latest", &raw)

	var s struct {
		Timestamp *int64 `json:"timestamp"`
		Value     *int64 `json:"value"`
	}
	json.Unmarshal(raw, &s)
	if s.Timestamp == nil || s.Value == nil {
		fmt.Println("No samples yet.")
		return
	}
	fmt.Printf("%+v\n", model.Sample{Timestamp: *s.Timestamp, Value: *s.Value})
}
