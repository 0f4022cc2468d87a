// Command ecgctl is the debug CLI for a running ecgmon.
//
// Usage:
//
//	ecgctl                  Show help
//	ecgctl stats            Pipeline counters from /stats
//	ecgctl history          Recent summaries, newest first
//	ecgctl latest           Most recent sample
//	ecgctl events           JSONL event log viewer
package main

import (
	"fmt"
	"os"
)

const usage = `ecgctl - ecgmon debug CLI

Usage:
  ecgctl <command> [flags]

Commands:
  stats       Pipeline counters and dispatch state
  history     Recent analysis summaries, newest first
  latest      Most recent accepted sample
  events      JSONL event log viewer

Environment:
  ECGMON_URL    Base URL of the running server (default: http://localhost:8000)
  EVENTS_FILE   Event log written by ecgmon (required for events unless -file is given)

Run 'ecgctl <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	// Strip the program name + subcommand so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "stats":
		runStats()
	case "history":
		runHistory()
	case "latest":
		runLatest()
	case "events":
		runEvents()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "ecgctl: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}
