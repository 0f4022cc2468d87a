package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// serverURL returns the ecgmon base URL without a trailing slash.
func serverURL(flagValue string) string {
	if flagValue == "" {
		flagValue = envOrDefault("ECGMON_URL", "http://localhost:8000")
	}
	return strings.TrimSuffix(flagValue, "/")
}

// getJSON fetches base+path into v or exits.
func getJSON(base, path string, v any) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		fmt.Fprintf(os.Stderr, "  Is ecgmon running at %s?\n", base)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "error: GET %s: status %d\n", path, resp.StatusCode)
		os.Exit(1)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error: decode %s: %v\n", path, err)
		os.Exit(1)
	}
}

// envOrDefault returns the environment variable value or a fallback.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// truncate shortens a string to n runes, appending "..." if truncated.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		// No room for the ellipsis
		return string(runes[:max(n, 0)])
	}
	return string(runes[:n-3]) + "..."
}
