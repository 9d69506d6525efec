package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/insight/internal/store"
)

func TestPrintHealth(t *testing.T) {
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	topics, fallback := 4, true
	health := []store.SourceHealth{
		{Platform: "rss", Source: "https://lwn.net/headlines/rss", Attempts: 10, Successes: 10, Posts: 87,
			AvgDuration: 420 * time.Millisecond, LastStatus: "success", LastSeen: now.Add(-time.Hour)},
		{Platform: "reddit", Source: "golang", Attempts: 10, Successes: 2, Failures: 8, Timeouts: 3,
			LastStatus: "error", LastKind: "rate_limit", LastError: "429 Too Many Requests", LastSeen: now.Add(-2 * time.Hour)},
	}
	runs := []store.Run{
		{Mode: "briefing", Status: "ok", StartedAt: now.Add(-time.Hour), Posts: 12, SuccessfulSources: 2, Topics: &topics, Fallback: &fallback},
		{Mode: "latest", Status: "no_sources", StartedAt: now.Add(-2 * time.Hour)},
	}

	var buf bytes.Buffer
	printHealth(&buf, health, runs, 7*24*time.Hour, now)
	output := buf.String()

	if !strings.Contains(output, "insight health: 7 days, 20 fetches from 2 sources") {
		t.Errorf("header missing totals, got:\n%s", output)
	}
	// Least reliable source is listed first.
	if strings.Index(output, "reddit/golang") > strings.Index(output, "rss/https://lwn.net") {
		t.Errorf("expected reddit/golang before rss, got:\n%s", output)
	}
	if !strings.Contains(output, "error (rate_limit), 2 hours ago") {
		t.Errorf("missing last outcome for reddit, got:\n%s", output)
	}
	if !strings.Contains(output, "reddit/golang: 8 of 10 fetches failed, last error: 429 Too Many Requests") {
		t.Errorf("missing unreliable source, got:\n%s", output)
	}
	if strings.Contains(output, "rss/https://lwn.net/headlines/rss: ") {
		t.Error("healthy source should not be listed as unreliable")
	}
	if !strings.Contains(output, "4 topics (fallback)") {
		t.Errorf("missing briefing run details, got:\n%s", output)
	}
}

func TestPrintHealth_NoUnreliable(t *testing.T) {
	now := time.Now()
	health := []store.SourceHealth{
		{Platform: "hn", Source: "top", Attempts: 4, Successes: 3, Failures: 1, LastStatus: "success", LastSeen: now},
	}

	var buf bytes.Buffer
	printHealth(&buf, health, nil, 48*time.Hour, now)
	output := buf.String()

	if strings.Contains(output, "Unreliable") {
		t.Errorf("unexpected unreliable section:\n%s", output)
	}
	if strings.Contains(output, "Recent runs") {
		t.Errorf("unexpected runs section without runs:\n%s", output)
	}
	if !strings.Contains(output, "48h") {
		t.Errorf("expected window 48h in header, got:\n%s", output)
	}
}

func TestPrintHealthJSON(t *testing.T) {
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	health := []store.SourceHealth{
		{Platform: "rss", Source: "a", Attempts: 4, Successes: 3, Failures: 1, Posts: 9,
			AvgDuration: 1500 * time.Millisecond, LastStatus: "timeout", LastKind: "timeout", LastSeen: now},
	}
	runs := []store.Run{{ID: "run-1", Mode: "timeframe", Status: "ok", StartedAt: now, Duration: 2 * time.Second, Posts: 9}}

	var buf bytes.Buffer
	if err := printHealthJSON(&buf, health, runs, 7*24*time.Hour); err != nil {
		t.Fatalf("printHealthJSON: %v", err)
	}

	var out jsonHealthOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if out.Window != "7 days" {
		t.Errorf("window = %q, want 7 days", out.Window)
	}
	if len(out.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(out.Sources))
	}
	s := out.Sources[0]
	if s.SuccessPct != 75 || s.AvgDurationMs != 1500 || s.LastKind != "timeout" {
		t.Errorf("unexpected source: %+v", s)
	}
	if s.LastSeen != "2026-02-16T12:00:00Z" {
		t.Errorf("last_seen = %q", s.LastSeen)
	}
	if len(out.Runs) != 1 || out.Runs[0].ID != "run-1" || out.Runs[0].DurationMs != 2000 {
		t.Errorf("unexpected runs: %+v", out.Runs)
	}
	if out.Runs[0].Topics != nil {
		t.Error("timeframe run should not carry topics")
	}
}

func TestPrintHealthJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := printHealthJSON(&buf, nil, nil, 24*time.Hour); err != nil {
		t.Fatalf("printHealthJSON: %v", err)
	}
	if !strings.Contains(buf.String(), `"sources": []`) || !strings.Contains(buf.String(), `"runs": []`) {
		t.Errorf("expected empty arrays, got:\n%s", buf.String())
	}
}
