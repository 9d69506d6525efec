package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/insight/internal/store"
)

var (
	healthSince  string
	healthFormat string
	healthRuns   int
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show per-source reliability from run history",
	RunE:  healthAction,
}

func init() {
	healthCmd.Flags().StringVar(&healthSince, "since", "7d", "time window (e.g. 7d, 48h)")
	healthCmd.Flags().StringVar(&healthFormat, "format", "terminal", "output format: terminal, json")
	healthCmd.Flags().IntVar(&healthRuns, "runs", 5, "number of recent runs to list")
}

// A source below this success rate is flagged as unreliable.
const unreliableRate = 0.5

func healthAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sinceDur, err := parseDuration(healthSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}
	now := time.Now()

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()
	health, err := db.SourceHealth(ctx, now.Add(-sinceDur))
	if err != nil {
		return err
	}
	runs, err := db.RecentRuns(ctx, healthRuns)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch healthFormat {
	case "json":
		return printHealthJSON(w, health, runs, sinceDur)
	case "terminal", "":
		if len(health) == 0 && len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded. Run 'insight aggregate' first.")
			return nil
		}
		printHealth(w, health, runs, sinceDur, now)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", healthFormat)
	}
}

type jsonHealthOutput struct {
	Window  string             `json:"window"`
	Sources []jsonSourceHealth `json:"sources"`
	Runs    []jsonRun          `json:"runs"`
}

type jsonSourceHealth struct {
	Platform      string  `json:"platform"`
	Source        string  `json:"source"`
	Attempts      int     `json:"attempts"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	Timeouts      int     `json:"timeouts"`
	Posts         int     `json:"posts"`
	SuccessPct    float64 `json:"success_pct"`
	AvgDurationMs int64   `json:"avg_duration_ms"`
	LastStatus    string  `json:"last_status"`
	LastKind      string  `json:"last_kind,omitempty"`
	LastError     string  `json:"last_error,omitempty"`
	LastSeen      string  `json:"last_seen"`
}

type jsonRun struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	Status            string `json:"status"`
	StartedAt         string `json:"started_at"`
	DurationMs        int64  `json:"duration_ms"`
	Posts             int    `json:"posts"`
	SuccessfulSources int    `json:"successful_sources"`
	FailedSources     int    `json:"failed_sources"`
	Topics            *int   `json:"topics,omitempty"`
	Fallback          *bool  `json:"fallback,omitempty"`
}

func printHealthJSON(w io.Writer, health []store.SourceHealth, runs []store.Run, since time.Duration) error {
	out := jsonHealthOutput{
		Window:  formatWindow(since),
		Sources: make([]jsonSourceHealth, 0, len(health)),
		Runs:    make([]jsonRun, 0, len(runs)),
	}
	for _, h := range health {
		out.Sources = append(out.Sources, jsonSourceHealth{
			Platform:      h.Platform,
			Source:        h.Source,
			Attempts:      h.Attempts,
			Successes:     h.Successes,
			Failures:      h.Failures,
			Timeouts:      h.Timeouts,
			Posts:         h.Posts,
			SuccessPct:    h.SuccessRate() * 100,
			AvgDurationMs: h.AvgDuration.Milliseconds(),
			LastStatus:    h.LastStatus,
			LastKind:      h.LastKind,
			LastError:     h.LastError,
			LastSeen:      h.LastSeen.UTC().Format(time.RFC3339),
		})
	}
	for _, r := range runs {
		out.Runs = append(out.Runs, jsonRun{
			ID:                r.ID,
			Mode:              r.Mode,
			Status:            r.Status,
			StartedAt:         r.StartedAt.UTC().Format(time.RFC3339),
			DurationMs:        r.Duration.Milliseconds(),
			Posts:             r.Posts,
			SuccessfulSources: r.SuccessfulSources,
			FailedSources:     r.FailedSources,
			Topics:            r.Topics,
			Fallback:          r.Fallback,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printHealth(w io.Writer, health []store.SourceHealth, runs []store.Run, since time.Duration, now time.Time) {
	attempts := 0
	for _, h := range health {
		attempts += h.Attempts
	}
	fmt.Fprintf(w, "insight health: %s, %s fetches from %d sources\n\n",
		formatWindow(since), humanize.Comma(int64(attempts)), len(health))

	if len(health) > 0 {
		// Least reliable first.
		sorted := make([]store.SourceHealth, len(health))
		copy(sorted, health)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].SuccessRate() < sorted[j].SuccessRate()
		})

		maxName := 6 // "Source"
		for _, h := range sorted {
			if n := len(sourceLabel(h)); n > maxName {
				maxName = n
			}
		}
		if maxName > 50 {
			maxName = 50
		}

		fmt.Fprintln(w, "--- Sources ---")
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %-*s  %5s  %7s  %5s  %8s  %s\n", maxName, "Source", "Fetch", "Success", "Posts", "Avg", "Last")
		for _, h := range sorted {
			name := sourceLabel(h)
			if len(name) > maxName {
				name = name[:maxName-1] + "…"
			}
			last := h.LastStatus
			if h.LastKind != "" {
				last += " (" + h.LastKind + ")"
			}
			fmt.Fprintf(w, "  %-*s  %5d  %6.0f%%  %5d  %8s  %s, %s\n",
				maxName, name, h.Attempts, h.SuccessRate()*100, h.Posts,
				h.AvgDuration.Round(time.Millisecond), last, humanize.RelTime(h.LastSeen, now, "ago", "from now"))
		}
		fmt.Fprintln(w)

		var unreliable []store.SourceHealth
		for _, h := range sorted {
			if h.SuccessRate() < unreliableRate {
				unreliable = append(unreliable, h)
			}
		}
		if len(unreliable) > 0 {
			fmt.Fprintf(w, "--- Unreliable (under %.0f%% success) ---\n\n", unreliableRate*100)
			for _, h := range unreliable {
				fmt.Fprintf(w, "  %s: %d of %d fetches failed", sourceLabel(h), h.Failures, h.Attempts)
				if h.LastError != "" {
					fmt.Fprintf(w, ", last error: %s", h.LastError)
				}
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w)
		}
	}

	if len(runs) > 0 {
		fmt.Fprintln(w, "--- Recent runs ---")
		fmt.Fprintln(w)
		for _, r := range runs {
			fmt.Fprintf(w, "  %s  %-9s  %-10s  %4d posts  %d ok / %d failed  %s",
				r.StartedAt.UTC().Format("2006-01-02 15:04"), r.Mode, r.Status,
				r.Posts, r.SuccessfulSources, r.FailedSources, r.Duration.Round(time.Millisecond))
			if r.Topics != nil {
				fmt.Fprintf(w, "  %d topics", *r.Topics)
				if r.Fallback != nil && *r.Fallback {
					fmt.Fprint(w, " (fallback)")
				}
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}
}

func sourceLabel(h store.SourceHealth) string {
	return h.Platform + "/" + h.Source
}

// parseDuration handles both Go durations and "Nd" day notation.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}

func formatWindow(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
