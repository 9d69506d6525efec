package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/digest"
	"github.com/ppiankov/insight/internal/store"
)

var (
	briefingDate           string
	briefingIncludeUndated bool
	briefingFormat         string
	briefingPlatforms      []string
)

var briefingCmd = &cobra.Command{
	Use:   "briefing",
	Short: "Group one day's posts into topics",
	Long: "briefing aggregates the latest posts, keeps those published on the given UTC day, and asks " +
		"the configured provider to group them into topics. Without a provider, or when the provider " +
		"fails, every post is listed ungrouped.",
	RunE: briefingAction,
}

func init() {
	briefingCmd.Flags().StringVar(&briefingDate, "date", "", "UTC day as YYYY-MM-DD (default today)")
	briefingCmd.Flags().BoolVar(&briefingIncludeUndated, "include-undated", false, "keep posts without a publication date")
	briefingCmd.Flags().StringVar(&briefingFormat, "format", digest.FormatTerminal, "output format: terminal, json, markdown")
	briefingCmd.Flags().StringSliceVar(&briefingPlatforms, "platform", nil, "only fetch these platforms (repeatable)")
	briefingCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
}

func briefingAction(cmd *cobra.Command, _ []string) error {
	day, err := parseDay(briefingDate, time.Now())
	if err != nil {
		return err
	}
	formatter, err := digest.New(briefingFormat, !noColor)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	collab, err := buildCollaborator(ctx, cfg, eng.log)
	if err != nil {
		return err
	}
	composer, err := eng.composer(collab)
	if err != nil {
		return err
	}

	out, err := eng.orch.DailyBriefing(ctx, day, composer, aggregate.Options{
		Limit:          cfg.Engine.Limit,
		Platforms:      briefingPlatforms,
		IncludeUndated: briefingIncludeUndated || cfg.Engine.IncludeUndated,
	})
	if err != nil {
		return fmt.Errorf("briefing: %w", err)
	}

	input := digest.Input{Result: out.Result, Briefing: out.Briefing, Day: out.Day}
	if err := formatter.Format(cmd.OutOrStdout(), input); err != nil {
		return fmt.Errorf("format output: %w", err)
	}

	eng.finish(ctx, cmd.ErrOrStderr(), store.RunFromResult(aggregate.ModeBriefing, out.Result, out.Briefing))
	return nil
}

// parseDay parses a YYYY-MM-DD UTC day. Empty means the UTC day of now.
func parseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --date: want YYYY-MM-DD, got %q", s)
	}
	return day, nil
}
