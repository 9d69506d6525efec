package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/digest"
	"github.com/ppiankov/insight/internal/store"
	"github.com/ppiankov/insight/internal/timeline"
)

var (
	aggDays      int
	aggPlatforms []string
	aggOrder     string
	aggFormat    string
	aggLimit     int
	noColor      bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Fetch all enabled sources and print one merged feed",
	Long: "aggregate fetches the latest posts from every enabled source, or with --days every post " +
		"published in the last N days. Failing sources are reported but never stop the run.",
	RunE: aggregateAction,
}

func init() {
	aggregateCmd.Flags().IntVar(&aggDays, "days", 0, "fetch posts from the last N days instead of the latest posts")
	aggregateCmd.Flags().StringSliceVar(&aggPlatforms, "platform", nil, "only fetch these platforms (repeatable)")
	aggregateCmd.Flags().StringVar(&aggOrder, "order", "", "post order: asc or desc (default from config)")
	aggregateCmd.Flags().StringVar(&aggFormat, "format", digest.FormatTerminal, "output format: terminal, json, markdown")
	aggregateCmd.Flags().IntVar(&aggLimit, "limit", 0, "posts per source for latest runs (default from config)")
	aggregateCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
}

func aggregateAction(cmd *cobra.Command, _ []string) error {
	if aggDays < 0 {
		return fmt.Errorf("--days must not be negative, got %d", aggDays)
	}
	order, err := parseOrder(aggOrder)
	if err != nil {
		return err
	}
	formatter, err := digest.New(aggFormat, !noColor)
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

	opts := aggregate.Options{
		Limit:          cfg.Engine.Limit,
		Platforms:      aggPlatforms,
		Order:          timeline.Order(cfg.Engine.Order),
		IncludeUndated: cfg.Engine.IncludeUndated,
	}
	if aggLimit > 0 {
		opts.Limit = aggLimit
	}
	if order != "" {
		opts.Order = order
	}

	ctx := cmd.Context()
	mode := aggregate.ModeLatest
	window := ""
	var res *aggregate.Result
	if aggDays > 0 {
		mode = aggregate.ModeTimeframe
		window = fmt.Sprintf("%dd", aggDays)
		res, err = eng.orch.AggregateTimeframe(ctx, aggDays, opts)
	} else {
		res, err = eng.orch.Aggregate(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	if err := formatter.Format(cmd.OutOrStdout(), digest.Input{Result: res, Window: window}); err != nil {
		return fmt.Errorf("format output: %w", err)
	}

	eng.finish(ctx, cmd.ErrOrStderr(), store.RunFromResult(mode, res, nil))
	return nil
}

// parseOrder accepts asc/desc and their long forms. Empty means the
// configured default.
func parseOrder(s string) (timeline.Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "asc", "ascending":
		return timeline.Ascending, nil
	case "desc", "descending":
		return timeline.Descending, nil
	}
	return "", fmt.Errorf("unknown order %q (want asc or desc)", s)
}
