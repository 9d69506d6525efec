package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/insight/internal/config"
	"github.com/ppiankov/insight/internal/privacy"
	"github.com/ppiankov/insight/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials, and dependencies",
	RunE:  doctorAction,
}

// doctorHealthWindow is how far back doctor looks for failing sources.
const doctorHealthWindow = 7 * 24 * time.Hour

func doctorAction(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	ok := true
	fail := func(format string, args ...any) {
		printCheck(w, false, format, args...)
		ok = false
	}

	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		fail("config directory %s", configDir)
	} else {
		printCheck(w, true, "config directory %s", configDir)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fail("config.yaml: %v", err)
	} else {
		printCheck(w, true, "config.yaml (%s)", describeSources(cmd.Context(), cfg))
	}

	if _, err := os.Stat(filepath.Join(configDir, config.DefaultEnvFile)); err == nil {
		printCheck(w, true, "%s", config.DefaultEnvFile)
	}

	if cfg == nil {
		fmt.Fprintln(w)
		return fmt.Errorf("some checks failed")
	}

	if cfg.Privacy.Redact.Enabled {
		if r, err := privacy.New(cfg.Privacy.Redact.Patterns); err != nil {
			fail("redact patterns: %v", err)
		} else {
			printCheck(w, true, "redact patterns (%d)", r.Len())
		}
	}

	switch cfg.Briefing.Provider {
	case config.ProviderNone:
		printInfo(w, "briefing provider: none (briefings list posts ungrouped)")
	default:
		if cfg.Briefing.APIKey == "" {
			fail("briefing provider %s: $%s is not set", cfg.Briefing.Provider, cfg.Briefing.APIKeyEnv)
		} else {
			printCheck(w, true, "briefing provider %s", cfg.Briefing.Provider)
		}
	}

	if cfg.Sources.Telegram.IsEnabled() {
		if !checkTelegram(w, cfg) {
			ok = false
		}
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fail("database: %v", err)
	} else {
		defer func() { _ = db.Close() }()
		version, err := db.SchemaVersion(cmd.Context())
		if err != nil {
			fail("database %s: %v", cfg.Storage.Path, err)
		} else {
			printCheck(w, true, "database %s (schema v%d)", cfg.Storage.Path, version)
			checkSourceHealth(cmd, w, db)
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Fprintln(w, "\nAll checks passed.")
	return nil
}

func describeSources(ctx context.Context, cfg *config.Config) string {
	providers, _ := cfg.EnabledSources(ctx)
	if len(providers) == 0 {
		return "no sources enabled"
	}
	parts := make([]string, 0, len(providers))
	for _, p := range providers {
		parts = append(parts, fmt.Sprintf("%d %s", len(p.Sources), p.Platform))
	}
	return strings.Join(parts, ", ")
}

func checkTelegram(w io.Writer, cfg *config.Config) bool {
	ok := true
	tg := cfg.Sources.Telegram

	if tg.APIID == "" || tg.APIHash == "" {
		printCheck(w, false, "telegram credentials ($%s, $%s)", tg.APIIDEnv, tg.APIHashEnv)
		ok = false
	} else {
		printCheck(w, true, "telegram credentials")
	}

	python := tg.PythonPath
	if python == "" {
		python = "python3"
	}
	if _, err := exec.LookPath(python); err != nil {
		printCheck(w, false, "%s not found", python)
		return false
	}
	printCheck(w, true, "%s", python)

	if err := exec.Command(python, "-c", "import telethon").Run(); err != nil {
		printCheck(w, false, "telethon not installed (pip install telethon)")
		ok = false
	} else {
		printCheck(w, true, "telethon")
	}

	script := cfg.TelegramScript()
	if info, err := os.Stat(script); err != nil {
		printCheck(w, false, "telegram collector script: %v", err)
		ok = false
	} else if info.IsDir() {
		printCheck(w, false, "telegram collector script: %s is a directory", script)
		ok = false
	} else {
		printCheck(w, true, "telegram collector script %s", script)
	}

	if tg.SessionDir != "" {
		if _, err := os.Stat(tg.SessionDir); err != nil {
			printInfo(w, "telegram session dir %s missing (run the collector script manually first)", tg.SessionDir)
		}
	}
	return ok
}

// checkSourceHealth reports sources that failed every recent attempt.
// Informational only.
func checkSourceHealth(cmd *cobra.Command, w io.Writer, db *store.Store) {
	health, err := db.SourceHealth(cmd.Context(), time.Now().Add(-doctorHealthWindow))
	if err != nil || len(health) == 0 {
		return
	}
	for _, h := range health {
		if h.Successes == 0 {
			printInfo(w, "failing: %s/%s, %d of %d fetches failed in the last 7 days (last: %s)",
				h.Platform, h.Source, h.Failures, h.Attempts, h.LastKind)
		}
	}
}

func printCheck(w io.Writer, pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Fprintf(w, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "[INFO] %s\n", fmt.Sprintf(format, args...))
}
