package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/insight/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func initAction(cmd *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	w := cmd.OutOrStdout()
	created := 0
	files := []struct {
		name string
		data string
		perm os.FileMode
	}{
		{config.DefaultConfigFile, exampleConfig, 0o644},
		{config.DefaultEnvFile, exampleEnv, 0o600},
	}
	for _, f := range files {
		wrote, err := writeIfNotExists(w, filepath.Join(configDir, f.name), []byte(f.data), f.perm)
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Fprintf(w, "Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Fprintf(w, "Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(w io.Writer, path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# insight configuration

sources:
  rss:
    sources:
      - "https://lwn.net/headlines/rss"
  youtube:
    enabled: false
    sources: []
    # - "UCxxxxxxxxxxxxxxxxxxxxxx"   # channel id, or a full feed URL
  reddit:
    sources: []
    # - "golang"
  hn:
    sources: [top]
    min_points: 100
  telegram:
    enabled: false
    api_id_env: TELEGRAM_API_ID
    api_hash_env: TELEGRAM_API_HASH
    session_dir: .insight/session
    sources: []
    # - "@your_channel_here"

engine:
  timeout: 30s
  per_source_timeout: 10s
  max_timeout: 5m
  concurrency: 0        # 0 = no limit
  limit: 10             # posts per source for latest runs
  order: desc
  include_undated: false
  max_content_chars: 0  # 0 = keep full content

briefing:
  provider: none        # none, openai, gemini
  # model: gemini-2.5-flash
  api_key_env: INSIGHT_API_KEY
  timeout: 2m
  duplicate_policy: first_wins   # first_wins or last_wins
  max_content_chars: 1500

storage:
  path: .insight/insight.db
  retain_days: 30
  record_runs: true

logging:
  level: warn
  output_paths: [stderr]

privacy:
  redact:
    enabled: false
    patterns: []
    # - "builtin:email"

telemetry:
  metrics_file: ""
`

const exampleEnv = `# Loaded before config env vars are resolved. Existing variables win.
# INSIGHT_API_KEY=
# TELEGRAM_API_ID=
# TELEGRAM_API_HASH=
`
