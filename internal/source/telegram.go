package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ppiankov/insight/internal/logger"
)

const (
	telegramDefaultPython = "python3"
	maxLineLength         = 1 << 20 // 1 MiB per JSONL line
)

// TelegramOptions configures the Telegram connector.
type TelegramOptions struct {
	Script     string // path to collector_telegram.py
	PythonPath string // interpreter, defaults to python3
	APIID      string
	APIHash    string
	SessionDir string
}

// TelegramConnector fetches channel messages via a Python/Telethon helper
// that prints one JSON object per line.
type TelegramConnector struct {
	opts      TelegramOptions
	log       logger.Logger
	now       func() time.Time
	connected atomic.Bool
}

// NewTelegram creates a Telegram connector. Credentials are checked in Connect.
func NewTelegram(opts TelegramOptions, log logger.Logger) (*TelegramConnector, error) {
	if strings.TrimSpace(opts.Script) == "" {
		return nil, errors.New("telegram: script path is required")
	}
	if opts.PythonPath == "" {
		opts.PythonPath = telegramDefaultPython
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &TelegramConnector{
		opts: opts,
		log:  log.With(logger.String("platform", PlatformTelegram)),
		now:  time.Now,
	}, nil
}

func (tc *TelegramConnector) Platform() string {
	return PlatformTelegram
}

// Connect verifies credentials, the interpreter, and the helper script.
func (tc *TelegramConnector) Connect(context.Context) error {
	if tc.opts.APIID == "" || tc.opts.APIHash == "" {
		return fmt.Errorf("telegram: api id and hash are required: %w", ErrAuth)
	}
	if _, err := exec.LookPath(tc.opts.PythonPath); err != nil {
		return fmt.Errorf("telegram: %s not found: %w", tc.opts.PythonPath, ErrConnection)
	}
	info, err := os.Stat(tc.opts.Script)
	if err != nil {
		return fmt.Errorf("telegram: collector script: %w: %w", ErrConnection, err)
	}
	if info.IsDir() {
		return fmt.Errorf("telegram: %s is a directory, not a script: %w", tc.opts.Script, ErrConnection)
	}
	tc.connected.Store(true)
	return nil
}

func (tc *TelegramConnector) Disconnect(context.Context) error {
	tc.connected.Store(false)
	return nil
}

func (tc *TelegramConnector) FetchPosts(ctx context.Context, channel string, limit int) ([]Post, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("telegram: channel is required")
	}
	args := []string{"--channels", channel}
	if limit > 0 {
		args = append(args, "--limit", strconv.Itoa(limit))
	}
	posts, err := tc.run(ctx, args)
	if err != nil {
		return nil, err
	}
	assignSources(posts, []string{channel})
	return limitPosts(posts, limit), nil
}

func (tc *TelegramConnector) FetchPostsByTimeframe(ctx context.Context, channels []string, days int) ([]Post, error) {
	if len(channels) == 0 {
		return nil, nil
	}
	since := Since(tc.now(), days)
	posts, err := tc.run(ctx, []string{
		"--channels", strings.Join(channels, ","),
		"--since", since.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	assignSources(posts, channels)

	kept := posts[:0]
	for _, p := range posts {
		if p.HasDate() && p.Date.Before(since) {
			continue
		}
		kept = append(kept, p)
	}
	return kept, nil
}

// run invokes the collector script and parses its JSONL output.
func (tc *TelegramConnector) run(ctx context.Context, extra []string) ([]Post, error) {
	if !tc.connected.Load() {
		return nil, fmt.Errorf("telegram: %w", ErrNotConnected)
	}

	args := []string{
		tc.opts.Script,
		"--api-id", tc.opts.APIID,
		"--api-hash", tc.opts.APIHash,
		"--session-dir", tc.opts.SessionDir,
	}
	args = append(args, extra...)

	cmd := exec.CommandContext(ctx, tc.opts.PythonPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("telegram: stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("telegram: %s not found: %w", tc.opts.PythonPath, ErrConnection)
		}
		return nil, fmt.Errorf("telegram: start collector: %w", err)
	}

	posts, skipped, readErr := parseJSONL(stdout)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("telegram: collector: %w", ctxErr)
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg != "" {
			return nil, fmt.Errorf("telegram: collector failed: %s", errMsg)
		}
		return nil, fmt.Errorf("telegram: collector failed: %w", err)
	}

	if readErr != nil {
		return nil, fmt.Errorf("telegram: read output: %w", readErr)
	}
	if skipped > 0 {
		tc.log.Warn("skipped malformed collector lines", logger.Int("skipped", skipped))
	}

	return posts, nil
}

// assignSources rewrites each post's Source to the configured identifier it
// came from, so "@chan", "chan" and "t.me/chan" all map back to the config.
func assignSources(posts []Post, configured []string) {
	byKey := make(map[string]string, len(configured))
	for _, c := range configured {
		byKey[channelKey(c)] = c
	}
	for i := range posts {
		if len(configured) == 1 {
			posts[i].Source = configured[0]
			continue
		}
		if c, ok := byKey[channelKey(posts[i].Source)]; ok {
			posts[i].Source = c
		}
	}
}

func channelKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "t.me/")
	return strings.TrimPrefix(s, "@")
}

// telegramMessage is the JSONL schema emitted by the Python collector.
type telegramMessage struct {
	Channel string   `json:"channel"`
	MsgID   string   `json:"msg_id"`
	Date    string   `json:"date"`
	Text    string   `json:"text"`
	URL     string   `json:"url"`
	Media   []string `json:"media"`
	Views   int      `json:"views"`
}

// parseJSONL converts collector output to posts. Lines that are not valid
// JSON are skipped and counted; unparseable dates become the zero time.
func parseJSONL(r io.Reader) ([]Post, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLineLength), maxLineLength)

	var (
		posts   []Post
		skipped int
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg telegramMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			skipped++
			continue
		}

		url := msg.URL
		if url == "" && msg.Channel != "" && msg.MsgID != "" {
			url = fmt.Sprintf("https://t.me/%s/%s", strings.TrimPrefix(msg.Channel, "@"), msg.MsgID)
		}

		posts = append(posts, Post{
			Platform:  PlatformTelegram,
			Source:    msg.Channel,
			URL:       url,
			Title:     firstLine(msg.Text),
			Content:   msg.Text,
			Date:      ParseTimestamp(msg.Date),
			MediaURLs: msg.Media,
			Metadata: map[string]any{
				"msg_id": msg.MsgID,
				"views":  msg.Views,
			},
		})
	}

	if err := scanner.Err(); err != nil {
		return posts, skipped, fmt.Errorf("read jsonl: %w", err)
	}

	return posts, skipped, nil
}
