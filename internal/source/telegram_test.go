package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func jsonlFromMessages(t *testing.T, msgs []telegramMessage) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("encode test message: %v", err)
		}
	}
	return &buf
}

// fakeCollector writes a shell script that prints body and returns a
// connected TelegramConnector that runs it with /bin/sh.
func fakeCollector(t *testing.T, body string) *TelegramConnector {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "collector.sh")
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	tc, err := NewTelegram(TelegramOptions{
		Script:     script,
		PythonPath: "/bin/sh",
		APIID:      "1",
		APIHash:    "hash",
		SessionDir: dir,
	}, nil)
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return tc
}

func TestParseJSONL_ValidMessages(t *testing.T) {
	msgs := []telegramMessage{
		{Channel: "devops_ru", MsgID: "100", Date: "2026-02-16T10:00:00Z", Text: "hello world", URL: "https://t.me/devops_ru/100"},
		{Channel: "k8s_news", MsgID: "200", Date: "2026-02-16T11:00:00Z", Text: "kubernetes 1.32 released\nmore", URL: "https://t.me/k8s_news/200"},
	}

	posts, skipped, err := parseJSONL(jsonlFromMessages(t, msgs))
	if err != nil {
		t.Fatalf("parseJSONL: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}

	p := posts[0]
	if p.Platform != "telegram" {
		t.Errorf("platform = %q, want telegram", p.Platform)
	}
	if p.Source != "devops_ru" {
		t.Errorf("source = %q, want devops_ru", p.Source)
	}
	if p.Content != "hello world" {
		t.Errorf("content = %q", p.Content)
	}
	if p.Metadata["msg_id"] != "100" {
		t.Errorf("msg_id = %v", p.Metadata["msg_id"])
	}

	want := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	if !p.Date.Equal(want) {
		t.Errorf("date = %v, want %v", p.Date, want)
	}
	if posts[1].Title != "kubernetes 1.32 released" {
		t.Errorf("title = %q, want first line", posts[1].Title)
	}
}

func TestParseJSONL_MalformedLinesSkipped(t *testing.T) {
	input := strings.Join([]string{
		`{"channel":"a","msg_id":"1","date":"2026-02-16T10:00:00Z","text":"ok"}`,
		`not json`,
		``,
		`{"channel":"a","msg_id":"2","date":"garbage","text":"bad date"}`,
	}, "\n")

	posts, skipped, err := parseJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseJSONL: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[1].HasDate() {
		t.Errorf("unparseable date should be unknown, got %v", posts[1].Date)
	}
	if posts[1].URL != "https://t.me/a/2" {
		t.Errorf("fallback url = %q", posts[1].URL)
	}
}

func TestNewTelegram_RequiresScript(t *testing.T) {
	if _, err := NewTelegram(TelegramOptions{}, nil); err == nil {
		t.Fatal("expected error for missing script")
	}
}

func TestTelegramConnect(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "collector.py")
	if err := os.WriteFile(script, []byte("#"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts TelegramOptions
		want error
	}{
		{"missing credentials", TelegramOptions{Script: script, PythonPath: "/bin/sh"}, ErrAuth},
		{"missing interpreter", TelegramOptions{Script: script, PythonPath: "/nonexistent/python", APIID: "1", APIHash: "h"}, ErrConnection},
		{"missing script", TelegramOptions{Script: filepath.Join(dir, "nope.py"), PythonPath: "/bin/sh", APIID: "1", APIHash: "h"}, ErrConnection},
		{"script is dir", TelegramOptions{Script: dir, PythonPath: "/bin/sh", APIID: "1", APIHash: "h"}, ErrConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, err := NewTelegram(tt.opts, nil)
			if err != nil {
				t.Fatalf("NewTelegram: %v", err)
			}
			if err := tc.Connect(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("Connect err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTelegramFetch_NotConnected(t *testing.T) {
	tc, err := NewTelegram(TelegramOptions{Script: "x.py"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tc.FetchPosts(context.Background(), "chan", 5); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestTelegramFetchPosts(t *testing.T) {
	tc := fakeCollector(t, `cat <<'EOF'
{"channel":"devops_ru","msg_id":"1","date":"2026-02-16T10:00:00Z","text":"one"}
{"channel":"devops_ru","msg_id":"2","date":"2026-02-16T11:00:00Z","text":"two"}
{"channel":"devops_ru","msg_id":"3","date":"2026-02-16T12:00:00Z","text":"three"}
EOF
`)

	posts, err := tc.FetchPosts(context.Background(), "@devops_ru", 2)
	if err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].Source != "@devops_ru" {
		t.Errorf("source = %q, want configured identifier", posts[0].Source)
	}
}

func TestTelegramFetchPostsByTimeframe(t *testing.T) {
	tc := fakeCollector(t, `cat <<'EOF'
{"channel":"devops_ru","msg_id":"1","date":"2026-02-16T10:00:00Z","text":"today"}
{"channel":"k8s_news","msg_id":"2","date":"2026-02-10T10:00:00Z","text":"last week"}
{"channel":"k8s_news","msg_id":"3","date":"","text":"undated"}
EOF
`)
	tc.now = func() time.Time { return time.Date(2026, 2, 16, 18, 0, 0, 0, time.UTC) }

	posts, err := tc.FetchPostsByTimeframe(context.Background(), []string{"t.me/devops_ru", "k8s_news"}, 1)
	if err != nil {
		t.Fatalf("FetchPostsByTimeframe: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].Source != "t.me/devops_ru" {
		t.Errorf("source = %q, want t.me/devops_ru", posts[0].Source)
	}
	if posts[1].Content != "undated" {
		t.Errorf("content = %q, want undated", posts[1].Content)
	}
}

func TestTelegramCollectorFailure(t *testing.T) {
	tc := fakeCollector(t, "echo 'session expired' >&2\nexit 3\n")

	_, err := tc.FetchPosts(context.Background(), "chan", 5)
	if err == nil || !strings.Contains(err.Error(), "session expired") {
		t.Fatalf("err = %v, want collector stderr", err)
	}
}

func TestTelegramDisconnect(t *testing.T) {
	tc := fakeCollector(t, "true\n")
	if err := tc.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tc.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if _, err := tc.FetchPosts(context.Background(), "chan", 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}
