package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torqueshop/voicedesk/internal/config"
)

// writeFile writes content and pushes the mtime forward so the watcher sees a
// change even on filesystems with coarse timestamps.
func writeFile(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if bump > 0 {
		at := time.Now().Add(bump)
		if err := os.Chtimes(path, at, at); err != nil {
			t.Fatalf("chtimes %q: %v", path, err)
		}
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	news  []*config.Config
	fired chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{fired: make(chan struct{}, 8)}
}

func (r *changeRecorder) onChange(_, new *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.diffs = append(r.diffs, d)
	r.news = append(r.news, new)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func startWatcher(t *testing.T, content string, onChange config.ChangeFunc) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicedesk.yaml")
	writeFile(t, path, content, 0)
	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, _ := startWatcher(t, fullYAML, nil)
	if cfg := w.Current(); cfg == nil || cfg.Server.LogLevel != config.LogDebug {
		t.Fatalf("Current() = %+v", cfg)
	}
}

func TestWatcher_ReloadsConversationTunables(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, path := startWatcher(t, fullYAML, rec.onChange)

	writeFile(t, path, strings.Replace(fullYAML, "base_price: 110", "base_price: 125", 1), 2*time.Second)
	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("change callback not invoked")
	}

	rec.mu.Lock()
	d, cfg := rec.diffs[0], rec.news[0]
	rec.mu.Unlock()
	if !d.ConversationChanged || d.LogLevelChanged || len(d.RestartRequired) > 0 {
		t.Errorf("diff = %+v, want only conversation changed", d)
	}
	if cfg.Conversation.BasePrice != 125 || w.Current().Conversation.BasePrice != 125 {
		t.Errorf("base_price = %v / %v, want 125", cfg.Conversation.BasePrice, w.Current().Conversation.BasePrice)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, path := startWatcher(t, fullYAML, rec.onChange)

	writeFile(t, path, strings.Replace(fullYAML, "tax_rate: 0.0825", "tax_rate: 7", 1), 2*time.Second)
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback fired %d times for an invalid file", n)
	}
	if got := w.Current().Conversation.TaxRate; got != 0.0825 {
		t.Errorf("tax_rate = %v, want previous 0.0825", got)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	_, path := startWatcher(t, fullYAML, rec.onChange)

	at := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback fired %d times for a touch", n)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	w, _ := startWatcher(t, fullYAML, nil)
	w.Stop()
	w.Stop()
}
