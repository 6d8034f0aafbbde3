package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Predictive-Systems-Inc/dr-a/internal/config"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dra.yaml")
	writeConfig(t, path, "session:\n  topic: Soccer\n")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	if got := w.Current().Session.Topic; got != "Soccer" {
		t.Errorf("topic = %q, want Soccer", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dra.yaml")
	writeConfig(t, path, "server:\n  log_level: loud\n")

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dra.yaml")
	writeConfig(t, path, "session:\n  topic: Soccer\n")

	changed := make(chan config.ConfigDiff, 1)
	var once sync.Once
	onChange := func(old, new *config.Config) {
		once.Do(func() {
			changed <- config.Diff(old, new)
		})
	}

	w, err := config.NewWatcher(path, onChange, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	// Some filesystems keep coarse mtimes; ensure the rewrite is visible.
	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "session:\n  topic: Acceleration\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case d := <-changed:
		if !d.TopicChanged || d.NewTopic != "Acceleration" {
			t.Errorf("diff = %+v", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("change not detected")
	}

	if got := w.Current().Session.Topic; got != "Acceleration" {
		t.Errorf("current topic = %q", got)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidReplacement(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dra.yaml")
	writeConfig(t, path, "session:\n  topic: Soccer\n")

	w, err := config.NewWatcher(path, func(_, _ *config.Config) {
		t.Error("onChange fired for invalid config")
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "server:\n  log_level: loud\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := w.Current().Session.Topic; got != "Soccer" {
		t.Errorf("current topic = %q, want the pre-edit value", got)
	}
}
