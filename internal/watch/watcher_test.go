package watch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cmdwarden/warden/internal/approval"
	"github.com/cmdwarden/warden/internal/audit"
	"github.com/cmdwarden/warden/internal/config"
	"github.com/cmdwarden/warden/internal/core"
	"github.com/cmdwarden/warden/internal/guard"
	"github.com/cmdwarden/warden/internal/pipeline"
)

type cannedSuggester struct {
	out string
}

func (c cannedSuggester) Suggest(_ context.Context, _ string) (string, error) {
	return c.out, nil
}

type brokenStore struct {
	audit.Store
}

func (brokenStore) Append(context.Context, core.Record) error {
	return errors.New("disk full")
}

func testPipeline(t *testing.T, store audit.Store) *pipeline.Pipeline {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("mode: auto_approve\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	mgr, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if store == nil {
		s, err := audit.NewSQLiteStore(filepath.Join(dir, "audit.db"))
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		store = s
	}

	broker := approval.NewInMemoryBroker(time.Second)
	t.Cleanup(func() { broker.Close() })

	return pipeline.New(mgr, guard.New(0, 0, 0), cannedSuggester{out: "echo hello"},
		approval.NewOrchestrator(broker), store)
}

func startWatcher(t *testing.T, dir string, pipe *pipeline.Pipeline) *Watcher {
	t.Helper()
	w, err := New(dir, pipe)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func waitForFile(t *testing.T, path string, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			return data
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("file %s never appeared", path)
	return nil
}

func TestWatcherProcessesTaskFile(t *testing.T) {
	dir := t.TempDir()
	startWatcher(t, dir, testPipeline(t, nil))

	taskPath := filepath.Join(dir, "hello.task")
	if err := os.WriteFile(taskPath, []byte("say hello\n"), 0644); err != nil {
		t.Fatalf("failed to write task: %v", err)
	}

	data := waitForFile(t, filepath.Join(dir, "hello.result"), 3*time.Second)

	var rec core.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("result is not a record: %v", err)
	}
	if rec.Decision.Action != core.ActionExecute {
		t.Errorf("action = %s, want execute", rec.Decision.Action)
	}
	if rec.Result == nil || rec.Result.Stdout != "hello\n" {
		t.Errorf("result = %+v, want echoed output", rec.Result)
	}
	if rec.Request.Source != core.SourceFile {
		t.Errorf("source = %s, want file", rec.Request.Source)
	}
	if rec.Request.SourceLabel != "hello.task" {
		t.Errorf("source label = %q, want the task filename", rec.Request.SourceLabel)
	}

	// The task file itself is consumed.
	if _, err := os.Stat(taskPath); !os.IsNotExist(err) {
		t.Errorf("task file still present after processing")
	}
}

func TestWatcherSweepsExistingTasks(t *testing.T) {
	dir := t.TempDir()

	// Task dropped before the watcher comes up, e.g. across a restart.
	if err := os.WriteFile(filepath.Join(dir, "pending.task"), []byte("say hello"), 0644); err != nil {
		t.Fatalf("failed to write task: %v", err)
	}

	startWatcher(t, dir, testPipeline(t, nil))

	data := waitForFile(t, filepath.Join(dir, "pending.result"), 3*time.Second)

	var rec core.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("result is not a record: %v", err)
	}
	if rec.Decision.Action != core.ActionExecute {
		t.Errorf("action = %s, want execute", rec.Decision.Action)
	}
}

func TestWatcherWritesErrorFile(t *testing.T) {
	dir := t.TempDir()
	startWatcher(t, dir, testPipeline(t, brokenStore{}))

	if err := os.WriteFile(filepath.Join(dir, "doomed.task"), []byte("say hello"), 0644); err != nil {
		t.Fatalf("failed to write task: %v", err)
	}

	data := waitForFile(t, filepath.Join(dir, "doomed.error"), 3*time.Second)
	if len(data) == 0 {
		t.Error("error file is empty")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	startWatcher(t, dir, testPipeline(t, nil))

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("say hello"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	for _, name := range []string{"notes.result", "notes.error"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			t.Errorf("%s appeared for a non-task file", name)
		}
	}
}

func TestWatcherProcessesConcurrentTasks(t *testing.T) {
	dir := t.TempDir()
	startWatcher(t, dir, testPipeline(t, nil))

	names := []string{"one", "two", "three"}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n+".task"), []byte("say hello"), 0644); err != nil {
			t.Fatalf("failed to write task: %v", err)
		}
	}

	for _, n := range names {
		waitForFile(t, filepath.Join(dir, n+".result"), 5*time.Second)
	}
}
