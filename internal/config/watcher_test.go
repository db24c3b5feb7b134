package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(path, []byte("execution_mode: prompt\n"), 0644); err != nil {
		t.Fatal(err)
	}

	changeChan := make(chan struct{}, 1)
	watcher, err := NewWatcher(path, func() {
		select {
		case changeChan <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(path, []byte("execution_mode: dry_run\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changeChan:
	case <-time.After(3 * time.Second):
		t.Error("timeout waiting for change detection")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(path, []byte("execution_mode: prompt\n"), 0644); err != nil {
		t.Fatal(err)
	}

	changeChan := make(chan struct{}, 1)
	watcher, err := NewWatcher(path, func() {
		select {
		case changeChan <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer watcher.Close()

	other := filepath.Join(dir, "unrelated.txt")
	if err := os.WriteFile(other, []byte("noise"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changeChan:
		t.Error("unexpected change detection for sibling file")
	case <-time.After(1 * time.Second):
		// Expected - no change should be detected
	}
}
