package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/core"
	"github.com/cmdwarden/warden/internal/pipeline"
)

const (
	taskSuffix   = ".task"
	resultSuffix = ".result"
	errorSuffix  = ".error"
	workSuffix   = ".working"
)

// Watcher turns files dropped into a directory into pipeline requests:
// a *.task file is read as the natural-language input and answered with
// a sibling *.result (the full record as JSON) or *.error file.
type Watcher struct {
	dir  string
	pipe *pipeline.Pipeline
	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

func New(dir string, pipe *pipeline.Pipeline) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create trigger directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:  dir,
		pipe: pipe,
		fsw:  fsw,
		done: make(chan struct{}),
	}, nil
}

// Start sweeps tasks already sitting in the directory, then follows
// filesystem events until the context ends or Close is called. Tasks
// run concurrently; each one awaits its own approval.
func (w *Watcher) Start(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("sweep trigger directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), taskSuffix) {
			continue
		}
		w.dispatch(ctx, filepath.Join(w.dir, e.Name()))
	}

	go w.run(ctx)
	log.Info().Str("dir", w.dir).Msg("trigger watcher started")
	return nil
}

// Close stops the event loop and waits for in-flight tasks.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, taskSuffix) {
				continue
			}
			w.dispatch(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	claimed, ok := w.claim(path)
	if !ok {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.handle(ctx, path, claimed)
	}()
}

// claim takes ownership of a task file by renaming it. The rename is
// atomic, so duplicate create/write events and the startup sweep can
// never process the same task twice.
func (w *Watcher) claim(path string) (string, bool) {
	claimed := path + workSuffix
	if err := os.Rename(path, claimed); err != nil {
		return "", false
	}
	return claimed, true
}

func (w *Watcher) handle(ctx context.Context, orig, claimed string) {
	defer os.Remove(claimed)

	label := filepath.Base(orig)

	data, err := os.ReadFile(claimed)
	if err != nil {
		log.Error().Err(err).Str("task", label).Msg("task read failed")
		w.writeError(orig, err)
		return
	}
	input := strings.TrimSpace(string(data))

	log.Info().Str("task", label).Msg("task file picked up")

	rec, err := w.pipe.Process(ctx, core.SourceFile, label, input)
	if err != nil {
		w.writeError(orig, err)
		return
	}
	w.writeResult(orig, rec)
}

func (w *Watcher) writeResult(taskPath string, rec core.Record) {
	out := strings.TrimSuffix(taskPath, taskSuffix) + resultSuffix
	data, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("task", filepath.Base(taskPath)).Msg("result encode failed")
		w.writeError(taskPath, err)
		return
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		log.Error().Err(err).Str("path", out).Msg("result write failed")
	}
}

func (w *Watcher) writeError(taskPath string, cause error) {
	out := strings.TrimSuffix(taskPath, taskSuffix) + errorSuffix
	if err := os.WriteFile(out, []byte(cause.Error()+"\n"), 0644); err != nil {
		log.Error().Err(err).Str("path", out).Msg("error write failed")
	}
}
