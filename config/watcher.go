package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/meikuraledutech/buildgraph"
)

// Applier receives freshly loaded definitions. The coordinator
// implements it; applying upserts the records and invalidates caches.
type Applier interface {
	ApplyDefinitions(ctx context.Context, tasks []buildgraph.Task, builds []buildgraph.Build) (int, int, error)
}

// Watcher re-applies the task and build definition files whenever they
// change on disk. Load and apply failures are logged, never fatal; the
// previous state stays in effect until a good version lands.
type Watcher struct {
	loader     *Loader
	applier    Applier
	logger     *slog.Logger
	tasksPath  string
	buildsPath string

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for the two definition files. Start must
// be called to begin watching.
func NewWatcher(loader *Loader, applier Applier, tasksPath, buildsPath string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("buildgraph: create watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		loader:     loader,
		applier:    applier,
		logger:     logger,
		tasksPath:  filepath.Clean(tasksPath),
		buildsPath: filepath.Clean(buildsPath),
		watcher:    fsw,
	}, nil
}

// Start watches the directories holding the definition files and
// launches the event loop. Directories are watched rather than the
// files themselves because editors replace files by rename.
func (w *Watcher) Start(ctx context.Context) error {
	dirs := map[string]bool{
		filepath.Dir(w.tasksPath):  true,
		filepath.Dir(w.buildsPath): true,
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("buildgraph: watch %s: %w", dir, err)
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.eventLoop(ctx)

	w.logger.Info("watching definition files", "tasks", w.tasksPath, "builds", w.buildsPath)
	return nil
}

// Stop halts the event loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name := filepath.Clean(event.Name); name != w.tasksPath && name != w.buildsPath {
				continue
			}
			w.apply(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("definition watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

// apply loads both definition files and hands them to the applier. A
// file that is missing contributes nothing; a file that fails to load
// aborts the round so a half-written file cannot clobber good state.
func (w *Watcher) apply(ctx context.Context) {
	tasks, err := w.loader.LoadTasks(w.tasksPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("definition reload failed", "path", w.tasksPath, "error", err)
		return
	}

	builds, err := w.loader.LoadBuilds(w.buildsPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("definition reload failed", "path", w.buildsPath, "error", err)
		return
	}

	if len(tasks) == 0 && len(builds) == 0 {
		return
	}

	applied, appliedBuilds, err := w.applier.ApplyDefinitions(ctx, tasks, builds)
	if err != nil {
		w.logger.Warn("definition apply failed", "error", err)
		return
	}
	w.logger.Info("definitions applied", "tasks", applied, "builds", appliedBuilds)
}
