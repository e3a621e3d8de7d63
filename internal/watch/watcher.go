// Package watch re-runs the pipeline when the codes file changes.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tariffsync/internal/checksum"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// Trigger is called once per settled content change of the watched file.
type Trigger func(ctx context.Context)

// Watch watches path until ctx is cancelled and calls fire after each change
// that alters the file's content. The parent directory is watched rather than
// the file itself so that atomic replace-by-rename saves are seen.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, fire Trigger) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	last := fileSum(abs)
	logger.Info("watcher: started", slog.String("path", abs))

	var timer *time.Timer
	var settled <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			settled = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-settled:
			timer, settled = nil, nil
			sum := fileSum(abs)
			if sum == "" || sum == last {
				continue
			}
			last = sum
			logger.Info("watcher: codes file changed", slog.String("path", abs))
			fire(ctx)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// fileSum returns the content checksum, or "" when the file is unreadable
// (mid-save or removed).
func fileSum(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	sum, err := checksum.SumReader(f)
	if err != nil {
		return ""
	}
	return sum
}
