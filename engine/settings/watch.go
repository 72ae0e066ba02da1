package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
)

// WatchBuilderOption is a functional option for configuring Watch.
type WatchBuilderOption func(w *watcher)

// WithRetryWindow sets how long a reload keeps retrying a file that does not decode,
// which is what a partially written file looks like. Defaults to one second.
func WithRetryWindow(d time.Duration) WatchBuilderOption {
	return func(w *watcher) {
		w.retryWindow = d
	}
}

// WithInitial sets the settings changes are compared against. Reloads that decode to
// the same values are not delivered.
func WithInitial(s Settings) WatchBuilderOption {
	return func(w *watcher) {
		w.last = s.Clone()
		w.hasLast = true
	}
}

type watcher struct {
	path        string
	fn          func(Settings)
	retryWindow time.Duration
	last        Settings
	hasLast     bool
	fs          *fsnotify.Watcher
}

// Watch reloads the settings file at path whenever it changes and hands every new,
// valid version to fn as a private copy. It returns once the watch is in place; the
// watch runs until ctx is cancelled. Invalid versions are logged and skipped.
//
// Parameters:
//   - ctx: stops the watch when cancelled
//   - path: the settings file; its directory must exist
//   - fn: receives each new version, on the watch goroutine
//   - options: variadic list of WatchBuilderOption functions
//
// Returns:
//   - error: an error if the watch cannot be set up
func Watch(ctx context.Context, path string, fn func(Settings), options ...WatchBuilderOption) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("settings: watch: %w", err)
	}
	w := &watcher{path: abs, fn: fn, retryWindow: time.Second}
	for _, opt := range options {
		opt(w)
	}

	if w.fs, err = fsnotify.NewWatcher(); err != nil {
		return fmt.Errorf("settings: watch: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := w.fs.Add(filepath.Dir(abs)); err != nil {
		w.fs.Close()
		return fmt.Errorf("settings: watch: %w", err)
	}
	common.Logger().Debug("watching settings", "path", abs)
	go w.run(ctx)
	return nil
}

func (w *watcher) run(ctx context.Context) {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			w.reload(ctx)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			common.Logger().Warn("settings watch error", "path", w.path, "error", err)
		}
	}
}

// reload loads the file, retrying decode failures with exponential backoff until the
// retry window closes.
func (w *watcher) reload(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = w.retryWindow

	var s Settings
	err := backoff.Retry(func() error {
		var err error
		s, err = Load(w.path)
		if err != nil && !partial(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctx.Err() == nil {
			common.Logger().Warn("settings reload failed", "path", w.path, "error", err)
		}
		return
	}
	if w.hasLast && s.Equal(w.last) {
		return
	}
	w.last, w.hasLast = s, true
	common.Logger().Info("settings reloaded", "path", w.path)
	w.fn(s.Clone())
}

// partial reports whether err looks like a file caught mid-write.
func partial(err error) bool {
	var syntax *json.SyntaxError
	return errors.As(err, &syntax) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
