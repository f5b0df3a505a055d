package ruleseed

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 200 * time.Millisecond

// Watch re-imports the seed file whenever it changes, until ctx is cancelled.
// The parent directory is watched so editors that replace the file by rename
// are picked up. cb, when non-nil, is called after every successful import.
func (s *Seeder) Watch(ctx context.Context, cb func(Result)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	s.logger.Info("ruleseed: watching", slog.String("path", s.path))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
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
			s.logger.Info("ruleseed: stopped")
			return nil

		case <-fire:
			res, err := s.Import(ctx)
			if err != nil {
				s.logger.Warn("ruleseed: import failed", slog.String("error", err.Error()))
				continue
			}
			if !res.Unchanged && cb != nil {
				cb(res)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("ruleseed: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
