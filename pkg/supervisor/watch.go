package supervisor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"uibridge/pkg/eventlog"
	"uibridge/pkg/protocol"
)

// WatchExecutable marks the current worker stale whenever the file at path
// is written, created or renamed into place. The next Ensure replaces a
// stale worker. It blocks until ctx is done.
func (s *Supervisor) WatchExecutable(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors and linkers replace the file by rename.
	dir := filepath.Dir(abs)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.markStale(ctx, abs)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("executable watcher error", zap.Error(werr))
		}
	}
}

func (s *Supervisor) markStale(ctx context.Context, path string) {
	h := s.Current()
	if h == nil || h.Stale() {
		return
	}
	h.markStale()
	s.logger.Info("worker executable changed", zap.Int("pid", h.PID()), zap.String("path", path))
	s.record(ctx, eventlog.Event{
		Type:    protocol.EventWorkerStale,
		PID:     h.PID(),
		Payload: eventlog.Payload(map[string]any{"path": path}),
	})
}
