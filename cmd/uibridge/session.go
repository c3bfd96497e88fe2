package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"uibridge/pkg/eventlog"
	"uibridge/pkg/pipeline"
	"uibridge/pkg/supervisor"
)

// session is the controller side of one command: the pipeline client, its
// event log, and the optional executable watcher.
type session struct {
	client    *pipeline.Client
	store     *eventlog.Store
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// openSession wires event log, supervisor and pipeline from the loaded
// config. No worker is started until the first call.
func (g *globals) openSession(ctx context.Context) (*session, error) {
	s := &session{}

	var rec eventlog.Recorder = eventlog.Nop{}
	if g.cfg.EventLog.Enabled {
		path, err := g.cfg.DBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve event log path: %w", err)
		}
		store, err := eventlog.Open(ctx, path)
		if err != nil {
			// The bridge works without its history.
			g.logger.Warn("event log unavailable", zap.String("path", path), zap.Error(err))
		} else {
			s.store = store
			rec = store
		}
	}

	sup := supervisor.New(g.cfg.Supervisor(),
		supervisor.WithLogger(g.logger.Named("supervisor")),
		supervisor.WithRecorder(rec))
	s.client = pipeline.New(sup,
		pipeline.WithPolicy(g.cfg.Policy()),
		pipeline.WithLogger(g.logger.Named("pipeline")),
		pipeline.WithRecorder(rec))

	if g.cfg.Worker.WatchExecutable {
		path, err := workerExecutable(g.cfg.Worker.Command)
		if err != nil {
			g.logger.Warn("executable watch disabled", zap.Error(err))
		} else {
			wctx, cancel := context.WithCancel(ctx)
			s.stopWatch = cancel
			s.watchDone = make(chan struct{})
			go func() {
				defer close(s.watchDone)
				if err := sup.WatchExecutable(wctx, path); err != nil {
					g.logger.Warn("executable watch stopped", zap.String("path", path), zap.Error(err))
				}
			}()
		}
	}
	return s, nil
}

// Close stops the watcher and the worker, then the event log.
func (s *session) Close(ctx context.Context) error {
	if s.stopWatch != nil {
		s.stopWatch()
		<-s.watchDone
	}
	err := s.client.Close(ctx)
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close event log: %w", cerr)
		}
	}
	return err
}

func workerExecutable(command string) (string, error) {
	if command == "" {
		self, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate own executable: %w", err)
		}
		return self, nil
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("locate worker %s: %w", command, err)
	}
	return path, nil
}
