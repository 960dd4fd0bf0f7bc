package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Commander decomposes a goal into tasks, enqueues them, and watches the
// swarm directory to completion (spec §4.E, "commander ↔ workers ↔
// validator"). Decomposition itself is supplied by the caller (typically
// an agent loop call that plans the task graph); Commander's job is
// enqueueing, observing, and reporting the resulting swarm run.
type Commander struct {
	Queue  *Queue
	Logger *slog.Logger
}

// NewCommander builds a Commander against queue.
func NewCommander(queue *Queue) *Commander {
	return &Commander{Queue: queue, Logger: slog.Default()}
}

// Launch enqueues every task, initializes state.json for len(tasks)
// total tasks, and posts a goal_started message.
func (c *Commander) Launch(goal string, tasks []*Task) error {
	if err := c.Queue.InitState(len(tasks), goal); err != nil {
		return fmt.Errorf("init swarm state: %w", err)
	}
	for _, t := range tasks {
		if err := c.Queue.Enqueue(t); err != nil {
			return fmt.Errorf("enqueue task %s: %w", t.ID, err)
		}
	}
	if err := c.Queue.MarkRunning(); err != nil {
		return fmt.Errorf("mark swarm running: %w", err)
	}
	return c.Queue.PostMessage("goal_started", "commander", "*", goal)
}

// AwaitCompletion blocks until the swarm finishes (every task completed
// or failed) or ctx is canceled, waking on either a filesystem change to
// the swarm directory (via fsnotify, as an alternative to pure polling)
// or a fallback poll interval, whichever comes first.
func (c *Commander) AwaitCompletion(ctx context.Context, pollInterval time.Duration) (*State, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultValidatorPollInterval
	}

	watcher, err := c.watchDir()
	if err != nil {
		c.Logger.Warn("falling back to pure polling, fsnotify watch failed", "error", err)
	} else {
		defer watcher.Close()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		state, err := c.Queue.LoadState()
		if err != nil {
			return nil, err
		}
		if state.Status == StatusCompleted || state.Status == StatusFailed {
			return state, nil
		}

		var wake <-chan fsnotify.Event
		var wakeErr <-chan error
		if watcher != nil {
			wake = watcher.Events
			wakeErr = watcher.Errors
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
		case <-wake:
		case werr := <-wakeErr:
			c.Logger.Warn("fsnotify watch error", "error", werr)
		}
	}
}

func (c *Commander) watchDir() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(c.Queue.dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}
