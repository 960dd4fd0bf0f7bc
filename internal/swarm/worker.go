package swarm

import (
	"context"
	"log/slog"
	"time"

	"github.com/floradistro/wilson/internal/metrics"
)

// DefaultWorkerPollInterval is how often an idle worker checks for newly
// runnable work.
const DefaultWorkerPollInterval = 500 * time.Millisecond

// TaskRunner executes one task's goal to completion, typically by driving
// an agentloop.Loop with auto-approve permissions inside task.WorkDir
// (spec §4.E worker loop). Implementations must not panic; RunTask's own
// error return is converted into a failed TaskResult.
type TaskRunner interface {
	RunTask(ctx context.Context, task *Task) (*TaskResult, error)
}

// Worker repeatedly dequeues a runnable task, executes it via Runner, and
// pushes the outcome to the completion queue for the validator.
type Worker struct {
	ID           string
	Runner       TaskRunner
	Queue        *Queue
	PollInterval time.Duration
	Logger       *slog.Logger

	// Metrics records tasks claimed when set. Nil skips recording.
	Metrics *metrics.Metrics
}

// NewWorker builds a Worker against queue, using DefaultWorkerPollInterval
// and slog.Default() if left unset on the returned value.
func NewWorker(id string, runner TaskRunner, queue *Queue) *Worker {
	return &Worker{
		ID:           id,
		Runner:       runner,
		Queue:        queue,
		PollInterval: DefaultWorkerPollInterval,
		Logger:       slog.Default(),
	}
}

// Run drives the worker loop until ctx is canceled or the swarm reports
// done (spec §4.E termination: observed via Queue.Done).
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := w.Queue.Done()
		if err != nil {
			return err
		}
		if done {
			w.Logger.Info("worker exiting, swarm complete", "worker", w.ID)
			return nil
		}

		task, err := w.Queue.Dequeue()
		if err != nil {
			return err
		}
		if task == nil {
			select {
			case <-time.After(w.PollInterval):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		task.AssignedWorker = w.ID
		w.Logger.Info("worker picked up task", "worker", w.ID, "task", task.ID, "goal", task.Goal)
		if w.Metrics != nil {
			w.Metrics.RecordTaskClaimed(w.ID)
		}

		result, runErr := w.Runner.RunTask(ctx, task)
		if runErr != nil {
			result = &TaskResult{Success: false, Error: runErr.Error()}
			w.Logger.Warn("task execution failed", "worker", w.ID, "task", task.ID, "error", runErr)
		}
		task.Result = result

		// Both outcomes go to the completion queue; the validator decides
		// whether a failure is retried or terminal.
		if err := w.Queue.PushCompletion(task); err != nil {
			return err
		}
	}
}
