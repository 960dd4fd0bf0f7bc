package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/floradistro/wilson/internal/metrics"
)

// DefaultValidatorPollInterval is how often an idle validator checks the
// completion queue for new entries.
const DefaultValidatorPollInterval = 500 * time.Millisecond

// Check is one validation step run against a completed task (files
// present, syntax check, build, tests, ...). A Check that itself errors
// (e.g. the build command isn't installed) is treated as pass-through per
// spec §4.E failure semantics, never as a validation failure — only an
// explicit false return counts against the task.
type Check func(ctx context.Context, task *Task) (bool, error)

// Validator pops tasks from the completion queue and runs them through a
// chain of Checks, moving each task to completed or requeuing/failing it.
type Validator struct {
	Queue        *Queue
	Checks       []Check
	PollInterval time.Duration
	Logger       *slog.Logger

	// Metrics records validation decisions when set. Nil skips recording.
	Metrics *metrics.Metrics
}

// NewValidator builds a Validator with DefaultValidatorPollInterval.
func NewValidator(queue *Queue, checks ...Check) *Validator {
	return &Validator{
		Queue:        queue,
		Checks:       checks,
		PollInterval: DefaultValidatorPollInterval,
		Logger:       slog.Default(),
	}
}

// Run drives the validator loop until ctx is canceled or the swarm
// reports done.
func (v *Validator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := v.Queue.Done()
		if err != nil {
			return err
		}
		if done {
			v.Logger.Info("validator exiting, swarm complete")
			return nil
		}

		task, err := v.Queue.PopCompletion()
		if err != nil {
			return err
		}
		if task == nil {
			select {
			case <-time.After(v.PollInterval):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := v.validate(ctx, task); err != nil {
			return err
		}
	}
}

func (v *Validator) validate(ctx context.Context, task *Task) error {
	task.Status = TaskValidating

	if task.Result != nil && !task.Result.Success {
		return v.reject(task, task.Result.Error)
	}

	for _, check := range v.Checks {
		ok, err := check(ctx, task)
		if err != nil {
			// A check that errors is pass-through, not a failure.
			v.Logger.Warn("validation check errored, treating as pass", "task", task.ID, "error", err)
			continue
		}
		if !ok {
			return v.reject(task, fmt.Sprintf("validation check failed for task %s", task.ID))
		}
	}

	task.Status = TaskCompleted
	if v.Metrics != nil {
		v.Metrics.RecordValidation("passed")
	}
	if err := v.Queue.MarkCompleted(task.ID, task.AssignedWorker); err != nil {
		return err
	}
	return v.Queue.PostMessage("task_completed", "validator", "commander", task.ID)
}

func (v *Validator) reject(task *Task, reason string) error {
	task.RetryCount++
	if task.RetryCount < task.MaxRetries {
		v.Logger.Warn("task failed validation, requeuing", "task", task.ID, "retry", task.RetryCount, "reason", reason)
		if v.Metrics != nil {
			v.Metrics.RecordValidation("requeued")
		}
		return v.Queue.RequeueGoal(task)
	}

	task.Status = TaskFailed
	v.Logger.Warn("task failed validation, exhausted retries", "task", task.ID, "reason", reason)
	if v.Metrics != nil {
		v.Metrics.RecordValidation("failed")
	}
	if err := v.Queue.MarkFailed(task.ID, task.AssignedWorker); err != nil {
		return err
	}
	return v.Queue.PostMessage("task_failed", "validator", "commander", map[string]string{
		"task_id": task.ID,
		"reason":  reason,
	})
}
