package swarm

import (
	"path/filepath"
	"time"

	"github.com/floradistro/wilson/internal/metrics"
)

// Queue mediates every read-modify-write on one swarm directory's
// goal-queue.jsonl, completion-queue.jsonl, state.json, and
// messages.jsonl, each operation wrapped in the swarm lock.
type Queue struct {
	dir      string
	lockOpts LockOptions

	// Metrics records lock-wait latency and queue-depth gauges when set.
	// Nil is valid and simply skips recording.
	Metrics *metrics.Metrics
}

// NewQueue builds a Queue rooted at dir (created if missing on first use).
func NewQueue(dir string, lockOpts LockOptions) *Queue {
	return &Queue{dir: dir, lockOpts: lockOpts}
}

// withLock wraps WithLock with lock-wait timing, recorded against
// q.Metrics when set.
func (q *Queue) withLock(fn func() error) error {
	start := time.Now()
	err := WithLock(q.dir, q.lockOpts, fn)
	if q.Metrics != nil {
		q.Metrics.RecordLockWait(time.Since(start))
	}
	return err
}

func (q *Queue) goalPath() string       { return filepath.Join(q.dir, "goal-queue.jsonl") }
func (q *Queue) completionPath() string { return filepath.Join(q.dir, "completion-queue.jsonl") }
func (q *Queue) statePath() string      { return filepath.Join(q.dir, "state.json") }
func (q *Queue) messagesPath() string   { return filepath.Join(q.dir, "messages.jsonl") }

// Enqueue appends task to the goal queue.
func (q *Queue) Enqueue(task *Task) error {
	var err error
	var depth int
	lockErr := q.withLock(func() error {
		err = appendJSONL(q.goalPath(), task)
		if err != nil {
			return err
		}
		tasks, readErr := readJSONL[*Task](q.goalPath())
		if readErr != nil {
			return readErr
		}
		depth = len(tasks)
		return nil
	})
	if lockErr != nil {
		return lockErr
	}
	if err == nil && q.Metrics != nil {
		q.Metrics.SetQueueDepth(depth)
	}
	return err
}

// Dequeue pops the highest-priority pending task whose dependencies are
// all in the state's completed set, marks it in_progress, persists the
// rewritten goal queue, and returns it. Ties keep goal-queue order.
// Returns (nil, nil) if no task is runnable.
func (q *Queue) Dequeue() (*Task, error) {
	var found *Task
	var depth int
	err := q.withLock(func() error {
		tasks, err := readJSONL[*Task](q.goalPath())
		if err != nil {
			return err
		}
		state, err := q.loadStateLocked()
		if err != nil {
			return err
		}
		completed := toSet(state.CompletedTasks)

		for _, t := range tasks {
			if !t.Runnable(completed) {
				continue
			}
			if found == nil || t.Priority > found.Priority {
				found = t
			}
		}
		if found == nil {
			depth = len(tasks)
			return nil
		}
		found.Status = TaskInProgress
		found.UpdatedAt = time.Now()
		remaining := make([]*Task, 0, len(tasks)-1)
		for _, t := range tasks {
			if t != found {
				remaining = append(remaining, t)
			}
		}
		depth = len(remaining)
		return rewriteJSONL(q.goalPath(), remaining)
	})
	if err != nil {
		return nil, err
	}
	if q.Metrics != nil {
		q.Metrics.SetQueueDepth(depth)
	}
	return found, nil
}

// PushCompletion appends task (successful or failed) to the completion
// queue for the validator to pick up.
func (q *Queue) PushCompletion(task *Task) error {
	return q.withLock(func() error {
		return appendJSONL(q.completionPath(), task)
	})
}

// PopCompletion pops and returns the first entry of the completion queue.
// Returns (nil, nil) if it is empty.
func (q *Queue) PopCompletion() (*Task, error) {
	var found *Task
	err := q.withLock(func() error {
		tasks, err := readJSONL[*Task](q.completionPath())
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		found = tasks[0]
		return rewriteJSONL(q.completionPath(), tasks[1:])
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// RequeueGoal re-appends task to the goal queue (validator retry path),
// after resetting it to pending.
func (q *Queue) RequeueGoal(task *Task) error {
	task.Status = TaskPending
	task.UpdatedAt = time.Now()
	return q.Enqueue(task)
}

// MarkCompleted records taskID as completed in state.json and bumps the
// owning worker's stats if workerID is non-empty.
func (q *Queue) MarkCompleted(taskID, workerID string) error {
	return q.withLock(func() error {
		state, err := q.loadStateLocked()
		if err != nil {
			return err
		}
		state.CompletedTasks = appendUnique(state.CompletedTasks, taskID)
		q.bumpWorkerStat(state, workerID, true)
		state.recomputeProgress()
		state.UpdatedAt = time.Now()
		return writeJSONAtomic(q.statePath(), state)
	})
}

// MarkFailed records taskID as failed in state.json and bumps the owning
// worker's stats if workerID is non-empty.
func (q *Queue) MarkFailed(taskID, workerID string) error {
	return q.withLock(func() error {
		state, err := q.loadStateLocked()
		if err != nil {
			return err
		}
		state.FailedTasks = appendUnique(state.FailedTasks, taskID)
		q.bumpWorkerStat(state, workerID, false)
		state.recomputeProgress()
		state.UpdatedAt = time.Now()
		return writeJSONAtomic(q.statePath(), state)
	})
}

// InitState writes the initial "initializing" state for totalTasks tasks
// working toward goal, if state.json does not already exist.
func (q *Queue) InitState(totalTasks int, goal string) error {
	return q.withLock(func() error {
		var existing State
		if err := readJSON(q.statePath(), &existing); err != nil {
			return err
		}
		if existing.TotalTasks > 0 {
			return nil
		}
		return writeJSONAtomic(q.statePath(), NewState(totalTasks, goal))
	})
}

// MarkRunning transitions state.json from "initializing" to "running"
// once every task has been enqueued (spec §3: SwarmState.status ∈
// {initializing, running, completed, failed}). A no-op once the swarm has
// left "initializing".
func (q *Queue) MarkRunning() error {
	return q.withLock(func() error {
		state, err := q.loadStateLocked()
		if err != nil {
			return err
		}
		if state.Status != StatusInitializing {
			return nil
		}
		state.Status = StatusRunning
		state.UpdatedAt = time.Now()
		return writeJSONAtomic(q.statePath(), state)
	})
}

// LoadState reads state.json without taking the lock (spec §5:
// "read-only reads of state.json ... bypass the lock").
func (q *Queue) LoadState() (*State, error) {
	state := &State{}
	if err := readJSON(q.statePath(), state); err != nil {
		return nil, err
	}
	return state, nil
}

func (q *Queue) loadStateLocked() (*State, error) {
	state := &State{}
	if err := readJSON(q.statePath(), state); err != nil {
		return nil, err
	}
	if state.WorkerStats == nil {
		state.WorkerStats = make(map[string]*WorkerStats)
	}
	return state, nil
}

func (q *Queue) bumpWorkerStat(state *State, workerID string, success bool) {
	if workerID == "" {
		return
	}
	stat, ok := state.WorkerStats[workerID]
	if !ok {
		stat = &WorkerStats{}
		state.WorkerStats[workerID] = stat
	}
	if success {
		stat.TasksCompleted++
	} else {
		stat.TasksFailed++
	}
}

// PostMessage appends a typed inter-agent message to messages.jsonl.
func (q *Queue) PostMessage(msgType, from, to string, payload interface{}) error {
	msg := Message{Type: msgType, From: from, To: to, Payload: payload, Timestamp: time.Now()}
	return q.withLock(func() error {
		return appendJSONL(q.messagesPath(), &msg)
	})
}

// ReadMessages returns every message posted so far, without taking the
// lock (read-only).
func (q *Queue) ReadMessages() ([]Message, error) {
	return readJSONL[Message](q.messagesPath())
}

// Done reports whether the swarm has finished: the goal and completion
// queues are both empty and every known task is completed or failed.
func (q *Queue) Done() (bool, error) {
	goalTasks, err := readJSONL[*Task](q.goalPath())
	if err != nil {
		return false, err
	}
	completionTasks, err := readJSONL[*Task](q.completionPath())
	if err != nil {
		return false, err
	}
	if len(goalTasks) > 0 || len(completionTasks) > 0 {
		return false, nil
	}
	state, err := q.LoadState()
	if err != nil {
		return false, err
	}
	return state.TotalTasks > 0 && len(state.CompletedTasks)+len(state.FailedTasks) >= state.TotalTasks, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
