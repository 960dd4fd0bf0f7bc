package swarm

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is a task's position in the goal→completion→terminal pipeline.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskValidating TaskStatus = "validating"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// DefaultMaxRetries bounds how many times the validator requeues a task
// that fails validation before giving up on it.
const DefaultMaxRetries = 3

// TaskResult is what a worker or validator attaches to a Task once it has
// been attempted.
type TaskResult struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Task is one unit of work in the goal or completion queue.
type Task struct {
	ID             string      `json:"id"`
	Goal           string      `json:"goal"`
	WorkDir        string      `json:"work_dir"`
	DependsOn      []string    `json:"depends_on,omitempty"`
	Status         TaskStatus  `json:"status"`
	Priority       int         `json:"priority"`
	RetryCount     int         `json:"retry_count"`
	MaxRetries     int         `json:"max_retries"`
	AssignedWorker string      `json:"assigned_worker,omitempty"`
	Result         *TaskResult `json:"result,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// NewTask builds a pending Task with a fresh id.
func NewTask(goal, workDir string, dependsOn ...string) *Task {
	now := time.Now()
	return &Task{
		ID:         uuid.NewString(),
		Goal:       goal,
		WorkDir:    workDir,
		DependsOn:  dependsOn,
		Status:     TaskPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Runnable reports whether t is pending and every task it depends on is
// in completed (spec §4.E dequeue policy: dependency set a subset of the
// currently-completed set).
func (t *Task) Runnable(completed map[string]bool) bool {
	if t.Status != TaskPending {
		return false
	}
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// SwarmStatus is the swarm run's overall lifecycle state.
type SwarmStatus string

const (
	StatusInitializing SwarmStatus = "initializing"
	StatusRunning      SwarmStatus = "running"
	StatusCompleted    SwarmStatus = "completed"
	StatusFailed       SwarmStatus = "failed"
)

// State is the canonical swarm-wide snapshot persisted to state.json.
type State struct {
	Status         SwarmStatus             `json:"status"`
	Goal           string                  `json:"goal"`
	CompletedTasks []string                `json:"completed_tasks"`
	FailedTasks    []string                `json:"failed_tasks"`
	Progress       float64                 `json:"progress"`
	TotalTasks     int                     `json:"total_tasks"`
	WorkerStats    map[string]*WorkerStats `json:"worker_stats,omitempty"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// WorkerStats tracks one worker's lifetime completion counts.
type WorkerStats struct {
	TasksCompleted int `json:"tasks_completed"`
	TasksFailed    int `json:"tasks_failed"`
}

// NewState returns the initial "initializing" state for totalTasks tasks
// working toward goal. Commander.Launch transitions it to "running" once
// every task has been enqueued.
func NewState(totalTasks int, goal string) *State {
	return &State{
		Status:      StatusInitializing,
		Goal:        goal,
		TotalTasks:  totalTasks,
		WorkerStats: make(map[string]*WorkerStats),
		UpdatedAt:   time.Now(),
	}
}

// recomputeProgress derives Progress and a possible terminal status
// transition from the current completed/failed sets against TotalTasks.
// A swarm where every task failed is reported "failed"; any other
// full-completion mix (including partial failures) is "completed".
func (s *State) recomputeProgress() {
	if s.TotalTasks <= 0 {
		return
	}
	done := len(s.CompletedTasks) + len(s.FailedTasks)
	s.Progress = float64(done) / float64(s.TotalTasks) * 100
	if done >= s.TotalTasks {
		if len(s.FailedTasks) == s.TotalTasks {
			s.Status = StatusFailed
		} else {
			s.Status = StatusCompleted
		}
	}
}

// Message is one typed inter-agent message appended to messages.jsonl.
type Message struct {
	Type      string      `json:"type"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
