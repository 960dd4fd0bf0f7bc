package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/floradistro/wilson/internal/agentloop"
	"github.com/floradistro/wilson/internal/config"
	"github.com/floradistro/wilson/internal/metrics"
	"github.com/floradistro/wilson/internal/swarm"
	"github.com/floradistro/wilson/pkg/wilson"
)

// buildSwarmCmd creates the "swarm" command group: the three independent
// processes (worker, validator, commander) that coordinate through a
// shared directory, per spec §4.E.
func buildSwarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swarm",
		Short: "Run a swarm orchestrator process (worker, validator, or commander)",
	}

	cmd.AddCommand(
		buildSwarmWorkerCmd(),
		buildSwarmValidatorCmd(),
		buildSwarmCommanderCmd(),
	)

	return cmd
}

func swarmContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func buildSwarmWorkerCmd() *cobra.Command {
	var (
		configPath string
		workerID   string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Claim runnable tasks from the goal queue and execute them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return err
			}
			if workerID == "" {
				workerID = "worker-" + uuid.NewString()[:8]
			}
			ctx, cancel := swarmContext(cmd.Context())
			defer cancel()
			return runSwarmWorker(ctx, cfg, workerID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "wilson.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&workerID, "id", "", "Worker identifier (default: a generated id)")

	return cmd
}

func runSwarmWorker(ctx context.Context, cfg *config.Config, workerID string) error {
	m := metrics.New()
	queue := swarm.NewQueue(cfg.Swarm.RootDir, swarm.LockOptions{Timeout: cfg.Swarm.LockTimeout})
	queue.Metrics = m

	loop, shutdownTracer, err := buildLoop(cfg, m, false)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	runner := &loopTaskRunner{loop: loop, metrics: m}
	worker := swarm.NewWorker(workerID, runner, queue)
	worker.PollInterval = cfg.Swarm.PollInterval
	worker.Logger = slog.Default().With("worker", workerID)
	worker.Metrics = m

	return worker.Run(ctx)
}

func buildSwarmValidatorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validator",
		Short: "Validate completed tasks and requeue or fail them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := swarmContext(cmd.Context())
			defer cancel()
			return runSwarmValidator(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "wilson.yaml", "Path to YAML configuration file")

	return cmd
}

func runSwarmValidator(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	queue := swarm.NewQueue(cfg.Swarm.RootDir, swarm.LockOptions{Timeout: cfg.Swarm.LockTimeout})
	queue.Metrics = m
	validator := swarm.NewValidator(queue, resultCheck)
	validator.PollInterval = cfg.Swarm.PollInterval
	validator.Metrics = m
	return validator.Run(ctx)
}

// resultCheck is the baseline validation every completed task must pass:
// the worker itself reported success. Harder checks (build, test, lint)
// belong in tool-specific Check implementations added alongside this one.
func resultCheck(ctx context.Context, task *swarm.Task) (bool, error) {
	if task.Result == nil {
		return false, nil
	}
	return task.Result.Success, nil
}

func buildSwarmCommanderCmd() *cobra.Command {
	var (
		configPath string
		goal       string
		tasksFlag  []string
	)

	cmd := &cobra.Command{
		Use:   "commander",
		Short: "Enqueue a goal's tasks and wait for the swarm to finish",
		Long: `Enqueue a goal's tasks and wait for the swarm to finish.

Tasks are given as repeated --task flags, each "goal text" or
"goal text:work_dir" (work_dir defaults to "."). They are enqueued in the
order given, with no dependencies between them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := swarmContext(cmd.Context())
			defer cancel()
			return runSwarmCommander(ctx, cfg, goal, tasksFlag)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "wilson.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&goal, "goal", "", "The overall goal being decomposed")
	cmd.Flags().StringArrayVar(&tasksFlag, "task", nil, `A task goal, optionally "goal:work_dir"`)

	return cmd
}

func runSwarmCommander(ctx context.Context, cfg *config.Config, goal string, taskSpecs []string) error {
	if len(taskSpecs) == 0 {
		return fmt.Errorf("swarm commander: at least one --task is required")
	}

	queue := swarm.NewQueue(cfg.Swarm.RootDir, swarm.LockOptions{Timeout: cfg.Swarm.LockTimeout})
	commander := swarm.NewCommander(queue)

	tasks := make([]*swarm.Task, 0, len(taskSpecs))
	for _, spec := range taskSpecs {
		goalText, workDir, _ := strings.Cut(spec, ":")
		if workDir == "" {
			workDir = "."
		}
		t := swarm.NewTask(goalText, workDir)
		t.MaxRetries = cfg.Swarm.MaxRetries
		tasks = append(tasks, t)
	}

	if err := commander.Launch(goal, tasks); err != nil {
		return fmt.Errorf("launch swarm: %w", err)
	}

	state, err := commander.AwaitCompletion(ctx, cfg.Swarm.PollInterval)
	if err != nil {
		return fmt.Errorf("await swarm completion: %w", err)
	}

	fmt.Printf("swarm finished: %d/%d completed, %d failed\n",
		len(state.CompletedTasks), state.TotalTasks, len(state.FailedTasks))
	return nil
}

// loopTaskRunner drives an agentloop.Loop to completion for one swarm
// task's goal, implementing swarm.TaskRunner.
type loopTaskRunner struct {
	loop    *agentloop.Loop
	metrics *metrics.Metrics
}

func (r *loopTaskRunner) RunTask(ctx context.Context, task *swarm.Task) (*swarm.TaskResult, error) {
	start := time.Now()
	userMsg := wilson.Message{Role: wilson.RoleUser, Content: task.Goal, Timestamp: time.Now()}

	var sb strings.Builder
	var runErr error
	for ev := range r.loop.Send(ctx, task.ID, nil, userMsg) {
		if ev.Text != "" {
			sb.WriteString(ev.Text)
		}
		if ev.Err != nil {
			runErr = ev.Err
		}
	}
	r.metrics.RecordTaskDuration(time.Since(start))

	if runErr != nil {
		return &swarm.TaskResult{Success: false, Error: runErr.Error()}, nil
	}
	return &swarm.TaskResult{Success: true, Summary: sb.String()}, nil
}
