package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/floradistro/wilson/internal/agentloop"
	"github.com/floradistro/wilson/internal/compaction"
	"github.com/floradistro/wilson/internal/config"
	"github.com/floradistro/wilson/internal/llm/anthropic"
	"github.com/floradistro/wilson/internal/metrics"
	"github.com/floradistro/wilson/internal/telemetry"
	"github.com/floradistro/wilson/internal/tools"
	"github.com/floradistro/wilson/internal/tools/policy"
	"github.com/floradistro/wilson/pkg/wilson"
)

// buildRunCmd creates the "run" command, which drives one interactive
// conversation against the agent loop, reading user turns from stdin and
// streaming the assistant's reply to stdout until EOF or Ctrl-C.
func buildRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive agent loop session",
		Long: `Start an interactive agent loop session.

Each line typed at the prompt is sent as a user turn. The assistant's
reply streams to stdout as it arrives. Press Ctrl-C or send EOF to exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "wilson.yaml", "Path to YAML configuration file")

	return cmd
}

func runInteractive(ctx context.Context, configPath string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	loop, shutdownTracer, err := buildLoop(cfg, m, true)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	sessionID := "cli-" + time.Now().UTC().Format("20060102T150405")
	var history []wilson.Message

	stdin := bufio.NewReader(os.Stdin)
	tools.SetInteractiveIO(os.Stderr, stdin)

	fmt.Fprint(os.Stderr, "> ")
	for {
		line, err := stdin.ReadString('\n')
		if strings.TrimSpace(line) == "" {
			if err != nil {
				break
			}
			fmt.Fprint(os.Stderr, "> ")
			continue
		}
		line = strings.TrimRight(line, "\n")

		userMsg := wilson.Message{Role: wilson.RoleUser, Content: line, Timestamp: time.Now()}
		start := time.Now()
		m.SessionStarted()

		depth := 0
		outcome := "completed"
		for ev := range loop.Send(ctx, sessionID, history, userMsg) {
			if ev.Text != "" {
				fmt.Print(ev.Text)
			}
			if ev.Phase == agentloop.PhaseAppended {
				depth++
			}
			if ev.Err != nil {
				outcome = "error"
				fmt.Fprintf(os.Stderr, "\nerror: %v\n", ev.Err)
			}
			if ev.Done {
				fmt.Println()
				assistantMsg := wilson.Message{Role: wilson.RoleAssistant, Content: ev.Text, Timestamp: time.Now()}
				if ev.Message != nil {
					assistantMsg = *ev.Message
				}
				history = append(history, userMsg, assistantMsg)
			}
		}

		m.SessionEnded()
		m.RecordTurn(time.Since(start).Seconds(), outcome, depth)
		fmt.Fprint(os.Stderr, "> ")
	}

	return nil
}

func loadConfigOrDefault(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		slog.Warn("config file not found, using defaults from environment", "path", path)
		cfg := &config.Config{}
		cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("WILSON_ANTHROPIC_API_KEY"))
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
		}
		data := []byte("llm:\n  api_key: \"" + cfg.LLM.APIKey + "\"\n")
		tmp, err := os.CreateTemp("", "wilson-*.yaml")
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			return nil, err
		}
		tmp.Close()
		return config.Load(tmp.Name())
	}
	return config.Load(path)
}

// buildLoop wires an agentloop.Loop from cfg: an Anthropic backend, a tool
// dispatcher over the configured policy profile, and a context-window
// compactor, following the same wiring every swarm worker also needs. It
// returns the tracing shutdown func alongside the loop so callers can
// defer it; when cfg.Tracing.Enabled is false the returned func is a
// no-op.
//
// interactive controls ask_user's Asker: an interactive CLI session prompts
// on stderr and reads the reply from stdin (wired separately via
// tools.SetInteractiveIO), a
// headless swarm worker has no terminal to prompt and fails the call
// immediately instead of blocking forever.
func buildLoop(cfg *config.Config, m *metrics.Metrics, interactive bool) (*agentloop.Loop, func(context.Context) error, error) {
	backend, err := anthropic.NewBackend(anthropic.Config{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.DefaultModel,
		MaxTokens:    cfg.LLM.MaxTokens,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryDelay:   cfg.LLM.RetryDelay,
		SystemPrompt: cfg.LLM.SystemPrompt,
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build backend: %w", err)
	}

	registry := tools.NewRegistry()
	shellTool := tools.NewShellTool(".")
	registry.Register(shellTool)
	registry.Register(tools.NewShellOutputTool(shellTool))
	registry.Register(tools.NewShellKillTool(shellTool))
	registry.Register(tools.NewTodoTool())

	var asker tools.Asker
	if !interactive {
		asker = headlessAsker
	}
	registry.Register(tools.NewAskUserTool(asker))

	approvals := policy.NewApprovalManager(nil)
	dispatcher := tools.NewDispatcher(registry, approvals, tools.DefaultDispatcherConfig())

	p := policy.NewPolicyBuilder().WithProfile(policy.Profile(cfg.Tools.PolicyProfile)).Build()

	compactor := compaction.NewWilsonCompactor(compaction.WilsonCompactorConfig{
		MaxContextTokens: cfg.Loop.ContextWindowTokens,
		MaxHistoryShare:  cfg.Loop.CompactionThreshold,
	})

	loop := agentloop.New(backend, dispatcher, p, compactor, agentloop.Config{
		HardCap: cfg.Loop.MaxDepth,
	})
	loop.SetMetrics(m)

	endpoint := ""
	if cfg.Tracing.Enabled {
		endpoint = cfg.Tracing.Endpoint
	}
	tracer, shutdown := telemetry.New(telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    endpoint,
	})
	loop.SetTracer(tracer)

	return loop, shutdown, nil
}

// headlessAsker is ask_user's Asker for processes with no terminal attached
// (swarm workers): there is no one to prompt, so the call
// fails immediately rather than blocking until AskUserTimeout expires.
func headlessAsker(ctx context.Context, sessionID, question string) (string, error) {
	return "", fmt.Errorf("ask_user unavailable: no interactive terminal attached to this process")
}
