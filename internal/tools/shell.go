package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/floradistro/wilson/internal/shell"
	"github.com/floradistro/wilson/pkg/wilson"
)

// startupWindow is how long startBackground watches a detached child's
// output for a listening URL before returning (spec §4.B.4: "~2s").
const startupWindow = 2 * time.Second

// ShellTool runs a shell command. A command auto-classifies as background
// when it matches a well-known long-running-server pattern (dev servers,
// watchers, HTTP frameworks, databases); the caller can also force the
// classification either way with an explicit background flag. Detached
// processes are tracked as wilson.BackgroundProcess records (spec §3)
// until drained by ShellOutputTool or ended by ShellKillTool.
type ShellTool struct {
	registry *shell.ProcessRegistry
	workDir  string
	handles  sync.Map // session id -> *exec.Cmd, for Kill
}

// NewShellTool builds a ShellTool rooted at workDir. workDir is used as
// the default cwd for commands that don't set their own.
func NewShellTool(workDir string) *ShellTool {
	return &ShellTool{registry: shell.NewProcessRegistry(nil), workDir: workDir}
}

func (t *ShellTool) Name() string { return "shell_execute" }

func (t *ShellTool) Description() string {
	return "Runs a shell command via /bin/sh -c. Commands that look like a dev " +
		"server, watcher, or database (npm run dev, vite, rails server, " +
		"redis-server, ...) auto-start detached; set background=true or false " +
		"to override the classification. Poll a detached command's output " +
		"with shell_output and stop it with shell_kill."
}

// DispatchTimeout lets the dispatcher's generic per-call timeout stand
// aside for shell_execute: runSync enforces its own request-scoped
// timeout (default 2min, max 10min), so the dispatcher only needs to
// backstop at the protocol's absolute maximum.
func (t *ShellTool) DispatchTimeout() time.Duration { return shell.MaxForegroundTimeout }

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The shell command to run"},
			"cwd": {"type": "string", "description": "Working directory; defaults to the tool's root"},
			"timeout_seconds": {"type": "integer", "description": "Foreground timeout in seconds (default 120, max 600). Ignored when the command runs in the background"},
			"background": {"type": "boolean", "description": "Force detached (true) or synchronous (false) execution instead of auto-classifying the command"}
		},
		"required": ["command"]
	}`)
}

func (t *ShellTool) Execute(ctx context.Context, input map[string]interface{}) (*wilson.ToolResult, error) {
	command, _ := input["command"].(string)
	if command == "" {
		return &wilson.ToolResult{Success: false, Error: "command is required"}, nil
	}

	dir := t.workDir
	if cwd, ok := input["cwd"].(string); ok && cwd != "" {
		dir = cwd
	}

	background, explicit := input["background"].(bool)
	if !explicit {
		background = shell.IsLongRunningCommand(command)
	}
	if background {
		return t.startBackground(command, dir)
	}
	return t.runSync(ctx, command, dir, input)
}

func (t *ShellTool) runSync(ctx context.Context, command, dir string, input map[string]interface{}) (*wilson.ToolResult, error) {
	timeout := shell.DefaultForegroundTimeout
	if secs, ok := input["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	if timeout > shell.MaxForegroundTimeout {
		timeout = shell.MaxForegroundTimeout
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}
	// Stdin is closed immediately: shell_execute never prompts for input.
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &wilson.ToolResult{Success: false, Error: err.Error()}, nil
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var runErr error
	timedOut := false
	select {
	case runErr = <-waitDone:
	case <-time.After(timeout):
		timedOut = true
		runErr = stopGracefully(cmd, waitDone)
	case <-ctx.Done():
		runErr = stopGracefully(cmd, waitDone)
	}

	combined := stdout.String() + stderr.String()
	trimmed := shell.TrimWithCap(combined, shell.DefaultForegroundOutputCap)
	truncated := len(trimmed) < len(combined)

	if timedOut {
		return &wilson.ToolResult{Success: false, Content: trimmed, Error: "command timed out", Truncated: truncated}, nil
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return &wilson.ToolResult{Success: false, Content: trimmed, Error: "command canceled", Truncated: truncated}, nil
		}
		return &wilson.ToolResult{Success: false, Content: trimmed, Error: runErr.Error(), Truncated: truncated}, nil
	}
	return &wilson.ToolResult{Success: true, Content: trimmed, Truncated: truncated}, nil
}

// stopGracefully sends SIGTERM and gives the process shell.SIGTERMGrace to
// exit on its own before escalating to SIGKILL, so a timed-out command
// never outlives its deadline by more than the grace period (spec §8).
func stopGracefully(cmd *exec.Cmd, waitDone <-chan error) error {
	if cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case err := <-waitDone:
		return err
	case <-time.After(shell.SIGTERMGrace):
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return <-waitDone
	}
}

func (t *ShellTool) startBackground(command, dir string) (*wilson.ToolResult, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &wilson.ToolResult{Success: false, Error: err.Error()}, nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &wilson.ToolResult{Success: false, Error: err.Error()}, nil
	}
	if err := cmd.Start(); err != nil {
		return &wilson.ToolResult{Success: false, Error: err.Error()}, nil
	}

	session := &shell.ProcessSession{
		ID:             uuid.NewString(),
		Command:        command,
		CWD:            dir,
		PID:            cmd.Process.Pid,
		StartedAt:      time.Now(),
		MaxOutputChars: shell.DefaultBackgroundOutputCap,
	}
	t.registry.AddSession(session)
	t.registry.MarkBackgrounded(session)
	t.handles.Store(session.ID, cmd)

	go t.pump(session, stdout, "stdout")
	go t.pump(session, stderr, "stderr")
	go t.await(session, cmd)

	url := t.awaitListeningURL(session, startupWindow)

	content := fmt.Sprintf("started background process %s (pid %d)", session.ID, session.PID)
	if url != "" {
		content += fmt.Sprintf(", listening at %s", url)
	}

	return &wilson.ToolResult{
		Success:  true,
		Content:  content,
		PID:      session.PID,
		Terminal: true,
	}, nil
}

// awaitListeningURL polls a freshly-started session's aggregated output
// for a listening URL for up to window, returning as soon as one appears
// so a dev server's banner doesn't wait out the full window unnecessarily.
func (t *ShellTool) awaitListeningURL(session *shell.ProcessSession, window time.Duration) string {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if url := shell.DiscoverListeningURL(t.registry.AggregatedOutput(session)); url != "" {
			return url
		}
		time.Sleep(50 * time.Millisecond)
	}
	return shell.DiscoverListeningURL(t.registry.AggregatedOutput(session))
}

func (t *ShellTool) pump(session *shell.ProcessSession, r io.Reader, stream string) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.registry.AppendOutput(session, stream, string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (t *ShellTool) await(session *shell.ProcessSession, cmd *exec.Cmd) {
	err := cmd.Wait()
	status := shell.ProcessStatusCompleted
	code := 0
	if err != nil {
		status = shell.ProcessStatusFailed
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	t.registry.MarkExited(session, &code, "", status)
	t.handles.Delete(session.ID)
}

// ShellOutputTool drains the pending output of a background process
// started by ShellTool's background mode.
type ShellOutputTool struct {
	shell *ShellTool
}

func NewShellOutputTool(s *ShellTool) *ShellOutputTool { return &ShellOutputTool{shell: s} }

func (t *ShellOutputTool) Name() string { return "shell_output" }

func (t *ShellOutputTool) Description() string {
	return "Reads buffered stdout/stderr from a background process started by shell_execute."
}

func (t *ShellOutputTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Background process id returned by shell_execute"}
		},
		"required": ["id"]
	}`)
}

func (t *ShellOutputTool) Execute(ctx context.Context, input map[string]interface{}) (*wilson.ToolResult, error) {
	id, _ := input["id"].(string)
	if id == "" {
		return &wilson.ToolResult{Success: false, Error: "id is required"}, nil
	}

	if session, ok := t.shell.registry.GetSession(id); ok {
		stdout, stderr := t.shell.registry.DrainSession(session)
		proc := session.Snapshot()
		proc.Tail = stdout + stderr

		data, err := json.Marshal(proc)
		if err != nil {
			return &wilson.ToolResult{Success: false, Error: err.Error()}, nil
		}
		return &wilson.ToolResult{Success: true, Content: string(data)}, nil
	}
	if fin, ok := t.shell.registry.GetFinishedSession(id); ok {
		return &wilson.ToolResult{Success: true, Content: fmt.Sprintf("status: exited (code %v)\n%s", fin.ExitCode, fin.Aggregated)}, nil
	}
	return &wilson.ToolResult{Success: false, Error: "no background process with id " + id}, nil
}

// ShellKillTool terminates a background process started by ShellTool.
type ShellKillTool struct {
	shell *ShellTool
}

func NewShellKillTool(s *ShellTool) *ShellKillTool { return &ShellKillTool{shell: s} }

func (t *ShellKillTool) Name() string { return "shell_kill" }

func (t *ShellKillTool) Description() string {
	return "Kills a running background process started by shell_execute."
}

func (t *ShellKillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Background process id returned by shell_execute"}
		},
		"required": ["id"]
	}`)
}

func (t *ShellKillTool) Execute(ctx context.Context, input map[string]interface{}) (*wilson.ToolResult, error) {
	id, _ := input["id"].(string)
	if id == "" {
		return &wilson.ToolResult{Success: false, Error: "id is required"}, nil
	}

	v, ok := t.shell.handles.Load(id)
	if !ok {
		return &wilson.ToolResult{Success: false, Error: "no running background process with id " + id}, nil
	}
	cmd := v.(*exec.Cmd)
	if cmd.Process == nil {
		return &wilson.ToolResult{Success: false, Error: "process has no handle yet"}, nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return &wilson.ToolResult{Success: false, Error: err.Error()}, nil
	}
	t.shell.handles.Delete(id)
	return &wilson.ToolResult{Success: true, Content: "killed " + id}, nil
}
