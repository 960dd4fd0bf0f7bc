package security

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestAuditLogsDangerousCommandAtWarnRegardlessOfDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	SetAuditOutput(&buf)
	defer SetAuditOutput(os.Stderr)

	Audit("shell_execute", "sess-1", "rm -rf /tmp/build")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("expected a WARN-level audit line, got %q", out)
	}
	if !strings.Contains(out, "recursive_delete") {
		t.Fatalf("expected the matched pattern name in the audit line, got %q", out)
	}
	if !strings.Contains(out, "sess-1") {
		t.Fatalf("expected the session id in the audit line, got %q", out)
	}
}

func TestAuditIsNoOpForSafeCommand(t *testing.T) {
	var buf bytes.Buffer
	SetAuditOutput(&buf)
	defer SetAuditOutput(os.Stderr)

	Audit("shell_execute", "sess-2", "ls -la")

	if buf.Len() != 0 {
		t.Fatalf("expected no audit output for a safe command, got %q", buf.String())
	}
}
