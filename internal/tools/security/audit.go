package security

import (
	"io"
	"log/slog"
	"os"
)

// auditLogger writes dangerous-command detections at slog.LevelWarn
// through its own handler, independent of whatever level the process's
// default logger is configured at (spec §7: "dangerous-command audit
// events are always written regardless of the configured log level").
// A user who sets logging.level: error to quiet normal output must still
// see these.
var auditLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// SetAuditOutput redirects audit log output, for tests that need to assert
// on what gets written.
func SetAuditOutput(w io.Writer) {
	auditLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Audit logs every DangerousIntent match found in cmd, tagging the log
// line with the tool name and session id the match occurred under. A
// no-op if cmd has no dangerous intent.
func Audit(toolName, sessionID, cmd string) {
	for _, intent := range ScanDangerousIntent(cmd) {
		auditLogger.Warn("dangerous command detected",
			"tool", toolName,
			"session", sessionID,
			"pattern", intent.Name,
			"match", intent.Match,
			"description", intent.Description,
		)
	}
}
