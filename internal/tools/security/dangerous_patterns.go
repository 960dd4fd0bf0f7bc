package security

import "regexp"

// DangerousIntent categorizes a specific high-risk operation a shell command
// appears to perform, independent of the generic shell-metacharacter
// analysis in shell_parser.go. These are the patterns named explicitly by
// the tool dispatcher's permission gate: recursive delete, wildcard delete,
// DROP/TRUNCATE, DELETE without WHERE, force-push, hard reset, sudo, and
// chmod 777.
type DangerousIntent struct {
	// Name labels the matched pattern (e.g. "recursive_delete").
	Name string `json:"name"`

	// Description is a human-readable explanation surfaced in approval
	// prompts and audit logs.
	Description string `json:"description"`

	// Match is the substring of the command that triggered the pattern.
	Match string `json:"match"`
}

type dangerousIntentPattern struct {
	name        string
	description string
	re          *regexp.Regexp
}

// dangerousIntentPatterns is intentionally ordered; the first match per
// pattern family wins. Patterns are case-insensitive and tolerant of
// arbitrary surrounding whitespace/flags.
var dangerousIntentPatterns = []dangerousIntentPattern{
	{
		name:        "recursive_delete",
		description: "recursive delete can destroy entire directory trees",
		re:          regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*|--recursive\s+--force|--force\s+--recursive)\b`),
	},
	{
		name:        "wildcard_delete",
		description: "deleting via a glob can remove more than intended",
		re:          regexp.MustCompile(`(?i)\brm\s+(-[a-z]*\s+)?[^\s]*\*`),
	},
	{
		name:        "sql_drop_truncate",
		description: "DROP/TRUNCATE destroys schema or table contents irreversibly",
		re:          regexp.MustCompile(`(?i)\b(drop\s+(table|database|schema|index|view)|truncate\s+table)\b`),
	},
	{
		name:        "sql_delete_without_where",
		description: "DELETE without a WHERE clause removes every row in the table",
		re:          regexp.MustCompile(`(?i)\bdelete\s+from\s+[^\s;]+\s*(;|$)`),
	},
	{
		name:        "force_push",
		description: "a force push can overwrite remote history other people depend on",
		re:          regexp.MustCompile(`(?i)\bgit\s+push\s+(.*\s)?(--force|-f)\b`),
	},
	{
		name:        "hard_reset",
		description: "a hard reset discards uncommitted and unpushed work permanently",
		re:          regexp.MustCompile(`(?i)\bgit\s+reset\s+(.*\s)?--hard\b`),
	},
	{
		name:        "sudo",
		description: "elevated privileges can affect the entire system, not just the project",
		re:          regexp.MustCompile(`(?i)(^|[;&|]\s*)sudo\b`),
	},
	{
		name:        "chmod_777",
		description: "world-writable permissions weaken file security broadly",
		re:          regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)?0?777\b`),
	},
}

// ScanDangerousIntent checks a command against the fixed set of
// dangerous-pattern regexes named in the permission gate's design. It
// reports every pattern that matches; callers typically require approval if
// len(result) > 0 regardless of the tool's own allow/deny policy.
func ScanDangerousIntent(cmd string) []DangerousIntent {
	if cmd == "" {
		return nil
	}
	var found []DangerousIntent
	for _, p := range dangerousIntentPatterns {
		if loc := p.re.FindStringIndex(cmd); loc != nil {
			found = append(found, DangerousIntent{
				Name:        p.name,
				Description: p.description,
				Match:       cmd[loc[0]:loc[1]],
			})
		}
	}
	return found
}

// HasDangerousIntent is a convenience predicate over ScanDangerousIntent.
func HasDangerousIntent(cmd string) bool {
	return len(ScanDangerousIntent(cmd)) > 0
}
