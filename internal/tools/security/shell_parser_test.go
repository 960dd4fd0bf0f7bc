package security

import "testing"

func TestAnalyzeCommandFlagsMetacharacters(t *testing.T) {
	cases := []struct {
		cmd     string
		wantRisk string
	}{
		{"echo hello", ""},
		{"ls -la /tmp", ""},
		{"ls; rm -f x", "command_chain"},
		{"ls && rm -f x", "command_chain"},
		{"ls | grep foo", "pipe"},
		{"echo a > out.txt", "redirect"},
		{"echo $(whoami)", "subshell"},
		{"sleep 5 &", "background"},
	}

	for _, tc := range cases {
		analysis := AnalyzeCommand(tc.cmd)
		if tc.wantRisk == "" {
			if !analysis.IsSafe {
				t.Errorf("AnalyzeCommand(%q): expected safe, got unsafe (%+v)", tc.cmd, analysis.DangerousTokens)
			}
			continue
		}
		if analysis.IsSafe {
			t.Errorf("AnalyzeCommand(%q): expected unsafe for risk %q, got safe", tc.cmd, tc.wantRisk)
			continue
		}
		found := false
		for _, tok := range analysis.DangerousTokens {
			if tok.Risk == tc.wantRisk {
				found = true
			}
		}
		if !found {
			t.Errorf("AnalyzeCommand(%q): expected a %q token, got %+v", tc.cmd, tc.wantRisk, analysis.DangerousTokens)
		}
	}
}

func TestAnalyzeCommandQuoteAwareIgnoresQuotedMetacharacters(t *testing.T) {
	cmd := `echo "a; b | c"`
	if !IsSafeCommand(cmd) {
		t.Errorf("expected quoted metacharacters to be ignored, got unsafe for %q", cmd)
	}

	unquoted := `echo a; rm -f b`
	if IsSafeCommand(unquoted) {
		t.Errorf("expected unquoted metacharacters to be flagged for %q", unquoted)
	}
}

func TestExtractUnsafeReason(t *testing.T) {
	if reason := ExtractUnsafeReason("ls -la"); reason != "" {
		t.Errorf("expected no reason for a safe command, got %q", reason)
	}
	if reason := ExtractUnsafeReason("ls | grep foo"); reason == "" {
		t.Error("expected a reason for an unsafe command")
	}
}

func TestIsValidFilename(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"report.txt", true},
		{"../etc/passwd", false},
		{"..", false},
		{".hidden", false},
		{"a/b", false},
		{"a;b", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidFilename(tc.name); got != tc.want {
			t.Errorf("IsValidFilename(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
