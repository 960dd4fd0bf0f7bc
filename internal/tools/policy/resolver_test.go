package policy

import "testing"

func TestResolverClassifyDenyWinsOverAllow(t *testing.T) {
	r := NewResolver()
	p := NewPolicyBuilder().Allow("exec").Deny("exec").Build()

	if got := r.Classify(p, "exec"); got != DecisionDeny {
		t.Fatalf("expected deny to win over allow, got %v", got)
	}
}

func TestResolverClassifyAskGate(t *testing.T) {
	r := NewResolver()
	p := NewPolicyBuilder().Ask("exec").Build()

	if got := r.Classify(p, "bash"); got != DecisionAsk {
		t.Fatalf("expected alias 'bash' to classify as ask via 'exec', got %v", got)
	}
}

func TestResolverGroupExpansion(t *testing.T) {
	r := NewResolver()
	p := NewPolicyBuilder().AllowGroup("fs").Build()

	for _, tool := range []string{"read", "write", "edit", "exec"} {
		if !r.IsAllowed(p, tool) {
			t.Errorf("expected group:fs to allow %q", tool)
		}
	}
	if r.IsAllowed(p, "web_search") {
		t.Errorf("group:fs should not allow web_search")
	}
}

func TestResolverUnknownToolDeniedByDefault(t *testing.T) {
	r := NewResolver()
	p := NewPolicyBuilder().WithProfile(ProfileCoding).Build()

	if r.IsAllowed(p, "totally_unknown_tool") {
		t.Fatalf("unknown tool should be denied by default under a non-full profile")
	}
}

func TestResolverFullProfileAllowsByDefault(t *testing.T) {
	r := NewResolver()
	p := NewPolicyBuilder().WithProfile(ProfileFull).Build()

	if !r.IsAllowed(p, "anything") {
		t.Fatalf("ProfileFull should allow unmatched tools by default")
	}
	if r.IsAllowed(NewPolicyBuilder().WithProfile(ProfileFull).Deny("anything").Build(), "anything") {
		t.Fatalf("explicit deny should still win under ProfileFull")
	}
}
