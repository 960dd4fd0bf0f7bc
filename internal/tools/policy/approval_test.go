package policy

import "testing"

func TestCheckApprovalLowRiskAutoApproves(t *testing.T) {
	m := NewApprovalManager(nil)
	if err := m.CheckApproval("web_search", "{}", "sess-1", RiskLow); err != nil {
		t.Fatalf("expected low risk to auto-approve, got %v", err)
	}
}

func TestCheckApprovalHighRiskRequiresApprovalUntilTrusted(t *testing.T) {
	m := NewApprovalManager(nil)

	err := m.CheckApproval("exec", `{"cmd":"rm -rf /"}`, "sess-2", RiskHigh)
	if err == nil {
		t.Fatalf("expected high risk to require approval for an untrusted session")
	}

	pending := m.ListPending()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending request, got %d", len(pending))
	}

	m.TrustSession("sess-2")
	if err := m.Approve(pending[0].ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	req, err := m.GetRequest(pending[0].ID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if req.Status != ApprovalStatusApproved {
		t.Fatalf("expected approved status, got %v", req.Status)
	}
}

func TestDenyRecordsReason(t *testing.T) {
	m := NewApprovalManager(nil)
	_ = m.CheckApproval("exec", `{"cmd":"git push --force"}`, "sess-3", RiskHigh)

	pending := m.ListPending()
	if len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d", len(pending))
	}

	if err := m.Deny(pending[0].ID, "looks destructive"); err != nil {
		t.Fatalf("Deny failed: %v", err)
	}

	req, _ := m.GetRequest(pending[0].ID)
	if req.Status != ApprovalStatusDenied {
		t.Fatalf("expected denied status, got %v", req.Status)
	}
	if req.DenialReason != "looks destructive" {
		t.Fatalf("expected denial reason to be recorded, got %q", req.DenialReason)
	}
}

func TestAlwaysPromptOverridesTrust(t *testing.T) {
	policy := DefaultApprovalPolicy()
	policy.AlwaysPrompt = []string{"exec"}
	m := NewApprovalManager(policy)
	m.TrustSession("sess-4")

	err := m.CheckApproval("bash", "{}", "sess-4", RiskLow)
	if err == nil {
		t.Fatalf("expected AlwaysPrompt tool to require approval even for a trusted session")
	}
}

func TestCriticalRiskAlwaysRequiresApproval(t *testing.T) {
	m := NewApprovalManager(nil)
	m.TrustSession("sess-5")

	err := m.CheckApproval("exec", `{"cmd":"DROP TABLE users;"}`, "sess-5", RiskCritical)
	if err == nil {
		t.Fatalf("expected critical risk to require approval regardless of trust")
	}
}
