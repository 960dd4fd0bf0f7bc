package policy

import "strings"

// Decision is the three-level permission-gate outcome for one tool call
// (spec §4.B.2).
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// Resolver expands profiles and groups into flat allow/ask/deny sets and
// classifies tool calls against a Policy.
type Resolver struct {
	groups map[string][]string
}

// NewResolver builds a Resolver seeded with DefaultGroups.
func NewResolver() *Resolver {
	return &Resolver{groups: DefaultGroups}
}

// CanonicalName resolves aliases and normalizes case/whitespace.
func (r *Resolver) CanonicalName(name string) string {
	return NormalizeTool(name)
}

// Classify decides allow/ask/deny for toolName under policy. Deny always
// wins, then ask, then allow; an unmatched tool under a non-full profile is
// denied by default, and under ProfileFull it is allowed by default.
func (r *Resolver) Classify(p *Policy, toolName string) Decision {
	name := r.CanonicalName(toolName)

	if p == nil {
		return DecisionDeny
	}

	if r.matchesAny(p.Deny, name) {
		return DecisionDeny
	}
	if r.matchesAny(p.Ask, name) {
		return DecisionAsk
	}
	if r.matchesAny(p.Allow, name) {
		return DecisionAllow
	}
	if defaults, ok := ProfileDefaults[p.Profile]; ok && defaults != p {
		if r.matchesAny(defaults.Deny, name) {
			return DecisionDeny
		}
		if r.matchesAny(defaults.Ask, name) {
			return DecisionAsk
		}
		if r.matchesAny(defaults.Allow, name) {
			return DecisionAllow
		}
	}

	if p.Profile == ProfileFull {
		return DecisionAllow
	}
	return DecisionDeny
}

// IsAllowed reports whether toolName resolves to DecisionAllow. Tools
// classified as DecisionAsk are not "allowed" in this sense — callers must
// route them through the approval gate first.
func (r *Resolver) IsAllowed(p *Policy, toolName string) bool {
	return r.Classify(p, toolName) == DecisionAllow
}

func (r *Resolver) matchesAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if r.matches(pattern, name) {
			return true
		}
	}
	return false
}

func (r *Resolver) matches(pattern, name string) bool {
	pattern = NormalizeTool(pattern)
	if strings.HasPrefix(pattern, "group:") {
		for _, member := range r.groups[pattern] {
			if NormalizeTool(member) == name {
				return true
			}
		}
		return false
	}
	return pattern == name
}
