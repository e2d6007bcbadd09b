package service

import (
	"strings"

	"github.com/esi_helpdesk/backend/internal/models"
)

// ClassifySeverity returns the severity of the first rule with a keyword
// contained in text, or LOW.
func (r *Ruleset) ClassifySeverity(text string) models.Severity {
	msg := strings.ToLower(text)
	for _, rule := range r.SeverityRules {
		if containsAny(msg, rule.Keywords) {
			return rule.Severity
		}
	}
	return models.SeverityLow
}

// TierInput bundles the signals used for tier assignment and escalation.
type TierInput struct {
	Text            string
	Severity        models.Severity
	KBCoverage      bool
	RepeatedFailure bool
}

type tierPredicate struct {
	name  string
	match func(r *Ruleset, in TierInput) (models.Tier, bool)
}

// Severity and repeat failure short-circuit before any keyword is inspected,
// so a CRITICAL message never reaches the TIER_4 keyword rule.
var tierPredicates = []tierPredicate{
	{
		name: "critical_or_repeated",
		match: func(_ *Ruleset, in TierInput) (models.Tier, bool) {
			if in.Severity == models.SeverityCritical || in.RepeatedFailure {
				return models.Tier3, true
			}
			return "", false
		},
	},
	{
		name: "no_kb_coverage",
		match: func(_ *Ruleset, in TierInput) (models.Tier, bool) {
			if in.KBCoverage {
				return "", false
			}
			if in.Severity == models.SeverityCritical || in.Severity == models.SeverityHigh {
				return models.Tier3, true
			}
			return models.Tier2, true
		},
	},
	{
		name: "keywords",
		match: func(r *Ruleset, in TierInput) (models.Tier, bool) {
			msg := strings.ToLower(in.Text)
			for _, rule := range r.TierKeywordRules {
				if containsAny(msg, rule.Keywords) {
					return rule.Tier, true
				}
			}
			return "", false
		},
	},
}

// ClassifyTier assigns the escalation tier; TIER_1 when no rule applies.
func (r *Ruleset) ClassifyTier(in TierInput) models.Tier {
	for _, p := range tierPredicates {
		if tier, ok := p.match(r, in); ok {
			return tier
		}
	}
	return models.Tier1
}

var escalationRules = []func(tier models.Tier, in TierInput) bool{
	func(tier models.Tier, _ TierInput) bool { return tier == models.Tier3 || tier == models.Tier4 },
	func(_ models.Tier, in TierInput) bool { return in.Severity == models.SeverityCritical },
	func(_ models.Tier, in TierInput) bool { return in.RepeatedFailure },
	func(_ models.Tier, in TierInput) bool {
		return !in.KBCoverage && (in.Severity == models.SeverityHigh || in.Severity == models.SeverityMedium)
	},
}

// ShouldEscalate reports whether a turn must become a ticket.
func ShouldEscalate(tier models.Tier, in TierInput) bool {
	for _, rule := range escalationRules {
		if rule(tier, in) {
			return true
		}
	}
	return false
}
