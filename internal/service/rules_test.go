package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/esi_helpdesk/backend/internal/models"
)

const plainAnswer = "The portal lets you change the account password from the profile settings page."

func docs(sims ...float64) []models.RetrievedDocument {
	out := make([]models.RetrievedDocument, 0, len(sims))
	for i, s := range sims {
		out = append(out, models.RetrievedDocument{ID: string(rune('A' + i)), Similarity: s})
	}
	return out
}

func TestScreen(t *testing.T) {
	rules := DefaultRuleset()

	status := rules.Screen("How do I DROP TABLE users?")
	require.True(t, status.Blocked)
	require.Equal(t, models.SeverityHigh, status.Severity)
	require.NotNil(t, status.Reason)
	require.Equal(t, "Detected restricted request: 'drop table'", *status.Reason)

	status = rules.Screen("please hack it, then delete from users")
	require.True(t, status.Blocked)
	require.Equal(t, "Detected restricted request: 'delete from'", *status.Reason)

	status = rules.Screen("reset my password")
	require.False(t, status.Blocked)
	require.Nil(t, status.Reason)
	require.Equal(t, models.SeverityLow, status.Severity)
}

func TestEstimateConfidence(t *testing.T) {
	rules := DefaultRuleset()
	cases := []struct {
		name   string
		docs   []models.RetrievedDocument
		answer string
		want   float64
	}{
		{"no documents", nil, "anything", 0.0},
		{"knowledge gap phrase", docs(0.9), "That is NOT COVERED IN THE KNOWLEDGE BASE.", 0.0},
		{"high similarity with top bonus", docs(0.9), plainAnswer, 1.0},
		{"two strong matches", docs(0.30, 0.28), plainAnswer, 0.88},
		{"three strong matches clamp", docs(0.5, 0.5, 0.5), plainAnswer, 1.0},
		{"short answer floored", docs(0.30), "Short.", 0.80},
		{"low mean minimum", docs(0.1), plainAnswer, 0.40},
		{"low mean short answer", docs(0.1), "Short.", 0.30},
		{"short multibyte answer", docs(0.1), strings.Repeat("密", 20), 0.30},
		{"long multibyte answer", docs(0.1), strings.Repeat("密", 50), 0.40},
		{"grounded cues", docs(0.1), "According to KB-002, follow these steps: install the VPN client and sign in.", 0.44},
		{"mid band", docs(0.22), plainAnswer, 0.72},
		{"lower band", docs(0.16), plainAnswer, 0.60},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.want, rules.EstimateConfidence(tc.docs, tc.answer), 1e-9)
		})
	}
}

func TestEstimateConfidenceMonotonicAboveTopBand(t *testing.T) {
	rules := DefaultRuleset()
	prev := 0.0
	for s := 0.35; s <= 1.0; s += 0.01 {
		conf := rules.EstimateConfidence(docs(s), plainAnswer)
		require.GreaterOrEqual(t, conf, 0.95)
		require.LessOrEqual(t, conf, 1.0)
		require.GreaterOrEqual(t, conf, prev)
		prev = conf
	}
}

func TestEstimateConfidenceMonotonicInMaxAtFixedMean(t *testing.T) {
	rules := DefaultRuleset()
	const mean = 0.40
	prev := 0.0
	for spread := 0.0; spread <= 0.30; spread += 0.01 {
		sims := docs(mean-spread, mean+spread, mean)
		conf := rules.EstimateConfidence(sims, plainAnswer)
		require.GreaterOrEqual(t, conf, 0.95, "spread %.2f", spread)
		require.GreaterOrEqual(t, conf, prev, "spread %.2f", spread)
		prev = conf
	}
}

func TestEstimateConfidenceMonotonicInMeanAtFixedMax(t *testing.T) {
	rules := DefaultRuleset()
	prev := 0.0
	for low := 0.0; low <= 0.60; low += 0.02 {
		sims := docs(0.60, low, low)
		conf := rules.EstimateConfidence(sims, plainAnswer)
		require.GreaterOrEqual(t, conf, prev, "low %.2f", low)
		prev = conf
	}
}

func TestClassifySeverity(t *testing.T) {
	rules := DefaultRuleset()
	require.Equal(t, models.SeverityMedium, rules.ClassifySeverity("login issue"))
	require.Equal(t, models.SeverityCritical, rules.ClassifySeverity("production down"))
	require.Equal(t, models.SeverityHigh, rules.ClassifySeverity("The simulator Container Crashed again"))
	require.Equal(t, models.SeverityLow, rules.ClassifySeverity("hello"))
	require.Equal(t, models.SeverityCritical, rules.ClassifySeverity("slow response after data loss"))
}

func TestClassifyTier(t *testing.T) {
	rules := DefaultRuleset()
	cases := []struct {
		name string
		in   TierInput
		want models.Tier
	}{
		{"help desk question", TierInput{Text: "help desk", Severity: models.SeverityLow, KBCoverage: true}, models.Tier0},
		{"critical ignores keywords", TierInput{Text: "data loss on the help desk", Severity: models.SeverityCritical, KBCoverage: true}, models.Tier3},
		{"repeated failure", TierInput{Text: "help desk", Severity: models.SeverityLow, KBCoverage: true, RepeatedFailure: true}, models.Tier3},
		{"no coverage high", TierInput{Text: "anything", Severity: models.SeverityHigh}, models.Tier3},
		{"no coverage medium", TierInput{Text: "anything", Severity: models.SeverityMedium}, models.Tier2},
		{"no coverage low", TierInput{Text: "anything", Severity: models.SeverityLow}, models.Tier2},
		{"tier four keyword", TierInput{Text: "possible data loss", Severity: models.SeverityLow, KBCoverage: true}, models.Tier4},
		{"outage keyword", TierInput{Text: "vpn outage", Severity: models.SeverityLow, KBCoverage: true}, models.Tier3},
		{"password keyword", TierInput{Text: "reset my password", Severity: models.SeverityLow, KBCoverage: true}, models.Tier2},
		{"default", TierInput{Text: "my laptop fan is loud", Severity: models.SeverityLow, KBCoverage: true}, models.Tier1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, rules.ClassifyTier(tc.in))
		})
	}
}

func TestShouldEscalate(t *testing.T) {
	require.True(t, ShouldEscalate(models.Tier1, TierInput{Severity: models.SeverityHigh}))
	require.False(t, ShouldEscalate(models.Tier1, TierInput{Severity: models.SeverityLow, KBCoverage: true}))
	require.False(t, ShouldEscalate(models.Tier2, TierInput{Severity: models.SeverityLow}))
	require.True(t, ShouldEscalate(models.Tier2, TierInput{Severity: models.SeverityMedium}))
	require.True(t, ShouldEscalate(models.Tier4, TierInput{Severity: models.SeverityLow, KBCoverage: true}))
	require.True(t, ShouldEscalate(models.Tier0, TierInput{Severity: models.SeverityCritical, KBCoverage: true}))
	require.True(t, ShouldEscalate(models.Tier0, TierInput{Severity: models.SeverityLow, KBCoverage: true, RepeatedFailure: true}))
}

func TestNextTicketID(t *testing.T) {
	require.Equal(t, "TICK-00043", NextTicketID("TICK-00042"))
	require.Equal(t, "TICK-00001", NextTicketID(""))
	require.Equal(t, "TICK-00001", NextTicketID("BAD-ID"))
	require.Equal(t, "TICK-00001", NextTicketID("TICK-abc"))
	require.Equal(t, "TICK-100000", NextTicketID("TICK-99999"))
}

func TestLoadRuleset(t *testing.T) {
	rs, err := LoadRuleset("")
	require.NoError(t, err)
	require.Equal(t, DefaultRuleset(), rs)

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
guardrail_terms:
  - forbidden word
severity_rules:
  - keywords: [printer jam]
    severity: MEDIUM
`), 0o600))

	rs, err = LoadRuleset(path)
	require.NoError(t, err)
	require.Equal(t, []string{"forbidden word"}, rs.GuardrailTerms)
	require.True(t, rs.Screen("a Forbidden Word here").Blocked)
	require.False(t, rs.Screen("drop table").Blocked)
	require.Equal(t, models.SeverityMedium, rs.ClassifySeverity("printer jam on floor 2"))
	require.Equal(t, models.SeverityLow, rs.ClassifySeverity("production down"))
	require.Equal(t, DefaultRuleset().TierKeywordRules, rs.TierKeywordRules)
}

func TestLoadRulesetFoldsCaseAndTrims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
guardrail_terms: ["  Drop Table "]
tier_rules:
  - keywords: [VPN Outage]
    tier: TIER_3
`), 0o600))

	rs, err := LoadRuleset(path)
	require.NoError(t, err)
	require.Equal(t, []string{"drop table"}, rs.GuardrailTerms)
	require.True(t, rs.Screen("please DROP TABLE users").Blocked)
	require.Equal(t, models.Tier3, rs.ClassifyTier(TierInput{Text: "the vpn outage again", Severity: models.SeverityLow, KBCoverage: true}))
}

func TestLoadRulesetRejectsEmptyPhrases(t *testing.T) {
	cases := map[string]string{
		"guardrail":     "guardrail_terms: [\"\"]\n",
		"blank cue":     "grounded_cues: [\"   \"]\n",
		"severity rule": "severity_rules:\n  - keywords: [slow, \"\"]\n    severity: MEDIUM\n",
		"no keywords":   "tier_rules:\n  - tier: TIER_2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadRuleset(path)
			require.Error(t, err)
		})
	}
}

func TestLoadRulesetRejectsUnknownValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tier_rules:\n  - keywords: [x]\n    tier: TIER_9\n"), 0o600))

	_, err := LoadRuleset(path)
	require.ErrorContains(t, err, "unknown tier")

	_, err = LoadRuleset(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
