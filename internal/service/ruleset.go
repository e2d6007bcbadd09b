package service

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/esi_helpdesk/backend/internal/models"
)

// SeverityRule maps any of Keywords to Severity. Rules are evaluated in slice order.
type SeverityRule struct {
	Keywords []string        `yaml:"keywords"`
	Severity models.Severity `yaml:"severity"`
}

// TierRule maps any of Keywords to Tier. Rules are evaluated in slice order.
type TierRule struct {
	Keywords []string    `yaml:"keywords"`
	Tier     models.Tier `yaml:"tier"`
}

// Ruleset carries every ordered lexicon used by the turn pipeline.
type Ruleset struct {
	GuardrailTerms   []string       `yaml:"guardrail_terms"`
	KnowledgeGaps    []string       `yaml:"knowledge_gaps"`
	GroundedCues     []string       `yaml:"grounded_cues"`
	SeverityRules    []SeverityRule `yaml:"severity_rules"`
	TierKeywordRules []TierRule     `yaml:"tier_rules"`
}

var defaultGuardrailTerms = []string{
	// destructive operations
	"delete production", "drop table", "drop database", "truncate table",
	"delete from", "delete all", "wipe database", "destroy data",
	"rollback production", "disable backup",

	// privilege escalation and access control
	"grant admin", "grant root", "grant superuser", "revoke access",
	"bypass authentication", "bypass login", "disable auth",
	"disable mfa", "remove permissions", "escalate privileges",

	// exploitation
	"hack", "exploit", "zero-day", "0day", "buffer overflow",
	"sql injection", "xss attack", "cross-site scripting",
	"remote code execution", "rce payload", "reverse shell",
	"privilege escalation", "path traversal", "directory traversal",

	// malware
	"ransomware", "keylogger", "rootkit", "trojan", "backdoor",
	"botnet", "malware", "spyware", "worm payload", "virus payload",
	"inject malicious", "obfuscated code",

	// network attacks
	"ddos", "dos attack", "syn flood", "ping flood", "packet flood",
	"port scan", "network sniff", "man in the middle", "mitm",
	"arp spoofing", "dns spoofing", "ip spoofing",

	// social engineering
	"phish", "spear phish", "credential harvest", "fake login",
	"impersonate user", "social engineer", "pretexting",

	// credential theft
	"steal credentials", "dump passwords", "password spray",
	"brute force", "credential stuffing", "api key leak",
	"expose secret", "exfiltrate data", "data exfiltration",

	// infrastructure sabotage
	"security breach", "disable firewall", "disable logging",
	"disable monitoring", "kill process", "shutdown server",
	"corrupt database", "overwrite logs", "clear audit trail",
	"bypass firewall", "disable ssl", "disable tls",

	// legal and compliance
	"illegal", "violate gdpr", "violate hipaa", "bypass compliance",
	"launder", "fraud", "counterfeit",

	// physical threats
	"bomb", "threat", "weapon",
}

var defaultKnowledgeGaps = []string{
	"not covered in the knowledge base", "not in the knowledge base", "no information",
	"cannot find", "is not available", "i don't have", "missing from the knowledge base",
	"no record available", "information not present", "unavailable in current data", "not documented",
	"no entry found", "data not available", "not stored in the system", "no matching information",
	"knowledge gap", "not tracked", "no reference found", "absent from records", "cannot locate",
	"no relevant data", "not part of the database", "no support information", "no details available",
}

var defaultGroundedCues = []string{
	"according to", "documented in", "as outlined",
	"per the", "kb-", "steps:", "here's how",
	"follow these steps", "the process",
	"in the knowledge base", "provided in",
}

var defaultSeverityRules = []SeverityRule{
	{Keywords: []string{"data loss", "production down", "security breach"}, Severity: models.SeverityCritical},
	{Keywords: []string{"system down", "container crashed", "service unavailable"}, Severity: models.SeverityHigh},
	{Keywords: []string{"slow", "timeout", "login issue"}, Severity: models.SeverityMedium},
}

var defaultTierRules = []TierRule{
	{Keywords: []string{"data loss", "production down", "security breach"}, Tier: models.Tier4},
	{Keywords: []string{"system down", "outage", "failure", "crash"}, Tier: models.Tier3},
	{Keywords: []string{"reset", "password", "login", "troubleshoot", "how to"}, Tier: models.Tier2},
	{Keywords: []string{"what", "who", "when", "where", "help desk"}, Tier: models.Tier0},
}

// DefaultRuleset returns a fresh copy of the built-in tables.
func DefaultRuleset() *Ruleset {
	return &Ruleset{
		GuardrailTerms:   append([]string(nil), defaultGuardrailTerms...),
		KnowledgeGaps:    append([]string(nil), defaultKnowledgeGaps...),
		GroundedCues:     append([]string(nil), defaultGroundedCues...),
		SeverityRules:    append([]SeverityRule(nil), defaultSeverityRules...),
		TierKeywordRules: append([]TierRule(nil), defaultTierRules...),
	}
}

// LoadRuleset reads a YAML rules file. Every list present in the file replaces
// the default list of the same name; absent lists keep their defaults.
func LoadRuleset(path string) (*Ruleset, error) {
	rs := DefaultRuleset()
	if path == "" {
		return rs, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var file Ruleset
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	file.normalize()
	if err := file.validate(); err != nil {
		return nil, err
	}
	if len(file.GuardrailTerms) > 0 {
		rs.GuardrailTerms = file.GuardrailTerms
	}
	if len(file.KnowledgeGaps) > 0 {
		rs.KnowledgeGaps = file.KnowledgeGaps
	}
	if len(file.GroundedCues) > 0 {
		rs.GroundedCues = file.GroundedCues
	}
	if len(file.SeverityRules) > 0 {
		rs.SeverityRules = file.SeverityRules
	}
	if len(file.TierKeywordRules) > 0 {
		rs.TierKeywordRules = file.TierKeywordRules
	}
	return rs, nil
}

// normalize folds every phrase to the trimmed lower case that matching expects.
func (r *Ruleset) normalize() {
	foldPhrases(r.GuardrailTerms)
	foldPhrases(r.KnowledgeGaps)
	foldPhrases(r.GroundedCues)
	for _, rule := range r.SeverityRules {
		foldPhrases(rule.Keywords)
	}
	for _, rule := range r.TierKeywordRules {
		foldPhrases(rule.Keywords)
	}
}

func foldPhrases(phrases []string) {
	for i, p := range phrases {
		phrases[i] = strings.ToLower(strings.TrimSpace(p))
	}
}

func (r *Ruleset) validate() error {
	lists := []struct {
		name    string
		phrases []string
	}{
		{"guardrail_terms", r.GuardrailTerms},
		{"knowledge_gaps", r.KnowledgeGaps},
		{"grounded_cues", r.GroundedCues},
	}
	for _, l := range lists {
		if err := checkPhrases(l.name, l.phrases); err != nil {
			return err
		}
	}
	for i, rule := range r.SeverityRules {
		if !rule.Severity.Valid() {
			return fmt.Errorf("severity_rules[%d]: unknown severity %q", i, rule.Severity)
		}
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("severity_rules[%d]: no keywords", i)
		}
		if err := checkPhrases(fmt.Sprintf("severity_rules[%d].keywords", i), rule.Keywords); err != nil {
			return err
		}
	}
	for i, rule := range r.TierKeywordRules {
		if !rule.Tier.Valid() {
			return fmt.Errorf("tier_rules[%d]: unknown tier %q", i, rule.Tier)
		}
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("tier_rules[%d]: no keywords", i)
		}
		if err := checkPhrases(fmt.Sprintf("tier_rules[%d].keywords", i), rule.Keywords); err != nil {
			return err
		}
	}
	return nil
}

// An empty phrase is contained in every message.
func checkPhrases(name string, phrases []string) error {
	for i, p := range phrases {
		if p == "" {
			return fmt.Errorf("%s[%d]: empty phrase", name, i)
		}
	}
	return nil
}
