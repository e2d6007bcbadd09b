package service

import (
	"fmt"
	"strings"

	"github.com/esi_helpdesk/backend/internal/models"
)

// Screen checks text against the ordered guardrail lexicon. The first matching
// term wins.
func (r *Ruleset) Screen(text string) models.GuardrailStatus {
	msg := strings.ToLower(text)
	for _, term := range r.GuardrailTerms {
		if strings.Contains(msg, term) {
			reason := fmt.Sprintf("Detected restricted request: '%s'", term)
			return models.GuardrailStatus{
				Blocked:  true,
				Reason:   &reason,
				Severity: models.SeverityHigh,
			}
		}
	}
	return models.GuardrailStatus{Blocked: false, Severity: models.SeverityLow}
}
