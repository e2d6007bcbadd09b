package service

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/esi_helpdesk/backend/internal/models"
)

const (
	strongMatchThreshold = 0.25
	topMatchThreshold    = 0.40
	shortAnswerChars     = 50
	confidenceFloor      = 0.80
)

type confidenceStep struct {
	minMean float64
	value   float64
}

// Ordered highest band first.
var confidenceSteps = []confidenceStep{
	{0.35, 0.95},
	{0.30, 0.88},
	{0.25, 0.82},
	{0.20, 0.72},
	{0.15, 0.60},
}

// EstimateConfidence scores answer against the similarities of the documents
// it was generated from. The result is in [0,1], rounded to 2 decimals.
func (r *Ruleset) EstimateConfidence(docs []models.RetrievedDocument, answer string) float64 {
	if len(docs) == 0 {
		return 0.0
	}
	lower := strings.ToLower(answer)
	if containsAny(lower, r.KnowledgeGaps) {
		return 0.0
	}

	var sum float64
	top := docs[0].Similarity
	strong := 0
	for _, d := range docs {
		sum += d.Similarity
		if d.Similarity > top {
			top = d.Similarity
		}
		if d.Similarity > strongMatchThreshold {
			strong++
		}
	}
	mean := sum / float64(len(docs))

	conf := baseConfidence(mean)
	if strong >= 2 {
		conf += 0.06
	}
	if strong >= 3 {
		conf += 0.04
	}
	if top > topMatchThreshold {
		conf += 0.05
	}
	if countContained(lower, r.GroundedCues) >= 2 {
		conf += 0.04
	}
	if utf8.RuneCountInString(strings.TrimSpace(answer)) < shortAnswerChars {
		conf -= 0.10
	}

	// Runs after the short-answer penalty.
	if mean >= strongMatchThreshold && conf < confidenceFloor {
		conf = confidenceFloor
	}

	conf = math.Min(math.Max(conf, 0.0), 1.0)
	return math.Round(conf*100) / 100
}

func baseConfidence(mean float64) float64 {
	for _, step := range confidenceSteps {
		if mean >= step.minMean {
			return step.value
		}
	}
	return math.Max(mean*2.5, 0.40)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func countContained(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(text, p) {
			n++
		}
	}
	return n
}
