package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/esi_helpdesk/backend/internal/models"
	"github.com/esi_helpdesk/backend/internal/utils"
)

// MockKnowledgeSource ranks an in-memory document set by token overlap.
type MockKnowledgeSource struct {
	Documents []models.RetrievedDocument
}

func DefaultMockDocuments() []models.RetrievedDocument {
	return []models.RetrievedDocument{
		{
			ID:    "KB-001",
			Title: "Resetting your account password",
			Content: "Steps: open the self-service portal, choose Forgot password, confirm the code sent to your " +
				"registered email and set a new password of at least 12 characters.",
			Metadata: map[string]any{"kb_id": "KB-001", "version": "2"},
		},
		{
			ID:    "KB-002",
			Title: "Connecting to the lab VPN",
			Content: "Install the approved VPN client, import the lab profile provided in the onboarding pack and " +
				"sign in with your directory credentials. Contact the help desk if the profile is missing.",
			Metadata: map[string]any{"kb_id": "KB-002", "version": "1"},
		},
		{
			ID:    "KB-003",
			Title: "Simulator container restarts",
			Content: "If the simulator container crashed, restart it from the operator console. Repeated crashes " +
				"within one hour must be reported to the support engineer on duty.",
			Metadata: map[string]any{"kb_id": "KB-003", "version": "3"},
		},
	}
}

func (m MockKnowledgeSource) Retrieve(_ context.Context, query string, k int) ([]models.RetrievedDocument, error) {
	if k <= 0 {
		k = 1
	}
	q := tokenSet(query)
	scored := make([]models.RetrievedDocument, 0, len(m.Documents))
	for _, d := range m.Documents {
		sim := overlap(q, tokenSet(d.Title+" "+d.Content))
		if sim <= 0 {
			continue
		}
		d.Similarity = sim
		scored = append(scored, d)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity == scored[j].Similarity {
			return scored[i].ID < scored[j].ID
		}
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(f) > 2 {
			out[f] = struct{}{}
		}
	}
	return out
}

// overlap is the share of query tokens found in the document.
func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// MockSynthesizer produces a deterministic grounded answer.
type MockSynthesizer struct{}

var mockLeads = []string{
	"According to %s, here's how to proceed: %s",
	"As outlined in %s, follow these steps: %s",
	"Per the knowledge base article %s: %s",
}

func (MockSynthesizer) Generate(_ context.Context, query string, docs []models.RetrievedDocument) (string, error) {
	if len(docs) == 0 {
		return NotInKnowledgeBase, nil
	}
	lead := mockLeads[utils.PickIndex(query, len(mockLeads))]
	return fmt.Sprintf(lead, docs[0].ID, docs[0].Content), nil
}
