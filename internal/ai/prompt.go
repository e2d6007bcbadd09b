package ai

import (
	"fmt"
	"strings"

	"github.com/esi_helpdesk/backend/internal/models"
)

// NotInKnowledgeBase is the sentence the model is told to use when the context
// has no answer.
const NotInKnowledgeBase = "This information is not available in the approved knowledge base."

const promptTemplate = `
You are the ESI AI Help Desk.

STRICT RULES:
- Use ONLY the provided knowledge base content.
- Never invent commands, procedures, URLs, or policies.
- If information is deprecated, clearly say so.
- If the answer is not found, reply:
  "%s"

Knowledge Base Context:
%s

User Question:
%s
`

func BuildPrompt(question string, docs []models.RetrievedDocument) string {
	blocks := make([]string, 0, len(docs))
	for _, d := range docs {
		blocks = append(blocks, fmt.Sprintf("[%s | v%s]\n%s", d.ID, docVersion(d), d.Content))
	}
	return fmt.Sprintf(promptTemplate, NotInKnowledgeBase, strings.Join(blocks, "\n\n"), question)
}

func docVersion(d models.RetrievedDocument) string {
	if v, ok := d.Metadata["version"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return "1"
}
