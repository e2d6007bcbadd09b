package models

import "time"

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Tier string

const (
	Tier0 Tier = "TIER_0"
	Tier1 Tier = "TIER_1"
	Tier2 Tier = "TIER_2"
	Tier3 Tier = "TIER_3"
	Tier4 Tier = "TIER_4"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func (t Tier) Valid() bool {
	switch t {
	case Tier0, Tier1, Tier2, Tier3, Tier4:
		return true
	}
	return false
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	TicketStatusOpen       = "OPEN"
	TicketStatusInProgress = "IN_PROGRESS"
	TicketStatusResolved   = "RESOLVED"
	TicketStatusClosed     = "CLOSED"
)

type GuardrailStatus struct {
	Blocked  bool     `json:"blocked"`
	Reason   *string  `json:"reason"`
	Severity Severity `json:"severity"`
}

// RetrievedDocument is a read-only snapshot returned by a knowledge source.
// Similarity is not guaranteed to stay within [0,1].
type RetrievedDocument struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type KBReference struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Conversation struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserRole  string         `json:"user_role"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Message struct {
	ID               string        `json:"id"`
	ConversationID   string        `json:"conversation_id"`
	Role             string        `json:"role"`
	Content          string        `json:"content"`
	KBReferences     []KBReference `json:"kb_references,omitempty"`
	Confidence       *float64      `json:"confidence,omitempty"`
	Tier             *Tier         `json:"tier,omitempty"`
	Severity         *Severity     `json:"severity,omitempty"`
	GuardrailBlocked bool          `json:"guardrail_blocked"`
	CreatedAt        time.Time     `json:"created_at"`
}

type GuardrailEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Severity       Severity  `json:"severity"`
	UserMessage    string    `json:"user_message"`
	CreatedAt      time.Time `json:"created_at"`
}

type Ticket struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Subject        string         `json:"subject"`
	Description    string         `json:"description"`
	Tier           Tier           `json:"tier"`
	Severity       Severity       `json:"severity"`
	Status         string         `json:"status"`
	UserRole       string         `json:"user_role"`
	Context        map[string]any `json:"context"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type TicketUpdate struct {
	Status   *string   `json:"status"`
	Tier     *Tier     `json:"tier"`
	Severity *Severity `json:"severity"`
}

// Turn is one inbound user message scoped to a conversation.
type Turn struct {
	ConversationID string
	Message        string
	UserRole       string
	Context        map[string]any
}

type TurnResult struct {
	Answer          string          `json:"answer"`
	KBReferences    []KBReference   `json:"kbReferences"`
	Confidence      float64         `json:"confidence"`
	Tier            Tier            `json:"tier"`
	Severity        Severity        `json:"severity"`
	NeedsEscalation bool            `json:"needsEscalation"`
	Guardrail       GuardrailStatus `json:"guardrail"`
	TicketID        *string         `json:"ticket_id,omitempty"`
	TicketStatus    *string         `json:"ticket_status,omitempty"`
}

type MetricsSummary struct {
	TotalConversations   int            `json:"total_conversations"`
	TotalTickets         int            `json:"total_tickets"`
	DeflectionRate       float64        `json:"deflection_rate"`
	AvgConfidence        float64        `json:"avg_confidence"`
	GuardrailActivations int            `json:"guardrail_activations"`
	TicketsByTier        map[string]int `json:"tickets_by_tier"`
	TicketsBySeverity    map[string]int `json:"tickets_by_severity"`
	EscalationCount      int            `json:"escalation_count"`
}

type TrendDataPoint struct {
	Date  string `json:"date"`
	Value int    `json:"value"`
}

// MetricsTrends holds per-day counts, oldest day first.
type MetricsTrends struct {
	ConversationVolume   []TrendDataPoint `json:"conversation_volume"`
	GuardrailActivations []TrendDataPoint `json:"guardrail_activations"`
	TicketVolume         []TrendDataPoint `json:"ticket_volume"`
}
