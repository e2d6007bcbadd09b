package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/esi_helpdesk/backend/internal/ai"
	"github.com/esi_helpdesk/backend/internal/models"
)

const (
	OutcomeBlocked   = "blocked"
	OutcomeEscalated = "escalated"
	OutcomeResolved  = "resolved"
)

const (
	RefusalAnswer    = "I'm sorry, the question you asked violates our usage policies and cannot be processed."
	EscalationAnswer = "I'm sorry, but I cannot assist with that request due to its severity or lack of KB coverage. An escalation ticket has been created for further review."
	EscalationStatus = "Ticket escalated due to issue severity or lack of KB coverage"
)

const (
	defaultTopK       = 1
	subjectMaxRunes   = 200
	repeatFailureRuns = 2
)

// TurnObserver receives one call per completed turn.
type TurnObserver interface {
	ObserveTurn(outcome string, tier models.Tier, confidence float64, elapsed time.Duration)
}

// ConversationPipeline runs one user turn from guardrail screening to the
// escalation decision and persists its audit records.
type ConversationPipeline struct {
	Rules       *Ruleset
	Knowledge   ai.KnowledgeSource
	Synthesizer ai.AnswerSynthesizer
	Store       Store
	Observer    TurnObserver
	Logger      zerolog.Logger
	TopK        int

	Now   func() time.Time
	NewID func() string
}

func (p *ConversationPipeline) Process(ctx context.Context, turn models.Turn) (models.TurnResult, error) {
	start := time.Now()
	message := strings.TrimSpace(turn.Message)
	if message == "" {
		return models.TurnResult{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if strings.TrimSpace(turn.ConversationID) == "" {
		return models.TurnResult{}, newError(ErrorInvalidInput, "missing_conversation", nil)
	}
	rules := p.Rules
	if rules == nil {
		rules = DefaultRuleset()
	}
	log := p.Logger.With().Str("conversation_id", turn.ConversationID).Logger()

	guardrail := rules.Screen(turn.Message)
	if guardrail.Blocked {
		result, err := p.finishBlocked(ctx, turn, guardrail)
		if err != nil {
			log.Error().Err(err).Msg("blocked turn persist failed")
			return models.TurnResult{}, err
		}
		log.Warn().Str("reason", *guardrail.Reason).Msg("turn blocked by guardrail")
		p.observe(OutcomeBlocked, result, start)
		return result, nil
	}

	topK := p.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	docs, err := p.Knowledge.Retrieve(ctx, turn.Message, topK)
	if err != nil {
		log.Error().Err(err).Msg("knowledge retrieval failed")
		return models.TurnResult{}, newError(ErrorUpstream, "knowledge_retrieval_error", err)
	}
	kbCoverage := len(docs) > 0

	answer := ai.NotInKnowledgeBase
	if kbCoverage {
		answer, err = p.Synthesizer.Generate(ctx, turn.Message, docs)
		if err != nil {
			log.Error().Err(err).Msg("answer generation failed")
			return models.TurnResult{}, newError(ErrorUpstream, "answer_generation_error", err)
		}
	}
	confidence := rules.EstimateConfidence(docs, answer)

	repeated, err := p.repeatedFailure(ctx, turn.ConversationID)
	if err != nil {
		log.Error().Err(err).Msg("history lookup failed")
		return models.TurnResult{}, newError(ErrorInternal, "history_error", err)
	}

	in := TierInput{
		Text:            turn.Message,
		Severity:        rules.ClassifySeverity(turn.Message),
		KBCoverage:      kbCoverage,
		RepeatedFailure: repeated,
	}
	tier := rules.ClassifyTier(in)
	escalate := ShouldEscalate(tier, in)

	result := models.TurnResult{
		KBReferences:    references(docs),
		Confidence:      confidence,
		Tier:            tier,
		Severity:        in.Severity,
		NeedsEscalation: escalate,
		Guardrail:       guardrail,
	}

	if escalate {
		ticketID, err := p.finishEscalated(ctx, turn, result)
		if err != nil {
			log.Error().Err(err).Msg("escalation persist failed")
			return models.TurnResult{}, newError(ErrorInternal, "escalation_write_error", err)
		}
		status := EscalationStatus
		result.Answer = EscalationAnswer
		result.TicketID = &ticketID
		result.TicketStatus = &status
		log.Info().
			Str("ticket_id", ticketID).
			Str("tier", string(tier)).
			Str("severity", string(in.Severity)).
			Bool("kb_coverage", kbCoverage).
			Bool("repeated_failure", repeated).
			Float64("confidence", confidence).
			Msg("turn escalated")
		p.observe(OutcomeEscalated, result, start)
		return result, nil
	}

	result.Answer = answer
	if err := p.finishResolved(ctx, turn, result); err != nil {
		log.Error().Err(err).Msg("resolved turn persist failed")
		return models.TurnResult{}, newError(ErrorInternal, "message_write_error", err)
	}
	log.Info().
		Str("tier", string(tier)).
		Str("severity", string(in.Severity)).
		Float64("confidence", confidence).
		Int("kb_references", len(result.KBReferences)).
		Msg("turn resolved")
	p.observe(OutcomeResolved, result, start)
	return result, nil
}

func (p *ConversationPipeline) finishBlocked(ctx context.Context, turn models.Turn, g models.GuardrailStatus) (models.TurnResult, error) {
	zero := 0.0
	tier := models.Tier3
	severity := g.Severity
	now := p.now()

	user := p.userMessage(turn, now)
	user.GuardrailBlocked = true

	err := p.Store.WithTurn(ctx, func(w TurnWriter) error {
		if err := w.InsertMessage(ctx, user); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		event := models.GuardrailEvent{
			ID:             p.newID(),
			ConversationID: turn.ConversationID,
			MessageID:      user.ID,
			Severity:       g.Severity,
			UserMessage:    turn.Message,
			CreatedAt:      now,
		}
		if err := w.InsertGuardrailEvent(ctx, event); err != nil {
			return fmt.Errorf("insert guardrail event: %w", err)
		}
		assistant := models.Message{
			ID:               p.newID(),
			ConversationID:   turn.ConversationID,
			Role:             models.RoleAssistant,
			Content:          "Guardrail triggered: " + *g.Reason,
			Confidence:       &zero,
			Tier:             &tier,
			Severity:         &severity,
			GuardrailBlocked: true,
			CreatedAt:        now,
		}
		if err := w.InsertMessage(ctx, assistant); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.TurnResult{}, newError(ErrorInternal, "guardrail_write_error", err)
	}

	return models.TurnResult{
		Answer:          RefusalAnswer,
		KBReferences:    []models.KBReference{},
		Confidence:      0.0,
		Tier:            models.Tier3,
		Severity:        g.Severity,
		NeedsEscalation: true,
		Guardrail:       g,
	}, nil
}

func (p *ConversationPipeline) finishEscalated(ctx context.Context, turn models.Turn, result models.TurnResult) (string, error) {
	now := p.now()
	var ticketID string
	err := p.Store.WithTurn(ctx, func(w TurnWriter) error {
		if err := w.InsertMessage(ctx, p.userMessage(turn, now)); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		id, err := w.AllocateTicketID(ctx)
		if err != nil {
			return fmt.Errorf("allocate ticket id: %w", err)
		}
		ticket := models.Ticket{
			ID:             id,
			ConversationID: turn.ConversationID,
			Subject:        truncateRunes(turn.Message, subjectMaxRunes),
			Description:    turn.Message,
			Tier:           result.Tier,
			Severity:       result.Severity,
			Status:         models.TicketStatusOpen,
			UserRole:       turn.UserRole,
			Context:        turn.Context,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := w.InsertTicket(ctx, ticket); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		if err := w.InsertMessage(ctx, p.assistantMessage(turn, "Escalated ticket created: "+id, result, now)); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}
		ticketID = id
		return nil
	})
	return ticketID, err
}

func (p *ConversationPipeline) finishResolved(ctx context.Context, turn models.Turn, result models.TurnResult) error {
	now := p.now()
	return p.Store.WithTurn(ctx, func(w TurnWriter) error {
		if err := w.InsertMessage(ctx, p.userMessage(turn, now)); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		if err := w.InsertMessage(ctx, p.assistantMessage(turn, result.Answer, result, now)); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}
		return nil
	})
}

// repeatedFailure is true when the previous unblocked assistant answers of
// the conversation all scored zero confidence.
func (p *ConversationPipeline) repeatedFailure(ctx context.Context, conversationID string) (bool, error) {
	recent, err := p.Store.RecentAssistantConfidences(ctx, conversationID, repeatFailureRuns)
	if err != nil {
		return false, err
	}
	if len(recent) < repeatFailureRuns {
		return false, nil
	}
	for _, c := range recent {
		if c > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (p *ConversationPipeline) userMessage(turn models.Turn, now time.Time) models.Message {
	return models.Message{
		ID:             p.newID(),
		ConversationID: turn.ConversationID,
		Role:           models.RoleUser,
		Content:        turn.Message,
		CreatedAt:      now,
	}
}

func (p *ConversationPipeline) assistantMessage(turn models.Turn, content string, result models.TurnResult, now time.Time) models.Message {
	confidence := result.Confidence
	tier := result.Tier
	severity := result.Severity
	return models.Message{
		ID:             p.newID(),
		ConversationID: turn.ConversationID,
		Role:           models.RoleAssistant,
		Content:        content,
		KBReferences:   result.KBReferences,
		Confidence:     &confidence,
		Tier:           &tier,
		Severity:       &severity,
		CreatedAt:      now.Add(time.Microsecond),
	}
}

func (p *ConversationPipeline) observe(outcome string, result models.TurnResult, start time.Time) {
	if p.Observer == nil {
		return
	}
	p.Observer.ObserveTurn(outcome, result.Tier, result.Confidence, time.Since(start))
}

func (p *ConversationPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *ConversationPipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

func references(docs []models.RetrievedDocument) []models.KBReference {
	refs := make([]models.KBReference, 0, len(docs))
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = "KB Article"
		}
		refs = append(refs, models.KBReference{ID: d.ID, Title: title})
	}
	return refs
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
