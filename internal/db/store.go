package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/esi_helpdesk/backend/internal/models"
)

// ticketSequenceLock is the advisory lock key serializing ticket id allocation.
const ticketSequenceLock int64 = 7201001

var ErrNotFound = errors.New("not found")

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE,
			user_role TEXT NOT NULL DEFAULT '',
			context JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			kb_references JSONB NOT NULL DEFAULT '[]',
			confidence DOUBLE PRECISION,
			tier TEXT,
			severity TEXT,
			guardrail_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS guardrail_events (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			message_id TEXT REFERENCES messages(id) ON DELETE SET NULL,
			severity TEXT NOT NULL,
			user_message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			subject VARCHAR(500) NOT NULL,
			description TEXT NOT NULL,
			tier TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN',
			user_role TEXT NOT NULL DEFAULT '',
			context JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_conversation ON tickets (conversation_id)`,
		`CREATE TABLE IF NOT EXISTS kb_documents (
			id TEXT PRIMARY KEY,
			title VARCHAR(500) NOT NULL,
			content TEXT NOT NULL,
			embedding vector(1536) NOT NULL,
			doc_metadata JSONB NOT NULL DEFAULT '{}',
			chunk_index INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// EnsureConversation returns the conversation bound to sessionID, creating it
// if absent. Concurrent first turns of one session resolve to the same row.
func (s *Store) EnsureConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	if conv.Context == nil {
		conv.Context = map[string]any{}
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO conversations (id, session_id, user_role, context, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id) DO NOTHING
	`, conv.ID, conv.SessionID, conv.UserRole, conv.Context, conv.CreatedAt)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	var out models.Conversation
	err = s.Pool.QueryRow(ctx, `SELECT id, session_id, user_role, context, created_at FROM conversations WHERE session_id = $1`, conv.SessionID).
		Scan(&out.ID, &out.SessionID, &out.UserRole, &out.Context, &out.CreatedAt)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return out, nil
}

func (s *Store) InsertMessage(ctx context.Context, tx pgx.Tx, m models.Message) error {
	refs := m.KBReferences
	if refs == nil {
		refs = []models.KBReference{}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, kb_references, confidence, tier, severity, guardrail_blocked, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, m.ID, m.ConversationID, m.Role, m.Content, refs, m.Confidence, tierString(m.Tier), severityString(m.Severity), m.GuardrailBlocked, m.CreatedAt)
	return err
}

func (s *Store) InsertGuardrailEvent(ctx context.Context, tx pgx.Tx, e models.GuardrailEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO guardrail_events (id, conversation_id, message_id, severity, user_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.ConversationID, e.MessageID, string(e.Severity), e.UserMessage, e.CreatedAt)
	return err
}

// LastTicketIDLocked takes the transaction-scoped ticket sequence lock and
// returns the highest issued ticket id, or "" when none exists. The lock is
// released on commit or rollback.
func (s *Store) LastTicketIDLocked(ctx context.Context, tx pgx.Tx) (string, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ticketSequenceLock); err != nil {
		return "", fmt.Errorf("lock ticket sequence: %w", err)
	}
	var id string
	err := tx.QueryRow(ctx, `
		SELECT id FROM tickets
		WHERE id LIKE 'TICK-%'
		ORDER BY length(id) DESC, id DESC
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *Store) InsertTicket(ctx context.Context, tx pgx.Tx, t models.Ticket) error {
	if t.Context == nil {
		t.Context = map[string]any{}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO tickets (id, conversation_id, subject, description, tier, severity, status, user_role, context, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, t.ID, t.ConversationID, t.Subject, t.Description, string(t.Tier), string(t.Severity), t.Status, t.UserRole, t.Context, t.CreatedAt, t.UpdatedAt)
	return err
}

const ticketColumns = `id, conversation_id, subject, description, tier, severity, status, user_role, context, created_at, updated_at`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var (
		t        models.Ticket
		tier     string
		severity string
	)
	if err := row.Scan(&t.ID, &t.ConversationID, &t.Subject, &t.Description, &tier, &severity, &t.Status, &t.UserRole, &t.Context, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return models.Ticket{}, err
	}
	t.Tier = models.Tier(tier)
	t.Severity = models.Severity(severity)
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (models.Ticket, error) {
	t, err := scanTicket(s.Pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, ErrNotFound
	}
	return t, err
}

func (s *Store) ListTickets(ctx context.Context, status string, limit, offset int) ([]models.Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTicket applies the non-nil fields of upd. The id is never changed.
func (s *Store) UpdateTicket(ctx context.Context, id string, upd models.TicketUpdate) (models.Ticket, error) {
	var (
		sets []string
		args []any
	)
	if upd.Status != nil {
		args = append(args, *upd.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.Tier != nil {
		args = append(args, string(*upd.Tier))
		sets = append(sets, fmt.Sprintf("tier = $%d", len(args)))
	}
	if upd.Severity != nil {
		args = append(args, string(*upd.Severity))
		sets = append(sets, fmt.Sprintf("severity = $%d", len(args)))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := `UPDATE tickets SET ` + strings.Join(sets, ", ") + fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + ticketColumns
	t, err := scanTicket(s.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, ErrNotFound
	}
	return t, err
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, conversation_id, role, content, kb_references, confidence, tier, severity, guardrail_blocked, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var (
			m        models.Message
			tier     *string
			severity *string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.KBReferences, &m.Confidence, &tier, &severity, &m.GuardrailBlocked, &m.CreatedAt); err != nil {
			return nil, err
		}
		if tier != nil {
			t := models.Tier(*tier)
			m.Tier = &t
		}
		if severity != nil {
			sv := models.Severity(*severity)
			m.Severity = &sv
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentAssistantConfidences returns confidences of the latest n unblocked
// assistant messages of a conversation, newest first.
func (s *Store) RecentAssistantConfidences(ctx context.Context, conversationID string, n int) ([]float64, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT COALESCE(confidence, 0) FROM messages
		WHERE conversation_id = $1 AND role = 'assistant' AND guardrail_blocked = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, conversationID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SearchKnowledge(ctx context.Context, embedding []float32, k int) ([]models.RetrievedDocument, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, title, content, doc_metadata,
			1 - (embedding <=> $1::vector) AS score
		FROM kb_documents
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, vectorLiteral(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RetrievedDocument
	for rows.Next() {
		var (
			rowID string
			d     models.RetrievedDocument
		)
		if err := rows.Scan(&rowID, &d.Title, &d.Content, &d.Metadata, &d.Similarity); err != nil {
			return nil, err
		}
		d.ID = rowID
		if kbID, ok := d.Metadata["kb_id"].(string); ok && kbID != "" {
			d.ID = kbID
		}
		if d.Title == "" {
			d.Title = "KB Article"
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// vectorLiteral renders a pgvector text literal such as [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (s *Store) MetricsSummary(ctx context.Context) (models.MetricsSummary, error) {
	var out models.MetricsSummary
	err := s.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM tickets),
			(SELECT COUNT(*) FROM guardrail_events),
			(SELECT COALESCE(AVG(confidence), 0) FROM messages WHERE role = 'assistant' AND confidence IS NOT NULL),
			(SELECT COUNT(*) FROM tickets WHERE tier IN ('TIER_3', 'TIER_4'))
	`).Scan(&out.TotalConversations, &out.TotalTickets, &out.GuardrailActivations, &out.AvgConfidence, &out.EscalationCount)
	if err != nil {
		return models.MetricsSummary{}, err
	}

	if out.TotalConversations > 0 {
		resolved := out.TotalConversations - out.TotalTickets
		if resolved < 0 {
			resolved = 0
		}
		out.DeflectionRate = round2(float64(resolved) / float64(out.TotalConversations) * 100)
	}
	out.AvgConfidence = round2(out.AvgConfidence)

	out.TicketsByTier, err = s.groupTicketsBy(ctx, "tier")
	if err != nil {
		return models.MetricsSummary{}, err
	}
	out.TicketsBySeverity, err = s.groupTicketsBy(ctx, "severity")
	if err != nil {
		return models.MetricsSummary{}, err
	}
	return out, nil
}

func (s *Store) MetricsTrends(ctx context.Context) (models.MetricsTrends, error) {
	var (
		out models.MetricsTrends
		err error
	)
	if out.ConversationVolume, err = s.dailyCounts(ctx, "conversations"); err != nil {
		return models.MetricsTrends{}, err
	}
	if out.GuardrailActivations, err = s.dailyCounts(ctx, "guardrail_events"); err != nil {
		return models.MetricsTrends{}, err
	}
	if out.TicketVolume, err = s.dailyCounts(ctx, "tickets"); err != nil {
		return models.MetricsTrends{}, err
	}
	return out, nil
}

// Days are UTC calendar days. table is one of a fixed set of identifiers, never user input.
func (s *Store) dailyCounts(ctx context.Context, table string) ([]models.TrendDataPoint, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), COUNT(*)
		FROM (SELECT (created_at AT TIME ZONE 'UTC')::date AS day FROM `+table+`) d
		GROUP BY day
		ORDER BY day
	`)
	if err != nil {
		return nil, fmt.Errorf("daily counts %s: %w", table, err)
	}
	defer rows.Close()
	out := []models.TrendDataPoint{}
	for rows.Next() {
		var p models.TrendDataPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// column is one of a fixed set of identifiers, never user input.
func (s *Store) groupTicketsBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+column+`, COUNT(*) FROM tickets GROUP BY `+column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func tierString(t *models.Tier) *string {
	if t == nil {
		return nil
	}
	v := string(*t)
	return &v
}

func severityString(s *models.Severity) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
