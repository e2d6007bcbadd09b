package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/esi_helpdesk/backend/internal/db"
	"github.com/esi_helpdesk/backend/internal/models"
)

// TurnWriter persists the records of a single turn. All writes made through
// one TurnWriter commit or roll back together.
type TurnWriter interface {
	InsertMessage(ctx context.Context, m models.Message) error
	InsertGuardrailEvent(ctx context.Context, e models.GuardrailEvent) error
	// AllocateTicketID reserves the next ticket id. The reservation is
	// serialized against every other turn until the writer finishes.
	AllocateTicketID(ctx context.Context) (string, error)
	InsertTicket(ctx context.Context, t models.Ticket) error
}

type Store interface {
	RecentAssistantConfidences(ctx context.Context, conversationID string, n int) ([]float64, error)
	WithTurn(ctx context.Context, fn func(w TurnWriter) error) error
}

// PGStore adapts db.Store to the pipeline.
type PGStore struct {
	DB *db.Store
}

func (p PGStore) RecentAssistantConfidences(ctx context.Context, conversationID string, n int) ([]float64, error) {
	return p.DB.RecentAssistantConfidences(ctx, conversationID, n)
}

func (p PGStore) WithTurn(ctx context.Context, fn func(w TurnWriter) error) error {
	return p.DB.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(pgTurnWriter{store: p.DB, tx: tx})
	})
}

type pgTurnWriter struct {
	store *db.Store
	tx    pgx.Tx
}

func (w pgTurnWriter) InsertMessage(ctx context.Context, m models.Message) error {
	return w.store.InsertMessage(ctx, w.tx, m)
}

func (w pgTurnWriter) InsertGuardrailEvent(ctx context.Context, e models.GuardrailEvent) error {
	return w.store.InsertGuardrailEvent(ctx, w.tx, e)
}

func (w pgTurnWriter) AllocateTicketID(ctx context.Context) (string, error) {
	last, err := w.store.LastTicketIDLocked(ctx, w.tx)
	if err != nil {
		return "", err
	}
	return NextTicketID(last), nil
}

func (w pgTurnWriter) InsertTicket(ctx context.Context, t models.Ticket) error {
	return w.store.InsertTicket(ctx, w.tx, t)
}
