package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/esi_helpdesk/backend/internal/db"
	"github.com/esi_helpdesk/backend/internal/models"
	"github.com/esi_helpdesk/backend/internal/service"
)

// TurnProcessor runs one conversation turn.
type TurnProcessor interface {
	Process(ctx context.Context, turn models.Turn) (models.TurnResult, error)
}

// ConversationOpener binds a chat session to its conversation.
type ConversationOpener interface {
	EnsureConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error)
}

type Handler struct {
	Store         *db.Store
	Conversations ConversationOpener
	Pipeline      TurnProcessor
	Validator     *validator.Validate
	Logger        zerolog.Logger
}

type ChatRequest struct {
	SessionID string         `json:"sessionId" validate:"required,max=128"`
	Message   string         `json:"message" validate:"required,max=8000"`
	UserRole  string         `json:"userRole" validate:"omitempty,max=64"`
	Context   map[string]any `json:"context"`
}

type ChatResponse struct {
	ConversationID string `json:"conversationId"`
	models.TurnResult
}

type TicketUpdateRequest struct {
	Status   *string `json:"status" validate:"omitempty,oneof=OPEN IN_PROGRESS RESOLVED CLOSED"`
	Tier     *string `json:"tier" validate:"omitempty,oneof=TIER_0 TIER_1 TIER_2 TIER_3 TIER_4"`
	Severity *string `json:"severity" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Send a chat turn
// @Description Screens, answers from the knowledge base and escalates when needed
// @Tags chat
// @Accept json
// @Produce json
// @Param body body ChatRequest true "chat turn"
// @Success 200 {object} ChatResponse
// @Failure 400 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /api/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Message = strings.TrimSpace(req.Message)
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx := c.Request.Context()
	conv, err := h.Conversations.EnsureConversation(ctx, models.Conversation{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		UserRole:  req.UserRole,
		Context:   req.Context,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		h.Logger.Error().Err(err).Str("session_id", req.SessionID).Msg("failed to open conversation")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to open conversation", err.Error())
		return
	}

	result, err := h.Pipeline.Process(ctx, models.Turn{
		ConversationID: conv.ID,
		Message:        req.Message,
		UserRole:       req.UserRole,
		Context:        req.Context,
	})
	if err != nil {
		status, code := errorStatus(err)
		writeError(c, status, code, "Turn processing failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, ChatResponse{ConversationID: conv.ID, TurnResult: result})
}

// @Summary Conversation messages
// @Tags chat
// @Produce json
// @Param id path string true "conversation id"
// @Success 200 {object} map[string]any
// @Router /api/conversations/{id}/messages [get]
func (h *Handler) ConversationMessages(c *gin.Context) {
	items, err := h.Store.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list messages", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary List tickets
// @Tags tickets
// @Produce json
// @Param status query string false "status filter"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/tickets [get]
func (h *Handler) TicketsList(c *gin.Context) {
	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.Store.ListTickets(c.Request.Context(), status, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list tickets", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

// @Summary Ticket details
// @Tags tickets
// @Produce json
// @Param id path string true "ticket id"
// @Success 200 {object} models.Ticket
// @Failure 404 {object} map[string]any
// @Router /api/tickets/{id} [get]
func (h *Handler) TicketDetails(c *gin.Context) {
	t, err := h.Store.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get ticket", err.Error())
		return
	}
	c.JSON(http.StatusOK, t)
}

// @Summary Update ticket
// @Tags tickets
// @Accept json
// @Produce json
// @Param id path string true "ticket id"
// @Param body body TicketUpdateRequest true "fields to change"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/tickets/{id} [patch]
func (h *Handler) TicketUpdate(c *gin.Context) {
	var req TicketUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	upd := req.toUpdate()
	if upd.Status == nil && upd.Tier == nil && upd.Severity == nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Nothing to update", nil)
		return
	}

	t, err := h.Store.UpdateTicket(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to update ticket", err.Error())
		return
	}
	h.Logger.Info().Str("ticket_id", t.ID).Str("status", t.Status).Msg("ticket updated")
	c.JSON(http.StatusOK, t)
}

// @Summary Helpdesk metrics summary
// @Tags metrics
// @Produce json
// @Success 200 {object} models.MetricsSummary
// @Router /api/metrics/summary [get]
func (h *Handler) MetricsSummary(c *gin.Context) {
	summary, err := h.Store.MetricsSummary(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to compute metrics", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Daily helpdesk trends
// @Tags metrics
// @Produce json
// @Success 200 {object} models.MetricsTrends
// @Router /api/metrics/trends [get]
func (h *Handler) MetricsTrends(c *gin.Context) {
	trends, err := h.Store.MetricsTrends(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to compute trends", err.Error())
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (r TicketUpdateRequest) toUpdate() models.TicketUpdate {
	var upd models.TicketUpdate
	if r.Status != nil {
		s := *r.Status
		upd.Status = &s
	}
	if r.Tier != nil {
		t := models.Tier(*r.Tier)
		upd.Tier = &t
	}
	if r.Severity != nil {
		s := models.Severity(*r.Severity)
		upd.Severity = &s
	}
	return upd
}

func errorStatus(err error) (int, string) {
	var se *service.Error
	if !errors.As(err, &se) {
		return http.StatusInternalServerError, string(service.ErrorInternal)
	}
	switch se.Code {
	case service.ErrorInvalidInput:
		return http.StatusBadRequest, string(se.Code)
	case service.ErrorUpstream:
		return http.StatusBadGateway, string(se.Code)
	default:
		return http.StatusInternalServerError, string(se.Code)
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
