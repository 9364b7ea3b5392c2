// Package trades exposes the reconciliation engine over a small JSON API.
package trades

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/server"
)

// maxBodyBytes bounds request bodies; drafts carry at most a statement.
const maxBodyBytes = 1 << 20

// Engine is the part of the reconciliation facade the API needs.
type Engine interface {
	ListTrades(ctx context.Context, actorUserID string) ([]*domain.TradeRecord, error)
	GetTrade(ctx context.Context, tradeID, actorUserID string) (*domain.TradeRecord, error)
	ApplyAction(ctx context.Context, tradeID, actorUserID string, action domain.Action) (*domain.TradeRecord, error)
	MergeDraft(ctx context.Context, tradeID, actorUserID string, draft *domain.Draft) (*domain.TradeRecord, []domain.Change, error)
	ListEvents(ctx context.Context, tradeID, actorUserID string) ([]*domain.TradeEvent, error)
	PreviewQuote(items []domain.StatementItem, taxRate *decimal.Decimal, fees *domain.Fees) (domain.Totals, error)
}

// Handler serves the trade API.
type Handler struct {
	engine Engine
}

// NewHandler creates a new trade API handler
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// ActionRequest asks for one lifecycle action.
type ActionRequest struct {
	Action domain.Action `json:"action"`
}

// QuoteRequest previews totals before a statement is submitted.
type QuoteRequest struct {
	Items   []domain.StatementItem `json:"items"`
	TaxRate *decimal.Decimal       `json:"tax_rate,omitempty"`
	Fees    *domain.Fees           `json:"fees,omitempty"`
}

type listResponse struct {
	Trades []*domain.TradeRecord `json:"trades"`
}

type draftResponse struct {
	Trade   *domain.TradeRecord `json:"trade"`
	Changes []domain.Change     `json:"changes"`
}

type eventsResponse struct {
	Events []*domain.TradeEvent `json:"events"`
}

// Register mounts the routes on r, which must already authenticate callers.
func (h *Handler) Register(r chi.Router) {
	r.Get("/trades", h.HandleList)
	r.Get("/trades/{trade_id}", h.HandleGet)
	r.Post("/trades/{trade_id}/actions", h.HandleAction)
	r.Post("/trades/{trade_id}/draft", h.HandleDraft)
	r.Get("/trades/{trade_id}/events", h.HandleEvents)
	r.Post("/quotes/preview", h.HandlePreviewQuote)
}

// HandleList lists every trade the caller is a party to.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorID(w, r)
	if !ok {
		return
	}

	trades, err := h.engine.ListTrades(r.Context(), actorID)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	if trades == nil {
		trades = []*domain.TradeRecord{}
	}
	server.WriteJSON(w, http.StatusOK, listResponse{Trades: trades})
}

// HandleGet returns one trade.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorID(w, r)
	if !ok {
		return
	}
	tradeID := tradeID(r)

	rec, err := h.engine.GetTrade(r.Context(), tradeID, actorID)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, rec)
}

// HandleAction applies a lifecycle action.
func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorID(w, r)
	if !ok {
		return
	}
	tradeID := tradeID(r)

	var req ActionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Action == "" {
		server.WriteError(w, r, domain.ErrInvalidInput("action is required").WithParam("action"))
		return
	}

	server.AddLogField(r.Context(), "action", string(req.Action))
	rec, err := h.engine.ApplyAction(r.Context(), tradeID, actorID, req.Action)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, rec)
}

// HandleDraft merges an offline draft into the stored trade.
func (h *Handler) HandleDraft(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorID(w, r)
	if !ok {
		return
	}
	tradeID := tradeID(r)

	var draft domain.Draft
	if !decode(w, r, &draft) {
		return
	}

	rec, changes, err := h.engine.MergeDraft(r.Context(), tradeID, actorID, &draft)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	if changes == nil {
		changes = []domain.Change{}
	}
	server.WriteJSON(w, http.StatusOK, draftResponse{Trade: rec, Changes: changes})
}

// HandleEvents returns a trade's history.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorID(w, r)
	if !ok {
		return
	}

	events, err := h.engine.ListEvents(r.Context(), tradeID(r), actorID)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	if events == nil {
		events = []*domain.TradeEvent{}
	}
	server.WriteJSON(w, http.StatusOK, eventsResponse{Events: events})
}

// HandlePreviewQuote computes totals for an unsaved statement.
func (h *Handler) HandlePreviewQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decode(w, r, &req) {
		return
	}

	totals, err := h.engine.PreviewQuote(req.Items, req.TaxRate, req.Fees)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, totals)
}

func actorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := server.GetActor(r.Context())
	if actor == nil || actor.UserID == "" {
		server.WriteError(w, r, domain.ErrUnauthenticated("missing caller identity"))
		return "", false
	}
	return actor.UserID, true
}

func tradeID(r *http.Request) string {
	id := chi.URLParam(r, "trade_id")
	server.AddLogField(r.Context(), "trade_id", id)
	return id
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		msg := "invalid request body"
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			msg = fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			msg = "request body is empty"
		}
		server.WriteError(w, r, domain.ErrInvalidInput(msg))
		return false
	}
	return true
}
