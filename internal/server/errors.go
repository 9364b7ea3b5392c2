package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    domain.ErrorType `json:"type"`
	Code    domain.ErrorCode `json:"code,omitempty"`
	Message string           `json:"message"`
	Param   string           `json:"param,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the API error envelope. Errors that are not
// TradeErrors are reported as opaque server errors.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	var tradeErr *domain.TradeError
	if !errors.As(err, &tradeErr) {
		tradeErr = domain.ErrServer("internal server error")
	}

	WriteJSON(w, tradeErr.HTTPStatusCode(), errorBody{Error: errorDetail{
		Type:    tradeErr.Type,
		Code:    tradeErr.Code,
		Message: tradeErr.Message,
		Param:   tradeErr.Param,
	}})
}
