package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dotsetgreg/mindful/pkg/chat"
	"github.com/dotsetgreg/mindful/pkg/identity"
)

// ChatHandler exposes the turn pipeline over HTTP.
type ChatHandler struct {
	turns    *chat.Service
	resolver *identity.Resolver
}

func NewChatHandler(turns *chat.Service, resolver *identity.Resolver) *ChatHandler {
	return &ChatHandler{turns: turns, resolver: resolver}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// HandleChat handles POST /api/chat.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if logger == nil {
		logger = &log.Logger
	}

	if r.Method != http.MethodPost {
		Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, r, http.StatusBadRequest, "Invalid message")
		return
	}

	// Resolve identity before the turn so a brand-new client gets its
	// cookie even when the turn itself fails.
	userID := h.resolver.Resolve(w, r)

	reply, err := h.turns.HandleTurn(r.Context(), userID, req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			Error(w, r, http.StatusBadRequest, "Invalid message")
			return
		}
		logger.Error().Err(err).Msg("turn failed")
		Error(w, r, http.StatusInternalServerError, genericFailureMessage)
		return
	}

	JSON(w, r, http.StatusOK, chatResponse{Reply: reply})
}

// HandleHealth handles GET /healthz.
func (h *ChatHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
