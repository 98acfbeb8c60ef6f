// Package api provides HTTP handlers for the show API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/storyprotocol/eliza/internal/domain"
	"github.com/storyprotocol/eliza/internal/game"
	"github.com/storyprotocol/eliza/internal/ledger"
	"github.com/storyprotocol/eliza/internal/show"
	"github.com/storyprotocol/eliza/internal/store"
)

// maxRequestBodySize bounds request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Handler provides the HTTP surface over the orchestrator core.
type Handler struct {
	repo      store.Repository
	ledger    *ledger.Ledger
	scheduler *show.Scheduler
	sequencer *game.Sequencer
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, l *ledger.Ledger, scheduler *show.Scheduler, sequencer *game.Sequencer) *Handler {
	return &Handler{
		repo:      repo,
		ledger:    l,
		scheduler: scheduler,
		sequencer: sequencer,
	}
}

// RegisterRoutes attaches all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/chat-data", h.HandleChatData)
	r.Get("/api/standings", h.HandleStandings)
	r.Post("/api/chat", h.HandleChat)
	r.Post("/api/game/end", h.HandleEndGame)
	r.Put("/api/game/config", h.HandleSetConfig)
	r.Post("/api/game/reset", h.HandleReset)
	r.Get("/api/health", h.HandleHealth)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error","message":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Success writes the standard success envelope.
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   data,
	})
}

// Error writes the standard error envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}

// HandleChatData serves the per-identity transcript view for a time window.
func (h *Handler) HandleChatData(w http.ResponseWriter, r *http.Request) {
	startTime := r.URL.Query().Get("startTime")
	if startTime == "" {
		Error(w, http.StatusBadRequest, "startTime parameter is required")
		return
	}
	since, err := time.Parse(time.RFC3339, startTime)
	if err != nil {
		Error(w, http.StatusBadRequest, "startTime must be RFC 3339")
		return
	}

	agentName := r.URL.Query().Get("agentName")

	transcripts, err := h.ledger.Transcripts(r.Context(), since, time.Now(), agentName)
	if err != nil {
		slog.Error("failed to fetch chat data", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to fetch chat data")
		return
	}
	if transcripts == nil {
		transcripts = []domain.AgentTranscript{}
	}

	Success(w, map[string]interface{}{"agents": transcripts})
}

// HandleStandings serves the current score table.
func (h *Handler) HandleStandings(w http.ResponseWriter, r *http.Request) {
	standings, err := h.repo.Standings(r.Context())
	if err != nil {
		slog.Error("failed to fetch standings", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to fetch standings")
		return
	}
	if standings == nil {
		standings = []domain.Standing{}
	}
	Success(w, map[string]interface{}{"standings": standings})
}

type chatRequest struct {
	Message  string `json:"message"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// HandleChat lets an outside user inject one scored turn with the host.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" || req.UserID == "" {
		Error(w, http.StatusBadRequest, "message and userId are required")
		return
	}

	result, err := h.scheduler.HandleExternalChat(r.Context(), req.UserID, req.UserName, req.Message)
	if err != nil {
		h.writeDomainError(w, err, "Failed to process chat")
		return
	}

	Success(w, map[string]interface{}{
		"message": result.Message,
		"score":   result.Score,
		"sessionInfo": map[string]string{
			"userId":         result.Session.UserID,
			"roomId":         result.Session.RoomID,
			"originalUserId": result.Session.OriginalUserID,
		},
	})
}

// HandleEndGame runs the one-shot derivation protocol. Unlike other
// endpoints, downstream errors are returned verbatim: the protocol has
// irreversible external side effects and the operator needs the detail to
// recover manually.
func (h *Handler) HandleEndGame(w http.ResponseWriter, r *http.Request) {
	result, err := h.sequencer.EndGame(r.Context(), bearerToken(r))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			Error(w, http.StatusUnauthorized, "invalid credential")
		case errors.Is(err, domain.ErrNotFound):
			Error(w, http.StatusNotFound, "no contestants found")
		default:
			slog.Error("game end failed", "error", err)
			Error(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	Success(w, result)
}

type configRequest struct {
	IntervalSeconds int    `json:"intervalSeconds"`
	StartsAt        string `json:"startsAt,omitempty"`
	EndsAt          string `json:"endsAt,omitempty"`
}

// HandleSetConfig updates the game pacing record.
func (h *Handler) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var start, end time.Time
	var err error
	if req.StartsAt != "" {
		if start, err = time.Parse(time.RFC3339, req.StartsAt); err != nil {
			Error(w, http.StatusBadRequest, "startsAt must be RFC 3339")
			return
		}
	}
	if req.EndsAt != "" {
		if end, err = time.Parse(time.RFC3339, req.EndsAt); err != nil {
			Error(w, http.StatusBadRequest, "endsAt must be RFC 3339")
			return
		}
	}

	interval := time.Duration(req.IntervalSeconds) * time.Second
	if err := h.sequencer.SetConfig(r.Context(), bearerToken(r), interval, start, end); err != nil {
		h.writeDomainError(w, err, "Failed to update game config")
		return
	}
	Success(w, map[string]interface{}{"intervalSeconds": req.IntervalSeconds})
}

// HandleReset wipes all game state. Irreversible.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.sequencer.Reset(r.Context(), bearerToken(r)); err != nil {
		h.writeDomainError(w, err, "Failed to reset game")
		return
	}
	Success(w, map[string]string{"reset": "complete"})
}

// HandleHealth reports store connectivity and scheduler liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}

	payload := map[string]interface{}{"database": "ok"}
	if last := h.scheduler.LastRound(); !last.IsZero() {
		payload["last_round"] = last.UTC().Format(time.RFC3339)
	}
	Success(w, payload)
}

// writeDomainError translates core errors into the response envelope,
// keeping internal detail in the logs.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, generic string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		Error(w, http.StatusUnauthorized, "invalid credential")
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("request failed", "error", err)
		Error(w, http.StatusInternalServerError, generic)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}
