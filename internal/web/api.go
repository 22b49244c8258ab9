// Package web exposes the HTTP API: chat session management, agent
// descriptor lookups, and the streaming invocation endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finchat-ai/finchat/internal/agents"
	"github.com/finchat-ai/finchat/internal/auth"
	"github.com/finchat-ai/finchat/internal/bridge"
	"github.com/finchat-ai/finchat/internal/finance"
	"github.com/finchat-ai/finchat/internal/observability"
	"github.com/finchat-ai/finchat/internal/store"
)

// Handler serves the HTTP API.
type Handler struct {
	store    store.Store
	agents   *agents.Service
	bridge   *bridge.Bridge
	identity *auth.Resolver
	profiles finance.ProfileStore
	logger   *observability.Logger
	registry *prometheus.Registry
}

// Config wires a Handler.
type Config struct {
	Store    store.Store
	Agents   *agents.Service
	Bridge   *bridge.Bridge
	Identity *auth.Resolver
	Profiles finance.ProfileStore
	Logger   *observability.Logger
	Registry *prometheus.Registry
}

// NewHandler creates the API handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Profiles == nil {
		cfg.Profiles = finance.NewMemoryProfileStore()
	}
	return &Handler{
		store:    cfg.Store,
		agents:   cfg.Agents,
		bridge:   cfg.Bridge,
		identity: cfg.Identity,
		profiles: cfg.Profiles,
		logger:   cfg.Logger,
		registry: cfg.Registry,
	}
}

// Routes builds the HTTP mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/chats", h.handleChats)
	mux.HandleFunc("/api/chats/", h.handleChatByID)
	mux.HandleFunc("/api/agents", h.handleAgents)
	mux.HandleFunc("/api/agents/", h.handleAgentByID)
	mux.HandleFunc("/api/invoke", h.handleInvoke)
	mux.HandleFunc("/api/profile", h.handleProfile)
	mux.HandleFunc("/api/finance/summary", h.handleFinanceSummary)
	mux.HandleFunc("/api/finance/transactions", h.handleFinanceTransactions)
	if h.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChats serves GET /api/chats (list) and DELETE /api/chats (clear).
func (h *Handler) handleChats(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		chats, err := h.store.ListAll(ctx, user)
		if err != nil {
			h.logger.Error(ctx, "failed to list chats", "error", err)
			h.jsonError(w, "failed to list chats", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, http.StatusOK, chats)

	case http.MethodDelete:
		count, err := h.store.ClearAll(ctx, user)
		if err != nil {
			h.logger.Error(ctx, "failed to clear chats", "error", err)
			h.jsonError(w, "failed to clear chats", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted_count": count})

	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// updateChatRequest is the PATCH /api/chats/{id} body.
type updateChatRequest struct {
	Title *string `json:"title"`
}

// handleChatByID serves GET, PATCH, and DELETE on /api/chats/{id}.
func (h *Handler) handleChatByID(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	chatID := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	if chatID == "" || strings.Contains(chatID, "/") {
		h.jsonError(w, "invalid chat id", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		chat, err := h.store.Get(ctx, user, chatID)
		if errors.Is(err, store.ErrNotFound) {
			h.jsonError(w, "chat not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.logger.Error(ctx, "failed to get chat", "chat_id", chatID, "error", err)
			h.jsonError(w, "failed to get chat", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, http.StatusOK, chat)

	case http.MethodPatch:
		var body updateChatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.Title != nil {
			found, err := h.store.RenameTitle(ctx, user, chatID, *body.Title)
			if err != nil {
				h.logger.Error(ctx, "failed to rename chat", "chat_id", chatID, "error", err)
				h.jsonError(w, "failed to rename chat", http.StatusInternalServerError)
				return
			}
			if !found {
				h.jsonError(w, "chat not found", http.StatusNotFound)
				return
			}
		}
		chat, err := h.store.Get(ctx, user, chatID)
		if errors.Is(err, store.ErrNotFound) {
			h.jsonError(w, "chat not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.jsonError(w, "failed to get chat", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, http.StatusOK, chat)

	case http.MethodDelete:
		found, err := h.store.Delete(ctx, user, chatID)
		if err != nil {
			h.logger.Error(ctx, "failed to delete chat", "chat_id", chatID, "error", err)
			h.jsonError(w, "failed to delete chat", http.StatusInternalServerError)
			return
		}
		if !found {
			h.jsonError(w, "chat not found", http.StatusNotFound)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted_chat_id": chatID})

	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAgents serves GET /api/agents: the configured agent list.
func (h *Handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.agents.List())
}

// handleAgentByID serves GET /api/agents/{id}: the resolved descriptor.
func (h *Handler) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agentID := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	if agentID == "" || strings.Contains(agentID, "/") {
		h.jsonError(w, "invalid agent id", http.StatusBadRequest)
		return
	}

	desc, err := h.agents.Resolve(r.Context(), agentID)
	if errors.Is(err, agents.ErrAgentNotFound) {
		h.jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error(r.Context(), "failed to resolve agent", "agent_id", agentID, "error", err)
		h.jsonError(w, "failed to resolve agent", http.StatusBadGateway)
		return
	}
	h.writeJSON(w, http.StatusOK, desc)
}

// handleProfile serves GET, PUT, and DELETE on /api/profile: the calling
// user's financial profile.
func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		profile, err := h.profiles.Get(ctx, user)
		if err != nil {
			h.logger.Error(ctx, "failed to load profile", "error", err)
			h.jsonError(w, "failed to load profile", http.StatusInternalServerError)
			return
		}
		if profile == nil {
			h.jsonError(w, "profile not found", http.StatusNotFound)
			return
		}
		h.writeJSON(w, http.StatusOK, profile)

	case http.MethodPut:
		var profile finance.Profile
		if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.profiles.Upsert(ctx, user, profile); err != nil {
			h.logger.Error(ctx, "failed to save profile", "error", err)
			h.jsonError(w, "failed to save profile", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, http.StatusOK, profile)

	case http.MethodDelete:
		found, err := h.profiles.Delete(ctx, user)
		if err != nil {
			h.logger.Error(ctx, "failed to delete profile", "error", err)
			h.jsonError(w, "failed to delete profile", http.StatusInternalServerError)
			return
		}
		if !found {
			h.jsonError(w, "profile not found", http.StatusNotFound)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFinanceSummary serves GET /api/finance/summary: the account
// balance and cash-flow snapshot shown on the dashboard.
func (h *Handler) handleFinanceSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.currentUser(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, finance.SampleSummary())
}

// handleFinanceTransactions serves GET /api/finance/transactions with an
// optional ?days=N window (default 30).
func (h *Handler) handleFinanceTransactions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.currentUser(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.jsonError(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}
	h.writeJSON(w, http.StatusOK, finance.SampleTransactions(days))
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, err := h.identity.CurrentUser(r)
	if err != nil {
		h.jsonError(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return user, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(context.Background(), "failed to encode response", "error", err)
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, msg string, status int) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
