package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mathclub-vn/mathclub/internal/grading"
	appI18n "github.com/mathclub-vn/mathclub/internal/i18n"
	"github.com/mathclub-vn/mathclub/internal/model"
	"github.com/mathclub-vn/mathclub/internal/store"
)

// ChatClient is the port to the explanation assistant.
type ChatClient interface {
	Chat(ctx context.Context, systemPrompt string, history []model.ChatMessage, userMsg string) (string, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	submitter *grading.Submitter
	chat      ChatClient
	config    model.ServerConfig
}

// New creates a new Handler. completions is the transport used for essay
// grading; chat is the transport for the answer-explanation assistant.
func New(s *store.Store, completions grading.CompletionClient, chat ChatClient, cfg model.ServerConfig) *Handler {
	return &Handler{
		store:     s,
		submitter: grading.NewSubmitter(grading.NewEssayGrader(completions)),
		chat:      chat,
		config:    cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.csrfMiddleware)

	r.Post("/api/login", h.handleLogin)
	r.Post("/api/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/api/exams", h.handleListExams)
		r.Get("/api/exams/{examID}", h.handleGetExam)
		r.Post("/api/exams/{examID}/start", h.handleStartExam)
		r.Post("/api/sessions/{sessionID}/submit", h.handleSubmit)
		r.Post("/api/sessions/{sessionID}/abandon", h.handleAbandon)
		r.Get("/api/sessions/{sessionID}", h.handleGetSession)
		r.Post("/api/sessions/{sessionID}/chat", h.handleChatAsk)
		r.Get("/api/sessions/{sessionID}/chat", h.handleChatHistory)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Post("/api/exams", h.handleCreateExam)
			r.Put("/api/exams/{examID}", h.handleUpdateExam)
			r.Delete("/api/exams/{examID}", h.handleDeleteExam)
			r.Get("/api/results", h.handleResults)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/api/admin/users", h.handleListUsers)
			r.Post("/api/admin/users", h.handleCreateUser)
			r.Post("/api/admin/users/{userID}/toggle", h.handleToggleUserActive)
		})
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	respondJSON(w, status, errorResponse{Error: appI18n.T(r.Context(), msgID)})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// canAccessSession reports whether the user owns the session or has a staff role.
func canAccessSession(u *model.User, sess model.ExamSession) bool {
	if u == nil {
		return false
	}
	return sess.StudentID == u.ID || u.Role == model.UserRoleTeacher || u.Role == model.UserRoleAdmin
}
