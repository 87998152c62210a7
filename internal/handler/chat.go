package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mathclub-vn/mathclub/internal/llm/prompts"
	"github.com/mathclub-vn/mathclub/internal/model"
)

type chatRequest struct {
	QuestionID int64  `json:"question_id"`
	Message    string `json:"message"`
}

// handleChatAsk sends a student message about one question of a completed
// session to the assistant and returns the reply. Both turns are persisted.
func (h *Handler) handleChatAsk(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.completedSessionForChat(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := decodeBody(r, &req); err != nil || req.Message == "" {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	question, err := h.store.GetQuestion(req.QuestionID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && question.ExamID != sess.ExamID) {
		h.respondError(w, r, http.StatusNotFound, "NotFound")
		return
	}
	if err != nil {
		slog.Error("failed to get question", "id", req.QuestionID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	var studentAnswer string
	if answer, err := h.store.GetAnswer(sess.ID, question.ID); err == nil && answer != nil {
		studentAnswer = answer.UserAnswer
	}

	systemPrompt, err := prompts.BuildExplainPrompt(prompts.ExplainData{
		QuestionText:  question.Content,
		CorrectAnswer: question.CorrectAnswer,
		SampleAnswer:  question.SampleAnswer,
		StudentAnswer: studentAnswer,
	})
	if err != nil {
		slog.Error("failed to build explain prompt", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	history, err := h.store.GetChatMessages(sess.ID, question.ID)
	if err != nil {
		slog.Error("failed to load chat history", "session_id", sess.ID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	if _, err := h.store.AddChatMessage(model.ChatMessage{
		SessionID:  sess.ID,
		QuestionID: question.ID,
		Role:       model.ChatRoleStudent,
		Content:    req.Message,
	}); err != nil {
		slog.Error("failed to store chat message", "session_id", sess.ID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	reply, err := h.chat.Chat(r.Context(), systemPrompt, history, req.Message)
	if err != nil {
		slog.Error("assistant call failed", "session_id", sess.ID, "question_id", question.ID, "error", err)
		h.respondError(w, r, http.StatusBadGateway, "InternalError")
		return
	}

	if _, err := h.store.AddChatMessage(model.ChatMessage{
		SessionID:  sess.ID,
		QuestionID: question.ID,
		Role:       model.ChatRoleAssistant,
		Content:    reply,
	}); err != nil {
		slog.Error("failed to store assistant message", "session_id", sess.ID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (h *Handler) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.completedSessionForChat(w, r)
	if !ok {
		return
	}

	questionID, err := strconv.ParseInt(r.URL.Query().Get("question_id"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	messages, err := h.store.GetChatMessages(sess.ID, questionID)
	if err != nil {
		slog.Error("failed to load chat history", "session_id", sess.ID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, messages)
}

// completedSessionForChat loads the session from the URL and checks the chat
// preconditions: the caller can access it and it has been completed.
func (h *Handler) completedSessionForChat(w http.ResponseWriter, r *http.Request) (model.ExamSession, bool) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return model.ExamSession{}, false
	}

	sess, err := h.store.GetSession(sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondError(w, r, http.StatusNotFound, "NotFound")
		return model.ExamSession{}, false
	}
	if err != nil {
		slog.Error("failed to get session", "id", sessionID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return model.ExamSession{}, false
	}

	user := model.UserFromContext(r.Context())
	if !canAccessSession(user, sess) {
		h.respondError(w, r, http.StatusForbidden, "Forbidden")
		return model.ExamSession{}, false
	}
	if sess.Status != model.StatusCompleted {
		h.respondError(w, r, http.StatusConflict, "ChatNotAvailable")
		return model.ExamSession{}, false
	}
	return sess, true
}
