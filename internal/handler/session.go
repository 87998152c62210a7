package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mathclub-vn/mathclub/internal/model"
	"github.com/mathclub-vn/mathclub/internal/store"
)

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	if _, err := h.store.GetExam(examID); errors.Is(err, sql.ErrNoRows) {
		h.respondError(w, r, http.StatusNotFound, "NotFound")
		return
	} else if err != nil {
		slog.Error("failed to get exam", "id", examID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	user := model.UserFromContext(r.Context())

	// Latest attempt only: prior sessions for this student and exam are
	// removed before the new one is created.
	if err := h.store.DeleteSessionsForExam(examID, user.ID); err != nil {
		slog.Error("failed to delete prior sessions", "exam_id", examID, "student_id", user.ID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	sessionID, err := h.store.CreateSession(examID, user.ID)
	if err != nil {
		slog.Error("failed to create session", "exam_id", examID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	sess, err := h.store.GetSession(sessionID)
	if err != nil {
		slog.Error("failed to load session", "id", sessionID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

type submitRequest struct {
	// Answers maps question ID to the raw submitted answer string.
	Answers          map[int64]string `json:"answers"`
	TimeSpentSeconds int              `json:"time_spent_seconds"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	sess, err := h.store.GetSession(sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondError(w, r, http.StatusNotFound, "NotFound")
		return
	}
	if err != nil {
		slog.Error("failed to get session", "id", sessionID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	user := model.UserFromContext(r.Context())
	if sess.StudentID != user.ID {
		h.respondError(w, r, http.StatusForbidden, "Forbidden")
		return
	}
	if sess.Status != model.StatusInProgress {
		h.respondError(w, r, http.StatusConflict, "SessionNotInProgress")
		return
	}

	questions, err := h.store.GetQuestionsForExam(sess.ExamID)
	if err != nil {
		slog.Error("failed to get questions", "exam_id", sess.ExamID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	// Grading never fails the submission; essays are graded one at a time in
	// question order so progress can be reported in sequence.
	completion := h.submitter.Submit(r.Context(), questions, req.Answers, req.TimeSpentSeconds,
		func(current, total int, q model.Question) {
			slog.Info("grading question", "session_id", sessionID, "current", current, "total", total, "question_id", q.ID)
		})

	if err := h.store.CompleteSession(sessionID, completion); err != nil {
		if errors.Is(err, store.ErrSessionNotInProgress) {
			h.respondError(w, r, http.StatusConflict, "SessionNotInProgress")
			return
		}
		// The one failure class surfaced to the student: the submission can
		// be retried, answers stay on the client.
		slog.Error("failed to persist completion", "session_id", sessionID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "SubmitFailed")
		return
	}

	view, err := h.store.GetSessionView(sessionID)
	if err != nil {
		slog.Error("failed to load session view", "id", sessionID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	sess, err := h.store.GetSession(sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondError(w, r, http.StatusNotFound, "NotFound")
		return
	}
	if err != nil {
		slog.Error("failed to get session", "id", sessionID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	user := model.UserFromContext(r.Context())
	if sess.StudentID != user.ID {
		h.respondError(w, r, http.StatusForbidden, "Forbidden")
		return
	}

	if err := h.store.AbandonSession(sessionID); err != nil {
		if errors.Is(err, store.ErrSessionNotInProgress) {
			h.respondError(w, r, http.StatusConflict, "SessionNotInProgress")
			return
		}
		slog.Error("failed to abandon session", "id", sessionID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	view, err := h.store.GetSessionView(sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondError(w, r, http.StatusNotFound, "NotFound")
		return
	}
	if err != nil {
		slog.Error("failed to load session view", "id", sessionID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	user := model.UserFromContext(r.Context())
	if !canAccessSession(user, view.Session) {
		h.respondError(w, r, http.StatusForbidden, "Forbidden")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	var examID int64
	if v := r.URL.Query().Get("exam_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
			return
		}
		examID = id
	}

	sessions, err := h.store.ListCompletedSessions(examID)
	if err != nil {
		slog.Error("failed to list completed sessions", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	if sessions == nil {
		sessions = []model.ExamSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}
