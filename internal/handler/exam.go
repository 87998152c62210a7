package handler

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/mathclub-vn/mathclub/internal/i18n"
	"github.com/mathclub-vn/mathclub/internal/model"
)

type examRequest struct {
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Grade           int              `json:"grade"`
	DurationMinutes int              `json:"duration_minutes"`
	Questions       []model.Question `json:"questions"`
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams()
	if err != nil {
		slog.Error("failed to list exams", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	respondJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	view, err := h.store.GetExamView(examID)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondError(w, r, http.StatusNotFound, "NotFound")
		return
	}
	if err != nil {
		slog.Error("failed to get exam", "id", examID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	user := model.UserFromContext(r.Context())
	if user != nil && user.Role == model.UserRoleStudent {
		stripAnswerKey(view.Questions)
	}

	respondJSON(w, http.StatusOK, view)
}

// stripAnswerKey removes grading material from questions before they are
// shown to a student taking the exam.
func stripAnswerKey(questions []model.Question) {
	for i := range questions {
		questions[i].CorrectAnswer = ""
		questions[i].Rubric = ""
		questions[i].SampleAnswer = ""
		for j := range questions[i].SubQuestions {
			questions[i].SubQuestions[j].Correct = false
		}
	}
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req examRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	if msg := h.validateExam(r, req); msg != "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return
	}

	user := model.UserFromContext(r.Context())
	examID, err := h.store.CreateExam(model.Exam{
		Title:           req.Title,
		Description:     req.Description,
		Grade:           req.Grade,
		DurationMinutes: req.DurationMinutes,
		CreatedBy:       user.ID,
	}, req.Questions)
	if err != nil {
		slog.Error("failed to create exam", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	view, err := h.store.GetExamView(examID)
	if err != nil {
		slog.Error("failed to load created exam", "id", examID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	var req examRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	if msg := h.validateExam(r, req); msg != "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return
	}

	err = h.store.UpdateExam(model.Exam{
		ID:              examID,
		Title:           req.Title,
		Description:     req.Description,
		Grade:           req.Grade,
		DurationMinutes: req.DurationMinutes,
	}, req.Questions)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondError(w, r, http.StatusNotFound, "NotFound")
		return
	}
	if err != nil {
		slog.Error("failed to update exam", "id", examID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	view, err := h.store.GetExamView(examID)
	if err != nil {
		slog.Error("failed to load updated exam", "id", examID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	if err := h.store.DeleteExam(examID); err != nil {
		slog.Error("failed to delete exam", "id", examID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateExam checks an authoring request; it returns a localized error
// message, or empty string when the request is valid.
func (h *Handler) validateExam(r *http.Request, req examRequest) string {
	ctx := r.Context()
	if req.Title == "" {
		return appI18n.T(ctx, "ExamTitleRequired")
	}
	if len(req.Questions) == 0 {
		return appI18n.T(ctx, "ExamNeedsQuestions")
	}

	for i, q := range req.Questions {
		reason := validateQuestion(q)
		if reason != "" {
			return appI18n.Td(ctx, "QuestionInvalid", map[string]any{
				"Position": i + 1,
				"Reason":   reason,
			})
		}
	}
	return ""
}

func validateQuestion(q model.Question) string {
	if q.Content == "" {
		return "empty content"
	}
	if q.Points <= 0 {
		return "points must be positive"
	}

	switch q.Type {
	case model.TypeMultipleChoice:
		if len(q.Options) < 2 {
			return "multiple-choice needs at least 2 options"
		}
		idx, err := strconv.Atoi(q.CorrectAnswer)
		if err != nil || idx < 0 || idx >= len(q.Options) {
			return "correct answer must be a valid option index"
		}
	case model.TypeTrueFalse:
		if len(q.SubQuestions) == 0 {
			idx, err := strconv.Atoi(q.CorrectAnswer)
			if err != nil || idx < 0 || idx > 1 {
				return "correct answer must be 0 or 1"
			}
			return ""
		}
		seen := make(map[string]bool)
		for _, sub := range q.SubQuestions {
			if len(sub.Label) != 1 {
				return "sub-question labels must be single letters"
			}
			if seen[sub.Label] {
				return fmt.Sprintf("duplicate sub-question label %q", sub.Label)
			}
			seen[sub.Label] = true
		}
	case model.TypeFillIn:
		if q.CorrectAnswer == "" {
			return "fill-in needs a correct answer"
		}
	case model.TypeEssay:
		// Sample answer and rubric are optional; without either, answers
		// fall back to manual grading.
	default:
		return fmt.Sprintf("unknown question type %q", q.Type)
	}
	return ""
}
