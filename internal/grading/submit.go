package grading

import (
	"context"
	"log/slog"

	"github.com/mathclub-vn/mathclub/internal/model"
)

// Progress is called once per question as the submission is processed, in
// authored order. current is 1-based.
type Progress func(current, total int, q model.Question)

// ScoredAnswer is the scored outcome for one question of a submission.
type ScoredAnswer struct {
	QuestionID         int64
	UserAnswer         string
	IsCorrect          bool
	PointsEarned       float64
	AIFeedback         string
	NeedsManualGrading bool
}

// Completion is the aggregate result of one exam submission.
type Completion struct {
	Answers          []ScoredAnswer
	Score            float64
	TotalScore       float64
	Percentage       float64
	TimeSpentSeconds int
}

// Submitter drives the scorer and the essay grader across all questions of an
// exam and produces one aggregate result.
type Submitter struct {
	grader *EssayGrader
}

// NewSubmitter creates a Submitter.
func NewSubmitter(grader *EssayGrader) *Submitter {
	return &Submitter{grader: grader}
}

// Submit processes all questions in authored order. Objective questions are
// scored synchronously; essay questions with content are graded one at a
// time, each call completing before the next question is processed. The
// strict sequencing is a product requirement so per-question progress can be
// reported in order; do not parallelize it. Grading failures never escape:
// they become degraded per-question results, so Submit always returns a
// coherent completion.
func (s *Submitter) Submit(ctx context.Context, questions []model.Question, answers map[int64]string, timeSpentSeconds int, progress Progress) Completion {
	c := Completion{
		Answers:          make([]ScoredAnswer, 0, len(questions)),
		TimeSpentSeconds: timeSpentSeconds,
	}

	total := len(questions)
	for i, q := range questions {
		if progress != nil {
			progress(i+1, total, q)
		}

		raw := answers[q.ID]
		scored := s.scoreOne(ctx, q, raw)

		c.Answers = append(c.Answers, scored)
		c.Score += scored.PointsEarned
		c.TotalScore += q.Points
	}

	if c.TotalScore > 0 {
		c.Percentage = c.Score / c.TotalScore * 100
	}

	return c
}

func (s *Submitter) scoreOne(ctx context.Context, q model.Question, raw string) ScoredAnswer {
	scored := ScoredAnswer{QuestionID: q.ID, UserAnswer: raw}

	if q.Type != model.TypeEssay {
		res := Score(q, DecodeAnswer(q, raw))
		scored.IsCorrect = res.IsCorrect
		scored.PointsEarned = res.PointsEarned
		return scored
	}

	if !HasEssayContent(raw) {
		return scored
	}

	result, err := s.grader.Grade(ctx, EssayRequest{
		QuestionText:  q.Content,
		StudentAnswer: raw,
		SampleAnswer:  q.SampleAnswer,
		Rubric:        q.Rubric,
		MaxPoints:     q.Points,
	})
	if err != nil {
		slog.Error("essay grading failed", "question_id", q.ID, "error", err)
		scored.AIFeedback = FeedbackGradingFailed
		scored.NeedsManualGrading = true
		return scored
	}

	scored.PointsEarned = result.Score
	scored.IsCorrect = q.Points > 0 && result.Score >= essayPassRatio*q.Points
	scored.AIFeedback = result.Feedback
	scored.NeedsManualGrading = result.NeedsManualGrading
	return scored
}
