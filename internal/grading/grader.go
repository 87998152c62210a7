package grading

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"

	"github.com/mathclub-vn/mathclub/internal/llm/prompts"
)

// Degraded-result feedback shown to students. These are deliberately fixed
// Vietnamese strings, not localized: they are persisted with the answer.
const (
	// FeedbackManualGradingRequired is used when the question carries neither
	// a sample answer nor a rubric, so auto-grading is impossible.
	FeedbackManualGradingRequired = "Câu hỏi này chưa có đáp án mẫu hoặc thang điểm chấm. Giáo viên sẽ chấm điểm thủ công."
	// FeedbackCannotAutoGrade is used when the model's response could not be parsed.
	FeedbackCannotAutoGrade = "Không thể tự động chấm điểm câu trả lời này. Giáo viên sẽ chấm điểm thủ công."
	// FeedbackGradingFailed is used when the grading request itself failed.
	FeedbackGradingFailed = "Chấm điểm tự động không thành công. Vui lòng liên hệ giáo viên để được chấm điểm."
)

// essayPassRatio is the fraction of max points at which an essay counts as
// correct for display and aggregation purposes.
const essayPassRatio = 0.8

// CompletionClient is the narrow port to the text-generation service. The
// implementation must constrain the response to a single JSON object.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// EssayRequest carries everything needed to grade one essay answer.
type EssayRequest struct {
	QuestionText  string
	StudentAnswer string
	SampleAnswer  string
	Rubric        string
	MaxPoints     float64
}

// EssayResult is the outcome of grading one essay answer. Score is always in
// [0, MaxPoints] at quarter-point granularity.
type EssayResult struct {
	Score              float64 `json:"score"`
	Feedback           string  `json:"feedback"`
	NeedsManualGrading bool    `json:"needs_manual_grading"`
}

// EssayGrader obtains an AI-assessed score for essay answers. It always
// produces a well-formed result except for transport failures, which are
// returned to the caller to substitute its own degraded result.
type EssayGrader struct {
	client CompletionClient
}

// NewEssayGrader creates an EssayGrader on the given completion port.
func NewEssayGrader(client CompletionClient) *EssayGrader {
	return &EssayGrader{client: client}
}

// Grade grades a single essay answer. The caller must only invoke it when the
// student supplied non-empty content. Without any grading material (sample
// answer or rubric) it short-circuits to a manual-grading result without
// touching the network. A malformed model response also degrades locally;
// only errors from the completion port itself propagate.
func (g *EssayGrader) Grade(ctx context.Context, req EssayRequest) (EssayResult, error) {
	if req.SampleAnswer == "" && req.Rubric == "" {
		return EssayResult{
			Score:              0,
			Feedback:           FeedbackManualGradingRequired,
			NeedsManualGrading: true,
		}, nil
	}

	systemPrompt, err := prompts.BuildGradePrompt(prompts.GradeData{
		QuestionText: req.QuestionText,
		MaxPoints:    req.MaxPoints,
		Rubric:       req.Rubric,
		SampleAnswer: req.SampleAnswer,
	})
	if err != nil {
		return EssayResult{}, err
	}

	raw, err := g.client.Complete(ctx, systemPrompt, prompts.SanitizeAnswer(req.StudentAnswer))
	if err != nil {
		return EssayResult{}, err
	}

	var parsed struct {
		Score    any    `json:"score"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Warn("unparseable grading response", "raw", raw, "error", err)
		return EssayResult{
			Score:              0,
			Feedback:           FeedbackCannotAutoGrade,
			NeedsManualGrading: true,
		}, nil
	}

	score := coerceScore(parsed.Score)
	score = clamp(score, 0, req.MaxPoints)
	score = roundQuarter(score)

	return EssayResult{
		Score:    score,
		Feedback: parsed.Feedback,
	}, nil
}

// coerceScore converts whatever the model returned in the score field to a
// number; anything non-numeric counts as zero.
func coerceScore(v any) float64 {
	switch s := v.(type) {
	case float64:
		return s
	case string:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundQuarter rounds to the nearest multiple of 0.25.
func roundQuarter(v float64) float64 {
	return math.Round(v*4) / 4
}
