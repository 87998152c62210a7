package model

import "time"

// ResultsExport is the top-level JSON structure for exam result export.
type ResultsExport struct {
	ExamID     int64           `json:"exam_id"`
	Title      string          `json:"title"`
	Grade      int             `json:"grade"`
	ExportedAt time.Time       `json:"exported_at"`
	Results    []StudentResult `json:"results"`
}

// StudentResult holds one student's completed session data for export.
type StudentResult struct {
	Username         string         `json:"username"`
	DisplayName      string         `json:"display_name"`
	Status           SessionStatus  `json:"status"`
	Score            float64        `json:"score"`
	TotalScore       float64        `json:"total_score"`
	Percentage       float64        `json:"percentage"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Answers          []AnswerResult `json:"answers"`
}

// AnswerResult holds per-question data for export.
type AnswerResult struct {
	QuestionID         int64        `json:"question_id"`
	Content            string       `json:"content"`
	Type               QuestionType `json:"type"`
	Points             float64      `json:"points"`
	UserAnswer         string       `json:"user_answer"`
	IsCorrect          bool         `json:"is_correct"`
	PointsEarned       float64      `json:"points_earned"`
	AIFeedback         string       `json:"ai_feedback,omitempty"`
	NeedsManualGrading bool         `json:"needs_manual_grading,omitempty"`
}
