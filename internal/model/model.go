package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// QuestionType identifies how a question is answered and scored.
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeTrueFalse      QuestionType = "true_false"
	TypeFillIn         QuestionType = "fill_in"
	TypeEssay          QuestionType = "essay"
)

// ChatRole represents a chat message role.
type ChatRole string

const (
	ChatRoleStudent   ChatRole = "student"
	ChatRoleAssistant ChatRole = "assistant"
)

// SessionStatus represents the status of an exam session.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusAbandoned  SessionStatus = "abandoned"
)

// Exam is an authored set of ordered questions with a time limit.
type Exam struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Grade           int       `json:"grade"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedBy       int64     `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// Question represents a single exam question. Content may contain LaTeX and
// rich-text markup. Options is only populated for multiple-choice questions;
// SubQuestions only for compound true-false questions.
type Question struct {
	ID            int64         `json:"id"`
	ExamID        int64         `json:"exam_id"`
	Position      int           `json:"position"`
	Content       string        `json:"content"`
	Type          QuestionType  `json:"type"`
	Options       []string      `json:"options,omitempty"`
	CorrectAnswer string        `json:"correct_answer,omitempty"`
	Points        float64       `json:"points"`
	SubQuestions  []SubQuestion `json:"sub_questions,omitempty"`
	Rubric        string        `json:"rubric,omitempty"`
	SampleAnswer  string        `json:"sample_answer,omitempty"`
}

// SubQuestion is one true/false statement of a compound true-false question.
// It is owned exclusively by its parent question.
type SubQuestion struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question_id"`
	Label      string `json:"label"`
	Content    string `json:"content,omitempty"`
	Correct    bool   `json:"correct"`
}

// ExamSession is one student's attempt at one exam.
type ExamSession struct {
	ID               int64         `json:"id"`
	ExamID           int64         `json:"exam_id"`
	StudentID        int64         `json:"student_id"`
	Status           SessionStatus `json:"status"`
	Score            float64       `json:"score"`
	TotalScore       float64       `json:"total_score"`
	Percentage       float64       `json:"percentage"`
	TimeSpentSeconds int           `json:"time_spent_seconds"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// StudentAnswer is one scored answer within a session. UserAnswer keeps the
// raw submitted string; the typed form only exists inside the grading flow.
type StudentAnswer struct {
	ID                 int64   `json:"id"`
	SessionID          int64   `json:"session_id"`
	QuestionID         int64   `json:"question_id"`
	UserAnswer         string  `json:"user_answer"`
	IsCorrect          bool    `json:"is_correct"`
	PointsEarned       float64 `json:"points_earned"`
	AIFeedback         string  `json:"ai_feedback,omitempty"`
	NeedsManualGrading bool    `json:"needs_manual_grading"`
}

// ChatMessage is one message in a session's answer-explanation chat.
type ChatMessage struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	QuestionID int64     `json:"question_id"`
	Role       ChatRole  `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExamView combines an exam with its ordered questions.
type ExamView struct {
	Exam      Exam       `json:"exam"`
	Questions []Question `json:"questions"`
}

// SessionView combines session data with the exam and scored answers.
type SessionView struct {
	Session ExamSession     `json:"session"`
	Exam    Exam            `json:"exam"`
	Answers []StudentAnswer `json:"answers"`
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/app")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
}
