package store

import (
	"fmt"
	"time"

	"github.com/mathclub-vn/mathclub/internal/model"
)

// ExportExamResults builds export-ready results for all completed sessions of
// an exam.
func (s *Store) ExportExamResults(examID int64) (*model.ResultsExport, error) {
	exam, err := s.GetExam(examID)
	if err != nil {
		return nil, fmt.Errorf("get exam %d: %w", examID, err)
	}

	questions, err := s.GetQuestionsForExam(examID)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	byID := make(map[int64]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	sessions, err := s.ListCompletedSessions(examID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var results []model.StudentResult
	for _, sess := range sessions {
		user, err := s.GetUserByID(sess.StudentID)
		if err != nil {
			return nil, fmt.Errorf("get user %d: %w", sess.StudentID, err)
		}

		answers, err := s.GetAnswersForSession(sess.ID)
		if err != nil {
			return nil, fmt.Errorf("get answers for session %d: %w", sess.ID, err)
		}

		var answerResults []model.AnswerResult
		for _, a := range answers {
			q := byID[a.QuestionID]
			answerResults = append(answerResults, model.AnswerResult{
				QuestionID:         a.QuestionID,
				Content:            q.Content,
				Type:               q.Type,
				Points:             q.Points,
				UserAnswer:         a.UserAnswer,
				IsCorrect:          a.IsCorrect,
				PointsEarned:       a.PointsEarned,
				AIFeedback:         a.AIFeedback,
				NeedsManualGrading: a.NeedsManualGrading,
			})
		}

		var username, displayName string
		if user != nil {
			username = user.Username
			displayName = user.DisplayName
		}

		results = append(results, model.StudentResult{
			Username:         username,
			DisplayName:      displayName,
			Status:           sess.Status,
			Score:            sess.Score,
			TotalScore:       sess.TotalScore,
			Percentage:       sess.Percentage,
			TimeSpentSeconds: sess.TimeSpentSeconds,
			StartedAt:        sess.StartedAt,
			CompletedAt:      sess.CompletedAt,
			Answers:          answerResults,
		})
	}

	return &model.ResultsExport{
		ExamID:     exam.ID,
		Title:      exam.Title,
		Grade:      exam.Grade,
		ExportedAt: time.Now(),
		Results:    results,
	}, nil
}
