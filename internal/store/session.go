package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mathclub-vn/mathclub/internal/grading"
	"github.com/mathclub-vn/mathclub/internal/model"
)

// ErrSessionNotInProgress is returned when completing a session that has
// already been completed or abandoned.
var ErrSessionNotInProgress = errors.New("session is not in progress")

// DeleteSessionsForExam removes all of a student's prior sessions for an exam
// together with their answers and chat history. Called before a new attempt
// is created: only the latest attempt is kept.
func (s *Store) DeleteSessionsForExam(examID, studentID int64) error {
	stmts := []string{
		`DELETE FROM chat_messages WHERE session_id IN (SELECT id FROM exam_sessions WHERE exam_id = ? AND student_id = ?)`,
		`DELETE FROM student_answers WHERE session_id IN (SELECT id FROM exam_sessions WHERE exam_id = ? AND student_id = ?)`,
		`DELETE FROM exam_sessions WHERE exam_id = ? AND student_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt, examID, studentID); err != nil {
			return err
		}
	}
	return nil
}

// CreateSession creates a new in-progress session for a student.
func (s *Store) CreateSession(examID, studentID int64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO exam_sessions (exam_id, student_id, status, started_at) VALUES (?, ?, 'in_progress', ?)`,
		examID, studentID, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSession returns a session by ID.
func (s *Store) GetSession(id int64) (model.ExamSession, error) {
	var sess model.ExamSession
	err := s.db.QueryRow(
		`SELECT id, exam_id, student_id, status, score, total_score, percentage, time_spent_seconds, started_at, completed_at
		 FROM exam_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.ExamID, &sess.StudentID, &sess.Status, &sess.Score, &sess.TotalScore,
		&sess.Percentage, &sess.TimeSpentSeconds, &sess.StartedAt, &sess.CompletedAt)
	return sess, err
}

// AbandonSession marks an in-progress session as abandoned.
func (s *Store) AbandonSession(id int64) error {
	res, err := s.db.Exec(
		`UPDATE exam_sessions SET status = 'abandoned' WHERE id = ? AND status = 'in_progress'`, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotInProgress
	}
	return nil
}

// CompleteSession persists a submission result: one upserted answer row per
// question plus the aggregate, and the session marked completed with a
// timestamp. The in_progress -> completed transition happens exactly once;
// a second completion attempt fails with ErrSessionNotInProgress.
func (s *Store) CompleteSession(sessionID int64, c grading.Completion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE exam_sessions
		 SET status = 'completed', score = ?, total_score = ?, percentage = ?, time_spent_seconds = ?, completed_at = ?
		 WHERE id = ? AND status = 'in_progress'`,
		c.Score, c.TotalScore, c.Percentage, c.TimeSpentSeconds, time.Now(), sessionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotInProgress
	}

	for _, a := range c.Answers {
		if _, err := tx.Exec(
			`INSERT INTO student_answers (session_id, question_id, user_answer, is_correct, points_earned, ai_feedback, needs_manual_grading)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, question_id) DO UPDATE SET
			   user_answer = ?, is_correct = ?, points_earned = ?, ai_feedback = ?, needs_manual_grading = ?`,
			sessionID, a.QuestionID, a.UserAnswer, a.IsCorrect, a.PointsEarned, a.AIFeedback, a.NeedsManualGrading,
			a.UserAnswer, a.IsCorrect, a.PointsEarned, a.AIFeedback, a.NeedsManualGrading,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetAnswersForSession returns the scored answers of a session in question order.
func (s *Store) GetAnswersForSession(sessionID int64) ([]model.StudentAnswer, error) {
	rows, err := s.db.Query(
		`SELECT a.id, a.session_id, a.question_id, a.user_answer, a.is_correct, a.points_earned, a.ai_feedback, a.needs_manual_grading
		 FROM student_answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.session_id = ?
		 ORDER BY q.position`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.StudentAnswer
	for rows.Next() {
		var a model.StudentAnswer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.UserAnswer, &a.IsCorrect, &a.PointsEarned, &a.AIFeedback, &a.NeedsManualGrading); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// GetAnswer returns one answer by (session, question), or nil if absent.
func (s *Store) GetAnswer(sessionID, questionID int64) (*model.StudentAnswer, error) {
	var a model.StudentAnswer
	err := s.db.QueryRow(
		`SELECT id, session_id, question_id, user_answer, is_correct, points_earned, ai_feedback, needs_manual_grading
		 FROM student_answers WHERE session_id = ? AND question_id = ?`, sessionID, questionID,
	).Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.UserAnswer, &a.IsCorrect, &a.PointsEarned, &a.AIFeedback, &a.NeedsManualGrading)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetSessionView builds a full view of a session with its exam and answers.
func (s *Store) GetSessionView(sessionID int64) (*model.SessionView, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	exam, err := s.GetExam(sess.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := s.GetAnswersForSession(sessionID)
	if err != nil {
		return nil, err
	}
	return &model.SessionView{Session: sess, Exam: exam, Answers: answers}, nil
}

// ListCompletedSessions returns completed sessions, newest first. examID 0
// means all exams.
func (s *Store) ListCompletedSessions(examID int64) ([]model.ExamSession, error) {
	query := `SELECT id, exam_id, student_id, status, score, total_score, percentage, time_spent_seconds, started_at, completed_at
	          FROM exam_sessions WHERE status = 'completed'`
	var args []any
	if examID != 0 {
		query += ` AND exam_id = ?`
		args = append(args, examID)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.ExamSession
	for rows.Next() {
		var sess model.ExamSession
		if err := rows.Scan(&sess.ID, &sess.ExamID, &sess.StudentID, &sess.Status, &sess.Score, &sess.TotalScore,
			&sess.Percentage, &sess.TimeSpentSeconds, &sess.StartedAt, &sess.CompletedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
