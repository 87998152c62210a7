package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mathclub-vn/mathclub/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		grade INTEGER NOT NULL DEFAULT 12,
		duration_minutes INTEGER NOT NULL DEFAULT 90,
		created_by INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (created_by) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '',
		correct_answer TEXT NOT NULL DEFAULT '',
		points REAL NOT NULL DEFAULT 1,
		rubric TEXT NOT NULL DEFAULT '',
		sample_answer TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS sub_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id INTEGER NOT NULL,
		label TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		correct BOOLEAN NOT NULL,
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		score REAL NOT NULL DEFAULT 0,
		total_score REAL NOT NULL DEFAULT 0,
		percentage REAL NOT NULL DEFAULT 0,
		time_spent_seconds INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		FOREIGN KEY (exam_id) REFERENCES exams(id),
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS student_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		user_answer TEXT NOT NULL DEFAULT '',
		is_correct BOOLEAN NOT NULL DEFAULT 0,
		points_earned REAL NOT NULL DEFAULT 0,
		ai_feedback TEXT NOT NULL DEFAULT '',
		needs_manual_grading BOOLEAN NOT NULL DEFAULT 0,
		UNIQUE(session_id, question_id),
		FOREIGN KEY (session_id) REFERENCES exam_sessions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES exam_sessions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateExam stores an exam together with its questions and sub-questions.
func (s *Store) CreateExam(exam model.Exam, questions []model.Question) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO exams (title, description, grade, duration_minutes, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exam.Title, exam.Description, exam.Grade, exam.DurationMinutes, exam.CreatedBy, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	examID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := insertQuestions(tx, examID, questions); err != nil {
		return 0, err
	}

	return examID, tx.Commit()
}

// UpdateExam replaces an exam's metadata and its entire question set.
func (s *Store) UpdateExam(exam model.Exam, questions []model.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE exams SET title = ?, description = ?, grade = ?, duration_minutes = ? WHERE id = ?`,
		exam.Title, exam.Description, exam.Grade, exam.DurationMinutes, exam.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.Exec(
		`DELETE FROM sub_questions WHERE question_id IN (SELECT id FROM questions WHERE exam_id = ?)`,
		exam.ID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM questions WHERE exam_id = ?`, exam.ID); err != nil {
		return err
	}

	if err := insertQuestions(tx, exam.ID, questions); err != nil {
		return err
	}

	return tx.Commit()
}

func insertQuestions(tx *sql.Tx, examID int64, questions []model.Question) error {
	for i, q := range questions {
		options := ""
		if len(q.Options) > 0 {
			data, err := json.Marshal(q.Options)
			if err != nil {
				return fmt.Errorf("marshal options: %w", err)
			}
			options = string(data)
		}

		res, err := tx.Exec(
			`INSERT INTO questions (exam_id, position, content, type, options, correct_answer, points, rubric, sample_answer)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			examID, i, q.Content, q.Type, options, q.CorrectAnswer, q.Points, q.Rubric, q.SampleAnswer,
		)
		if err != nil {
			return err
		}
		questionID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		for _, sub := range q.SubQuestions {
			if _, err := tx.Exec(
				`INSERT INTO sub_questions (question_id, label, content, correct) VALUES (?, ?, ?, ?)`,
				questionID, sub.Label, sub.Content, sub.Correct,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteExam removes an exam with its questions, sessions, and all dependent rows.
func (s *Store) DeleteExam(examID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM chat_messages WHERE session_id IN (SELECT id FROM exam_sessions WHERE exam_id = ?)`,
		`DELETE FROM student_answers WHERE session_id IN (SELECT id FROM exam_sessions WHERE exam_id = ?)`,
		`DELETE FROM exam_sessions WHERE exam_id = ?`,
		`DELETE FROM sub_questions WHERE question_id IN (SELECT id FROM questions WHERE exam_id = ?)`,
		`DELETE FROM questions WHERE exam_id = ?`,
		`DELETE FROM exams WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, examID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(id int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRow(
		`SELECT id, title, description, grade, duration_minutes, created_by, created_at FROM exams WHERE id = ?`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.Grade, &e.DurationMinutes, &e.CreatedBy, &e.CreatedAt)
	return e, err
}

// ListExams returns all exams, newest first.
func (s *Store) ListExams() ([]model.Exam, error) {
	rows, err := s.db.Query(
		`SELECT id, title, description, grade, duration_minutes, created_by, created_at FROM exams ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Grade, &e.DurationMinutes, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// GetQuestionsForExam returns an exam's questions in authored order, with
// sub-questions attached.
func (s *Store) GetQuestionsForExam(examID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, position, content, type, options, correct_answer, points, rubric, sample_answer
		 FROM questions WHERE exam_id = ? ORDER BY position`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var options string
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Position, &q.Content, &q.Type, &options, &q.CorrectAnswer, &q.Points, &q.Rubric, &q.SampleAnswer); err != nil {
			return nil, err
		}
		if options != "" {
			if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
				return nil, fmt.Errorf("unmarshal options for question %d: %w", q.ID, err)
			}
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range questions {
		subs, err := s.getSubQuestions(questions[i].ID)
		if err != nil {
			return nil, err
		}
		questions[i].SubQuestions = subs
	}
	return questions, nil
}

func (s *Store) getSubQuestions(questionID int64) ([]model.SubQuestion, error) {
	rows, err := s.db.Query(
		`SELECT id, question_id, label, content, correct FROM sub_questions WHERE question_id = ? ORDER BY label`, questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.SubQuestion
	for rows.Next() {
		var sub model.SubQuestion
		if err := rows.Scan(&sub.ID, &sub.QuestionID, &sub.Label, &sub.Content, &sub.Correct); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetQuestion returns a question by ID, with sub-questions attached.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	var q model.Question
	var options string
	err := s.db.QueryRow(
		`SELECT id, exam_id, position, content, type, options, correct_answer, points, rubric, sample_answer
		 FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &q.ExamID, &q.Position, &q.Content, &q.Type, &options, &q.CorrectAnswer, &q.Points, &q.Rubric, &q.SampleAnswer)
	if err != nil {
		return q, err
	}
	if options != "" {
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return q, fmt.Errorf("unmarshal options for question %d: %w", q.ID, err)
		}
	}
	q.SubQuestions, err = s.getSubQuestions(q.ID)
	return q, err
}

// GetExamView returns an exam with its ordered questions.
func (s *Store) GetExamView(examID int64) (*model.ExamView, error) {
	exam, err := s.GetExam(examID)
	if err != nil {
		return nil, err
	}
	questions, err := s.GetQuestionsForExam(examID)
	if err != nil {
		return nil, err
	}
	return &model.ExamView{Exam: exam, Questions: questions}, nil
}
