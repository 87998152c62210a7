package store

import (
	"time"

	"github.com/mathclub-vn/mathclub/internal/model"
)

// AddChatMessage inserts a chat message for a session question.
func (s *Store) AddChatMessage(msg model.ChatMessage) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO chat_messages (session_id, question_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, msg.QuestionID, msg.Role, msg.Content, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetChatMessages returns the chat history for one question of a session, in order.
func (s *Store) GetChatMessages(sessionID, questionID int64) ([]model.ChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, question_id, role, content, created_at
		 FROM chat_messages WHERE session_id = ? AND question_id = ? ORDER BY id`, sessionID, questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.QuestionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
