package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/mathclub-vn/mathclub/internal/i18n"
	"github.com/mathclub-vn/mathclub/internal/model"
	"github.com/mathclub-vn/mathclub/internal/store"
)

// fakeLLM serves both the grading and the chat port with canned responses.
type fakeLLM struct {
	gradeResponse string
	chatResponse  string
	gradeCalls    int
	chatCalls     int
}

func (f *fakeLLM) Complete(_ context.Context, _, _ string) (string, error) {
	f.gradeCalls++
	return f.gradeResponse, nil
}

func (f *fakeLLM) Chat(_ context.Context, _ string, _ []model.ChatMessage, _ string) (string, error) {
	f.chatCalls++
	return f.chatResponse, nil
}

// testClient drives the router like a browser: it carries cookies between
// requests and echoes the CSRF cookie into the header on mutating methods.
type testClient struct {
	t       *testing.T
	router  chi.Router
	cookies map[string]string
}

func (c *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	if method != http.MethodGet && method != http.MethodHead {
		if v, ok := c.cookies["csrf_token"]; ok {
			req.Header.Set("X-CSRF-Token", v)
		}
	}

	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck.Value
	}
	return rec
}

func (c *testClient) decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func newTestEnv(t *testing.T) (*store.Store, *fakeLLM, *testClient) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := appI18n.Init("vi"); err != nil {
		t.Fatalf("init i18n: %v", err)
	}

	llm := &fakeLLM{
		gradeResponse: `{"score": 1.5, "feedback": "trình bày tốt"}`,
		chatResponse:  "Hãy xét dấu của đạo hàm trên từng khoảng.",
	}
	h := New(s, llm, llm, model.ServerConfig{})

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("vi"))
	h.Routes(r)

	c := &testClient{t: t, router: r, cookies: map[string]string{}}
	// Prime the CSRF cookie.
	c.do(http.MethodGet, "/api/exams", nil)
	return s, llm, c
}

func createUser(t *testing.T, s *store.Store, username, password string, role model.UserRole) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	id, err := s.CreateUser(model.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func login(t *testing.T, c *testClient, username, password string) {
	t.Helper()
	rec := c.do(http.MethodPost, "/api/login", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d, body %q", username, rec.Code, rec.Body.String())
	}
}

func examPayload() map[string]any {
	return map[string]any{
		"title":            "Đề kiểm tra giữa kỳ",
		"grade":            12,
		"duration_minutes": 90,
		"questions": []map[string]any{
			{
				"type":           "multiple_choice",
				"content":        "2 + 2 = ?",
				"options":        []string{"3", "4", "5", "6"},
				"correct_answer": "1",
				"points":         1,
			},
			{
				"type":          "essay",
				"content":       "Khảo sát sự biến thiên của hàm số",
				"points":        2,
				"sample_answer": "lời giải mẫu",
			},
		},
	}
}

func TestLogin(t *testing.T) {
	s, _, c := newTestEnv(t)
	createUser(t, s, "student", "secret123", model.UserRoleStudent)

	rec := c.do(http.MethodPost, "/api/login", map[string]string{
		"username": "student", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status %d", rec.Code)
	}

	rec = c.do(http.MethodPost, "/api/login", map[string]string{
		"username": "student", "password": "secret123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %q", rec.Code, rec.Body.String())
	}
	var resp struct {
		User      model.User `json:"user"`
		CSRFToken string     `json:"csrf_token"`
	}
	c.decode(t, rec, &resp)
	if resp.User.Username != "student" || resp.CSRFToken == "" {
		t.Errorf("login response: %+v", resp)
	}
	if c.cookies["session"] == "" {
		t.Errorf("no session cookie set")
	}

	// The session actually authenticates.
	if rec := c.do(http.MethodGet, "/api/exams", nil); rec.Code != http.StatusOK {
		t.Errorf("authenticated request: status %d", rec.Code)
	}

	// Logout invalidates it.
	if rec := c.do(http.MethodPost, "/api/logout", nil); rec.Code != http.StatusNoContent {
		t.Errorf("logout: status %d", rec.Code)
	}
	if rec := c.do(http.MethodGet, "/api/exams", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("request after logout: status %d", rec.Code)
	}
}

func TestAuthAndCSRFRequired(t *testing.T) {
	s, _, c := newTestEnv(t)
	createUser(t, s, "student", "secret123", model.UserRoleStudent)

	if rec := c.do(http.MethodGet, "/api/exams", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list: status %d", rec.Code)
	}

	login(t, c, "student", "secret123")

	// A mutating request without the CSRF header is rejected even when
	// authenticated.
	req := httptest.NewRequest(http.MethodPost, "/api/exams/1/start", nil)
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing CSRF header: status %d", rec.Code)
	}
}

func TestExamAuthoringRequiresRole(t *testing.T) {
	s, _, c := newTestEnv(t)
	createUser(t, s, "student", "secret123", model.UserRoleStudent)
	login(t, c, "student", "secret123")

	if rec := c.do(http.MethodPost, "/api/exams", examPayload()); rec.Code != http.StatusForbidden {
		t.Errorf("student creating exam: status %d", rec.Code)
	}
	if rec := c.do(http.MethodGet, "/api/results", nil); rec.Code != http.StatusForbidden {
		t.Errorf("student reading results: status %d", rec.Code)
	}
	if rec := c.do(http.MethodGet, "/api/admin/users", nil); rec.Code != http.StatusForbidden {
		t.Errorf("student listing users: status %d", rec.Code)
	}
}

func TestExamValidation(t *testing.T) {
	s, _, c := newTestEnv(t)
	createUser(t, s, "teacher", "secret123", model.UserRoleTeacher)
	login(t, c, "teacher", "secret123")

	tests := []struct {
		name   string
		mutate func(p map[string]any)
	}{
		{"missing title", func(p map[string]any) { p["title"] = "" }},
		{"no questions", func(p map[string]any) { p["questions"] = []map[string]any{} }},
		{"bad option index", func(p map[string]any) {
			p["questions"].([]map[string]any)[0]["correct_answer"] = "9"
		}},
		{"zero points", func(p map[string]any) {
			p["questions"].([]map[string]any)[0]["points"] = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := examPayload()
			tt.mutate(p)
			if rec := c.do(http.MethodPost, "/api/exams", p); rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400", rec.Code)
			}
		})
	}
}

func TestStudentExamFlow(t *testing.T) {
	s, llm, c := newTestEnv(t)
	createUser(t, s, "teacher", "secret123", model.UserRoleTeacher)
	createUser(t, s, "student", "secret123", model.UserRoleStudent)

	login(t, c, "teacher", "secret123")
	rec := c.do(http.MethodPost, "/api/exams", examPayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create exam: status %d, body %q", rec.Code, rec.Body.String())
	}
	var created model.ExamView
	c.decode(t, rec, &created)
	if len(created.Questions) != 2 {
		t.Fatalf("created exam has %d questions", len(created.Questions))
	}
	examID := created.Exam.ID
	mcID := created.Questions[0].ID
	essayID := created.Questions[1].ID

	login(t, c, "student", "secret123")

	// The answer key is stripped for students.
	rec = c.do(http.MethodGet, "/api/exams/"+itoa(examID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get exam: status %d", rec.Code)
	}
	var view model.ExamView
	c.decode(t, rec, &view)
	for _, q := range view.Questions {
		if q.CorrectAnswer != "" || q.SampleAnswer != "" || q.Rubric != "" {
			t.Errorf("answer key leaked to student: %+v", q)
		}
	}

	rec = c.do(http.MethodPost, "/api/exams/"+itoa(examID)+"/start", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start exam: status %d, body %q", rec.Code, rec.Body.String())
	}
	var sess model.ExamSession
	c.decode(t, rec, &sess)
	if sess.Status != model.StatusInProgress {
		t.Fatalf("new session status: %v", sess.Status)
	}

	rec = c.do(http.MethodPost, "/api/sessions/"+itoa(sess.ID)+"/submit", map[string]any{
		"answers": map[string]string{
			itoa(mcID):    "1",
			itoa(essayID): "<p>lời giải của em</p>",
		},
		"time_spent_seconds": 1800,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status %d, body %q", rec.Code, rec.Body.String())
	}
	var result model.SessionView
	c.decode(t, rec, &result)
	if result.Session.Status != model.StatusCompleted {
		t.Errorf("session status after submit: %v", result.Session.Status)
	}
	// 1 point for the multiple choice, 1.5 from the graded essay.
	if result.Session.Score != 2.5 || result.Session.TotalScore != 3 {
		t.Errorf("score = %v/%v, want 2.5/3", result.Session.Score, result.Session.TotalScore)
	}
	if llm.gradeCalls != 1 {
		t.Errorf("grade calls = %d, want 1", llm.gradeCalls)
	}

	// Submitting the same session again conflicts.
	rec = c.do(http.MethodPost, "/api/sessions/"+itoa(sess.ID)+"/submit", map[string]any{
		"answers": map[string]string{},
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("second submit: status %d", rec.Code)
	}

	// Chat is available after completion.
	rec = c.do(http.MethodPost, "/api/sessions/"+itoa(sess.ID)+"/chat", map[string]any{
		"question_id": essayID,
		"message":     "Vì sao em bị trừ điểm?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d, body %q", rec.Code, rec.Body.String())
	}
	var chatResp map[string]string
	c.decode(t, rec, &chatResp)
	if chatResp["reply"] == "" {
		t.Errorf("empty chat reply")
	}
	if llm.chatCalls != 1 {
		t.Errorf("chat calls = %d, want 1", llm.chatCalls)
	}

	rec = c.do(http.MethodGet, "/api/sessions/"+itoa(sess.ID)+"/chat?question_id="+itoa(essayID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat history: status %d", rec.Code)
	}
	var history []model.ChatMessage
	c.decode(t, rec, &history)
	if len(history) != 2 {
		t.Errorf("got %d chat messages, want 2", len(history))
	}
}

func TestChatRequiresCompletedSession(t *testing.T) {
	s, _, c := newTestEnv(t)
	createUser(t, s, "teacher", "secret123", model.UserRoleTeacher)
	studentID := createUser(t, s, "student", "secret123", model.UserRoleStudent)

	login(t, c, "teacher", "secret123")
	rec := c.do(http.MethodPost, "/api/exams", examPayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create exam: status %d", rec.Code)
	}
	var created model.ExamView
	c.decode(t, rec, &created)

	sessionID, err := s.CreateSession(created.Exam.ID, studentID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	login(t, c, "student", "secret123")
	rec = c.do(http.MethodPost, "/api/sessions/"+itoa(sessionID)+"/chat", map[string]any{
		"question_id": created.Questions[0].ID,
		"message":     "gợi ý giúp em",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("chat on in-progress session: status %d", rec.Code)
	}
}

func TestSessionOwnership(t *testing.T) {
	s, _, c := newTestEnv(t)
	createUser(t, s, "teacher", "secret123", model.UserRoleTeacher)
	ownerID := createUser(t, s, "owner", "secret123", model.UserRoleStudent)
	createUser(t, s, "intruder", "secret123", model.UserRoleStudent)

	login(t, c, "teacher", "secret123")
	rec := c.do(http.MethodPost, "/api/exams", examPayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create exam: status %d", rec.Code)
	}
	var created model.ExamView
	c.decode(t, rec, &created)

	sessionID, err := s.CreateSession(created.Exam.ID, ownerID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	login(t, c, "intruder", "secret123")
	if rec := c.do(http.MethodGet, "/api/sessions/"+itoa(sessionID), nil); rec.Code != http.StatusForbidden {
		t.Errorf("foreign session view: status %d", rec.Code)
	}
	rec = c.do(http.MethodPost, "/api/sessions/"+itoa(sessionID)+"/submit", map[string]any{
		"answers": map[string]string{},
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign submit: status %d", rec.Code)
	}

	// Teachers may view any session.
	login(t, c, "teacher", "secret123")
	if rec := c.do(http.MethodGet, "/api/sessions/"+itoa(sessionID), nil); rec.Code != http.StatusOK {
		t.Errorf("teacher session view: status %d", rec.Code)
	}
}

func TestAdminUserManagement(t *testing.T) {
	s, _, c := newTestEnv(t)
	createUser(t, s, "root", "secret123", model.UserRoleAdmin)
	login(t, c, "root", "secret123")

	rec := c.do(http.MethodPost, "/api/admin/users", map[string]string{
		"username": "ha.tran",
		"password": "matkhau1",
		"role":     "teacher",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status %d, body %q", rec.Code, rec.Body.String())
	}
	var u model.User
	c.decode(t, rec, &u)
	if u.Role != model.UserRoleTeacher || u.PasswordHash != "" {
		t.Errorf("created user response: %+v", u)
	}

	// Invalid role rejected.
	rec = c.do(http.MethodPost, "/api/admin/users", map[string]string{
		"username": "x", "password": "matkhau1", "role": "superuser",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid role: status %d", rec.Code)
	}

	rec = c.do(http.MethodGet, "/api/admin/users", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: status %d", rec.Code)
	}
	var users []model.User
	c.decode(t, rec, &users)
	if len(users) != 2 {
		t.Errorf("got %d users, want 2", len(users))
	}

	rec = c.do(http.MethodPost, "/api/admin/users/"+itoa(u.ID)+"/toggle", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("toggle user: status %d", rec.Code)
	}
	deactivated, err := s.GetUserByID(u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if deactivated.Active {
		t.Errorf("user still active after toggle")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
