package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

var (
	loadOnce      sync.Once
	loadErr       error
	gradeTemplate *template.Template
	explainTmpl   *template.Template
)

func ensureLoaded() error {
	loadOnce.Do(func() {
		parse := func(name string) *template.Template {
			if loadErr != nil {
				return nil
			}
			content, err := templateFS.ReadFile("templates/" + name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return nil
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return nil
			}
			return tmpl
		}
		gradeTemplate = parse("grade_essay.txt")
		explainTmpl = parse("explain.txt")
	})
	return loadErr
}

// GradeData holds template data for essay grading prompts.
type GradeData struct {
	QuestionText string
	MaxPoints    float64
	Rubric       string
	SampleAnswer string
}

// ExplainData holds template data for answer-explanation prompts.
type ExplainData struct {
	QuestionText  string
	CorrectAnswer string
	SampleAnswer  string
	StudentAnswer string
}

// BuildGradePrompt builds the system instruction for grading one essay answer.
func BuildGradePrompt(data GradeData) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := gradeTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildExplainPrompt builds the system instruction for the chat assistant.
func BuildExplainPrompt(data ExplainData) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	data.StudentAnswer = SanitizeAnswer(data.StudentAnswer)
	var buf bytes.Buffer
	if err := explainTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeAnswer strips prompt-injection tags from student text and truncates
// overly long answers before they are embedded in a prompt.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[Không có bài làm]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Bài làm đã bị cắt bớt do quá dài]"
	}

	return answer
}
