package grading

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mathclub-vn/mathclub/internal/model"
)

// AnswerKind discriminates the decoded forms of a submitted answer.
type AnswerKind int

const (
	// AnswerNone means the question was not answered.
	AnswerNone AnswerKind = iota
	// AnswerChoice is a stringified option index (multiple-choice, simple true-false).
	AnswerChoice
	// AnswerText is literal text (fill-in).
	AnswerText
	// AnswerBoolMap maps sub-question labels to booleans (compound true-false).
	AnswerBoolMap
	// AnswerEssay is rich text graded by the essay orchestrator.
	AnswerEssay
)

// Answer is the typed form of a submitted answer. The raw wire value is a
// single string whose shape depends on the question type; it is decoded here
// once so the scorer never re-parses strings.
type Answer struct {
	Kind   AnswerKind
	Choice string
	Text   string
	Bools  map[string]bool
	Essay  string
}

// DecodeAnswer converts a raw submitted string into its typed form for the
// given question. It never fails: a malformed value decodes to the emptiest
// shape of its kind, which the scorer treats as wrong.
func DecodeAnswer(q model.Question, raw string) Answer {
	if raw == "" {
		return Answer{Kind: AnswerNone}
	}

	switch q.Type {
	case model.TypeMultipleChoice:
		return Answer{Kind: AnswerChoice, Choice: raw}
	case model.TypeTrueFalse:
		if len(q.SubQuestions) == 0 {
			return Answer{Kind: AnswerChoice, Choice: raw}
		}
		var bools map[string]bool
		if err := json.Unmarshal([]byte(raw), &bools); err != nil {
			// Unparseable compound answer counts as zero sub-items correct.
			bools = nil
		}
		return Answer{Kind: AnswerBoolMap, Bools: bools}
	case model.TypeFillIn:
		return Answer{Kind: AnswerText, Text: raw}
	case model.TypeEssay:
		return Answer{Kind: AnswerEssay, Essay: raw}
	default:
		return Answer{Kind: AnswerNone}
	}
}

var (
	imageTagRegex  = regexp.MustCompile(`(?i)<img\b`)
	markupTagRegex = regexp.MustCompile(`<[^>]*>`)
)

// HasEssayContent reports whether an essay submission contains anything worth
// grading: non-empty text after stripping markup tags, or an inline image.
func HasEssayContent(s string) bool {
	if imageTagRegex.MatchString(s) {
		return true
	}
	stripped := markupTagRegex.ReplaceAllString(s, "")
	stripped = strings.ReplaceAll(stripped, "&nbsp;", " ")
	return strings.TrimSpace(stripped) != ""
}
