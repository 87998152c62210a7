package grading

import "github.com/mathclub-vn/mathclub/internal/model"

// ScoreResult is the outcome of scoring a single objective question.
type ScoreResult struct {
	IsCorrect    bool
	PointsEarned float64
}

// trueFalseCredit is the partial-credit table for the four-statement compound
// true-false format used by the national THPT exam: credit is non-linear in
// the number of correct sub-answers, not proportional.
var trueFalseCredit = map[int]float64{0: 0, 1: 0.1, 2: 0.25, 3: 0.5, 4: 1.0}

// Score deterministically maps a question and its decoded answer to
// correctness and points earned. It performs no I/O and never fails: any
// unexpected shape scores as incorrect with zero points. Essay questions are
// not scored here; they go through the essay grader.
func Score(q model.Question, ans Answer) ScoreResult {
	switch q.Type {
	case model.TypeMultipleChoice, model.TypeFillIn:
		return scoreExact(q, ans)
	case model.TypeTrueFalse:
		if len(q.SubQuestions) == 0 {
			return scoreExact(q, ans)
		}
		return scoreCompound(q, ans)
	default:
		return ScoreResult{}
	}
}

// scoreExact compares the submitted value against the answer key as strings,
// case-sensitive, no normalization. Full points or nothing.
func scoreExact(q model.Question, ans Answer) ScoreResult {
	var submitted string
	switch ans.Kind {
	case AnswerChoice:
		submitted = ans.Choice
	case AnswerText:
		submitted = ans.Text
	default:
		return ScoreResult{}
	}
	if submitted != q.CorrectAnswer {
		return ScoreResult{}
	}
	return ScoreResult{IsCorrect: true, PointsEarned: q.Points}
}

// scoreCompound scores a compound true-false question. Each sub-question is
// checked independently against the submitted label map; a missing label
// counts as wrong. The count of correct sub-answers maps through the fixed
// credit table. IsCorrect only at a full match.
func scoreCompound(q model.Question, ans Answer) ScoreResult {
	subCorrect := 0
	for _, sub := range q.SubQuestions {
		if v, ok := ans.Bools[sub.Label]; ok && v == sub.Correct {
			subCorrect++
		}
	}

	total := len(q.SubQuestions)
	allCorrect := subCorrect == total

	var earned float64
	if total == 4 {
		earned = trueFalseCredit[subCorrect] * q.Points
	} else if allCorrect {
		// The credit table is only defined for four statements; other counts
		// earn full points on a complete match and nothing otherwise.
		earned = q.Points
	}

	return ScoreResult{IsCorrect: allCorrect, PointsEarned: earned}
}
