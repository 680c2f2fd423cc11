package quiz

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
)

// nextNumber returns the question following n out of total, or 0 once the result is reached.
func nextNumber(n, total int) int {
	if n < total {
		return n + 1
	}
	return 0
}

func inRange(n, total int) bool {
	return n >= 1 && n <= total
}

// options resolves the answer choices shown for q.
// True/false questions show their correct and incorrect answers, in that order.
func options(q Question) []Option {
	switch q.Type {
	case ShortAnswer:
		return []Option{}
	case TrueFalse:
		var correct, incorrect *Answer
		for i := range q.Answers {
			a := &q.Answers[i]
			if a.IsCorrect && correct == nil {
				correct = a
			} else if !a.IsCorrect && incorrect == nil {
				incorrect = a
			}
		}
		opts := make([]Option, 0, 2)
		for _, a := range []*Answer{correct, incorrect} {
			if a != nil {
				opts = append(opts, Option{ID: a.ID, Content: a.Content})
			}
		}
		return opts
	}

	opts := make([]Option, 0, len(q.Answers))
	for _, a := range q.Answers {
		opts = append(opts, Option{ID: a.ID, Content: a.Content})
	}
	return opts
}

// takeAnswers turns sub into the rows answering q within take, checking it fits the question type.
func takeAnswers(q Question, sub Submission, takeID int, now time.Time) ([]TakeAnswer, error) {
	if q.Type == ShortAnswer {
		content := core.CleanString(sub.Content)
		if content == "" {
			return nil, core.NewFieldValidationError("content", ErrBlankAnswer)
		}
		return []TakeAnswer{{
			TakeID:     takeID,
			QuestionID: q.ID,
			Content:    null.StringFrom(content),
			CreatedAt:  now,
			UpdatedAt:  now,
		}}, nil
	}

	if len(sub.AnswerIDs) == 0 {
		return nil, core.NewFieldValidationError("answer_ids", ErrNoAnswer)
	}
	valid := make([]int, 0, len(q.Answers))
	for _, a := range q.Answers {
		valid = append(valid, a.ID)
	}

	rows := make([]TakeAnswer, 0, len(sub.AnswerIDs))
	seen := make(map[int]bool, len(sub.AnswerIDs))
	for _, id := range sub.AnswerIDs {
		if !core.IntIn(id, valid) {
			return nil, core.NewFieldValidationError("answer_ids", ErrInvalidAnswer)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, TakeAnswer{
			TakeID:     takeID,
			QuestionID: q.ID,
			AnswerID:   null.IntFrom(id),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return rows, nil
}
