package quiz

import "math"

// Grade scores takeAnswers against questions, whose Answers must be loaded.
// Rows answering questions absent from questions are ignored.
//
// A multiple-choice question earns its score only if every submitted answer is correct,
// a true/false one only if exactly one answer was submitted and it is correct,
// a short-answer one as soon as it was answered.
func Grade(questions []Question, takeAnswers []TakeAnswer) (float64, []QuestionGrade) {
	byQuestion := make(map[int][]TakeAnswer)
	for _, ta := range takeAnswers {
		byQuestion[ta.QuestionID] = append(byQuestion[ta.QuestionID], ta)
	}

	var total float64
	grades := make([]QuestionGrade, 0, len(questions))
	for i, q := range questions {
		rows := byQuestion[q.ID]
		grade := QuestionGrade{
			QuestionID: q.ID,
			Number:     i + 1,
			Type:       q.Type,
			Content:    q.Content,
			Answered:   isAnswered(q, rows),
			MaxScore:   q.Score,
		}
		if grade.Answered && isCorrect(q, rows) {
			grade.Score = q.Score
			total += q.Score
		}
		grades = append(grades, grade)
	}
	return roundScore(total), grades
}

func isAnswered(q Question, rows []TakeAnswer) bool {
	for _, ta := range rows {
		if q.Type == ShortAnswer {
			if ta.Content.Valid && ta.Content.String != "" {
				return true
			}
		} else if ta.AnswerID.Valid {
			return true
		}
	}
	return false
}

func isCorrect(q Question, rows []TakeAnswer) bool {
	switch q.Type {
	case MultipleChoice:
		for _, ta := range rows {
			if !ta.AnswerID.Valid || !answerIsCorrect(q, ta.AnswerID.Int) {
				return false
			}
		}
		return len(rows) > 0
	case TrueFalse:
		return len(rows) == 1 && rows[0].AnswerID.Valid && answerIsCorrect(q, rows[0].AnswerID.Int)
	case ShortAnswer:
		// free text is not graded
		return true
	}
	return false
}

func answerIsCorrect(q Question, answerID int) bool {
	for _, a := range q.Answers {
		if a.ID == answerID {
			return a.IsCorrect
		}
	}
	return false
}

// roundScore rounds to the stored precision (2 decimals) so recomputed totals compare equal.
func roundScore(score float64) float64 {
	return math.Round(score*100) / 100
}
