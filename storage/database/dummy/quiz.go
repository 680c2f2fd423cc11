package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/quiz"
)

type quizRepository struct {
	db *DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *DB) quiz.Repository {
	return &quizRepository{db: db}
}

func (repo *quizRepository) CreateQuiz(_ context.Context, q quiz.Quiz, _ ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.courses[q.CourseID]; !ok {
		return quiz.Quiz{}, course.ErrNotFound
	}
	q.ID = repo.db.nextPK("quiz")
	repo.db.quizzes[q.ID] = q
	return q, nil
}

func (repo *quizRepository) GetQuiz(_ context.Context, id int, _ ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if q, ok := repo.db.quizzes[id]; ok {
		return q, nil
	}
	return quiz.Quiz{}, quiz.ErrNotFound
}

func (repo *quizRepository) QueryQuizzes(_ context.Context, courseID int, publishedOnly bool, _ ...core.DBExecutor) ([]quiz.Quiz, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	quizzes := make([]quiz.Quiz, 0)
	for _, q := range repo.db.quizzes {
		if q.CourseID == courseID && (q.Published || !publishedOnly) {
			quizzes = append(quizzes, q)
		}
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].ID < quizzes[j].ID })
	return quizzes, nil
}

func (repo *quizRepository) UpdateQuiz(_ context.Context, q quiz.Quiz, _ ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.quizzes[q.ID]; !ok {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	repo.db.quizzes[q.ID] = q
	return q, nil
}

func (repo *quizRepository) DeleteQuiz(_ context.Context, id int, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.deleteQuiz(id)
	return nil
}

func (repo *quizRepository) CreateQuestion(_ context.Context, q quiz.Question, _ ...core.DBExecutor) (quiz.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.quizzes[q.QuizID]; !ok {
		return quiz.Question{}, quiz.ErrNotFound
	}
	q.ID = repo.db.nextPK("question")
	q.Answers = nil
	repo.db.questions[q.ID] = q
	return q, nil
}

func (repo *quizRepository) GetQuestion(_ context.Context, quizID, questionID int, _ ...core.DBExecutor) (quiz.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if q, ok := repo.db.questions[questionID]; ok && q.QuizID == quizID {
		return q, nil
	}
	return quiz.Question{}, quiz.ErrQuestionNotFound
}

func (repo *quizRepository) QueryQuestions(_ context.Context, quizID int, activeOnly bool, _ ...core.DBExecutor) ([]quiz.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	questions := make([]quiz.Question, 0)
	for _, q := range repo.db.questions {
		if q.QuizID == quizID && (q.Active || !activeOnly) {
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return questions, nil
}

func (repo *quizRepository) CreateAnswer(_ context.Context, a quiz.Answer, _ ...core.DBExecutor) (quiz.Answer, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.questions[a.QuestionID]; !ok {
		return quiz.Answer{}, quiz.ErrQuestionNotFound
	}
	a.ID = repo.db.nextPK("answer")
	repo.db.answers[a.ID] = a
	return a, nil
}

func (repo *quizRepository) QueryAnswers(_ context.Context, questionIDs []int, _ ...core.DBExecutor) ([]quiz.Answer, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	answers := make([]quiz.Answer, 0)
	for _, a := range repo.db.answers {
		if core.IntIn(a.QuestionID, questionIDs) {
			answers = append(answers, a)
		}
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].ID < answers[j].ID })
	return answers, nil
}

func (repo *quizRepository) userTake(userID, quizID int) (quiz.Take, bool) {
	for _, t := range repo.db.takes {
		if t.UserID == userID && t.QuizID == quizID {
			return t, true
		}
	}
	return quiz.Take{}, false
}

func (repo *quizRepository) GetOrCreateTake(_ context.Context, t quiz.Take, _ ...core.DBExecutor) (quiz.Take, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if take, ok := repo.userTake(t.UserID, t.QuizID); ok {
		return take, nil
	}
	if _, ok := repo.db.quizzes[t.QuizID]; !ok {
		return quiz.Take{}, quiz.ErrNotFound
	}
	t.ID = repo.db.nextPK("take")
	repo.db.takes[t.ID] = t
	return t, nil
}

func (repo *quizRepository) GetTake(_ context.Context, id int, _ ...core.DBExecutor) (quiz.Take, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if t, ok := repo.db.takes[id]; ok {
		return t, nil
	}
	return quiz.Take{}, quiz.ErrTakeNotFound
}

func (repo *quizRepository) GetUserTake(_ context.Context, userID, quizID int, _ ...core.DBExecutor) (quiz.Take, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if t, ok := repo.userTake(userID, quizID); ok {
		return t, nil
	}
	return quiz.Take{}, quiz.ErrTakeNotFound
}

func (repo *quizRepository) QueryTakes(_ context.Context, quizID int, _ ...core.DBExecutor) ([]quiz.Take, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	takes := make([]quiz.Take, 0)
	for _, t := range repo.db.takes {
		if t.QuizID == quizID {
			takes = append(takes, t)
		}
	}
	sort.Slice(takes, func(i, j int) bool { return takes[i].ID < takes[j].ID })
	return takes, nil
}

func (repo *quizRepository) UpdateTake(_ context.Context, t quiz.Take, _ ...core.DBExecutor) (quiz.Take, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.takes[t.ID]; !ok {
		return quiz.Take{}, quiz.ErrTakeNotFound
	}
	repo.db.takes[t.ID] = t
	return t, nil
}

func (repo *quizRepository) QueryTakeAnswers(_ context.Context, takeID int, _ ...core.DBExecutor) ([]quiz.TakeAnswer, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := make([]quiz.TakeAnswer, 0)
	for _, ta := range repo.db.takeAnswers {
		if ta.TakeID == takeID {
			rows = append(rows, ta)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (repo *quizRepository) ReplaceTakeAnswers(_ context.Context, takeID, questionID int, rows []quiz.TakeAnswer, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	// UNIQUE (take_id, content)
	for _, row := range rows {
		if !row.Content.Valid {
			continue
		}
		for _, ta := range repo.db.takeAnswers {
			if ta.TakeID == takeID && ta.QuestionID != questionID && ta.Content.Valid && ta.Content.String == row.Content.String {
				return quiz.ErrDuplicateContent
			}
		}
	}

	existing := make(map[int]quiz.TakeAnswer) // {answerID or 0 for free text: TakeAnswer}
	for id, ta := range repo.db.takeAnswers {
		if ta.TakeID == takeID && ta.QuestionID == questionID {
			existing[ta.AnswerID.Int] = ta
			delete(repo.db.takeAnswers, id)
		}
	}

	for _, row := range rows {
		if prev, ok := existing[row.AnswerID.Int]; ok {
			row.ID = prev.ID
			row.CreatedAt = prev.CreatedAt
		} else {
			row.ID = repo.db.nextPK("take_answer")
		}
		row.TakeID = takeID
		row.QuestionID = questionID
		repo.db.takeAnswers[row.ID] = row
	}
	return nil
}
