package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/quiz"
)

const (
	quizTable       = "quiz"
	questionTable   = "question"
	answerTable     = "answer"
	takeTable       = "take"
	takeAnswerTable = "take_answer"

	takeContentUniqueKey = "take_answer_take_content_key"
)

var (
	quizColumns       = []string{"id", "course_id", "title", "summary", "content", "score", "published", "published_at", "created_at", "updated_at"}
	questionColumns   = []string{"id", "quiz_id", "type", "level", "score", "content", "active", "created_at", "updated_at"}
	answerColumns     = []string{"id", "question_id", "content", "is_correct", "created_at", "updated_at"}
	takeColumns       = []string{"id", "user_id", "quiz_id", "score", "created_at", "finished_at"}
	takeAnswerColumns = []string{"id", "take_id", "question_id", "answer_id", "content", "created_at", "updated_at"}
)

type (
	quizRow struct {
		ID          int       `db:"id"`
		CourseID    int       `db:"course_id"`
		Title       string    `db:"title"`
		Summary     string    `db:"summary"`
		Content     string    `db:"content"`
		Score       float64   `db:"score"`
		Published   bool      `db:"published"`
		PublishedAt null.Time `db:"published_at"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}

	questionRow struct {
		ID        int       `db:"id"`
		QuizID    int       `db:"quiz_id"`
		Type      int       `db:"type"`
		Level     int       `db:"level"`
		Score     float64   `db:"score"`
		Content   string    `db:"content"`
		Active    bool      `db:"active"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	answerRow struct {
		ID         int       `db:"id"`
		QuestionID int       `db:"question_id"`
		Content    string    `db:"content"`
		IsCorrect  bool      `db:"is_correct"`
		CreatedAt  time.Time `db:"created_at"`
		UpdatedAt  time.Time `db:"updated_at"`
	}

	takeRow struct {
		ID         int       `db:"id"`
		UserID     int       `db:"user_id"`
		QuizID     int       `db:"quiz_id"`
		Score      float64   `db:"score"`
		CreatedAt  time.Time `db:"created_at"`
		FinishedAt null.Time `db:"finished_at"`
	}

	takeAnswerRow struct {
		ID         int         `db:"id"`
		TakeID     int         `db:"take_id"`
		QuestionID int         `db:"question_id"`
		AnswerID   null.Int    `db:"answer_id"`
		Content    null.String `db:"content"`
		CreatedAt  time.Time   `db:"created_at"`
		UpdatedAt  time.Time   `db:"updated_at"`
	}
)

func utcTime(t null.Time) null.Time {
	return null.NewTime(t.Time.UTC(), t.Valid)
}

func (r quizRow) quiz() quiz.Quiz {
	return quiz.Quiz{
		ID:          r.ID,
		CourseID:    r.CourseID,
		Title:       r.Title,
		Summary:     r.Summary,
		Content:     r.Content,
		Score:       r.Score,
		Published:   r.Published,
		PublishedAt: utcTime(r.PublishedAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (r questionRow) question() quiz.Question {
	return quiz.Question{
		ID:        r.ID,
		QuizID:    r.QuizID,
		Type:      quiz.QuestionType(r.Type),
		Level:     quiz.Level(r.Level),
		Score:     r.Score,
		Content:   r.Content,
		Active:    r.Active,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (r answerRow) answer() quiz.Answer {
	return quiz.Answer{
		ID:         r.ID,
		QuestionID: r.QuestionID,
		Content:    r.Content,
		IsCorrect:  r.IsCorrect,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func (r takeRow) take() quiz.Take {
	return quiz.Take{
		ID:         r.ID,
		UserID:     r.UserID,
		QuizID:     r.QuizID,
		Score:      r.Score,
		CreatedAt:  r.CreatedAt.UTC(),
		FinishedAt: utcTime(r.FinishedAt),
	}
}

func (r takeAnswerRow) takeAnswer() quiz.TakeAnswer {
	return quiz.TakeAnswer{
		ID:         r.ID,
		TakeID:     r.TakeID,
		QuestionID: r.QuestionID,
		AnswerID:   r.AnswerID,
		Content:    r.Content,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type quizRepository struct {
	repository
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(exec core.DBExecutor) quiz.Repository {
	return &quizRepository{repository{exec: exec}}
}

func (repo *quizRepository) CreateQuiz(ctx context.Context, q quiz.Quiz, exec ...core.DBExecutor) (quiz.Quiz, error) {
	ins := psql.Insert(quizTable).
		Columns("course_id", "title", "summary", "content", "score", "published", "published_at", "created_at", "updated_at").
		Values(q.CourseID, q.Title, q.Summary, q.Content, q.Score, q.Published, q.PublishedAt, q.CreatedAt.UTC(), q.UpdatedAt.UTC())

	id, err := repo.insert(ctx, exec, ins)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "inserting quiz")
	}
	q.ID = id
	return q, nil
}

func (repo *quizRepository) selectQuizzes(ctx context.Context, exec []core.DBExecutor, q sq.SelectBuilder) ([]quiz.Quiz, error) {
	var rows []quizRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, err
	}
	quizzes := make([]quiz.Quiz, 0, len(rows))
	for _, r := range rows {
		quizzes = append(quizzes, r.quiz())
	}
	return quizzes, nil
}

func (repo *quizRepository) GetQuiz(ctx context.Context, id int, exec ...core.DBExecutor) (quiz.Quiz, error) {
	quizzes, err := repo.selectQuizzes(ctx, exec, psql.Select(quizColumns...).From(quizTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "finding quiz")
	}
	if len(quizzes) == 0 {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	return quizzes[0], nil
}

func (repo *quizRepository) QueryQuizzes(ctx context.Context, courseID int, publishedOnly bool, exec ...core.DBExecutor) ([]quiz.Quiz, error) {
	q := psql.Select(quizColumns...).From(quizTable).Where(sq.Eq{"course_id": courseID}).OrderBy("id ASC")
	if publishedOnly {
		q = q.Where(sq.Eq{"published": true})
	}
	quizzes, err := repo.selectQuizzes(ctx, exec, q)
	return quizzes, errors.Wrap(err, "querying quizzes")
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, q quiz.Quiz, exec ...core.DBExecutor) (quiz.Quiz, error) {
	upd := psql.Update(quizTable).
		SetMap(map[string]interface{}{
			"title":        q.Title,
			"summary":      q.Summary,
			"content":      q.Content,
			"score":        q.Score,
			"published":    q.Published,
			"published_at": q.PublishedAt,
			"updated_at":   q.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": q.ID})

	n, err := repo.execute(ctx, exec, upd)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "updating quiz")
	}
	if n == 0 {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	return q, nil
}

func (repo *quizRepository) DeleteQuiz(ctx context.Context, id int, exec ...core.DBExecutor) error {
	_, err := repo.execute(ctx, exec, psql.Delete(quizTable).Where(sq.Eq{"id": id}))
	return errors.Wrap(err, "deleting quiz")
}

func (repo *quizRepository) CreateQuestion(ctx context.Context, q quiz.Question, exec ...core.DBExecutor) (quiz.Question, error) {
	ins := psql.Insert(questionTable).
		Columns("quiz_id", "type", "level", "score", "content", "active", "created_at", "updated_at").
		Values(q.QuizID, int(q.Type), int(q.Level), q.Score, q.Content, q.Active, q.CreatedAt.UTC(), q.UpdatedAt.UTC())

	id, err := repo.insert(ctx, exec, ins)
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "inserting question")
	}
	q.ID = id
	q.Answers = nil
	return q, nil
}

func (repo *quizRepository) selectQuestions(ctx context.Context, exec []core.DBExecutor, q sq.SelectBuilder) ([]quiz.Question, error) {
	var rows []questionRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, err
	}
	questions := make([]quiz.Question, 0, len(rows))
	for _, r := range rows {
		questions = append(questions, r.question())
	}
	return questions, nil
}

func (repo *quizRepository) GetQuestion(ctx context.Context, quizID, questionID int, exec ...core.DBExecutor) (quiz.Question, error) {
	q := psql.Select(questionColumns...).From(questionTable).Where(sq.Eq{"id": questionID, "quiz_id": quizID})
	questions, err := repo.selectQuestions(ctx, exec, q)
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "finding question")
	}
	if len(questions) == 0 {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	return questions[0], nil
}

func (repo *quizRepository) QueryQuestions(ctx context.Context, quizID int, activeOnly bool, exec ...core.DBExecutor) ([]quiz.Question, error) {
	q := psql.Select(questionColumns...).From(questionTable).Where(sq.Eq{"quiz_id": quizID}).OrderBy("id ASC")
	if activeOnly {
		q = q.Where(sq.Eq{"active": true})
	}
	questions, err := repo.selectQuestions(ctx, exec, q)
	return questions, errors.Wrap(err, "querying questions")
}

func (repo *quizRepository) CreateAnswer(ctx context.Context, a quiz.Answer, exec ...core.DBExecutor) (quiz.Answer, error) {
	ins := psql.Insert(answerTable).
		Columns("question_id", "content", "is_correct", "created_at", "updated_at").
		Values(a.QuestionID, a.Content, a.IsCorrect, a.CreatedAt.UTC(), a.UpdatedAt.UTC())

	id, err := repo.insert(ctx, exec, ins)
	if err != nil {
		return quiz.Answer{}, errors.Wrap(err, "inserting answer")
	}
	a.ID = id
	return a, nil
}

func (repo *quizRepository) QueryAnswers(ctx context.Context, questionIDs []int, exec ...core.DBExecutor) ([]quiz.Answer, error) {
	if len(questionIDs) == 0 {
		return []quiz.Answer{}, nil
	}
	q := psql.Select(answerColumns...).From(answerTable).Where(sq.Eq{"question_id": questionIDs}).OrderBy("id ASC")

	var rows []answerRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, errors.Wrap(err, "querying answers")
	}
	answers := make([]quiz.Answer, 0, len(rows))
	for _, r := range rows {
		answers = append(answers, r.answer())
	}
	return answers, nil
}

func (repo *quizRepository) getTake(ctx context.Context, exec []core.DBExecutor, where sq.Eq) (quiz.Take, error) {
	var rows []takeRow
	if err := repo.selectRows(ctx, exec, psql.Select(takeColumns...).From(takeTable).Where(where), &rows); err != nil {
		return quiz.Take{}, errors.Wrap(err, "finding take")
	}
	if len(rows) == 0 {
		return quiz.Take{}, quiz.ErrTakeNotFound
	}
	return rows[0].take(), nil
}

// GetOrCreateTake relies on the (user_id, quiz_id) unique constraint so concurrent first submissions share a take.
func (repo *quizRepository) GetOrCreateTake(ctx context.Context, t quiz.Take, exec ...core.DBExecutor) (quiz.Take, error) {
	ins := psql.Insert(takeTable).
		Columns("user_id", "quiz_id", "score", "created_at").
		Values(t.UserID, t.QuizID, t.Score, t.CreatedAt.UTC()).
		Suffix("ON CONFLICT ON CONSTRAINT take_user_quiz_key DO NOTHING")

	if _, err := repo.execute(ctx, exec, ins); err != nil {
		return quiz.Take{}, errors.Wrap(err, "inserting take")
	}
	return repo.getTake(ctx, exec, sq.Eq{"user_id": t.UserID, "quiz_id": t.QuizID})
}

func (repo *quizRepository) GetTake(ctx context.Context, id int, exec ...core.DBExecutor) (quiz.Take, error) {
	return repo.getTake(ctx, exec, sq.Eq{"id": id})
}

func (repo *quizRepository) GetUserTake(ctx context.Context, userID, quizID int, exec ...core.DBExecutor) (quiz.Take, error) {
	return repo.getTake(ctx, exec, sq.Eq{"user_id": userID, "quiz_id": quizID})
}

func (repo *quizRepository) QueryTakes(ctx context.Context, quizID int, exec ...core.DBExecutor) ([]quiz.Take, error) {
	q := psql.Select(takeColumns...).From(takeTable).Where(sq.Eq{"quiz_id": quizID}).OrderBy("id ASC")

	var rows []takeRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, errors.Wrap(err, "querying takes")
	}
	takes := make([]quiz.Take, 0, len(rows))
	for _, r := range rows {
		takes = append(takes, r.take())
	}
	return takes, nil
}

func (repo *quizRepository) UpdateTake(ctx context.Context, t quiz.Take, exec ...core.DBExecutor) (quiz.Take, error) {
	upd := psql.Update(takeTable).
		Set("score", t.Score).
		Set("finished_at", t.FinishedAt).
		Where(sq.Eq{"id": t.ID})

	n, err := repo.execute(ctx, exec, upd)
	if err != nil {
		return quiz.Take{}, errors.Wrap(err, "updating take")
	}
	if n == 0 {
		return quiz.Take{}, quiz.ErrTakeNotFound
	}
	return t, nil
}

func (repo *quizRepository) QueryTakeAnswers(ctx context.Context, takeID int, exec ...core.DBExecutor) ([]quiz.TakeAnswer, error) {
	q := psql.Select(takeAnswerColumns...).From(takeAnswerTable).Where(sq.Eq{"take_id": takeID}).OrderBy("id ASC")

	var rows []takeAnswerRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, errors.Wrap(err, "querying take answers")
	}
	tas := make([]quiz.TakeAnswer, 0, len(rows))
	for _, r := range rows {
		tas = append(tas, r.takeAnswer())
	}
	return tas, nil
}

// ReplaceTakeAnswers should run in a transaction: rows no longer chosen are deleted before the new ones are upserted.
func (repo *quizRepository) ReplaceTakeAnswers(ctx context.Context, takeID, questionID int, rows []quiz.TakeAnswer, exec ...core.DBExecutor) error {
	var chosen []int
	for _, ta := range rows {
		if ta.AnswerID.Valid {
			chosen = append(chosen, ta.AnswerID.Int)
		}
	}

	del := psql.Delete(takeAnswerTable).Where(sq.Eq{"take_id": takeID, "question_id": questionID})
	if len(chosen) > 0 {
		del = del.Where(sq.Or{sq.Eq{"answer_id": nil}, sq.NotEq{"answer_id": chosen}})
	} else {
		del = del.Where(sq.NotEq{"answer_id": nil})
	}
	if _, err := repo.execute(ctx, exec, del); err != nil {
		return errors.Wrap(err, "deleting take answers")
	}

	for _, ta := range rows {
		ins := psql.Insert(takeAnswerTable).
			Columns("take_id", "question_id", "answer_id", "content", "created_at", "updated_at").
			Values(takeID, questionID, ta.AnswerID, ta.Content, ta.CreatedAt.UTC(), ta.UpdatedAt.UTC())
		if ta.AnswerID.Valid {
			ins = ins.Suffix("ON CONFLICT ON CONSTRAINT take_answer_take_answer_key DO UPDATE SET updated_at = EXCLUDED.updated_at")
		} else {
			ins = ins.Suffix("ON CONFLICT (take_id, question_id) WHERE answer_id IS NULL " +
				"DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at")
		}

		if _, err := repo.execute(ctx, exec, ins); err != nil {
			if constraint, ok := violatedConstraint(err); ok && constraint == takeContentUniqueKey {
				return quiz.ErrDuplicateContent
			}
			return errors.Wrap(err, "upserting take answer")
		}
	}
	return nil
}
