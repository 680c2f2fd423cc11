package quiz

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/user"
)

var (
	// errors
	ErrNotFound           = errors.New("quiz not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrTakeNotFound       = errors.New("take not found")
	ErrNoQuestions        = errors.New("this quiz has no questions")
	ErrQuestionOutOfRange = errors.New("question number out of range")
	ErrTooManyCorrect     = errors.New("a true/false question can only have one correct answer")
	ErrNoAnswer           = errors.New("please select an answer")
	ErrInvalidAnswer      = errors.New("invalid answer")
	ErrBlankAnswer        = errors.New("this field may not be blank")
	ErrDuplicateContent   = errors.New("this answer was already given to another question")
	ErrTakeFinished       = errors.New("this quiz was already completed")
)

type (
	Repository interface {
		CreateQuiz(ctx context.Context, q Quiz, exec ...core.DBExecutor) (Quiz, error)
		GetQuiz(ctx context.Context, id int, exec ...core.DBExecutor) (Quiz, error)
		QueryQuizzes(ctx context.Context, courseID int, publishedOnly bool, exec ...core.DBExecutor) ([]Quiz, error)
		UpdateQuiz(ctx context.Context, q Quiz, exec ...core.DBExecutor) (Quiz, error)
		DeleteQuiz(ctx context.Context, id int, exec ...core.DBExecutor) error

		CreateQuestion(ctx context.Context, q Question, exec ...core.DBExecutor) (Question, error)
		GetQuestion(ctx context.Context, quizID, questionID int, exec ...core.DBExecutor) (Question, error)
		// QueryQuestions returns the quiz's questions in creation order, without their answers.
		QueryQuestions(ctx context.Context, quizID int, activeOnly bool, exec ...core.DBExecutor) ([]Question, error)
		CreateAnswer(ctx context.Context, a Answer, exec ...core.DBExecutor) (Answer, error)
		// QueryAnswers returns the answers of all given questions in creation order.
		QueryAnswers(ctx context.Context, questionIDs []int, exec ...core.DBExecutor) ([]Answer, error)

		// GetOrCreateTake returns the user's take on the quiz, creating t if there is none.
		GetOrCreateTake(ctx context.Context, t Take, exec ...core.DBExecutor) (Take, error)
		GetTake(ctx context.Context, id int, exec ...core.DBExecutor) (Take, error)
		GetUserTake(ctx context.Context, userID, quizID int, exec ...core.DBExecutor) (Take, error)
		QueryTakes(ctx context.Context, quizID int, exec ...core.DBExecutor) ([]Take, error)
		UpdateTake(ctx context.Context, t Take, exec ...core.DBExecutor) (Take, error)

		QueryTakeAnswers(ctx context.Context, takeID int, exec ...core.DBExecutor) ([]TakeAnswer, error)
		// ReplaceTakeAnswers upserts the rows answering a question within a take and removes the other ones.
		// It returns ErrDuplicateContent if a short-answer content was already given to another question.
		ReplaceTakeAnswers(ctx context.Context, takeID, questionID int, rows []TakeAnswer, exec ...core.DBExecutor) error
	}

	// CourseService is the part of course.Service needed to manage quizzes.
	CourseService interface {
		Get(ctx context.Context, id int) (course.Course, error)
		IsEnrolled(ctx context.Context, studentID, courseID int) (bool, error)
	}

	Service interface {
		CreateQuiz(ctx context.Context, actor user.User, courseID int, nq NewQuiz) (Quiz, error)
		GetQuiz(ctx context.Context, actor user.User, id int) (Quiz, error)
		QueryQuizzes(ctx context.Context, actor user.User, courseID int) ([]Quiz, error)
		UpdateQuiz(ctx context.Context, actor user.User, id int, uq UpdateQuiz) (Quiz, error)
		Publish(ctx context.Context, actor user.User, id int) (Quiz, error)
		Unpublish(ctx context.Context, actor user.User, id int) (Quiz, error)
		DeleteQuiz(ctx context.Context, actor user.User, id int) error

		// QueryQuestions returns the quiz's questions with their answers, to the course's managers.
		QueryQuestions(ctx context.Context, actor user.User, quizID int) ([]Question, error)
		AddQuestion(ctx context.Context, actor user.User, quizID int, nq NewQuestion) (Question, error)
		AddAnswer(ctx context.Context, actor user.User, quizID, questionID int, na NewAnswer) (Answer, error)

		ViewQuestion(ctx context.Context, student user.User, quizID, n int) (QuestionView, error)
		Submit(ctx context.Context, student user.User, quizID, n int, sub Submission) (Step, error)
		Result(ctx context.Context, actor user.User, takeID int) (TakeResult, error)
		QueryTakes(ctx context.Context, actor user.User, quizID int) ([]Take, error)
	}

	service struct {
		db        core.DB
		repo      Repository
		courseSvc CourseService
	}
)

var _ Service = (*service)(nil)

// NowFunc is mockable in tests.
var NowFunc = func() time.Time { return time.Now().UTC() }

func NewService(db core.DB, repo Repository, courseSvc CourseService) Service {
	return &service{db: db, repo: repo, courseSvc: courseSvc}
}

func (svc *service) managedCourse(ctx context.Context, actor user.User, courseID int) (course.Course, error) {
	c, err := svc.courseSvc.Get(ctx, courseID)
	if err != nil {
		return course.Course{}, err
	}
	if !c.CanManage(actor) {
		return course.Course{}, core.ErrPermissionDenied
	}
	return c, nil
}

// getQuiz returns the quiz if actor may see it: course managers see every quiz,
// enrolled students only see published ones.
func (svc *service) getQuiz(ctx context.Context, actor user.User, id int) (Quiz, error) {
	q, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	c, err := svc.courseSvc.Get(ctx, q.CourseID)
	if err != nil {
		return Quiz{}, errors.Wrap(err, "getting course")
	}
	if c.CanManage(actor) {
		return q, nil
	}
	return q, svc.checkStudent(ctx, actor, q)
}

// checkStudent ensures student may take the quiz: it must be published and they must be enrolled in its course.
func (svc *service) checkStudent(ctx context.Context, student user.User, q Quiz) error {
	if !q.Published {
		return ErrNotFound
	}
	enrolled, err := svc.courseSvc.IsEnrolled(ctx, student.ID, q.CourseID)
	if err != nil {
		return errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return course.ErrNotEnrolled
	}
	return nil
}

func (svc *service) getManagedQuiz(ctx context.Context, actor user.User, id int) (Quiz, error) {
	q, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	if _, err = svc.managedCourse(ctx, actor, q.CourseID); err != nil {
		return Quiz{}, err
	}
	return q, nil
}

func (svc *service) CreateQuiz(ctx context.Context, actor user.User, courseID int, nq NewQuiz) (Quiz, error) {
	c, err := svc.managedCourse(ctx, actor, courseID)
	if err != nil {
		return Quiz{}, err
	}
	now := NowFunc()
	q, err := svc.repo.CreateQuiz(ctx, Quiz{
		CourseID:  c.ID,
		Title:     nq.Title,
		Summary:   nq.Summary,
		Content:   nq.Content,
		Score:     roundScore(nq.Score),
		CreatedAt: now,
		UpdatedAt: now,
	})
	return q, errors.Wrap(err, "creating quiz")
}

func (svc *service) GetQuiz(ctx context.Context, actor user.User, id int) (Quiz, error) {
	q, err := svc.getQuiz(ctx, actor, id)
	if err != nil {
		return Quiz{}, err
	}
	return q, nil
}

func (svc *service) QueryQuizzes(ctx context.Context, actor user.User, courseID int) ([]Quiz, error) {
	c, err := svc.courseSvc.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	manager := c.CanManage(actor)
	if !manager {
		enrolled, err := svc.courseSvc.IsEnrolled(ctx, actor.ID, c.ID)
		if err != nil {
			return nil, errors.Wrap(err, "checking enrollment")
		}
		if !enrolled {
			return nil, course.ErrNotEnrolled
		}
	}
	return svc.repo.QueryQuizzes(ctx, c.ID, !manager)
}

func (svc *service) UpdateQuiz(ctx context.Context, actor user.User, id int, uq UpdateQuiz) (Quiz, error) {
	q, err := svc.getManagedQuiz(ctx, actor, id)
	if err != nil {
		return Quiz{}, err
	}
	if uq.Title != nil {
		q.Title = *uq.Title
	}
	if uq.Summary != nil {
		q.Summary = *uq.Summary
	}
	if uq.Content != nil {
		q.Content = *uq.Content
	}
	if uq.Score != nil {
		q.Score = roundScore(*uq.Score)
	}
	q.UpdatedAt = NowFunc()
	q, err = svc.repo.UpdateQuiz(ctx, q)
	return q, errors.Wrap(err, "updating quiz")
}

func (svc *service) Publish(ctx context.Context, actor user.User, id int) (Quiz, error) {
	q, err := svc.getManagedQuiz(ctx, actor, id)
	if err != nil {
		return Quiz{}, err
	}
	if q.Published {
		return q, nil
	}
	now := NowFunc()
	q.Publish(now)
	q.UpdatedAt = now
	q, err = svc.repo.UpdateQuiz(ctx, q)
	return q, errors.Wrap(err, "publishing quiz")
}

// Unpublish hides the quiz from students, PublishedAt is kept.
func (svc *service) Unpublish(ctx context.Context, actor user.User, id int) (Quiz, error) {
	q, err := svc.getManagedQuiz(ctx, actor, id)
	if err != nil {
		return Quiz{}, err
	}
	if !q.Published {
		return q, nil
	}
	q.Published = false
	q.UpdatedAt = NowFunc()
	q, err = svc.repo.UpdateQuiz(ctx, q)
	return q, errors.Wrap(err, "unpublishing quiz")
}

func (svc *service) DeleteQuiz(ctx context.Context, actor user.User, id int) error {
	q, err := svc.getManagedQuiz(ctx, actor, id)
	if err != nil {
		return err
	}
	return errors.Wrap(svc.repo.DeleteQuiz(ctx, q.ID), "deleting quiz")
}

// questions returns the quiz's questions with their answers loaded.
func (svc *service) questions(ctx context.Context, quizID int, activeOnly bool) ([]Question, error) {
	questions, err := svc.repo.QueryQuestions(ctx, quizID, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "querying questions")
	}
	if len(questions) == 0 {
		return questions, nil
	}

	ids := make([]int, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	answers, err := svc.repo.QueryAnswers(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "querying answers")
	}
	idx := make(map[int]int, len(questions)) // {questionID: index}
	for i, q := range questions {
		idx[q.ID] = i
		questions[i].Answers = []Answer{}
	}
	for _, a := range answers {
		if i, ok := idx[a.QuestionID]; ok {
			questions[i].Answers = append(questions[i].Answers, a)
		}
	}
	return questions, nil
}

func (svc *service) QueryQuestions(ctx context.Context, actor user.User, quizID int) ([]Question, error) {
	q, err := svc.getManagedQuiz(ctx, actor, quizID)
	if err != nil {
		return nil, err
	}
	return svc.questions(ctx, q.ID, false)
}

func countCorrect(answers []NewAnswer) int {
	var n int
	for _, a := range answers {
		if a.IsCorrect {
			n++
		}
	}
	return n
}

// AddQuestion adds a question to the quiz along with its answers.
func (svc *service) AddQuestion(ctx context.Context, actor user.User, quizID int, nq NewQuestion) (Question, error) {
	qz, err := svc.getManagedQuiz(ctx, actor, quizID)
	if err != nil {
		return Question{}, err
	}
	if nq.Type == TrueFalse && countCorrect(nq.Answers) > 1 {
		return Question{}, core.NewFieldValidationError("answers", ErrTooManyCorrect)
	}

	now := NowFunc()
	q := Question{
		QuizID:    qz.ID,
		Type:      nq.Type,
		Level:     nq.Level,
		Score:     roundScore(nq.Score),
		Content:   nq.Content,
		Active:    nq.Active == nil || *nq.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if q, err = svc.repo.CreateQuestion(ctx, q, exec); err != nil {
			return errors.Wrap(err, "creating question")
		}
		q.Answers = make([]Answer, 0, len(nq.Answers))
		for _, na := range nq.Answers {
			a, err := svc.repo.CreateAnswer(ctx, Answer{
				QuestionID: q.ID,
				Content:    na.Content,
				IsCorrect:  na.IsCorrect,
				CreatedAt:  now,
				UpdatedAt:  now,
			}, exec)
			if err != nil {
				return errors.Wrap(err, "creating answer")
			}
			q.Answers = append(q.Answers, a)
		}
		return nil
	})
	if err != nil {
		return Question{}, err
	}
	return q, nil
}

// AddAnswer adds an answer to a question, a true/false question keeps at most one correct answer.
func (svc *service) AddAnswer(ctx context.Context, actor user.User, quizID, questionID int, na NewAnswer) (Answer, error) {
	qz, err := svc.getManagedQuiz(ctx, actor, quizID)
	if err != nil {
		return Answer{}, err
	}
	q, err := svc.repo.GetQuestion(ctx, qz.ID, questionID)
	if err != nil {
		return Answer{}, err
	}

	if q.Type == TrueFalse && na.IsCorrect {
		existing, err := svc.repo.QueryAnswers(ctx, []int{q.ID})
		if err != nil {
			return Answer{}, errors.Wrap(err, "querying answers")
		}
		for _, a := range existing {
			if a.IsCorrect {
				return Answer{}, core.NewFieldValidationError("is_correct", ErrTooManyCorrect)
			}
		}
	}

	now := NowFunc()
	a, err := svc.repo.CreateAnswer(ctx, Answer{
		QuestionID: q.ID,
		Content:    na.Content,
		IsCorrect:  na.IsCorrect,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return a, errors.Wrap(err, "creating answer")
}

// navigate loads question n of the quiz for student.
func (svc *service) navigate(ctx context.Context, student user.User, quizID, n int) (Quiz, []Question, error) {
	qz, err := svc.repo.GetQuiz(ctx, quizID)
	if err != nil {
		return Quiz{}, nil, err
	}
	if err = svc.checkStudent(ctx, student, qz); err != nil {
		return Quiz{}, nil, err
	}

	questions, err := svc.questions(ctx, qz.ID, true)
	if err != nil {
		return Quiz{}, nil, err
	}
	if len(questions) == 0 {
		return Quiz{}, nil, ErrNoQuestions
	}
	if !inRange(n, len(questions)) {
		return Quiz{}, nil, ErrQuestionOutOfRange
	}
	return qz, questions, nil
}

// ViewQuestion returns question n of the quiz. ErrQuestionOutOfRange means the student should start over at question 1.
func (svc *service) ViewQuestion(ctx context.Context, student user.User, quizID, n int) (QuestionView, error) {
	qz, questions, err := svc.navigate(ctx, student, quizID, n)
	if err != nil {
		return QuestionView{}, err
	}

	q := questions[n-1]
	view := QuestionView{
		QuizID:   qz.ID,
		Number:   n,
		Total:    len(questions),
		Options:  options(q),
		Selected: []int{},
	}
	q.Answers = nil
	view.Question = q

	take, err := svc.repo.GetUserTake(ctx, student.ID, qz.ID)
	switch errors.Cause(err) {
	case nil:
		view.TakeID = take.ID
		rows, err := svc.repo.QueryTakeAnswers(ctx, take.ID)
		if err != nil {
			return QuestionView{}, errors.Wrap(err, "querying take answers")
		}
		for _, ta := range rows {
			if ta.QuestionID != q.ID {
				continue
			}
			if ta.AnswerID.Valid {
				view.Selected = append(view.Selected, ta.AnswerID.Int)
			} else if ta.Content.Valid {
				view.Content = ta.Content.String
			}
		}
	case ErrTakeNotFound:
		// not started yet
	default:
		return QuestionView{}, errors.Wrap(err, "getting take")
	}
	return view, nil
}

// Submit saves the student's answers to question n, starting the take if needed, and tells where to go next.
// Answering a question again replaces the previous answers, a finished take accepts no more answers.
func (svc *service) Submit(ctx context.Context, student user.User, quizID, n int, sub Submission) (Step, error) {
	qz, questions, err := svc.navigate(ctx, student, quizID, n)
	if err != nil {
		return Step{}, err
	}
	q := questions[n-1]
	now := NowFunc()

	// validate before starting the take
	if _, err = takeAnswers(q, sub, 0, now); err != nil {
		return Step{}, err
	}

	var take Take
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		take, err = svc.repo.GetOrCreateTake(ctx, Take{UserID: student.ID, QuizID: qz.ID, CreatedAt: now}, exec)
		if err != nil {
			return errors.Wrap(err, "getting take")
		}
		if take.FinishedAt.Valid {
			return ErrTakeFinished
		}
		rows, err := takeAnswers(q, sub, take.ID, now)
		if err != nil {
			return err
		}
		if err = svc.repo.ReplaceTakeAnswers(ctx, take.ID, q.ID, rows, exec); err != nil {
			if errors.Cause(err) == ErrDuplicateContent {
				return core.NewFieldValidationError("content", ErrDuplicateContent)
			}
			return errors.Wrap(err, "saving take answers")
		}
		return nil
	})
	if err != nil {
		return Step{}, err
	}
	return Step{TakeID: take.ID, Next: nextNumber(n, len(questions))}, nil
}

// Result grades the take, to its student or to the course's managers.
// The take is finished, and its score stored, when its student reaches the result with every question answered.
// Until then the result is provisional and nothing is written. A finished take is only written again when
// regrading it changes the score.
func (svc *service) Result(ctx context.Context, actor user.User, takeID int) (TakeResult, error) {
	take, err := svc.repo.GetTake(ctx, takeID)
	if err != nil {
		return TakeResult{}, err
	}
	qz, err := svc.repo.GetQuiz(ctx, take.QuizID)
	if err != nil {
		return TakeResult{}, errors.Wrap(err, "getting quiz")
	}
	if take.UserID != actor.ID {
		c, err := svc.courseSvc.Get(ctx, qz.CourseID)
		if err != nil {
			return TakeResult{}, errors.Wrap(err, "getting course")
		}
		if !c.CanManage(actor) {
			return TakeResult{}, ErrTakeNotFound
		}
	}

	questions, err := svc.questions(ctx, qz.ID, true)
	if err != nil {
		return TakeResult{}, err
	}
	rows, err := svc.repo.QueryTakeAnswers(ctx, take.ID)
	if err != nil {
		return TakeResult{}, errors.Wrap(err, "querying take answers")
	}
	score, grades := Grade(questions, rows)

	res := TakeResult{Quiz: qz, Questions: grades, Complete: true}
	for _, g := range grades {
		res.MaxScore += g.MaxScore
		if !g.Answered {
			res.Complete = false
		}
	}
	res.MaxScore = roundScore(res.MaxScore)

	var write bool
	switch {
	case take.FinishedAt.Valid:
		write = score != take.Score
	case take.UserID == actor.ID && res.Complete:
		take.Finish(NowFunc())
		write = true
	}
	take.Score = score
	if write {
		if take, err = svc.repo.UpdateTake(ctx, take); err != nil {
			return TakeResult{}, errors.Wrap(err, "updating take")
		}
	}
	res.Take = take
	return res, nil
}

func (svc *service) QueryTakes(ctx context.Context, actor user.User, quizID int) ([]Take, error) {
	q, err := svc.getManagedQuiz(ctx, actor, quizID)
	if err != nil {
		return nil, err
	}
	return svc.repo.QueryTakes(ctx, q.ID)
}
