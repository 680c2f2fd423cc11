package quiz_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/quiz"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/storage/database/dummy"
	"github.com/trezcool/darasa/testutil"
)

type fixture struct {
	svc        quiz.Service
	repo       quiz.Repository
	courseRepo course.Repository
	usrRepo    user.Repository

	teacher, student, outsider user.User
	course                     course.Course
}

func setup(t *testing.T) fixture {
	db := dummydb.Open()
	f := fixture{
		repo:       dummydb.NewQuizRepository(db),
		courseRepo: dummydb.NewCourseRepository(db),
		usrRepo:    dummydb.NewUserRepository(db),
	}
	usrSvc := user.NewTestService(f.usrRepo, nil, nil)
	courseSvc := course.NewService(nil, f.courseRepo, usrSvc, nil, nil, nil, testutil.NewLogger())
	f.svc = quiz.NewService(nil, f.repo, courseSvc)

	f.teacher = testutil.CreateUser(t, f.usrRepo, "Teacher", "teacher", "", "", []string{user.RoleTeacher}, true)
	f.student = testutil.CreateUser(t, f.usrRepo, "Student", "student", "", "", nil, true)
	f.outsider = testutil.CreateUser(t, f.usrRepo, "Outsider", "outsider", "", "", nil, true)
	f.course = testutil.CreateCourse(t, f.courseRepo, "Algebra", f.teacher.ID, "")
	testutil.Enroll(t, f.courseRepo, f.student.ID, f.course.ID)
	return f
}

// mockNow freezes quiz.NowFunc, advancing it by a second on every call.
func mockNow(t *testing.T) {
	orig := quiz.NowFunc
	now := time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)
	quiz.NowFunc = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	t.Cleanup(func() { quiz.NowFunc = orig })
}

func TestService_ManageQuizzes(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	mockNow(t)

	_, err := f.svc.CreateQuiz(ctx, f.student, f.course.ID, quiz.NewQuiz{Title: "Week 1"})
	assert.Equal(t, core.ErrPermissionDenied, err)
	_, err = f.svc.CreateQuiz(ctx, f.teacher, 999, quiz.NewQuiz{Title: "Week 1"})
	assert.Equal(t, course.ErrNotFound, err)

	qz, err := f.svc.CreateQuiz(ctx, f.teacher, f.course.ID, quiz.NewQuiz{Title: "Week 1", Score: 2.499})
	require.NoError(t, err)
	assert.False(t, qz.Published)
	assert.Equal(t, 2.5, qz.Score)

	// students only see published quizzes
	quizzes, err := f.svc.QueryQuizzes(ctx, f.student, f.course.ID)
	require.NoError(t, err)
	assert.Empty(t, quizzes)
	_, err = f.svc.GetQuiz(ctx, f.student, qz.ID)
	assert.Equal(t, quiz.ErrNotFound, err)

	quizzes, err = f.svc.QueryQuizzes(ctx, f.teacher, f.course.ID)
	require.NoError(t, err)
	assert.Len(t, quizzes, 1)

	_, err = f.svc.Publish(ctx, f.student, qz.ID)
	assert.Equal(t, core.ErrPermissionDenied, err)
	qz, err = f.svc.Publish(ctx, f.teacher, qz.ID)
	require.NoError(t, err)
	require.True(t, qz.Published)
	publishedAt := qz.PublishedAt.Time

	quizzes, err = f.svc.QueryQuizzes(ctx, f.student, f.course.ID)
	require.NoError(t, err)
	assert.Len(t, quizzes, 1)
	_, err = f.svc.QueryQuizzes(ctx, f.outsider, f.course.ID)
	assert.Equal(t, course.ErrNotEnrolled, err)
	_, err = f.svc.GetQuiz(ctx, f.outsider, qz.ID)
	assert.Equal(t, course.ErrNotEnrolled, err)

	qz, err = f.svc.Unpublish(ctx, f.teacher, qz.ID)
	require.NoError(t, err)
	assert.False(t, qz.Published)
	qz, err = f.svc.Publish(ctx, f.teacher, qz.ID)
	require.NoError(t, err)
	assert.Equal(t, publishedAt, qz.PublishedAt.Time, "first publication date is kept")

	title := "Week one"
	qz, err = f.svc.UpdateQuiz(ctx, f.teacher, qz.ID, quiz.UpdateQuiz{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, qz.Title)

	require.NoError(t, f.svc.DeleteQuiz(ctx, f.teacher, qz.ID))
	_, err = f.svc.GetQuiz(ctx, f.teacher, qz.ID)
	assert.Equal(t, quiz.ErrNotFound, err)
}

func TestService_AddQuestion(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	qz := testutil.CreateQuiz(t, f.repo, f.course.ID, "Week 1", false)

	_, err := f.svc.AddQuestion(ctx, f.student, qz.ID, quiz.NewQuestion{Content: "?"})
	assert.Equal(t, core.ErrPermissionDenied, err)

	_, err = f.svc.AddQuestion(ctx, f.teacher, qz.ID, quiz.NewQuestion{
		Type:    quiz.TrueFalse,
		Content: "The earth is flat",
		Answers: []quiz.NewAnswer{{Content: "True", IsCorrect: true}, {Content: "False", IsCorrect: true}},
	})
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "answers", vErr.Fields[0].Field)

	q, err := f.svc.AddQuestion(ctx, f.teacher, qz.ID, quiz.NewQuestion{
		Type:    quiz.TrueFalse,
		Score:   1,
		Content: "The earth is round",
		Answers: []quiz.NewAnswer{{Content: "True", IsCorrect: true}},
	})
	require.NoError(t, err)
	assert.True(t, q.Active)
	require.Len(t, q.Answers, 1)

	_, err = f.svc.AddAnswer(ctx, f.teacher, qz.ID, q.ID, quiz.NewAnswer{Content: "Yes", IsCorrect: true})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "is_correct", vErr.Fields[0].Field)

	_, err = f.svc.AddAnswer(ctx, f.teacher, qz.ID, q.ID, quiz.NewAnswer{Content: "False"})
	require.NoError(t, err)
	_, err = f.svc.AddAnswer(ctx, f.teacher, qz.ID, 999, quiz.NewAnswer{Content: "False"})
	assert.Equal(t, quiz.ErrQuestionNotFound, err)

	inactive := false
	_, err = f.svc.AddQuestion(ctx, f.teacher, qz.ID, quiz.NewQuestion{Type: quiz.ShortAnswer, Content: "Why?", Active: &inactive})
	require.NoError(t, err)

	questions, err := f.svc.QueryQuestions(ctx, f.teacher, qz.ID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Len(t, questions[0].Answers, 2)
	assert.False(t, questions[1].Active)

	_, err = f.svc.QueryQuestions(ctx, f.student, qz.ID)
	assert.Equal(t, core.ErrPermissionDenied, err)
}

// quizFixture is a published quiz with one question of each type, plus an inactive one.
type quizFixture struct {
	quiz       quiz.Quiz
	mc, tf, sa quiz.Question
}

func createQuiz(t *testing.T, f fixture) quizFixture {
	qf := quizFixture{quiz: testutil.CreateQuiz(t, f.repo, f.course.ID, "Week 1", true)}
	qf.mc = testutil.CreateQuestion(t, f.repo, qf.quiz.ID, quiz.MultipleChoice, 2, "Pick primes", []string{"2", "3", "4"}, "2", "3")
	qf.tf = testutil.CreateQuestion(t, f.repo, qf.quiz.ID, quiz.TrueFalse, 1, "1 is prime", []string{"True", "False"}, "False")

	now := time.Now().UTC()
	_, err := f.repo.CreateQuestion(context.Background(), quiz.Question{
		QuizID:    qf.quiz.ID,
		Type:      quiz.ShortAnswer,
		Level:     quiz.Easy,
		Score:     5,
		Content:   "Hidden",
		Active:    false,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	qf.sa = testutil.CreateQuestion(t, f.repo, qf.quiz.ID, quiz.ShortAnswer, 0.5, "Name a prime", nil)
	return qf
}

func TestService_TakeQuiz(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	mockNow(t)
	qf := createQuiz(t, f)
	qID := qf.quiz.ID

	// navigation
	_, err := f.svc.ViewQuestion(ctx, f.outsider, qID, 1)
	assert.Equal(t, course.ErrNotEnrolled, err)
	_, err = f.svc.ViewQuestion(ctx, f.student, qID, 0)
	assert.Equal(t, quiz.ErrQuestionOutOfRange, err)
	_, err = f.svc.ViewQuestion(ctx, f.student, qID, 4)
	assert.Equal(t, quiz.ErrQuestionOutOfRange, err, "inactive questions are skipped")

	view, err := f.svc.ViewQuestion(ctx, f.student, qID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Total)
	assert.Equal(t, qf.tf.ID, view.Question.ID)
	assert.Empty(t, view.Question.Answers, "correct answers are not shown")
	require.Len(t, view.Options, 2)
	assert.Equal(t, qf.tf.Answers[1].ID, view.Options[0].ID, "correct option first")
	assert.Zero(t, view.TakeID)

	// submissions
	_, err = f.svc.Submit(ctx, f.student, qID, 1, quiz.Submission{})
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	_, err = f.repo.GetUserTake(ctx, f.student.ID, qID)
	assert.Equal(t, quiz.ErrTakeNotFound, err, "invalid submissions do not start the take")

	step, err := f.svc.Submit(ctx, f.student, qID, 1, quiz.Submission{AnswerIDs: []int{qf.mc.Answers[0].ID, qf.mc.Answers[2].ID}})
	require.NoError(t, err)
	assert.Equal(t, 2, step.Next)
	assert.NotZero(t, step.TakeID)
	takeID := step.TakeID

	// answering again replaces the previous answers
	step, err = f.svc.Submit(ctx, f.student, qID, 1, quiz.Submission{AnswerIDs: []int{qf.mc.Answers[0].ID, qf.mc.Answers[1].ID}})
	require.NoError(t, err)
	assert.Equal(t, takeID, step.TakeID, "one take per student and quiz")

	view, err = f.svc.ViewQuestion(ctx, f.student, qID, 1)
	require.NoError(t, err)
	assert.Equal(t, takeID, view.TakeID)
	assert.ElementsMatch(t, []int{qf.mc.Answers[0].ID, qf.mc.Answers[1].ID}, view.Selected)

	step, err = f.svc.Submit(ctx, f.student, qID, 2, quiz.Submission{AnswerIDs: []int{qf.tf.Answers[0].ID}})
	require.NoError(t, err)
	assert.Equal(t, 3, step.Next)

	step, err = f.svc.Submit(ctx, f.student, qID, 3, quiz.Submission{Content: " 7 "})
	require.NoError(t, err)
	assert.True(t, step.Done())

	view, err = f.svc.ViewQuestion(ctx, f.student, qID, 3)
	require.NoError(t, err)
	assert.Equal(t, "7", view.Content)

	// result
	_, err = f.svc.Result(ctx, f.outsider, takeID)
	assert.Equal(t, quiz.ErrTakeNotFound, err)

	res, err := f.svc.Result(ctx, f.teacher, takeID)
	require.NoError(t, err)
	assert.Equal(t, 2.5, res.Take.Score, "mc and sa earned, tf missed")
	assert.Equal(t, 3.5, res.MaxScore)
	assert.True(t, res.Complete)
	assert.False(t, res.Take.FinishedAt.Valid, "only its student finishes a take")
	stored, err := f.repo.GetTake(ctx, takeID)
	require.NoError(t, err)
	assert.Zero(t, stored.Score, "nothing is stored before the take is finished")

	res, err = f.svc.Result(ctx, f.student, takeID)
	require.NoError(t, err)
	require.True(t, res.Take.FinishedAt.Valid)
	assert.True(t, res.Take.FinishedAt.Time.After(res.Take.CreatedAt))
	require.Len(t, res.Questions, 3)
	assert.Equal(t, []float64{2, 0, 0.5}, []float64{res.Questions[0].Score, res.Questions[1].Score, res.Questions[2].Score})

	// a finished take is closed
	_, err = f.svc.Submit(ctx, f.student, qID, 2, quiz.Submission{AnswerIDs: []int{qf.tf.Answers[1].ID}})
	assert.Equal(t, quiz.ErrTakeFinished, err)
	view, err = f.svc.ViewQuestion(ctx, f.student, qID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{qf.tf.Answers[0].ID}, view.Selected)

	takes, err := f.svc.QueryTakes(ctx, f.teacher, qID)
	require.NoError(t, err)
	require.Len(t, takes, 1)
	assert.Equal(t, 2.5, takes[0].Score)
	_, err = f.svc.QueryTakes(ctx, f.student, qID)
	assert.Equal(t, core.ErrPermissionDenied, err)
}

func TestService_TakeQuiz_EdgeCases(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	empty := testutil.CreateQuiz(t, f.repo, f.course.ID, "Empty", true)
	_, err := f.svc.ViewQuestion(ctx, f.student, empty.ID, 1)
	assert.Equal(t, quiz.ErrNoQuestions, err)

	draft := testutil.CreateQuiz(t, f.repo, f.course.ID, "Draft", false)
	testutil.CreateQuestion(t, f.repo, draft.ID, quiz.ShortAnswer, 1, "?", nil)
	_, err = f.svc.Submit(ctx, f.student, draft.ID, 1, quiz.Submission{Content: "x"})
	assert.Equal(t, quiz.ErrNotFound, err, "unpublished quizzes cannot be taken")

	qz := testutil.CreateQuiz(t, f.repo, f.course.ID, "Words", true)
	testutil.CreateQuestion(t, f.repo, qz.ID, quiz.ShortAnswer, 1, "First word", nil)
	testutil.CreateQuestion(t, f.repo, qz.ID, quiz.ShortAnswer, 1, "Second word", nil)

	_, err = f.svc.Submit(ctx, f.student, qz.ID, 1, quiz.Submission{Content: "hello"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.student, qz.ID, 2, quiz.Submission{Content: "hello"})
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "content", vErr.Fields[0].Field)
	assert.Equal(t, quiz.ErrDuplicateContent, vErr.Err)

	_, err = f.svc.Submit(ctx, f.student, qz.ID, 1, quiz.Submission{Content: "hello"})
	assert.NoError(t, err, "resubmitting the same content to the same question is fine")

	_, err = f.svc.Result(ctx, f.student, 999)
	assert.Equal(t, quiz.ErrTakeNotFound, err)
}

// updateCounter counts the takes written to the repository.
type updateCounter struct {
	quiz.Repository
	updates int
}

func (r *updateCounter) UpdateTake(ctx context.Context, t quiz.Take, exec ...core.DBExecutor) (quiz.Take, error) {
	r.updates++
	return r.Repository.UpdateTake(ctx, t, exec...)
}

func TestService_Result_partialTake(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	mockNow(t)
	qf := createQuiz(t, f)
	qID := qf.quiz.ID

	step, err := f.svc.Submit(ctx, f.student, qID, 1, quiz.Submission{AnswerIDs: []int{qf.mc.Answers[0].ID, qf.mc.Answers[1].ID}})
	require.NoError(t, err)

	res, err := f.svc.Result(ctx, f.student, step.TakeID)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 2.0, res.Take.Score, "provisional score")
	assert.False(t, res.Take.FinishedAt.Valid)
	assert.False(t, res.Questions[1].Answered)

	stored, err := f.repo.GetTake(ctx, step.TakeID)
	require.NoError(t, err)
	assert.Zero(t, stored.Score)
	assert.False(t, stored.FinishedAt.Valid)

	// the student goes on answering
	_, err = f.svc.Submit(ctx, f.student, qID, 2, quiz.Submission{AnswerIDs: []int{qf.tf.Answers[1].ID}})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.student, qID, 3, quiz.Submission{Content: "7"})
	require.NoError(t, err)

	res, err = f.svc.Result(ctx, f.student, step.TakeID)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 3.5, res.Take.Score)
	assert.True(t, res.Take.FinishedAt.Valid)
}

func TestService_Result_idempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	mockNow(t)
	counter := &updateCounter{Repository: f.repo}
	usrSvc := user.NewTestService(f.usrRepo, nil, nil)
	svc := quiz.NewService(nil, counter, course.NewService(nil, f.courseRepo, usrSvc, nil, nil, nil, testutil.NewLogger()))
	qf := createQuiz(t, f)
	qID := qf.quiz.ID

	for n, sub := range []quiz.Submission{
		{AnswerIDs: []int{qf.mc.Answers[0].ID, qf.mc.Answers[1].ID}},
		{AnswerIDs: []int{qf.tf.Answers[1].ID}},
		{Content: "7"},
	} {
		_, err := svc.Submit(ctx, f.student, qID, n+1, sub)
		require.NoError(t, err)
	}
	take, err := f.repo.GetUserTake(ctx, f.student.ID, qID)
	require.NoError(t, err)

	first, err := svc.Result(ctx, f.student, take.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.updates)
	stored, err := f.repo.GetTake(ctx, take.ID)
	require.NoError(t, err)

	second, err := svc.Result(ctx, f.student, take.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.updates, "visiting the result again writes nothing")
	assert.Equal(t, first.Take, second.Take)
	again, err := f.repo.GetTake(ctx, take.ID)
	require.NoError(t, err)
	assert.Equal(t, stored, again)
	assert.Equal(t, 3.5, again.Score)
}
