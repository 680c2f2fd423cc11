package echoapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/quiz"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/testutil"
)

func Test_quizApi_manage(t *testing.T) {
	f := setupCourses(t)
	c := testutil.CreateCourse(t, f.crsRepo, "Maths", f.teacher.ID, "")
	testutil.Enroll(t, f.crsRepo, f.student.ID, c.ID)
	teacherToken := f.getToken(t, f.teacher)
	studentToken := f.getToken(t, f.student)

	// create
	tt := httpTest{method: http.MethodPost, path: "/v1/courses/" + itoa(c.ID) + "/quizzes", token: studentToken, body: marchallObj(t, quiz.NewQuiz{Title: "Test"})}
	assert.Equal(t, http.StatusForbidden, f.run(t, tt).Code)

	tt.token = teacherToken
	tt.body = marchallObj(t, quiz.NewQuiz{Title: "Test Quiz", Score: 10})
	rec := f.run(t, tt)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var qz quiz.Quiz
	unmarshal(t, rec, &qz)
	assert.False(t, qz.Published)
	quizPath := "/v1/quizzes/" + itoa(qz.ID)

	// questions
	tf := quiz.NewQuestion{
		Type: quiz.TrueFalse, Score: 5, Content: "2 + 2 = 5",
		Answers: []quiz.NewAnswer{{Content: "True", IsCorrect: true}, {Content: "False", IsCorrect: true}},
	}
	tt = httpTest{
		method: http.MethodPost, path: quizPath + "/questions", token: teacherToken, body: marchallObj(t, tf),
		wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"answers": quiz.ErrTooManyCorrect.Error()}),
	}
	checkCodeAndData(t, tt, f.run(t, tt))

	tf.Answers[0].IsCorrect = false
	tt = httpTest{method: http.MethodPost, path: quizPath + "/questions", token: teacherToken, body: marchallObj(t, tf)}
	rec = f.run(t, tt)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var question quiz.Question
	unmarshal(t, rec, &question)
	assert.Len(t, question.Answers, 2)

	tt = httpTest{
		method: http.MethodPost, path: quizPath + "/questions/" + itoa(question.ID) + "/answers", token: teacherToken,
		body:     marchallObj(t, quiz.NewAnswer{Content: "Maybe", IsCorrect: true}),
		wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"is_correct": quiz.ErrTooManyCorrect.Error()}),
	}
	checkCodeAndData(t, tt, f.run(t, tt))

	// students do not see drafts
	tt = httpTest{method: http.MethodGet, path: quizPath, token: studentToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: quiz.ErrNotFound.Error()})}
	checkCodeAndData(t, tt, f.run(t, tt))
	tt = httpTest{method: http.MethodGet, path: "/v1/courses/" + itoa(c.ID) + "/quizzes", token: studentToken, wantCode: http.StatusOK, wantData: marchallList(t)}
	checkCodeAndData(t, tt, f.run(t, tt))

	// publish
	tt = httpTest{method: http.MethodPost, path: quizPath + "/publish", token: studentToken}
	assert.Equal(t, http.StatusForbidden, f.run(t, tt).Code)
	tt.token = teacherToken
	rec = f.run(t, tt)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &qz)
	assert.True(t, qz.Published)
	assert.True(t, qz.PublishedAt.Valid)

	tt = httpTest{method: http.MethodGet, path: "/v1/courses/" + itoa(c.ID) + "/quizzes", token: studentToken}
	rec = f.run(t, tt)
	require.Equal(t, http.StatusOK, rec.Code)
	var quizzes []quiz.Quiz
	unmarshal(t, rec, &quizzes)
	assert.Len(t, quizzes, 1)

	// update
	title := "Final Quiz"
	tt = httpTest{method: http.MethodPut, path: quizPath, token: teacherToken, body: marchallObj(t, quiz.UpdateQuiz{Title: &title})}
	rec = f.run(t, tt)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &qz)
	assert.Equal(t, title, qz.Title)

	// unpublish keeps the publication date
	tt = httpTest{method: http.MethodPost, path: quizPath + "/unpublish", token: teacherToken}
	rec = f.run(t, tt)
	require.Equal(t, http.StatusOK, rec.Code)
	unmarshal(t, rec, &qz)
	assert.False(t, qz.Published)
	assert.True(t, qz.PublishedAt.Valid)

	// delete
	tt = httpTest{method: http.MethodDelete, path: quizPath, token: teacherToken}
	assert.Equal(t, http.StatusNoContent, f.run(t, tt).Code)
	tt = httpTest{method: http.MethodGet, path: quizPath, token: teacherToken}
	assert.Equal(t, http.StatusNotFound, f.run(t, tt).Code)
}

func Test_quizApi_take(t *testing.T) {
	f := setupCourses(t)
	c := testutil.CreateCourse(t, f.crsRepo, "Maths", f.teacher.ID, "")
	testutil.Enroll(t, f.crsRepo, f.student.ID, c.ID)
	outsider := testutil.CreateUser(t, f.usrRepo, "Outsider", "outsider", "out@test.cd", "", []string{user.RoleStudent}, true)

	qz := testutil.CreateQuiz(t, f.quizRepo, c.ID, "Test Quiz", true)
	tf := testutil.CreateQuestion(t, f.quizRepo, qz.ID, quiz.TrueFalse, 5, "The earth is flat", []string{"True", "False"}, "False")
	mc := testutil.CreateQuestion(t, f.quizRepo, qz.ID, quiz.MultipleChoice, 3, "Pick the primes", []string{"2", "3", "4"}, "2", "3")

	empty := testutil.CreateQuiz(t, f.quizRepo, c.ID, "Empty", true)
	draft := testutil.CreateQuiz(t, f.quizRepo, c.ID, "Draft", false)

	studentToken := f.getToken(t, f.student)
	takePath := func(quizID int, n string) string { return "/v1/quizzes/" + itoa(quizID) + "/take/" + n }
	first := takePath(qz.ID, "1")

	tests := []struct {
		name         string
		httpTest
		wantLocation string
	}{
		{name: "Auth required", httpTest: httpTest{method: http.MethodGet, path: first, wantCode: http.StatusUnauthorized}},
		{name: "not enrolled", httpTest: httpTest{method: http.MethodGet, path: first, token: f.getToken(t, outsider), wantCode: http.StatusForbidden}},
		{name: "draft", httpTest: httpTest{method: http.MethodGet, path: takePath(draft.ID, "1"), token: studentToken, wantCode: http.StatusNotFound}},
		{
			name:     "no questions",
			httpTest: httpTest{method: http.MethodGet, path: takePath(empty.ID, "1"), token: studentToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: quiz.ErrNoQuestions.Error()})},
		},
		{name: "out of range", httpTest: httpTest{method: http.MethodGet, path: takePath(qz.ID, "3"), token: studentToken, wantCode: http.StatusFound}, wantLocation: first},
		{name: "zero", httpTest: httpTest{method: http.MethodGet, path: takePath(qz.ID, "0"), token: studentToken, wantCode: http.StatusFound}, wantLocation: first},
		{name: "malformed", httpTest: httpTest{method: http.MethodGet, path: takePath(qz.ID, "lol"), token: studentToken, wantCode: http.StatusFound}, wantLocation: first},
		{name: "first question", httpTest: httpTest{method: http.MethodGet, path: first, token: studentToken, wantCode: http.StatusOK}},
		{
			name: "nothing selected",
			httpTest: httpTest{
				method: http.MethodPost, path: first, token: studentToken, body: marchallObj(t, quiz.Submission{}),
				wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"answer_ids": quiz.ErrNoAnswer.Error()}),
			},
		},
		{
			name: "foreign answer",
			httpTest: httpTest{
				method: http.MethodPost, path: first, token: studentToken, body: marchallObj(t, quiz.Submission{AnswerIDs: []int{mc.Answers[0].ID}}),
				wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"answer_ids": quiz.ErrInvalidAnswer.Error()}),
			},
		},
		{
			name:         "answer first",
			httpTest:     httpTest{method: http.MethodPost, path: first, token: studentToken, body: marchallObj(t, quiz.Submission{AnswerIDs: []int{tf.Answers[1].ID}}), wantCode: http.StatusSeeOther},
			wantLocation: takePath(qz.ID, "2"),
		},
		{
			name:     "answer last",
			httpTest: httpTest{method: http.MethodPost, path: takePath(qz.ID, "2"), token: studentToken, body: marchallObj(t, quiz.Submission{AnswerIDs: []int{mc.Answers[0].ID, mc.Answers[2].ID}}), wantCode: http.StatusSeeOther},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.run(t, tt.httpTest)
			checkCodeAndData(t, tt.httpTest, rec)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
			}
		})
	}

	// the first answer is remembered
	rec := f.run(t, httpTest{method: http.MethodGet, path: first, token: studentToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view quiz.QuestionView
	unmarshal(t, rec, &view)
	assert.Equal(t, 1, view.Number)
	assert.Equal(t, 2, view.Total)
	assert.Equal(t, []int{tf.Answers[1].ID}, view.Selected)
	require.NotZero(t, view.TakeID)
	resultPath := "/v1/takes/" + itoa(view.TakeID) + "/result"

	rec = f.run(t, httpTest{method: http.MethodPost, path: takePath(qz.ID, "2"), token: studentToken, body: marchallObj(t, quiz.Submission{AnswerIDs: []int{mc.Answers[0].ID}})})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, resultPath, rec.Header().Get("Location"))

	// a partially right multiple choice question scores nothing
	rec = f.run(t, httpTest{method: http.MethodGet, path: resultPath, token: studentToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res quiz.TakeResult
	unmarshal(t, rec, &res)
	assert.Equal(t, 5.0, res.Take.Score)
	assert.Equal(t, 8.0, res.MaxScore)
	assert.True(t, res.Take.FinishedAt.Valid)

	// the finished take no longer accepts answers
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: quiz.ErrTakeFinished.Error()}),
	}, f.run(t, httpTest{method: http.MethodPost, path: takePath(qz.ID, "2"), token: studentToken, body: marchallObj(t, quiz.Submission{AnswerIDs: []int{mc.Answers[0].ID, mc.Answers[1].ID}})}))
	rec = f.run(t, httpTest{method: http.MethodGet, path: resultPath, token: f.getToken(t, f.teacher)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &res)
	assert.Equal(t, 5.0, res.Take.Score)
	assert.True(t, res.Complete)

	// others cannot see the result
	rec = f.run(t, httpTest{method: http.MethodGet, path: resultPath, token: f.getToken(t, outsider)})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// takes
	rec = f.run(t, httpTest{method: http.MethodGet, path: "/v1/quizzes/" + itoa(qz.ID) + "/takes", token: studentToken})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.run(t, httpTest{method: http.MethodGet, path: "/v1/quizzes/" + itoa(qz.ID) + "/takes", token: f.getToken(t, f.teacher)})
	require.Equal(t, http.StatusOK, rec.Code)
	var takes []quiz.Take
	unmarshal(t, rec, &takes)
	require.Len(t, takes, 1)
	assert.Equal(t, f.student.ID, takes[0].UserID)
}
