package echoapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/quiz"
	"github.com/trezcool/darasa/core/user"
)

type quizApi struct {
	svc      quiz.Service
	usrSvc   user.Service
	auth     *authenticator
	validate *validator.Validate
	prefix   string
}

func registerQuizAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, opts *Options) {
	api := quizApi{
		svc:      opts.QuizSvc,
		usrSvc:   opts.UserSvc,
		auth:     auth,
		validate: opts.Validate,
		prefix:   "/v1",
	}

	cg := g.Group("/courses/:id/quizzes", jwt)
	cg.GET("", api.query)
	cg.POST("", api.create)

	qg := g.Group("/quizzes/:id", jwt)
	qg.GET("", api.retrieve)
	qg.PUT("", api.update)
	qg.DELETE("", api.destroy)
	qg.POST("/publish", api.publish)
	qg.POST("/unpublish", api.unpublish)
	qg.GET("/questions", api.queryQuestions)
	qg.POST("/questions", api.addQuestion)
	qg.POST("/questions/:questionId/answers", api.addAnswer)
	qg.GET("/takes", api.queryTakes)

	// navigation
	qg.GET("/take/:n", api.viewQuestion)
	qg.POST("/take/:n", api.submit)

	g.GET("/takes/:id/result", api.result, jwt)
}

func (api *quizApi) userAndID(ctx echo.Context) (user.User, int, error) {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return user.User{}, 0, errors.Wrap(err, "getting context user")
	}
	id, err := intParam(ctx, "id")
	if err != nil {
		return user.User{}, 0, err
	}
	return usr, id, nil
}

func (api *quizApi) questionPath(quizID, n int) string {
	return fmt.Sprintf("%s/quizzes/%d/take/%d", api.prefix, quizID, n)
}

func (api *quizApi) resultPath(takeID int) string {
	return fmt.Sprintf("%s/takes/%d/result", api.prefix, takeID)
}

// Handlers

func (api *quizApi) query(ctx echo.Context) error {
	usr, courseID, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	quizzes, err := api.svc.QueryQuizzes(ctx.Request().Context(), usr, courseID)
	if err != nil {
		return errors.Wrap(err, "querying quizzes")
	}
	if quizzes == nil {
		quizzes = []quiz.Quiz{}
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

func (api *quizApi) create(ctx echo.Context) error {
	usr, courseID, err := api.userAndID(ctx)
	if err != nil {
		return err
	}

	var data quiz.NewQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuiz")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	qz, err := api.svc.CreateQuiz(ctx.Request().Context(), usr, courseID, data)
	if err != nil {
		return errors.Wrap(err, "creating quiz")
	}
	return ctx.JSON(http.StatusCreated, qz)
}

func (api *quizApi) retrieve(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	qz, err := api.svc.GetQuiz(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) update(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}

	var data quiz.UpdateQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuiz")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	qz, err := api.svc.UpdateQuiz(ctx.Request().Context(), usr, id, data)
	if err != nil {
		return errors.Wrap(err, "updating quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) destroy(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteQuiz(ctx.Request().Context(), usr, id); err != nil {
		return errors.Wrap(err, "deleting quiz")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *quizApi) publish(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	qz, err := api.svc.Publish(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "publishing quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) unpublish(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	qz, err := api.svc.Unpublish(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "unpublishing quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) queryQuestions(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	questions, err := api.svc.QueryQuestions(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	if questions == nil {
		questions = []quiz.Question{}
	}
	return ctx.JSON(http.StatusOK, questions)
}

func (api *quizApi) addQuestion(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}

	var data quiz.NewQuestion
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	q, err := api.svc.AddQuestion(ctx.Request().Context(), usr, id, data)
	if err != nil {
		return errors.Wrap(err, "adding question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *quizApi) addAnswer(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	questionID, err := intParam(ctx, "questionId")
	if err != nil {
		return err
	}

	var data quiz.NewAnswer
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnswer")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.AddAnswer(ctx.Request().Context(), usr, id, questionID, data)
	if err != nil {
		return errors.Wrap(err, "adding answer")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *quizApi) queryTakes(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	takes, err := api.svc.QueryTakes(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "querying takes")
	}
	if takes == nil {
		takes = []quiz.Take{}
	}
	return ctx.JSON(http.StatusOK, takes)
}

// viewQuestion shows question n, out of range numbers start the quiz over.
func (api *quizApi) viewQuestion(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(ctx.Param("n"))
	if err != nil {
		return ctx.Redirect(http.StatusFound, api.questionPath(id, 1))
	}

	view, err := api.svc.ViewQuestion(ctx.Request().Context(), usr, id, n)
	if err != nil {
		if errors.Cause(err) == quiz.ErrQuestionOutOfRange {
			return ctx.Redirect(http.StatusFound, api.questionPath(id, 1))
		}
		return errors.Wrap(err, "viewing question")
	}
	return ctx.JSON(http.StatusOK, view)
}

// submit saves the answers to question n, then redirects to the next question or to the take result.
func (api *quizApi) submit(ctx echo.Context) error {
	usr, id, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(ctx.Param("n"))
	if err != nil {
		return ctx.Redirect(http.StatusFound, api.questionPath(id, 1))
	}

	var data quiz.Submission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Submission")
	}

	step, err := api.svc.Submit(ctx.Request().Context(), usr, id, n, data)
	if err != nil {
		if errors.Cause(err) == quiz.ErrQuestionOutOfRange {
			return ctx.Redirect(http.StatusFound, api.questionPath(id, 1))
		}
		return errors.Wrap(err, "submitting answers")
	}
	if step.Done() {
		return ctx.Redirect(http.StatusSeeOther, api.resultPath(step.TakeID))
	}
	return ctx.Redirect(http.StatusSeeOther, api.questionPath(id, step.Next))
}

func (api *quizApi) result(ctx echo.Context) error {
	usr, takeID, err := api.userAndID(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.Result(ctx.Request().Context(), usr, takeID)
	if err != nil {
		return errors.Wrap(err, "getting take result")
	}
	return ctx.JSON(http.StatusOK, res)
}
