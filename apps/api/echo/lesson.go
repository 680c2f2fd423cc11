package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/user"
)

type lessonApi struct {
	svc      course.Service
	usrSvc   user.Service
	auth     *authenticator
	validate *validator.Validate
}

func registerLessonAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, opts *Options) {
	api := lessonApi{
		svc:      opts.CourseSvc,
		usrSvc:   opts.UserSvc,
		auth:     auth,
		validate: opts.Validate,
	}

	lg := g.Group("/courses/:id/lessons", jwt)
	lg.GET("", api.view)
	lg.POST("", api.create)
	lg.PUT("/:lessonId", api.update)
	lg.DELETE("/:lessonId", api.destroy)
	lg.PUT("/:lessonId/attachment", api.setAttachment)
}

// courseAndLesson returns the context user along with the course and lesson ids of the path.
func (api *lessonApi) courseAndLesson(ctx echo.Context) (user.User, int, int, error) {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return user.User{}, 0, 0, errors.Wrap(err, "getting context user")
	}
	courseID, err := intParam(ctx, "id")
	if err != nil {
		return user.User{}, 0, 0, err
	}
	lessonID, err := intParam(ctx, "lessonId")
	if err != nil {
		return user.User{}, 0, 0, err
	}
	return usr, courseID, lessonID, nil
}

// Handlers

// view lists the course lessons along with the one selected by the `lesson` query param, or the first one.
func (api *lessonApi) view(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	courseID, err := intParam(ctx, "id")
	if err != nil {
		return err
	}
	lessonID, err := intQuery(ctx, "lesson", 0)
	if err != nil {
		return err
	}

	view, err := api.svc.ViewLessons(ctx.Request().Context(), usr, courseID, lessonID)
	if err != nil {
		return errors.Wrap(err, "viewing lessons")
	}
	if view.Lessons == nil {
		view.Lessons = []course.Lesson{}
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *lessonApi) create(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	courseID, err := intParam(ctx, "id")
	if err != nil {
		return err
	}

	var data course.NewLesson
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	l, err := api.svc.CreateLesson(ctx.Request().Context(), usr, courseID, data)
	if err != nil {
		return errors.Wrap(err, "creating lesson")
	}
	return ctx.JSON(http.StatusCreated, l)
}

func (api *lessonApi) update(ctx echo.Context) error {
	usr, courseID, lessonID, err := api.courseAndLesson(ctx)
	if err != nil {
		return err
	}

	var data course.UpdateLesson
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateLesson")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	l, err := api.svc.UpdateLesson(ctx.Request().Context(), usr, courseID, lessonID, data)
	if err != nil {
		return errors.Wrap(err, "updating lesson")
	}
	return ctx.JSON(http.StatusOK, l)
}

func (api *lessonApi) destroy(ctx echo.Context) error {
	usr, courseID, lessonID, err := api.courseAndLesson(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteLesson(ctx.Request().Context(), usr, courseID, lessonID); err != nil {
		return errors.Wrap(err, "deleting lesson")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *lessonApi) setAttachment(ctx echo.Context) error {
	usr, courseID, lessonID, err := api.courseAndLesson(ctx)
	if err != nil {
		return err
	}

	filename, f, err := formFile(ctx, "attachment")
	if err != nil {
		return err
	}
	defer f.Close()

	l, err := api.svc.SetLessonAttachment(ctx.Request().Context(), usr, courseID, lessonID, filename, f)
	if err != nil {
		return errors.Wrap(err, "setting lesson attachment")
	}
	return ctx.JSON(http.StatusOK, l)
}
