package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/user"
)

type courseApi struct {
	svc      course.Service
	usrSvc   user.Service
	auth     *authenticator
	validate *validator.Validate
	limiter  core.RateLimiter
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, opts *Options) {
	api := courseApi{
		svc:      opts.CourseSvc,
		usrSvc:   opts.UserSvc,
		auth:     auth,
		validate: opts.Validate,
		limiter:  opts.RateLimiter,
	}

	cg := g.Group("/courses")

	// un-authed endpoints
	cg.GET("", api.query)
	cg.GET("/popular", api.popular)

	// authed endpoints
	cg.GET("/enrolled", api.enrolled, jwt)
	cg.POST("", api.create, jwt)

	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update, jwt)
	cg.DELETE("/:id", api.destroy, jwt)
	cg.PUT("/:id/image", api.setImage, jwt)
	cg.POST("/:id/enroll", api.enroll, jwt, rateLimitMiddleware(api.limiter, "enroll"))
}

// Handlers

func (api *courseApi) query(ctx echo.Context) error {
	filter := new(course.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []course.Course{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) popular(ctx echo.Context) error {
	n, err := intQuery(ctx, "n", course.DefaultPopularCount)
	if err != nil {
		return err
	}
	courses, err := api.svc.Popular(ctx.Request().Context(), n)
	if err != nil {
		return errors.Wrap(err, "getting popular courses")
	}
	if courses == nil {
		courses = []course.PopularCourse{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) enrolled(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	courses, err := api.svc.Enrolled(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "getting enrolled courses")
	}
	if courses == nil {
		courses = []course.EnrolledCourse{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	id, err := intParam(ctx, "id")
	if err != nil {
		return err
	}
	c, err := api.svc.Get(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) create(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data course.NewCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *courseApi) update(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	id, err := intParam(ctx, "id")
	if err != nil {
		return err
	}

	var data course.UpdateCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.Update(ctx.Request().Context(), usr, id, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	id, err := intParam(ctx, "id")
	if err != nil {
		return err
	}

	if err = api.svc.Delete(ctx.Request().Context(), usr, id); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) setImage(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	id, err := intParam(ctx, "id")
	if err != nil {
		return err
	}

	filename, f, err := formFile(ctx, "image")
	if err != nil {
		return err
	}
	defer f.Close()

	c, err := api.svc.SetImage(ctx.Request().Context(), usr, id, filename, f)
	if err != nil {
		return errors.Wrap(err, "setting course image")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) enroll(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	id, err := intParam(ctx, "id")
	if err != nil {
		return err
	}

	var data EnrollRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollRequest")
	}

	enr, err := api.svc.Enroll(ctx.Request().Context(), usr, id, data.Password)
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	resetRateLimit(ctx, api.limiter)
	return ctx.JSON(http.StatusCreated, enr)
}

type EnrollRequest struct {
	Password string `json:"password"`
}
