package echoapi

import (
	"context"
	"net/http"
	"os"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/quiz"
	"github.com/trezcool/darasa/core/user"
)

type (
	Options struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator

		UserSvc   user.Service
		CourseSvc course.Service
		QuizSvc   quiz.Service
		// RateLimiter throttles login, password reset and enrollment attempts, it may be nil.
		RateLimiter core.RateLimiter
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts     *Options
		app      *echo.Echo
		auth     *authenticator
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

// NewServer sets up the API, shutdown receives a signal whenever the error handler catches a shutdown error.
func NewServer(opts *Options, shutdown chan os.Signal) Server {
	return newServer(opts, shutdown)
}

func newServer(opts *Options, shutdown chan os.Signal) *server {
	s := &server{
		opts:     opts,
		app:      echo.New(),
		auth:     newAuthenticator(opts.Conf),
		shutdown: shutdown,
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug
	s.app.HideBanner = true

	s.app.GET("/", s.home)
	if mediaURL := conf.Storage.MediaURL; strings.HasPrefix(mediaURL, "/") && conf.Storage.MediaDir != "" {
		s.app.Static(mediaURL, conf.Storage.MediaDir)
	}

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(s.auth.jwtConfig)

	registerUserAPI(v1, jwt, s.auth, s.opts)
	registerCourseAPI(v1, jwt, s.auth, s.opts)
	registerLessonAPI(v1, jwt, s.auth, s.opts)
	registerQuizAPI(v1, jwt, s.auth, s.opts)
}

// Start blocks until the server stops, http.ErrServerClosed is returned after Stop.
func (s *server) Start() error {
	return s.app.Start(s.opts.Conf.Server.Address())
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) signalShutdown() {
	if s.shutdown != nil {
		s.shutdown <- syscall.SIGTERM
	}
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.opts.Conf.AppName+" API!")
}
