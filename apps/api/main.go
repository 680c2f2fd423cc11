package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/quiz"
	"github.com/trezcool/darasa/core/user"
	appfs "github.com/trezcool/darasa/fs"
	emailsvc "github.com/trezcool/darasa/services/email"
	logsvc "github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/services/ranking"
	"github.com/trezcool/darasa/services/ratelimit"
	storagesvc "github.com/trezcool/darasa/services/storage"
	"github.com/trezcool/darasa/storage/database"
	dummydb "github.com/trezcool/darasa/storage/database/dummy"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

type repositories struct {
	db     core.DB
	user   user.Repository
	course course.Repository
	quiz   quiz.Repository
	close  func() error
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(conf, "API")
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	dbLogger := logsvc.NewRollbarLogger(conf, "DB")
	dbLogger.Enable(!conf.Debug)

	// set up DB
	repos, err := setUpRepositories(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err := repos.close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up redis, rate limiting falls back to memory and popularity to the database
	var (
		limiter core.RateLimiter
		ranker  course.Ranker
	)
	if conf.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Address,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		defer func() { _ = client.Close() }()
		if err = client.Ping(context.Background()).Err(); err != nil {
			logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
		}
		limiter = ratelimit.NewRedisLimiter(client, conf.RateLimit)
		ranker = ranking.NewRedisRanker(client)
	} else {
		limiter = ratelimit.NewMemoryLimiter(conf.RateLimit)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug || conf.SendgridApiKey == "" {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	storage := storagesvc.NewLocalStorage(conf.Storage)

	usrSvc := user.NewService(repos.db, repos.user, mailSvc, storage, conf)
	crsSvc := course.NewService(repos.db, repos.course, usrSvc, ranker, mailSvc, storage, logger)
	quizSvc := quiz.NewService(repos.db, repos.quiz, crsSvc)

	if ranker != nil {
		if err = crsSvc.RebuildRanking(context.Background()); err != nil {
			logger.Error(fmt.Sprintf("rebuilding course ranking: %v", err), err)
		}
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, true, logger)

	user.LoadCommonPasswords(appfs.FS, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Conf:        conf,
		Logger:      logger,
		Validate:    validate,
		Translator:  translator,
		UserSvc:     usrSvc,
		CourseSvc:   crsSvc,
		QuizSvc:     quizSvc,
		RateLimiter: limiter,
	}, shutdown)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("API listening on %s", conf.Server.Address()))
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(fmt.Sprintf("server error: %v", err), err)
		}

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		if err = server.Stop(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
		}
	}
}

// setUpRepositories opens the configured database; the "dummy" engine keeps everything in memory.
func setUpRepositories(conf *core.Config) (repositories, error) {
	if conf.Database.Engine == "dummy" {
		db := dummydb.Open()
		return repositories{
			user:   dummydb.NewUserRepository(db),
			course: dummydb.NewCourseRepository(db),
			quiz:   dummydb.NewQuizRepository(db),
			close:  func() error { return nil },
		}, nil
	}

	db, err := setUpDB(conf)
	if err != nil {
		return repositories{}, err
	}
	return repositories{
		db:     db,
		user:   sqlxrepos.NewUserRepository(db),
		course: sqlxrepos.NewCourseRepository(db),
		quiz:   sqlxrepos.NewQuizRepository(db),
		close:  db.Close,
	}, nil
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
