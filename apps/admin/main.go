package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	logsvc "github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/services/ranking"
	storagesvc "github.com/trezcool/darasa/services/storage"
	"github.com/trezcool/darasa/storage/database"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(conf, "ADMIN")
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer func() { _ = db.Close() }()

	var ranker course.Ranker
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
		ranker = ranking.NewRedisRanker(client)
	}

	usrRepo := sqlxrepos.NewUserRepository(db)
	crsRepo := sqlxrepos.NewCourseRepository(db)
	mailSvc := emailsvc.NewConsoleService(conf, logger)
	storage := storagesvc.NewLocalStorage(conf.Storage)
	usrSvc := user.NewService(db, usrRepo, mailSvc, storage, conf)

	// start CLI
	cli := commandLine{
		db:       db,
		usrRepo:  usrRepo,
		crsRepo:  crsRepo,
		quizRepo: sqlxrepos.NewQuizRepository(db),
		crsSvc:   course.NewService(db, crsRepo, usrSvc, ranker, mailSvc, storage, logger),
	}
	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}
