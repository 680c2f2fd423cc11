// Package testutil holds fixtures shared by the tests of several packages.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/quiz"
	"github.com/trezcool/darasa/core/user"
	appfs "github.com/trezcool/darasa/fs"
	logsvc "github.com/trezcool/darasa/services/logger"
	storagesvc "github.com/trezcool/darasa/services/storage"
	"github.com/trezcool/darasa/storage/database"
)

// DBEnvVar must be set for tests that need a PostgreSQL database.
const DBEnvVar = "DARASA_TEST_DB"

// PrepareDB opens the test database, migrates it and empties all tables.
func PrepareDB(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv(DBEnvVar) == "" {
		t.Skipf("set %s=1 to run database tests", DBEnvVar)
	}

	conf := core.NewConfig()
	if !conf.TestMode {
		conf.Database.Name = "test_" + conf.Database.Name
	}
	if err := database.CreateIfNotExist(conf); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	q := `TRUNCATE "user", profile, course, enrollment, lesson, quiz, question, answer, take, take_answer RESTART IDENTITY CASCADE`
	if _, err = db.Exec(q); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// NewLogger returns a silent logger.
func NewLogger() core.Logger {
	return logsvc.NewNopLogger()
}

// LoadTemplates parses the email templates, so that mocked emails get rendered.
func LoadTemplates() {
	core.ParseEmailTemplates(appfs.FS, true, NewLogger())
}

// NewValidator returns a validator with the custom validators registered.
func NewValidator() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate
}

// NewStorage returns a FileStorage writing to a temporary directory.
func NewStorage(t *testing.T) core.FileStorage {
	conf := core.NewTestConfig().Storage
	conf.MediaDir = t.TempDir()
	return storagesvc.NewLocalStorage(conf)
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     user.WithDefaultRole(roles),
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	ctx := context.Background()
	usr, err := repo.CreateUser(ctx, usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	if _, err = repo.CreateProfile(ctx, user.Profile{UserID: usr.ID, CreatedAt: tstamp, UpdatedAt: tstamp}); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(t *testing.T, repo course.Repository, title string, teacherID int, pwd string) course.Course {
	t.Helper()
	now := time.Now().UTC()
	c := course.Course{Title: title, TeacherID: teacherID, CreatedAt: now, UpdatedAt: now}
	if err := c.SetPassword(pwd); err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	c, err := repo.CreateCourse(context.Background(), c)
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return c
}

func Enroll(t *testing.T, repo course.Repository, studentID, courseID int) course.Enrollment {
	t.Helper()
	e, err := repo.CreateEnrollment(context.Background(), course.Enrollment{
		StudentID:  studentID,
		CourseID:   courseID,
		EnrolledAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	return e
}

func CreateQuiz(t *testing.T, repo quiz.Repository, courseID int, title string, published bool) quiz.Quiz {
	t.Helper()
	now := time.Now().UTC()
	q := quiz.Quiz{CourseID: courseID, Title: title, CreatedAt: now, UpdatedAt: now}
	if published {
		q.Publish(now)
	}
	q, err := repo.CreateQuiz(context.Background(), q)
	if err != nil {
		t.Fatalf("CreateQuiz() failed: %v", err)
	}
	return q
}

// CreateQuestion adds an active question to the quiz with one answer per entry of contents, in order.
// Answers whose content is listed in correct are the correct ones.
func CreateQuestion(
	t *testing.T,
	repo quiz.Repository,
	quizID int,
	typ quiz.QuestionType,
	score float64,
	content string,
	contents []string,
	correct ...string,
) quiz.Question {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	q, err := repo.CreateQuestion(ctx, quiz.Question{
		QuizID:    quizID,
		Type:      typ,
		Level:     quiz.Easy,
		Score:     score,
		Content:   content,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateQuestion() failed: %v", err)
	}
	for _, c := range contents {
		isCorrect := false
		for _, cc := range correct {
			if cc == c {
				isCorrect = true
			}
		}
		a, err := repo.CreateAnswer(ctx, quiz.Answer{
			QuestionID: q.ID,
			Content:    c,
			IsCorrect:  isCorrect,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			t.Fatalf("CreateQuestion() failed: %v", err)
		}
		q.Answers = append(q.Answers, a)
	}
	return q
}
