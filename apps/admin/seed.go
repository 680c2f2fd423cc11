package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/quiz"
	"github.com/trezcool/darasa/core/user"
)

var errAlreadySeeded = errors.New("the database is already seeded")

type seedQuestion struct {
	typ     quiz.QuestionType
	level   quiz.Level
	score   float64
	content string
	answers []quiz.Answer
}

var seedQuestions = []seedQuestion{
	{
		typ: quiz.MultipleChoice, level: quiz.Easy, score: 10, content: "What is the capital of France?",
		answers: []quiz.Answer{{Content: "Paris", IsCorrect: true}, {Content: "London"}, {Content: "Berlin"}},
	},
	{
		typ: quiz.TrueFalse, level: quiz.Easy, score: 5, content: "The Earth is flat.",
		answers: []quiz.Answer{{Content: "True"}, {Content: "False", IsCorrect: true}},
	},
	{
		typ: quiz.MultipleChoice, level: quiz.Medium, score: 15, content: "Which of the following is not a programming language?",
		answers: []quiz.Answer{{Content: "Python"}, {Content: "JavaScript"}, {Content: "HTML", IsCorrect: true}},
	},
	{
		typ: quiz.TrueFalse, level: quiz.Medium, score: 20, content: "Water boils at 100 degrees Celsius.",
		answers: []quiz.Answer{{Content: "True", IsCorrect: true}, {Content: "False"}},
	},
	{
		typ: quiz.MultipleChoice, level: quiz.Difficult, score: 50, content: "Which of the following is a planet in our solar system?",
		answers: []quiz.Answer{{Content: "Earth", IsCorrect: true}, {Content: "Mars", IsCorrect: true}, {Content: "Sun"}},
	},
}

// seed creates a test teacher and student sharing pwd, a test course with one lesson,
// and a published test quiz which the student already passed.
func (cli *commandLine) seed(pwd string) error {
	ctx := context.Background()
	if _, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: "testteacher"}); err == nil {
		return errAlreadySeeded
	} else if errors.Cause(err) != user.ErrNotFound {
		return err
	}

	return core.RunInTx(ctx, cli.txDB(), func(exec core.DBExecutor) error {
		now := time.Now().UTC()

		teacher, err := cli.seedUser(ctx, exec, "Dimitri Agusto", "testteacher", "teacher@example.com", pwd,
			"This is a teacher profile.", user.RoleTeacher)
		if err != nil {
			return err
		}
		student, err := cli.seedUser(ctx, exec, "Alex Ternti", "teststudent", "student@example.com", pwd,
			"This is a student profile.", user.RoleStudent)
		if err != nil {
			return err
		}

		c, err := cli.crsRepo.CreateCourse(ctx, course.Course{
			Title:       "Test Course",
			Description: "This is a test course for testing purposes.",
			TeacherID:   teacher.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}, exec)
		if err != nil {
			return errors.Wrap(err, "creating course")
		}
		if _, err = cli.crsRepo.CreateLesson(ctx, course.Lesson{
			CourseID:    c.ID,
			Title:       "Test Lesson",
			Description: "This is a test lesson for the Test Course.",
			CreatedAt:   now,
			UpdatedAt:   now,
		}, exec); err != nil {
			return errors.Wrap(err, "creating lesson")
		}
		if _, err = cli.crsRepo.CreateEnrollment(ctx, course.Enrollment{StudentID: student.ID, CourseID: c.ID, EnrolledAt: now}, exec); err != nil {
			return errors.Wrap(err, "enrolling student")
		}

		qz := quiz.Quiz{
			CourseID:  c.ID,
			Title:     "Test Quiz",
			Summary:   "This is a test quiz for the Test Course.",
			Content:   "This quiz is designed to test your knowledge of various topics. Answer all questions carefully.",
			Score:     100,
			CreatedAt: now,
			UpdatedAt: now,
		}
		qz.Publish(now)
		if qz, err = cli.quizRepo.CreateQuiz(ctx, qz, exec); err != nil {
			return errors.Wrap(err, "creating quiz")
		}

		questions := make([]quiz.Question, 0, len(seedQuestions))
		for _, sq := range seedQuestions {
			q, err := cli.quizRepo.CreateQuestion(ctx, quiz.Question{
				QuizID:    qz.ID,
				Type:      sq.typ,
				Level:     sq.level,
				Score:     sq.score,
				Content:   sq.content,
				Active:    true,
				CreatedAt: now,
				UpdatedAt: now,
			}, exec)
			if err != nil {
				return errors.Wrap(err, "creating question")
			}
			for _, a := range sq.answers {
				a.QuestionID = q.ID
				a.CreatedAt, a.UpdatedAt = now, now
				if a, err = cli.quizRepo.CreateAnswer(ctx, a, exec); err != nil {
					return errors.Wrap(err, "creating answer")
				}
				q.Answers = append(q.Answers, a)
			}
			questions = append(questions, q)
		}

		return cli.seedTake(ctx, exec, student, qz, questions, now)
	})
}

func (cli *commandLine) seedUser(ctx context.Context, exec core.DBExecutor, name, uname, email, pwd, bio, role string) (user.User, error) {
	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		IsActive:  true,
		Roles:     user.WithDefaultRole([]string{role}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}
	usr, err := cli.usrRepo.CreateUser(ctx, usr, exec)
	if err != nil {
		return user.User{}, errors.Wrapf(err, "creating %s", uname)
	}
	_, err = cli.usrRepo.CreateProfile(ctx, user.Profile{UserID: usr.ID, Bio: bio, CreatedAt: now, UpdatedAt: now}, exec)
	return usr, errors.Wrapf(err, "creating %s profile", uname)
}

// seedTake answers every question correctly on behalf of student.
func (cli *commandLine) seedTake(ctx context.Context, exec core.DBExecutor, student user.User, qz quiz.Quiz, questions []quiz.Question, now time.Time) error {
	take, err := cli.quizRepo.GetOrCreateTake(ctx, quiz.Take{UserID: student.ID, QuizID: qz.ID, CreatedAt: now}, exec)
	if err != nil {
		return errors.Wrap(err, "creating take")
	}

	var all []quiz.TakeAnswer
	for _, q := range questions {
		var rows []quiz.TakeAnswer
		for _, a := range q.Answers {
			if a.IsCorrect {
				rows = append(rows, quiz.TakeAnswer{
					TakeID:     take.ID,
					QuestionID: q.ID,
					AnswerID:   null.IntFrom(a.ID),
					CreatedAt:  now,
					UpdatedAt:  now,
				})
			}
		}
		if err = cli.quizRepo.ReplaceTakeAnswers(ctx, take.ID, q.ID, rows, exec); err != nil {
			return errors.Wrap(err, "saving take answers")
		}
		all = append(all, rows...)
	}

	take.Score, _ = quiz.Grade(questions, all)
	take.Finish(now.Add(time.Second))
	if _, err = cli.quizRepo.UpdateTake(ctx, take, exec); err != nil {
		return errors.Wrap(err, "finishing take")
	}
	fmt.Printf("Seeded %q with %d questions, %s scored %.2f.\n", qz.Title, len(questions), student.Username, take.Score)
	return nil
}
