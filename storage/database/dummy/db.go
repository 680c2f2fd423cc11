// Package dummydb provides in-memory repositories, used by tests and when running without a database.
package dummydb

import (
	"sync"
	"time"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/quiz"
	"github.com/trezcool/darasa/core/user"
)

// DB holds all tables behind a single lock, cascading deletes the way the SQL schema does.
type DB struct {
	sync.RWMutex
	pks map[string]int

	users       map[int]user.User
	profiles    map[int]user.Profile // {userID: Profile}
	courses     map[int]course.Course
	enrollments map[int]course.Enrollment
	lessons     map[int]course.Lesson
	quizzes     map[int]quiz.Quiz
	questions   map[int]quiz.Question
	answers     map[int]quiz.Answer
	takes       map[int]quiz.Take
	takeAnswers map[int]quiz.TakeAnswer
}

func Open() *DB {
	return &DB{
		pks:         make(map[string]int),
		users:       make(map[int]user.User),
		profiles:    make(map[int]user.Profile),
		courses:     make(map[int]course.Course),
		enrollments: make(map[int]course.Enrollment),
		lessons:     make(map[int]course.Lesson),
		quizzes:     make(map[int]quiz.Quiz),
		questions:   make(map[int]quiz.Question),
		answers:     make(map[int]quiz.Answer),
		takes:       make(map[int]quiz.Take),
		takeAnswers: make(map[int]quiz.TakeAnswer),
	}
}

// nextPK returns the next serial value of table. db must be locked.
func (db *DB) nextPK(table string) int {
	db.pks[table]++
	return db.pks[table]
}

// The delete* helpers cascade like the foreign keys. db must be locked.

func (db *DB) deleteUser(id int) {
	delete(db.users, id)
	delete(db.profiles, id)
	for _, c := range db.courses {
		if c.TeacherID == id {
			db.deleteCourse(c.ID)
		}
	}
	for eid, e := range db.enrollments {
		if e.StudentID == id {
			delete(db.enrollments, eid)
		}
	}
	for _, t := range db.takes {
		if t.UserID == id {
			db.deleteTake(t.ID)
		}
	}
}

func (db *DB) deleteCourse(id int) {
	delete(db.courses, id)
	for eid, e := range db.enrollments {
		if e.CourseID == id {
			delete(db.enrollments, eid)
		}
	}
	for lid, l := range db.lessons {
		if l.CourseID == id {
			delete(db.lessons, lid)
		}
	}
	for _, q := range db.quizzes {
		if q.CourseID == id {
			db.deleteQuiz(q.ID)
		}
	}
}

func (db *DB) deleteQuiz(id int) {
	delete(db.quizzes, id)
	for _, q := range db.questions {
		if q.QuizID == id {
			db.deleteQuestion(q.ID)
		}
	}
	for _, t := range db.takes {
		if t.QuizID == id {
			db.deleteTake(t.ID)
		}
	}
}

func (db *DB) deleteQuestion(id int) {
	delete(db.questions, id)
	for aid, a := range db.answers {
		if a.QuestionID == id {
			delete(db.answers, aid)
		}
	}
	for taid, ta := range db.takeAnswers {
		if ta.QuestionID == id {
			delete(db.takeAnswers, taid)
		}
	}
}

func (db *DB) deleteTake(id int) {
	delete(db.takes, id)
	for taid, ta := range db.takeAnswers {
		if ta.TakeID == id {
			delete(db.takeAnswers, taid)
		}
	}
}

// less tells whether a row sorts before another one according to ordering,
// cmp compares both rows on a column, unknown columns compare IDs.
func less(ordering []core.DBOrdering, cmp func(field string) int) bool {
	for _, ord := range ordering {
		if c := cmp(ord.Field); c != 0 {
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
	}
	return cmp("") < 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
