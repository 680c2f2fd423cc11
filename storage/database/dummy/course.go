package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	c.ID = repo.db.nextPK("course")
	repo.db.courses[c.ID] = c
	return c, nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id int, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if c, ok := repo.db.courses[id]; ok {
		return c, nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) QueryCourses(_ context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := make([]course.Course, 0, len(repo.db.courses))
	for _, c := range repo.db.courses {
		if filter != nil {
			if filter.TeacherID != 0 && c.TeacherID != filter.TeacherID {
				continue
			}
			if search := strings.ToLower(filter.Search); search != "" &&
				!strings.Contains(strings.ToLower(c.Title), search) &&
				!strings.Contains(strings.ToLower(c.Description), search) {
				continue
			}
		}
		courses = append(courses, c)
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "title", Ascending: true}}
	}
	sort.Slice(courses, func(i, j int) bool {
		return less(ordering, func(field string) int { return compareCourses(courses[i], courses[j], field) })
	})
	return courses, nil
}

func compareCourses(a, b course.Course, field string) int {
	switch field {
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "created_at":
		return compareTimes(a.CreatedAt, b.CreatedAt)
	case "updated_at":
		return compareTimes(a.UpdatedAt, b.UpdatedAt)
	}
	return a.ID - b.ID
}

func (repo *courseRepository) QueryCoursesByID(_ context.Context, ids []int, _ ...core.DBExecutor) ([]course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := make([]course.Course, 0, len(ids))
	for _, id := range ids {
		if c, ok := repo.db.courses[id]; ok {
			courses = append(courses, c)
		}
	}
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.courses[c.ID]; !ok {
		return course.Course{}, course.ErrNotFound
	}
	repo.db.courses[c.ID] = c
	return c, nil
}

func (repo *courseRepository) DeleteCourse(_ context.Context, id int, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.deleteCourse(id)
	return nil
}

func (repo *courseRepository) CreateEnrollment(_ context.Context, e course.Enrollment, _ ...core.DBExecutor) (course.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.courses[e.CourseID]; !ok {
		return course.Enrollment{}, course.ErrNotFound
	}
	for _, enr := range repo.db.enrollments {
		if enr.StudentID == e.StudentID && enr.CourseID == e.CourseID {
			return course.Enrollment{}, course.ErrAlreadyEnrolled
		}
	}
	e.ID = repo.db.nextPK("enrollment")
	repo.db.enrollments[e.ID] = e
	return e, nil
}

func (repo *courseRepository) GetEnrollment(_ context.Context, studentID, courseID int, _ ...core.DBExecutor) (course.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, enr := range repo.db.enrollments {
		if enr.StudentID == studentID && enr.CourseID == courseID {
			return enr, nil
		}
	}
	return course.Enrollment{}, course.ErrNotEnrolled
}

func (repo *courseRepository) QueryEnrolledCourses(_ context.Context, studentID int, _ ...core.DBExecutor) ([]course.EnrolledCourse, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := make([]course.EnrolledCourse, 0)
	for _, enr := range repo.db.enrollments {
		if enr.StudentID != studentID {
			continue
		}
		if c, ok := repo.db.courses[enr.CourseID]; ok {
			courses = append(courses, course.EnrolledCourse{Course: c, EnrolledAt: enr.EnrolledAt})
		}
	}
	sort.Slice(courses, func(i, j int) bool {
		if courses[i].Title != courses[j].Title {
			return courses[i].Title < courses[j].Title
		}
		return courses[i].ID < courses[j].ID
	})
	return courses, nil
}

func (repo *courseRepository) countEnrollments() map[int]int {
	counts := make(map[int]int)
	for _, enr := range repo.db.enrollments {
		counts[enr.CourseID]++
	}
	return counts
}

func (repo *courseRepository) QueryPopularCourses(_ context.Context, limit int, _ ...core.DBExecutor) ([]course.PopularCourse, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	counts := repo.countEnrollments()
	courses := make([]course.PopularCourse, 0, len(repo.db.courses))
	for _, c := range repo.db.courses {
		courses = append(courses, course.PopularCourse{Course: c, Enrollments: counts[c.ID]})
	}
	sort.Slice(courses, func(i, j int) bool {
		if courses[i].Enrollments != courses[j].Enrollments {
			return courses[i].Enrollments > courses[j].Enrollments
		}
		if courses[i].Title != courses[j].Title {
			return courses[i].Title < courses[j].Title
		}
		return courses[i].ID < courses[j].ID
	})
	if limit > 0 && len(courses) > limit {
		courses = courses[:limit]
	}
	return courses, nil
}

func (repo *courseRepository) CountEnrollments(_ context.Context, _ ...core.DBExecutor) (map[int]int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.countEnrollments(), nil
}

func (repo *courseRepository) CreateLesson(_ context.Context, l course.Lesson, _ ...core.DBExecutor) (course.Lesson, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.courses[l.CourseID]; !ok {
		return course.Lesson{}, course.ErrNotFound
	}
	l.ID = repo.db.nextPK("lesson")
	repo.db.lessons[l.ID] = l
	return l, nil
}

func (repo *courseRepository) GetLesson(_ context.Context, courseID, lessonID int, _ ...core.DBExecutor) (course.Lesson, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if l, ok := repo.db.lessons[lessonID]; ok && l.CourseID == courseID {
		return l, nil
	}
	return course.Lesson{}, course.ErrLessonNotFound
}

func (repo *courseRepository) QueryLessons(_ context.Context, courseID int, _ ...core.DBExecutor) ([]course.Lesson, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	lessons := make([]course.Lesson, 0)
	for _, l := range repo.db.lessons {
		if l.CourseID == courseID {
			lessons = append(lessons, l)
		}
	}
	sort.Slice(lessons, func(i, j int) bool {
		if c := compareTimes(lessons[i].CreatedAt, lessons[j].CreatedAt); c != 0 {
			return c < 0
		}
		return lessons[i].ID < lessons[j].ID
	})
	return lessons, nil
}

func (repo *courseRepository) UpdateLesson(_ context.Context, l course.Lesson, _ ...core.DBExecutor) (course.Lesson, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if orig, ok := repo.db.lessons[l.ID]; !ok || orig.CourseID != l.CourseID {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	repo.db.lessons[l.ID] = l
	return l, nil
}

func (repo *courseRepository) DeleteLesson(_ context.Context, courseID, lessonID int, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if l, ok := repo.db.lessons[lessonID]; ok && l.CourseID == courseID {
		delete(repo.db.lessons, lessonID)
	}
	return nil
}
