package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
)

const (
	courseTable     = "course"
	enrollmentTable = "enrollment"
	lessonTable     = "lesson"

	enrollmentUniqueKey = "enrollment_student_course_key"
)

var (
	courseColumns = []string{"id", "title", "description", "teacher_id", "password_hash", "image", "created_at", "updated_at"}
	lessonColumns = []string{"id", "course_id", "title", "description", "attachment", "created_at", "updated_at"}
)

type (
	courseRow struct {
		ID           int         `db:"id"`
		Title        string      `db:"title"`
		Description  string      `db:"description"`
		TeacherID    int         `db:"teacher_id"`
		PasswordHash null.String `db:"password_hash"`
		Image        null.String `db:"image"`
		CreatedAt    time.Time   `db:"created_at"`
		UpdatedAt    time.Time   `db:"updated_at"`
	}

	// courseStatRow is a course along with one aggregated column.
	courseStatRow struct {
		courseRow
		EnrolledAt  null.Time `db:"enrolled_at"`
		Enrollments int       `db:"enrollments"`
	}

	enrollmentRow struct {
		ID         int       `db:"id"`
		StudentID  int       `db:"student_id"`
		CourseID   int       `db:"course_id"`
		EnrolledAt time.Time `db:"enrolled_at"`
	}

	lessonRow struct {
		ID          int         `db:"id"`
		CourseID    int         `db:"course_id"`
		Title       string      `db:"title"`
		Description string      `db:"description"`
		Attachment  null.String `db:"attachment"`
		CreatedAt   time.Time   `db:"created_at"`
		UpdatedAt   time.Time   `db:"updated_at"`
	}
)

func (r courseRow) course() course.Course {
	return course.Course{
		ID:           r.ID,
		Title:        r.Title,
		Description:  r.Description,
		TeacherID:    r.TeacherID,
		PasswordHash: r.PasswordHash,
		Image:        r.Image,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func (r enrollmentRow) enrollment() course.Enrollment {
	return course.Enrollment{
		ID:         r.ID,
		StudentID:  r.StudentID,
		CourseID:   r.CourseID,
		EnrolledAt: r.EnrolledAt.UTC(),
	}
}

func (r lessonRow) lesson() course.Lesson {
	return course.Lesson{
		ID:          r.ID,
		CourseID:    r.CourseID,
		Title:       r.Title,
		Description: r.Description,
		Attachment:  r.Attachment,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type courseRepository struct {
	repository
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(exec core.DBExecutor) course.Repository {
	return &courseRepository{repository{exec: exec}}
}

// prefixed qualifies columns with table, for joins.
func prefixed(table string, columns []string) []string {
	qualified := make([]string, 0, len(columns))
	for _, col := range columns {
		qualified = append(qualified, table+"."+col)
	}
	return qualified
}

func (repo *courseRepository) selectCourses(ctx context.Context, exec []core.DBExecutor, q sq.SelectBuilder) ([]course.Course, error) {
	var rows []courseRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, err
	}
	courses := make([]course.Course, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, r.course())
	}
	return courses, nil
}

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	q := psql.Insert(courseTable).
		Columns("title", "description", "teacher_id", "password_hash", "image", "created_at", "updated_at").
		Values(c.Title, c.Description, c.TeacherID, c.PasswordHash, c.Image, c.CreatedAt.UTC(), c.UpdatedAt.UTC())

	id, err := repo.insert(ctx, exec, q)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	c.ID = id
	return c, nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id int, exec ...core.DBExecutor) (course.Course, error) {
	courses, err := repo.selectCourses(ctx, exec, psql.Select(courseColumns...).From(courseTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return course.Course{}, errors.Wrap(err, "finding course")
	}
	if len(courses) == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return courses[0], nil
}

func (repo *courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]course.Course, error) {
	q := psql.Select(courseColumns...).From(courseTable).OrderBy(orderBy(ordering, "title ASC", "id ASC")...)
	if filter != nil {
		if filter.Search != "" {
			val := ilike(filter.Search)
			q = q.Where(sq.Or{sq.ILike{"title": val}, sq.ILike{"description": val}})
		}
		if filter.TeacherID != 0 {
			q = q.Where(sq.Eq{"teacher_id": filter.TeacherID})
		}
	}

	courses, err := repo.selectCourses(ctx, exec, q)
	return courses, errors.Wrap(err, "querying courses")
}

func (repo *courseRepository) QueryCoursesByID(ctx context.Context, ids []int, exec ...core.DBExecutor) ([]course.Course, error) {
	if len(ids) == 0 {
		return []course.Course{}, nil
	}
	courses, err := repo.selectCourses(ctx, exec, psql.Select(courseColumns...).From(courseTable).Where(sq.Eq{"id": ids}))
	return courses, errors.Wrap(err, "querying courses")
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	q := psql.Update(courseTable).
		SetMap(map[string]interface{}{
			"title":         c.Title,
			"description":   c.Description,
			"teacher_id":    c.TeacherID,
			"password_hash": c.PasswordHash,
			"image":         c.Image,
			"updated_at":    c.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": c.ID})

	n, err := repo.execute(ctx, exec, q)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return c, nil
}

func (repo *courseRepository) DeleteCourse(ctx context.Context, id int, exec ...core.DBExecutor) error {
	_, err := repo.execute(ctx, exec, psql.Delete(courseTable).Where(sq.Eq{"id": id}))
	return errors.Wrap(err, "deleting course")
}

func (repo *courseRepository) CreateEnrollment(ctx context.Context, e course.Enrollment, exec ...core.DBExecutor) (course.Enrollment, error) {
	q := psql.Insert(enrollmentTable).
		Columns("student_id", "course_id", "enrolled_at").
		Values(e.StudentID, e.CourseID, e.EnrolledAt.UTC())

	id, err := repo.insert(ctx, exec, q)
	if err != nil {
		if constraint, ok := violatedConstraint(err); ok && constraint == enrollmentUniqueKey {
			return course.Enrollment{}, course.ErrAlreadyEnrolled
		}
		return course.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	e.ID = id
	return e, nil
}

func (repo *courseRepository) GetEnrollment(ctx context.Context, studentID, courseID int, exec ...core.DBExecutor) (course.Enrollment, error) {
	q := psql.Select("id", "student_id", "course_id", "enrolled_at").
		From(enrollmentTable).
		Where(sq.Eq{"student_id": studentID, "course_id": courseID})

	var rows []enrollmentRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return course.Enrollment{}, errors.Wrap(err, "finding enrollment")
	}
	if len(rows) == 0 {
		return course.Enrollment{}, course.ErrNotEnrolled
	}
	return rows[0].enrollment(), nil
}

func (repo *courseRepository) QueryEnrolledCourses(ctx context.Context, studentID int, exec ...core.DBExecutor) ([]course.EnrolledCourse, error) {
	q := psql.Select(prefixed(courseTable, courseColumns)...).
		Column("e.enrolled_at").
		From(courseTable).
		Join(enrollmentTable + " e ON e.course_id = course.id").
		Where(sq.Eq{"e.student_id": studentID}).
		OrderBy("course.title ASC", "course.id ASC")

	var rows []courseStatRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, errors.Wrap(err, "querying enrolled courses")
	}
	courses := make([]course.EnrolledCourse, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, course.EnrolledCourse{Course: r.course(), EnrolledAt: r.EnrolledAt.Time.UTC()})
	}
	return courses, nil
}

func (repo *courseRepository) QueryPopularCourses(ctx context.Context, limit int, exec ...core.DBExecutor) ([]course.PopularCourse, error) {
	q := psql.Select(prefixed(courseTable, courseColumns)...).
		Column("COUNT(e.id) AS enrollments").
		From(courseTable).
		LeftJoin(enrollmentTable + " e ON e.course_id = course.id").
		GroupBy("course.id").
		OrderBy("enrollments DESC", "course.title ASC", "course.id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	var rows []courseStatRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, errors.Wrap(err, "querying popular courses")
	}
	courses := make([]course.PopularCourse, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, course.PopularCourse{Course: r.course(), Enrollments: r.Enrollments})
	}
	return courses, nil
}

func (repo *courseRepository) CountEnrollments(ctx context.Context, exec ...core.DBExecutor) (map[int]int, error) {
	q := psql.Select("course_id", "COUNT(*) AS enrollments").From(enrollmentTable).GroupBy("course_id")

	var rows []struct {
		CourseID    int `db:"course_id"`
		Enrollments int `db:"enrollments"`
	}
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, errors.Wrap(err, "counting enrollments")
	}
	counts := make(map[int]int, len(rows))
	for _, r := range rows {
		counts[r.CourseID] = r.Enrollments
	}
	return counts, nil
}

func (repo *courseRepository) CreateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	q := psql.Insert(lessonTable).
		Columns("course_id", "title", "description", "attachment", "created_at", "updated_at").
		Values(l.CourseID, l.Title, l.Description, l.Attachment, l.CreatedAt.UTC(), l.UpdatedAt.UTC())

	id, err := repo.insert(ctx, exec, q)
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "inserting lesson")
	}
	l.ID = id
	return l, nil
}

func (repo *courseRepository) selectLessons(ctx context.Context, exec []core.DBExecutor, q sq.SelectBuilder) ([]course.Lesson, error) {
	var rows []lessonRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, err
	}
	lessons := make([]course.Lesson, 0, len(rows))
	for _, r := range rows {
		lessons = append(lessons, r.lesson())
	}
	return lessons, nil
}

func (repo *courseRepository) GetLesson(ctx context.Context, courseID, lessonID int, exec ...core.DBExecutor) (course.Lesson, error) {
	q := psql.Select(lessonColumns...).From(lessonTable).Where(sq.Eq{"id": lessonID, "course_id": courseID})
	lessons, err := repo.selectLessons(ctx, exec, q)
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "finding lesson")
	}
	if len(lessons) == 0 {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	return lessons[0], nil
}

func (repo *courseRepository) QueryLessons(ctx context.Context, courseID int, exec ...core.DBExecutor) ([]course.Lesson, error) {
	q := psql.Select(lessonColumns...).
		From(lessonTable).
		Where(sq.Eq{"course_id": courseID}).
		OrderBy("created_at ASC", "id ASC")
	lessons, err := repo.selectLessons(ctx, exec, q)
	return lessons, errors.Wrap(err, "querying lessons")
}

func (repo *courseRepository) UpdateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	q := psql.Update(lessonTable).
		Set("title", l.Title).
		Set("description", l.Description).
		Set("attachment", l.Attachment).
		Set("updated_at", l.UpdatedAt.UTC()).
		Where(sq.Eq{"id": l.ID, "course_id": l.CourseID})

	n, err := repo.execute(ctx, exec, q)
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "updating lesson")
	}
	if n == 0 {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	return l, nil
}

func (repo *courseRepository) DeleteLesson(ctx context.Context, courseID, lessonID int, exec ...core.DBExecutor) error {
	_, err := repo.execute(ctx, exec, psql.Delete(lessonTable).Where(sq.Eq{"id": lessonID, "course_id": courseID}))
	return errors.Wrap(err, "deleting lesson")
}
