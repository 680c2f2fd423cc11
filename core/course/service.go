package course

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var (
	// errors
	ErrNotFound        = errors.New("course not found")
	ErrLessonNotFound  = errors.New("lesson not found")
	ErrAlreadyEnrolled = errors.New("you are already enrolled in this course")
	ErrAccessDenied    = errors.New("incorrect course password")
	ErrNotEnrolled     = errors.New("you are not enrolled in this course")
	ErrNotATeacher     = errors.New("the teacher must have the Teacher role")
)

// DefaultPopularCount is the number of courses listed as popular when none is requested.
const DefaultPopularCount = 3

type (
	Repository interface {
		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		GetCourse(ctx context.Context, id int, exec ...core.DBExecutor) (Course, error)
		// QueryCourses applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on Course.Title or Course.Description.
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Course, error)
		QueryCoursesByID(ctx context.Context, ids []int, exec ...core.DBExecutor) ([]Course, error)
		UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		DeleteCourse(ctx context.Context, id int, exec ...core.DBExecutor) error

		// CreateEnrollment returns ErrAlreadyEnrolled if the (student, course) pair exists.
		CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		// GetEnrollment returns ErrNotEnrolled if the student is not enrolled in the course.
		GetEnrollment(ctx context.Context, studentID, courseID int, exec ...core.DBExecutor) (Enrollment, error)
		QueryEnrolledCourses(ctx context.Context, studentID int, exec ...core.DBExecutor) ([]EnrolledCourse, error)
		// QueryPopularCourses returns the courses with the most enrollments, ties broken by title.
		QueryPopularCourses(ctx context.Context, limit int, exec ...core.DBExecutor) ([]PopularCourse, error)
		// CountEnrollments returns the number of enrollments of every course: {courseID: count}.
		CountEnrollments(ctx context.Context, exec ...core.DBExecutor) (map[int]int, error)

		CreateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		GetLesson(ctx context.Context, courseID, lessonID int, exec ...core.DBExecutor) (Lesson, error)
		// QueryLessons returns the course's lessons ordered by creation.
		QueryLessons(ctx context.Context, courseID int, exec ...core.DBExecutor) ([]Lesson, error)
		UpdateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		DeleteLesson(ctx context.Context, courseID, lessonID int, exec ...core.DBExecutor) error
	}

	// Ranker keeps the course popularity leaderboard.
	Ranker interface {
		Incr(ctx context.Context, courseID int) error
		Top(ctx context.Context, n int) ([]Rank, error)
		Remove(ctx context.Context, courseID int) error
		// Reset replaces the whole leaderboard with counts: {courseID: enrollments}.
		Reset(ctx context.Context, counts map[int]int) error
	}

	// UserService is the part of user.Service needed to manage courses.
	UserService interface {
		GetByID(ctx context.Context, id int) (user.User, error)
	}

	Service interface {
		Create(ctx context.Context, actor user.User, nc NewCourse) (Course, error)
		Get(ctx context.Context, id int) (Course, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		Update(ctx context.Context, actor user.User, id int, uc UpdateCourse) (Course, error)
		Delete(ctx context.Context, actor user.User, id int) error
		SetImage(ctx context.Context, actor user.User, id int, filename string, r io.Reader) (Course, error)

		Enroll(ctx context.Context, student user.User, courseID int, password string) (Enrollment, error)
		IsEnrolled(ctx context.Context, studentID, courseID int) (bool, error)
		CanAccess(ctx context.Context, usr user.User, c Course) (bool, error)
		Enrolled(ctx context.Context, student user.User) ([]EnrolledCourse, error)
		Popular(ctx context.Context, n int) ([]PopularCourse, error)
		RebuildRanking(ctx context.Context) error

		CreateLesson(ctx context.Context, actor user.User, courseID int, nl NewLesson) (Lesson, error)
		UpdateLesson(ctx context.Context, actor user.User, courseID, lessonID int, ul UpdateLesson) (Lesson, error)
		DeleteLesson(ctx context.Context, actor user.User, courseID, lessonID int) error
		SetLessonAttachment(ctx context.Context, actor user.User, courseID, lessonID int, filename string, r io.Reader) (Lesson, error)
		// ViewLessons returns the course's lessons along with the selected one: lessonID, or the first lesson when 0.
		ViewLessons(ctx context.Context, actor user.User, courseID, lessonID int) (LessonsView, error)
	}

	service struct {
		db      core.DB
		repo    Repository
		usrSvc  UserService
		ranker  Ranker
		mailSvc core.EmailService
		storage core.FileStorage
		logger  core.Logger
	}
)

var _ Service = (*service)(nil)

// NewService creates a course Service, ranker may be nil in which case popularity is computed by repo.
func NewService(
	db core.DB,
	repo Repository,
	usrSvc UserService,
	ranker Ranker,
	mailSvc core.EmailService,
	storage core.FileStorage,
	logger core.Logger,
) Service {
	return &service{
		db:      db,
		repo:    repo,
		usrSvc:  usrSvc,
		ranker:  ranker,
		mailSvc: mailSvc,
		storage: storage,
		logger:  logger,
	}
}

// resolveTeacher decides who teaches a course created or edited by actor.
// Admins may pick any teacher, teachers may only pick themselves, others are denied.
func (svc *service) resolveTeacher(ctx context.Context, actor user.User, teacherID int) (int, error) {
	switch {
	case actor.IsAdmin():
		if teacherID == 0 {
			if !actor.IsTeacher() {
				return 0, core.NewValidationError(nil, core.FieldError{Field: "teacher_id", Error: "this field is required"})
			}
			teacherID = actor.ID
		}
	case actor.IsTeacher():
		if teacherID != 0 && teacherID != actor.ID {
			return 0, core.ErrPermissionDenied
		}
		teacherID = actor.ID
	default:
		return 0, core.ErrPermissionDenied
	}

	if err := svc.checkTeacher(ctx, teacherID); err != nil {
		return 0, err
	}
	return teacherID, nil
}

// checkTeacher fails with a teacher_id validation error unless the user exists and holds the Teacher role.
func (svc *service) checkTeacher(ctx context.Context, teacherID int) error {
	teacher, err := svc.usrSvc.GetByID(ctx, teacherID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewFieldValidationError("teacher_id", user.ErrNotFound)
		}
		return errors.Wrap(err, "getting teacher")
	}
	if !teacher.IsTeacher() {
		return core.NewFieldValidationError("teacher_id", ErrNotATeacher)
	}
	return nil
}

func (svc *service) Create(ctx context.Context, actor user.User, nc NewCourse) (Course, error) {
	teacherID, err := svc.resolveTeacher(ctx, actor, nc.TeacherID)
	if err != nil {
		return Course{}, err
	}

	now := time.Now().UTC()
	c := Course{
		Title:       nc.Title,
		Description: nc.Description,
		TeacherID:   teacherID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = c.SetPassword(nc.Password); err != nil {
		return Course{}, errors.Wrap(err, "setting password")
	}
	if c, err = svc.repo.CreateCourse(ctx, c); err != nil {
		return Course{}, errors.Wrap(err, "creating course")
	}
	return svc.present(c), nil
}

func (svc *service) Get(ctx context.Context, id int) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	return svc.present(c), nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	courses, err := svc.repo.QueryCourses(ctx, filter, ordering)
	if err != nil {
		return nil, err
	}
	for i := range courses {
		courses[i] = svc.present(courses[i])
	}
	return courses, nil
}

// getManaged returns the course if actor may manage it.
func (svc *service) getManaged(ctx context.Context, actor user.User, id int) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if !c.CanManage(actor) {
		return Course{}, core.ErrPermissionDenied
	}
	return c, nil
}

func (svc *service) Update(ctx context.Context, actor user.User, id int, uc UpdateCourse) (Course, error) {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}

	if uc.TeacherID != nil && *uc.TeacherID != c.TeacherID {
		if c.TeacherID, err = svc.resolveTeacher(ctx, actor, *uc.TeacherID); err != nil {
			return Course{}, err
		}
	} else if err = svc.checkTeacher(ctx, c.TeacherID); err != nil {
		// the current teacher may have lost the role since
		return Course{}, err
	}
	if uc.Title != nil {
		c.Title = *uc.Title
	}
	if uc.Description != nil {
		c.Description = *uc.Description
	}
	if uc.Password != nil {
		if err = c.SetPassword(*uc.Password); err != nil {
			return Course{}, errors.Wrap(err, "setting password")
		}
	}
	c.UpdatedAt = time.Now().UTC()

	if c, err = svc.repo.UpdateCourse(ctx, c); err != nil {
		return Course{}, errors.Wrap(err, "updating course")
	}
	return svc.present(c), nil
}

// Delete deletes the course along with its lessons, quizzes and enrollments.
func (svc *service) Delete(ctx context.Context, actor user.User, id int) error {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return err
	}
	lessons, err := svc.repo.QueryLessons(ctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "querying lessons")
	}

	if err = svc.repo.DeleteCourse(ctx, c.ID); err != nil {
		return errors.Wrap(err, "deleting course")
	}

	if svc.ranker != nil {
		if err = svc.ranker.Remove(ctx, c.ID); err != nil {
			svc.logger.Warn(fmt.Sprintf("removing course %d from ranking: %v", c.ID, err), err)
		}
	}
	svc.deleteFile(ctx, c.Image)
	for _, l := range lessons {
		svc.deleteFile(ctx, l.Attachment)
	}
	return nil
}

func (svc *service) SetImage(ctx context.Context, actor user.User, id int, filename string, r io.Reader) (Course, error) {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}

	key, err := svc.storage.SaveImage(ctx, core.MediaCourses, filename, r)
	if err != nil {
		return Course{}, errors.Wrap(err, "saving image")
	}
	oldImage := c.Image

	c.Image = null.StringFrom(key)
	c.UpdatedAt = time.Now().UTC()
	if c, err = svc.repo.UpdateCourse(ctx, c); err != nil {
		svc.deleteFile(ctx, null.StringFrom(key))
		return Course{}, errors.Wrap(err, "updating course")
	}

	svc.deleteFile(ctx, oldImage)
	return svc.present(c), nil
}

// Enroll enrolls student in the course, checking the course password if it has one.
func (svc *service) Enroll(ctx context.Context, student user.User, courseID int, password string) (Enrollment, error) {
	c, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}

	if _, err = svc.repo.GetEnrollment(ctx, student.ID, c.ID); err == nil {
		return Enrollment{}, ErrAlreadyEnrolled
	} else if errors.Cause(err) != ErrNotEnrolled {
		return Enrollment{}, errors.Wrap(err, "getting enrollment")
	}

	if !c.CheckPassword(password) {
		return Enrollment{}, ErrAccessDenied
	}

	enr, err := svc.repo.CreateEnrollment(ctx, Enrollment{
		StudentID:  student.ID,
		CourseID:   c.ID,
		EnrolledAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Cause(err) == ErrAlreadyEnrolled {
			return Enrollment{}, ErrAlreadyEnrolled
		}
		return Enrollment{}, errors.Wrap(err, "creating enrollment")
	}

	if svc.ranker != nil {
		if err = svc.ranker.Incr(ctx, c.ID); err != nil {
			svc.logger.Warn(fmt.Sprintf("ranking course %d: %v", c.ID, err), err)
		}
	}
	svc.sendEnrollmentMail(student, c)
	return enr, nil
}

func (svc *service) IsEnrolled(ctx context.Context, studentID, courseID int) (bool, error) {
	if _, err := svc.repo.GetEnrollment(ctx, studentID, courseID); err != nil {
		if errors.Cause(err) == ErrNotEnrolled {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CanAccess reports whether usr may see the course content: its teacher, admins and enrolled students.
func (svc *service) CanAccess(ctx context.Context, usr user.User, c Course) (bool, error) {
	if c.CanManage(usr) {
		return true, nil
	}
	return svc.IsEnrolled(ctx, usr.ID, c.ID)
}

func (svc *service) Enrolled(ctx context.Context, student user.User) ([]EnrolledCourse, error) {
	courses, err := svc.repo.QueryEnrolledCourses(ctx, student.ID)
	if err != nil {
		return nil, err
	}
	for i := range courses {
		courses[i].Course = svc.present(courses[i].Course)
	}
	return courses, nil
}

// Popular returns the n courses with the most enrollments.
// The ranker is used when available and not empty, the repository otherwise.
func (svc *service) Popular(ctx context.Context, n int) ([]PopularCourse, error) {
	if n <= 0 {
		n = DefaultPopularCount
	}

	var courses []PopularCourse
	if svc.ranker != nil {
		ranks, err := svc.ranker.Top(ctx, n)
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("getting top %d courses: %v", n, err), err)
		} else if len(ranks) > 0 {
			if courses, err = svc.rankedCourses(ctx, ranks); err != nil {
				return nil, err
			}
		}
	}

	if courses == nil {
		var err error
		if courses, err = svc.repo.QueryPopularCourses(ctx, n); err != nil {
			return nil, err
		}
	}
	for i := range courses {
		courses[i].Course = svc.present(courses[i].Course)
	}
	return courses, nil
}

func (svc *service) rankedCourses(ctx context.Context, ranks []Rank) ([]PopularCourse, error) {
	ids := make([]int, 0, len(ranks))
	for _, r := range ranks {
		ids = append(ids, r.CourseID)
	}
	found, err := svc.repo.QueryCoursesByID(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "querying ranked courses")
	}
	byID := make(map[int]Course, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}

	courses := make([]PopularCourse, 0, len(ranks))
	for _, r := range ranks {
		// ranked courses may have been deleted since
		if c, ok := byID[r.CourseID]; ok {
			courses = append(courses, PopularCourse{Course: c, Enrollments: r.Enrollments})
		}
	}
	return courses, nil
}

// RebuildRanking resets the popularity leaderboard from the stored enrollments.
func (svc *service) RebuildRanking(ctx context.Context) error {
	if svc.ranker == nil {
		return nil
	}
	counts, err := svc.repo.CountEnrollments(ctx)
	if err != nil {
		return errors.Wrap(err, "counting enrollments")
	}
	return errors.Wrap(svc.ranker.Reset(ctx, counts), "resetting ranking")
}

func (svc *service) CreateLesson(ctx context.Context, actor user.User, courseID int, nl NewLesson) (Lesson, error) {
	c, err := svc.getManaged(ctx, actor, courseID)
	if err != nil {
		return Lesson{}, err
	}

	now := time.Now().UTC()
	l, err := svc.repo.CreateLesson(ctx, Lesson{
		CourseID:    c.ID,
		Title:       nl.Title,
		Description: nl.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Lesson{}, errors.Wrap(err, "creating lesson")
	}
	return svc.presentLesson(l), nil
}

func (svc *service) UpdateLesson(ctx context.Context, actor user.User, courseID, lessonID int, ul UpdateLesson) (Lesson, error) {
	if _, err := svc.getManaged(ctx, actor, courseID); err != nil {
		return Lesson{}, err
	}
	l, err := svc.repo.GetLesson(ctx, courseID, lessonID)
	if err != nil {
		return Lesson{}, err
	}

	if ul.Title != nil {
		l.Title = *ul.Title
	}
	if ul.Description != nil {
		l.Description = *ul.Description
	}
	l.UpdatedAt = time.Now().UTC()

	if l, err = svc.repo.UpdateLesson(ctx, l); err != nil {
		return Lesson{}, errors.Wrap(err, "updating lesson")
	}
	return svc.presentLesson(l), nil
}

func (svc *service) DeleteLesson(ctx context.Context, actor user.User, courseID, lessonID int) error {
	if _, err := svc.getManaged(ctx, actor, courseID); err != nil {
		return err
	}
	l, err := svc.repo.GetLesson(ctx, courseID, lessonID)
	if err != nil {
		return err
	}
	if err = svc.repo.DeleteLesson(ctx, courseID, lessonID); err != nil {
		return errors.Wrap(err, "deleting lesson")
	}
	svc.deleteFile(ctx, l.Attachment)
	return nil
}

func (svc *service) SetLessonAttachment(ctx context.Context, actor user.User, courseID, lessonID int, filename string, r io.Reader) (Lesson, error) {
	if _, err := svc.getManaged(ctx, actor, courseID); err != nil {
		return Lesson{}, err
	}
	l, err := svc.repo.GetLesson(ctx, courseID, lessonID)
	if err != nil {
		return Lesson{}, err
	}

	key, err := svc.storage.Save(ctx, core.MediaAttachments, filename, r)
	if err != nil {
		return Lesson{}, errors.Wrap(err, "saving attachment")
	}
	oldAttachment := l.Attachment

	l.Attachment = null.StringFrom(key)
	l.UpdatedAt = time.Now().UTC()
	if l, err = svc.repo.UpdateLesson(ctx, l); err != nil {
		svc.deleteFile(ctx, null.StringFrom(key))
		return Lesson{}, errors.Wrap(err, "updating lesson")
	}

	svc.deleteFile(ctx, oldAttachment)
	return svc.presentLesson(l), nil
}

func (svc *service) ViewLessons(ctx context.Context, actor user.User, courseID, lessonID int) (LessonsView, error) {
	c, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		return LessonsView{}, err
	}
	ok, err := svc.CanAccess(ctx, actor, c)
	if err != nil {
		return LessonsView{}, errors.Wrap(err, "checking enrollment")
	}
	if !ok {
		return LessonsView{}, ErrNotEnrolled
	}

	lessons, err := svc.repo.QueryLessons(ctx, c.ID)
	if err != nil {
		return LessonsView{}, errors.Wrap(err, "querying lessons")
	}
	view := LessonsView{Course: svc.present(c), Lessons: make([]Lesson, 0, len(lessons))}
	for _, l := range lessons {
		view.Lessons = append(view.Lessons, svc.presentLesson(l))
	}

	switch {
	case lessonID != 0:
		for i := range view.Lessons {
			if view.Lessons[i].ID == lessonID {
				view.Lesson = &view.Lessons[i]
				break
			}
		}
		if view.Lesson == nil {
			return LessonsView{}, ErrLessonNotFound
		}
	case len(view.Lessons) > 0:
		view.Lesson = &view.Lessons[0]
	}
	return view, nil
}

func (svc *service) present(c Course) Course {
	c.HasPassword = c.RequiresPassword()
	if c.Image.Valid && svc.storage != nil {
		c.ImageURL = svc.storage.URL(c.Image.String)
	}
	return c
}

func (svc *service) presentLesson(l Lesson) Lesson {
	if l.Attachment.Valid && svc.storage != nil {
		l.AttachmentURL = svc.storage.URL(l.Attachment.String)
	}
	return l
}

func (svc *service) deleteFile(ctx context.Context, key null.String) {
	if !key.Valid || svc.storage == nil {
		return
	}
	if err := svc.storage.Delete(ctx, key.String); err != nil {
		svc.logger.Warn(fmt.Sprintf("deleting file %s: %v", key.String, err), err)
	}
}

func (svc *service) sendEnrollmentMail(student user.User, c Course) {
	if student.Email == "" || svc.mailSvc == nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: student.EmailName(), Address: student.Email}},
		Subject:      fmt.Sprintf("Enrolled in %s", c.Title),
		TemplateName: "enrollment",
		TemplateData: map[string]interface{}{
			"Name":        student.EmailName(),
			"CourseTitle": c.Title,
			"CourseID":    c.ID,
		},
	})
}
