package course

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

type Course struct {
	ID           int         `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	TeacherID    int         `json:"teacher_id"`
	PasswordHash null.String `json:"-"`
	Image        null.String `json:"-"` // file storage key
	ImageURL     string      `json:"image"`
	HasPassword  bool        `json:"has_password"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// RequiresPassword reports whether students must provide a password to enroll.
func (c *Course) RequiresPassword() bool {
	return c.PasswordHash.Valid && c.PasswordHash.String != ""
}

// SetPassword hashes and sets the enrollment password, an empty pwd removes it.
func (c *Course) SetPassword(pwd string) error {
	if pwd == "" {
		c.PasswordHash = null.String{}
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	c.PasswordHash = null.StringFrom(string(hash))
	return nil
}

func (c *Course) CheckPassword(pwd string) bool {
	if !c.RequiresPassword() {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(c.PasswordHash.String), []byte(pwd)) == nil
}

// CanManage reports whether usr may edit the course and its content.
func (c *Course) CanManage(usr user.User) bool {
	return usr.IsAdmin() || (usr.IsTeacher() && c.TeacherID == usr.ID)
}

type Enrollment struct {
	ID         int       `json:"id"`
	StudentID  int       `json:"student_id"`
	CourseID   int       `json:"course_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

type EnrolledCourse struct {
	Course
	EnrolledAt time.Time `json:"enrolled_at"`
}

type PopularCourse struct {
	Course
	Enrollments int `json:"enrollments"`
}

// Rank is a course's position in the popularity leaderboard.
type Rank struct {
	CourseID    int
	Enrollments int
}

type Lesson struct {
	ID            int         `json:"id"`
	CourseID      int         `json:"course_id"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Attachment    null.String `json:"-"` // file storage key
	AttachmentURL string      `json:"attachment"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// LessonsView is a course's lessons page: all lessons and the selected one.
type LessonsView struct {
	Course  Course   `json:"course"`
	Lessons []Lesson `json:"lessons"`
	Lesson  *Lesson  `json:"lesson"`
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title       string `json:"title" validate:"required,notblank,max=200"`
	Description string `json:"description" validate:"max=10000"`
	TeacherID   int    `json:"teacher_id" validate:"omitempty,min=1"`
	Password    string `json:"password" validate:"omitempty,pwdmaxbytes"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
// An empty Password removes the course password.
type UpdateCourse struct {
	Title       *string `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string `json:"description" validate:"omitempty,max=10000"`
	TeacherID   *int    `json:"teacher_id" validate:"omitempty,min=1"`
	Password    *string `json:"password" validate:"omitempty,pwdmaxbytes"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	if uc.Title != nil {
		title := core.CleanString(*uc.Title)
		uc.Title = &title
	}
	if uc.Description != nil {
		desc := core.CleanString(*uc.Description)
		uc.Description = &desc
	}
	return validate.Struct(uc)
}

type NewLesson struct {
	Title       string `json:"title" validate:"required,notblank,max=200"`
	Description string `json:"description" validate:"max=10000"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.Title = core.CleanString(nl.Title)
	nl.Description = core.CleanString(nl.Description)
	return validate.Struct(nl)
}

type UpdateLesson struct {
	Title       *string `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string `json:"description" validate:"omitempty,max=10000"`
}

func (ul *UpdateLesson) Validate(validate *validator.Validate) error {
	if ul.Title != nil {
		title := core.CleanString(*ul.Title)
		ul.Title = &title
	}
	if ul.Description != nil {
		desc := core.CleanString(*ul.Description)
		ul.Description = &desc
	}
	return validate.Struct(ul)
}

type QueryFilter struct {
	Search    string `query:"search"`
	TeacherID int    `query:"teacher"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
