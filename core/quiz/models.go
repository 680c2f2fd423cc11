package quiz

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
)

type QuestionType int

const (
	MultipleChoice QuestionType = iota + 1
	TrueFalse
	ShortAnswer
)

func (t QuestionType) String() string {
	switch t {
	case MultipleChoice:
		return "multiple-choice"
	case TrueFalse:
		return "true/false"
	case ShortAnswer:
		return "short-answer"
	}
	return "unknown"
}

type Level int

const (
	Easy Level = iota + 1
	Medium
	Difficult
)

type Quiz struct {
	ID          int       `json:"id"`
	CourseID    int       `json:"course_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content"`
	Score       float64   `json:"score"` // max score
	Published   bool      `json:"published"`
	PublishedAt null.Time `json:"published_at"` // set on first publish only
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Publish marks the quiz as published, PublishedAt is only set the first time.
func (q *Quiz) Publish(now time.Time) {
	q.Published = true
	if !q.PublishedAt.Valid {
		q.PublishedAt = null.TimeFrom(now)
	}
}

type Question struct {
	ID        int          `json:"id"`
	QuizID    int          `json:"quiz_id"`
	Type      QuestionType `json:"type"`
	Level     Level        `json:"level"`
	Score     float64      `json:"score"`
	Content   string       `json:"content"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Answers   []Answer     `json:"answers,omitempty"`
}

type Answer struct {
	ID         int       `json:"id"`
	QuestionID int       `json:"question_id"`
	Content    string    `json:"content"`
	IsCorrect  bool      `json:"is_correct"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Take is one student's attempt at one quiz, CreatedAt is when it started.
type Take struct {
	ID         int       `json:"id"`
	UserID     int       `json:"user_id"`
	QuizID     int       `json:"quiz_id"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"started_at"`
	FinishedAt null.Time `json:"finished_at"`
}

// Finish sets FinishedAt once, always strictly after the start.
func (t *Take) Finish(now time.Time) {
	if t.FinishedAt.Valid {
		return
	}
	if !now.After(t.CreatedAt) {
		now = t.CreatedAt.Add(time.Microsecond)
	}
	t.FinishedAt = null.TimeFrom(now)
}

// TakeAnswer is one answer submitted within a Take: a chosen Answer, or free text for short-answer questions.
type TakeAnswer struct {
	ID         int         `json:"id"`
	TakeID     int         `json:"take_id"`
	QuestionID int         `json:"question_id"`
	AnswerID   null.Int    `json:"answer_id"`
	Content    null.String `json:"content"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Option is an answer choice as shown to students.
type Option struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
}

// QuestionView is question Number of Total, along with what the student already submitted for it.
type QuestionView struct {
	QuizID   int      `json:"quiz_id"`
	TakeID   int      `json:"take_id,omitempty"`
	Number   int      `json:"number"`
	Total    int      `json:"total"`
	Question Question `json:"question"`
	Options  []Option `json:"options"`
	Selected []int    `json:"selected"`
	Content  string   `json:"content"`
}

// Step is where a submission leads: the Next question number, or the take's result once Done.
type Step struct {
	TakeID int `json:"take_id"`
	Next   int `json:"next"`
}

func (s Step) Done() bool { return s.Next == 0 }

type QuestionGrade struct {
	QuestionID int          `json:"question_id"`
	Number     int          `json:"number"`
	Type       QuestionType `json:"type"`
	Content    string       `json:"content"`
	Answered   bool         `json:"answered"`
	Score      float64      `json:"score"`
	MaxScore   float64      `json:"max_score"`
}

// TakeResult is a graded take. Until every question is Complete, Take.Score is provisional.
type TakeResult struct {
	Take      Take            `json:"take"`
	Quiz      Quiz            `json:"quiz"`
	MaxScore  float64         `json:"max_score"`
	Complete  bool            `json:"complete"`
	Questions []QuestionGrade `json:"questions"`
}

// NewQuiz contains information needed to create a new Quiz.
type NewQuiz struct {
	Title   string  `json:"title" validate:"required,notblank,max=200"`
	Summary string  `json:"summary" validate:"max=500"`
	Content string  `json:"content" validate:"max=10000"`
	Score   float64 `json:"score" validate:"gte=0,lt=1000"`
}

func (nq *NewQuiz) Validate(validate *validator.Validate) error {
	nq.Title = core.CleanString(nq.Title)
	nq.Summary = core.CleanString(nq.Summary)
	nq.Content = core.CleanString(nq.Content)
	return validate.Struct(nq)
}

type UpdateQuiz struct {
	Title   *string  `json:"title" validate:"omitempty,notblank,max=200"`
	Summary *string  `json:"summary" validate:"omitempty,max=500"`
	Content *string  `json:"content" validate:"omitempty,max=10000"`
	Score   *float64 `json:"score" validate:"omitempty,gte=0,lt=1000"`
}

func (uq *UpdateQuiz) Validate(validate *validator.Validate) error {
	for _, s := range []*string{uq.Title, uq.Summary, uq.Content} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	return validate.Struct(uq)
}

type NewAnswer struct {
	Content   string `json:"content" validate:"required,notblank,max=500"`
	IsCorrect bool   `json:"is_correct"`
}

func (na *NewAnswer) Validate(validate *validator.Validate) error {
	na.Content = core.CleanString(na.Content)
	return validate.Struct(na)
}

// NewQuestion contains information needed to add a Question to a Quiz, along with its answers.
type NewQuestion struct {
	Type    QuestionType `json:"type" validate:"omitempty,oneof=1 2 3"`
	Level   Level        `json:"level" validate:"omitempty,oneof=1 2 3"`
	Score   float64      `json:"score" validate:"gte=0,lt=1000"`
	Content string       `json:"content" validate:"required,notblank,max=1000"`
	Active  *bool        `json:"active"`
	Answers []NewAnswer  `json:"answers" validate:"dive"`
}

func (nq *NewQuestion) Validate(validate *validator.Validate) error {
	nq.Content = core.CleanString(nq.Content)
	if nq.Type == 0 {
		nq.Type = MultipleChoice
	}
	if nq.Level == 0 {
		nq.Level = Easy
	}
	for i := range nq.Answers {
		nq.Answers[i].Content = core.CleanString(nq.Answers[i].Content)
	}
	return validate.Struct(nq)
}

// Submission holds a student's answers to one question:
// chosen AnswerIDs for choice questions, Content for short-answer ones.
type Submission struct {
	AnswerIDs []int  `json:"answer_ids"`
	Content   string `json:"content"`
}
