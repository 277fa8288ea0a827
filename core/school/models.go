package school

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
)

// Batch is the time slot a Student attends.
type Batch string

const (
	BatchMorning   Batch = "morning"
	BatchAfternoon Batch = "afternoon"
)

var Batches = []Batch{BatchMorning, BatchAfternoon}

func (b Batch) Label() string {
	switch b {
	case BatchMorning:
		return "Morning"
	case BatchAfternoon:
		return "Afternoon"
	}
	return string(b)
}

func (b Batch) Valid() bool { return b == BatchMorning || b == BatchAfternoon }

// Mode is how a Student attends.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

var Modes = []Mode{ModeOffline, ModeOnline}

func (m Mode) Label() string {
	switch m {
	case ModeOffline:
		return "Offline"
	case ModeOnline:
		return "Online"
	}
	return string(m)
}

func (m Mode) Valid() bool { return m == ModeOffline || m == ModeOnline }

// StaffOption is the (id, name) pair offered by staff pickers.
type StaffOption struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Staff struct {
	ID          int
	UserID      int
	Name        string
	Contact     string
	Email       string
	CourseNames []string // courses taught, ordered by name
}

// Courses is the comma-joined list of the course names taught.
func (s Staff) Courses() string { return strings.Join(s.CourseNames, ", ") }

func (s Staff) Option() StaffOption { return StaffOption{ID: s.ID, Name: s.Name} }

type Course struct {
	ID    int
	Name  string
	Staff []StaffOption // staff teaching the course, ordered by name
}

// StaffNames is the comma-joined list of the staff teaching the course.
func (c Course) StaffNames() string {
	names := make([]string, 0, len(c.Staff))
	for _, s := range c.Staff {
		names = append(names, s.Name)
	}
	return strings.Join(names, ", ")
}

// Label is the course name followed by its staff, eg. "Go (Ann, Bob)".
func (c Course) Label() string {
	if len(c.Staff) == 0 {
		return c.Name
	}
	return c.Name + " (" + c.StaffNames() + ")"
}

func (c Course) HasStaff(staffID int) bool {
	for _, s := range c.Staff {
		if s.ID == staffID {
			return true
		}
	}
	return false
}

func (c Course) StaffIDs() []int {
	ids := make([]int, 0, len(c.Staff))
	for _, s := range c.Staff {
		ids = append(ids, s.ID)
	}
	return ids
}

type Topic struct {
	ID         int
	CourseID   int
	CourseName string
	ModuleName string
	TopicName  string
}

func (t Topic) String() string { return t.ModuleName + " - " + t.TopicName }

type Student struct {
	ID         int
	Name       string
	JoinDate   time.Time
	EndDate    null.Time
	Email      string
	Contact    string
	Batch      Batch
	Mode       Mode
	CourseID   int
	CourseName string
	StaffID    int
	StaffName  string
}

func (s Student) String() string {
	return s.Name + " (" + s.CourseName + " - " + s.StaffName + ")"
}

// Queries

type StaffFilter struct {
	ID     int
	UserID int
}

type StaffQuery struct {
	Search   string // name or email
	CourseID int
}

type CourseQuery struct {
	Search  string
	StaffID int
}

type TopicQuery struct {
	CourseID   int
	ModuleName string
}

type StudentQuery struct {
	StaffID  int
	CourseID int
	Search   string // student name
	Ordering []core.DBOrdering
}

// StudentOrderingFields maps the sortable student columns to their query names.
var StudentOrderingFields = map[string]string{
	"id":        "id",
	"name":      "name",
	"join_date": "join_date",
	"course":    "course",
	"staff":     "staff",
}

// Forms

type StaffForm struct {
	Name    string `form:"name" validate:"required,max=100"`
	Contact string `form:"contact" validate:"max=20"`
	Email   string `form:"email" validate:"required,email,max=254"`
}

func (f *StaffForm) Validate(validate *validator.Validate) error {
	f.Name = core.CleanString(f.Name)
	f.Contact = core.CleanString(f.Contact)
	f.Email = core.CleanString(f.Email, true /* lower */)
	return validate.Struct(f)
}

type CourseForm struct {
	Name     string `form:"name" validate:"required,max=100"`
	StaffIDs []int  `form:"staff"`
}

func (f *CourseForm) Validate(validate *validator.Validate) error {
	f.Name = core.CleanString(f.Name)
	return validate.Struct(f)
}

type TopicForm struct {
	CourseID   int    `form:"course" validate:"required"`
	ModuleName string `form:"module_name" validate:"required,max=100"`
	TopicName  string `form:"topic_name" validate:"required,max=100"`
}

func (f *TopicForm) Validate(validate *validator.Validate) error {
	f.ModuleName = core.CleanString(f.ModuleName)
	f.TopicName = core.CleanString(f.TopicName)
	return validate.Struct(f)
}

type StudentForm struct {
	Name     string `form:"name" validate:"required,max=100"`
	JoinDate string `form:"join_date" validate:"required,date"`
	EndDate  string `form:"end_date" validate:"omitempty,date"`
	CourseID int    `form:"course" validate:"required"`
	StaffID  int    `form:"staff"`
	Email    string `form:"email" validate:"required,email,max=254"`
	Contact  string `form:"contact" validate:"max=20"`
	Batch    Batch  `form:"batch" validate:"required,batch"`
	Mode     Mode   `form:"mode" validate:"required,mode"`
}

func (f *StudentForm) Validate(validate *validator.Validate) error {
	f.Name = core.CleanString(f.Name)
	f.JoinDate = core.CleanString(f.JoinDate)
	f.EndDate = core.CleanString(f.EndDate)
	f.Email = core.CleanString(f.Email, true /* lower */)
	f.Contact = core.CleanString(f.Contact)
	return validate.Struct(f)
}

// StudentFormFrom prefills a StudentForm with an existing Student.
func StudentFormFrom(s Student) StudentForm {
	f := StudentForm{
		Name:     s.Name,
		JoinDate: core.FormatDate(s.JoinDate),
		CourseID: s.CourseID,
		StaffID:  s.StaffID,
		Email:    s.Email,
		Contact:  s.Contact,
		Batch:    s.Batch,
		Mode:     s.Mode,
	}
	if s.EndDate.Valid {
		f.EndDate = core.FormatDate(s.EndDate.Time)
	}
	return f
}

// ScheduleForm is the inline batch/mode edit of the roster page.
type ScheduleForm struct {
	StudentID int   `form:"student_id" validate:"required"`
	Batch     Batch `form:"batch" validate:"required,batch"`
	Mode      Mode  `form:"mode" validate:"required,mode"`
}

func (f *ScheduleForm) Validate(validate *validator.Validate) error { return validate.Struct(f) }
