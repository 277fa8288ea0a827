package school

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
)

var (
	// errors
	ErrNotFound           = errors.New("not found")
	ErrNotOwner           = errors.New("student is assigned to another staff")
	ErrNoStaffProfile     = errors.New("no staff profile for this account")
	ErrStaffEmailExists   = errors.New("a staff with this email already exists")
	ErrStudentEmailExists = errors.New("a student with this email already exists")
	ErrTopicExists        = errors.New("this topic already exists for the course and module")
	ErrCourseWithoutStaff = errors.New("no staff teaches this course")
	ErrInvalidCourse      = errors.New("select a valid course")
	ErrInvalidStaff       = errors.New("select a valid staff")
	ErrEndBeforeJoin      = errors.New(endBeforeJoinText)
	ErrStaffAlreadyLinked = errors.New("this account already has a staff profile")
	ErrStaffHasStudents   = errors.New("cannot remove staff who still have students in this course")
)

type Repository interface {
	CreateStaff(ctx context.Context, s Staff) (Staff, error)
	UpdateStaff(ctx context.Context, s Staff) (Staff, error)
	GetStaff(ctx context.Context, filter StaffFilter) (Staff, error)
	QueryStaff(ctx context.Context, q StaffQuery) ([]Staff, error)
	DeleteStaff(ctx context.Context, id int) error

	// CreateCourse & UpdateCourse replace the course's staff with staffIDs.
	CreateCourse(ctx context.Context, c Course, staffIDs []int) (Course, error)
	UpdateCourse(ctx context.Context, c Course, staffIDs []int) (Course, error)
	GetCourse(ctx context.Context, id int) (Course, error)
	QueryCourses(ctx context.Context, q CourseQuery) ([]Course, error)
	DeleteCourse(ctx context.Context, id int) error

	CreateTopic(ctx context.Context, t Topic) (Topic, error)
	UpdateTopic(ctx context.Context, t Topic) (Topic, error)
	GetTopic(ctx context.Context, id int) (Topic, error)
	// QueryTopics returns topics in insertion order.
	QueryTopics(ctx context.Context, q TopicQuery) ([]Topic, error)
	DeleteTopic(ctx context.Context, id int) error

	CreateStudent(ctx context.Context, s Student) (Student, error)
	UpdateStudent(ctx context.Context, s Student) (Student, error)
	GetStudent(ctx context.Context, id int) (Student, error)
	QueryStudents(ctx context.Context, q StudentQuery) ([]Student, error)
	DeleteStudent(ctx context.Context, id int) error
	// UpdateStudentSchedule only touches a student assigned to staffID;
	// it returns ErrNotFound otherwise.
	UpdateStudentSchedule(ctx context.Context, id, staffID int, batch Batch, mode Mode) error
}

// Service holds the school records business logic, including the per-staff
// access filter and the staff auto-assignment of students.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

func NewService(repo Repository, validate *validator.Validate) *Service {
	return &Service{repo: repo, validate: validate}
}

// Staff

// StaffForUser resolves the Staff profile linked to a login account.
func (svc *Service) StaffForUser(ctx context.Context, userID int) (Staff, error) {
	s, err := svc.repo.GetStaff(ctx, StaffFilter{UserID: userID})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Staff{}, ErrNoStaffProfile
		}
		return Staff{}, errors.Wrap(err, "getting staff by user")
	}
	return s, nil
}

func (svc *Service) GetStaff(ctx context.Context, id int) (Staff, error) {
	return svc.repo.GetStaff(ctx, StaffFilter{ID: id})
}

func (svc *Service) QueryStaff(ctx context.Context, q StaffQuery) ([]Staff, error) {
	return svc.repo.QueryStaff(ctx, q)
}

// SaveStaff creates (id == 0) or updates a staff profile.
// userID links a new profile to a login account; it is ignored on update.
func (svc *Service) SaveStaff(ctx context.Context, id, userID int, form StaffForm) (Staff, error) {
	if err := form.Validate(svc.validate); err != nil {
		return Staff{}, err
	}

	var (
		s   Staff
		err error
	)
	if id == 0 {
		s = Staff{UserID: userID, Name: form.Name, Contact: form.Contact, Email: form.Email}
		s, err = svc.repo.CreateStaff(ctx, s)
	} else {
		if s, err = svc.repo.GetStaff(ctx, StaffFilter{ID: id}); err != nil {
			return Staff{}, err
		}
		s.Name, s.Contact, s.Email = form.Name, form.Contact, form.Email
		s, err = svc.repo.UpdateStaff(ctx, s)
	}
	switch errors.Cause(err) {
	case nil:
		return s, nil
	case ErrStaffEmailExists:
		return Staff{}, core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
	case ErrStaffAlreadyLinked:
		return Staff{}, core.NewValidationError(err, core.FieldError{Field: "user", Error: err.Error()})
	}
	return Staff{}, errors.Wrap(err, "saving staff")
}

// DeleteStaff removes the profile along with its students and check-ins.
func (svc *Service) DeleteStaff(ctx context.Context, id int) error {
	return svc.repo.DeleteStaff(ctx, id)
}

// Courses

func (svc *Service) GetCourse(ctx context.Context, id int) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *Service) QueryCourses(ctx context.Context, q CourseQuery) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, q)
}

func (svc *Service) SaveCourse(ctx context.Context, id int, form CourseForm) (Course, error) {
	if err := form.Validate(svc.validate); err != nil {
		return Course{}, err
	}
	staffIDs := uniqueInts(form.StaffIDs)
	for _, sid := range staffIDs {
		if _, err := svc.repo.GetStaff(ctx, StaffFilter{ID: sid}); err != nil {
			if errors.Cause(err) == ErrNotFound {
				return Course{}, core.NewValidationError(ErrInvalidStaff, core.FieldError{Field: "staff", Error: ErrInvalidStaff.Error()})
			}
			return Course{}, errors.Wrap(err, "getting staff")
		}
	}

	var (
		c   Course
		err error
	)
	if id == 0 {
		c, err = svc.repo.CreateCourse(ctx, Course{Name: form.Name}, staffIDs)
	} else {
		if c, err = svc.repo.GetCourse(ctx, id); err != nil {
			return Course{}, err
		}
		if err = svc.checkStaffRemoval(ctx, c, staffIDs); err != nil {
			return Course{}, err
		}
		c.Name = form.Name
		c, err = svc.repo.UpdateCourse(ctx, c, staffIDs)
	}
	if err != nil {
		return Course{}, errors.Wrap(err, "saving course")
	}
	return c, nil
}

// checkStaffRemoval rejects dropping a staff member from c while they still have students in it.
// A student's staff must teach the student's course.
func (svc *Service) checkStaffRemoval(ctx context.Context, c Course, staffIDs []int) error {
	kept := make(map[int]bool, len(staffIDs))
	for _, sid := range staffIDs {
		kept[sid] = true
	}
	for _, sf := range c.Staff {
		if kept[sf.ID] {
			continue
		}
		students, err := svc.repo.QueryStudents(ctx, StudentQuery{StaffID: sf.ID, CourseID: c.ID})
		if err != nil {
			return errors.Wrap(err, "querying students")
		}
		if len(students) > 0 {
			msg := fmt.Sprintf("%s: %s", sf.Name, ErrStaffHasStudents.Error())
			return core.NewValidationError(ErrStaffHasStudents, core.FieldError{Field: "staff", Error: msg})
		}
	}
	return nil
}

// DeleteCourse removes the course along with its topics and students.
func (svc *Service) DeleteCourse(ctx context.Context, id int) error {
	return svc.repo.DeleteCourse(ctx, id)
}

// EligibleStaff lists the staff teaching a course, ordered by name.
// An unknown course yields an empty list.
func (svc *Service) EligibleStaff(ctx context.Context, courseID int) ([]StaffOption, error) {
	c, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return []StaffOption{}, nil
		}
		return nil, errors.Wrap(err, "getting course")
	}
	opts := make([]StaffOption, 0, len(c.Staff))
	return append(opts, c.Staff...), nil
}

// StaffFilterOptions lists the staff offered by the students staff filter,
// narrowed to the staff teaching courseID when set.
func (svc *Service) StaffFilterOptions(ctx context.Context, courseID int) ([]StaffOption, error) {
	if courseID != 0 {
		return svc.EligibleStaff(ctx, courseID)
	}
	staff, err := svc.repo.QueryStaff(ctx, StaffQuery{})
	if err != nil {
		return nil, err
	}
	opts := make([]StaffOption, 0, len(staff))
	for _, s := range staff {
		opts = append(opts, s.Option())
	}
	return opts, nil
}

// Topics

func (svc *Service) GetTopic(ctx context.Context, id int) (Topic, error) {
	return svc.repo.GetTopic(ctx, id)
}

func (svc *Service) QueryTopics(ctx context.Context, q TopicQuery) ([]Topic, error) {
	return svc.repo.QueryTopics(ctx, q)
}

func (svc *Service) SaveTopic(ctx context.Context, id int, form TopicForm) (Topic, error) {
	if err := form.Validate(svc.validate); err != nil {
		return Topic{}, err
	}
	if _, err := svc.repo.GetCourse(ctx, form.CourseID); err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Topic{}, core.NewValidationError(ErrInvalidCourse, core.FieldError{Field: "course", Error: ErrInvalidCourse.Error()})
		}
		return Topic{}, errors.Wrap(err, "getting course")
	}

	t := Topic{ID: id, CourseID: form.CourseID, ModuleName: form.ModuleName, TopicName: form.TopicName}
	var err error
	if id == 0 {
		t, err = svc.repo.CreateTopic(ctx, t)
	} else {
		if _, err = svc.repo.GetTopic(ctx, id); err != nil {
			return Topic{}, err
		}
		t, err = svc.repo.UpdateTopic(ctx, t)
	}
	switch errors.Cause(err) {
	case nil:
		return t, nil
	case ErrTopicExists:
		return Topic{}, core.NewValidationError(err, core.FieldError{Field: "topic_name", Error: err.Error()})
	}
	return Topic{}, errors.Wrap(err, "saving topic")
}

func (svc *Service) DeleteTopic(ctx context.Context, id int) error {
	return svc.repo.DeleteTopic(ctx, id)
}

// Students

// Roster lists the students assigned to staff, ordered by name.
func (svc *Service) Roster(ctx context.Context, staff Staff) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, StudentQuery{
		StaffID:  staff.ID,
		Ordering: []core.DBOrdering{{Field: "name", Ascending: true}},
	})
}

// StudentForStaff returns the student only if it is assigned to staff.
func (svc *Service) StudentForStaff(ctx context.Context, staff Staff, id int) (Student, error) {
	s, err := svc.repo.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if s.StaffID != staff.ID {
		return Student{}, ErrNotOwner
	}
	return s, nil
}

// UpdateSchedule applies the inline batch/mode edit of one of staff's students.
func (svc *Service) UpdateSchedule(ctx context.Context, staff Staff, form ScheduleForm) error {
	if err := form.Validate(svc.validate); err != nil {
		return err
	}
	return svc.repo.UpdateStudentSchedule(ctx, form.StudentID, staff.ID, form.Batch, form.Mode)
}

func (svc *Service) GetStudent(ctx context.Context, id int) (Student, error) {
	return svc.repo.GetStudent(ctx, id)
}

func (svc *Service) QueryStudents(ctx context.Context, q StudentQuery) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, q)
}

// SaveStudent creates (id == 0) or updates a student.
// The selected staff is kept when it teaches the course, otherwise the first
// eligible staff (by name) is assigned. A course nobody teaches is rejected.
func (svc *Service) SaveStudent(ctx context.Context, id int, form StudentForm) (Student, error) {
	if err := form.Validate(svc.validate); err != nil {
		return Student{}, err
	}

	joinDate, _ := core.ParseDate(form.JoinDate) // format checked by `date`
	var endDate null.Time
	if form.EndDate != "" {
		end, _ := core.ParseDate(form.EndDate)
		if end.Before(joinDate) {
			return Student{}, core.NewValidationError(ErrEndBeforeJoin, core.FieldError{Field: "end_date", Error: ErrEndBeforeJoin.Error()})
		}
		endDate = null.TimeFrom(end)
	}

	course, err := svc.repo.GetCourse(ctx, form.CourseID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Student{}, core.NewValidationError(ErrInvalidCourse, core.FieldError{Field: "course", Error: ErrInvalidCourse.Error()})
		}
		return Student{}, errors.Wrap(err, "getting course")
	}
	staffID, err := assignStaff(course, form.StaffID)
	if err != nil {
		return Student{}, err
	}

	s := Student{
		ID:       id,
		Name:     form.Name,
		JoinDate: joinDate,
		EndDate:  endDate,
		Email:    form.Email,
		Contact:  form.Contact,
		Batch:    form.Batch,
		Mode:     form.Mode,
		CourseID: course.ID,
		StaffID:  staffID,
	}
	if id == 0 {
		s, err = svc.repo.CreateStudent(ctx, s)
	} else {
		if _, err = svc.repo.GetStudent(ctx, id); err != nil {
			return Student{}, err
		}
		s, err = svc.repo.UpdateStudent(ctx, s)
	}
	switch errors.Cause(err) {
	case nil:
		return s, nil
	case ErrStudentEmailExists:
		return Student{}, core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
	}
	return Student{}, errors.Wrap(err, "saving student")
}

func (svc *Service) DeleteStudent(ctx context.Context, id int) error {
	return svc.repo.DeleteStudent(ctx, id)
}

func assignStaff(course Course, staffID int) (int, error) {
	if len(course.Staff) == 0 {
		return 0, core.NewValidationError(ErrCourseWithoutStaff, core.FieldError{Field: "course", Error: ErrCourseWithoutStaff.Error()})
	}
	if staffID != 0 && course.HasStaff(staffID) {
		return staffID, nil
	}
	return course.Staff[0].ID, nil
}

func uniqueInts(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
