package progress

import (
	"context"
	"net/url"
	"strconv"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
)

var (
	errEndBeforeStart = errors.New("end date cannot be before the start date")
	errInvalidFormset = errors.New("please correct the errors below")
	errMarksRange     = errors.New("marks value is out of range")
)

type Repository interface {
	// EnsureProgress creates the missing (student, topic) rows with empty values.
	// Existing rows are left untouched.
	EnsureProgress(ctx context.Context, studentID int, topicIDs []int) error
	// QueryProgress lists the student's rows in topic insertion order.
	QueryProgress(ctx context.Context, studentID int) ([]Progress, error)
	// SaveProgress updates the editable values and sign of rows, atomically.
	SaveProgress(ctx context.Context, rows []Progress) error
}

// TopicLister is the slice of school.Repository progress depends on.
type TopicLister interface {
	QueryTopics(ctx context.Context, q school.TopicQuery) ([]school.Topic, error)
}

type Service struct {
	repo       Repository
	topics     TopicLister
	validate   *validator.Validate
	translator ut.Translator
}

func NewService(repo Repository, topics TopicLister, validate *validator.Validate, translator ut.Translator) *Service {
	return &Service{repo: repo, topics: topics, validate: validate, translator: translator}
}

// Detail lists every topic of the student's course with its progress row, if any.
// It never creates rows.
func (svc *Service) Detail(ctx context.Context, student school.Student) ([]TopicProgress, error) {
	topics, err := svc.topics.QueryTopics(ctx, school.TopicQuery{CourseID: student.CourseID})
	if err != nil {
		return nil, errors.Wrap(err, "querying topics")
	}
	rows, err := svc.repo.QueryProgress(ctx, student.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying progress")
	}
	byTopic := make(map[int]Progress, len(rows))
	for _, p := range rows {
		byTopic[p.TopicID] = p
	}

	tps := make([]TopicProgress, 0, len(topics))
	for _, t := range topics {
		tp := TopicProgress{Topic: t}
		if p, ok := byTopic[t.ID]; ok {
			tp.Progress = &p
		}
		tps = append(tps, tp)
	}
	return tps, nil
}

// Ensure creates the missing rows for every topic of the student's course and
// returns the rows of that course. It is idempotent.
func (svc *Service) Ensure(ctx context.Context, student school.Student) ([]Progress, error) {
	topics, err := svc.topics.QueryTopics(ctx, school.TopicQuery{CourseID: student.CourseID})
	if err != nil {
		return nil, errors.Wrap(err, "querying topics")
	}
	topicIDs := make([]int, 0, len(topics))
	inCourse := make(map[int]struct{}, len(topics))
	for _, t := range topics {
		topicIDs = append(topicIDs, t.ID)
		inCourse[t.ID] = struct{}{}
	}
	if err = svc.repo.EnsureProgress(ctx, student.ID, topicIDs); err != nil {
		return nil, errors.Wrap(err, "ensuring progress")
	}

	rows, err := svc.repo.QueryProgress(ctx, student.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying progress")
	}
	// rows left over from a previous course are not edited here
	out := rows[:0]
	for _, p := range rows {
		if _, ok := inCourse[p.TopicID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Formset ensures the student's rows and returns the unbound edit form.
func (svc *Service) Formset(ctx context.Context, student school.Student) (*Formset, error) {
	rows, err := svc.Ensure(ctx, student)
	if err != nil {
		return nil, err
	}
	return NewFormset(rows), nil
}

// Submit binds & validates the submitted formset, stamps every changed row with
// the editing staff's name and saves them in one batch.
// On validation failure nothing is saved and the bound formset carries the errors.
func (svc *Service) Submit(ctx context.Context, student school.Student, editor school.Staff, values url.Values) (*Formset, int, error) {
	rows, err := svc.Ensure(ctx, student)
	if err != nil {
		return nil, 0, err
	}
	fs := NewFormset(rows)
	if err = fs.Bind(values); err != nil {
		return fs, 0, core.NewValidationError(err)
	}

	changed := make([]Progress, 0, len(fs.Rows))
	for i := range fs.Rows {
		rf := &fs.Rows[i]
		if !rf.bound {
			continue
		}
		p, ok := svc.cleanRow(rf)
		if !ok || p.sameValues(rf.Progress) {
			continue
		}
		p.Sign = editor.Name
		changed = append(changed, p)
	}
	if fs.HasErrors() {
		flds := make([]core.FieldError, 0)
		for name, msg := range fs.FieldErrors() {
			flds = append(flds, core.FieldError{Field: name, Error: msg})
		}
		return fs, 0, core.NewValidationError(errInvalidFormset, flds...)
	}
	if len(changed) == 0 {
		return fs, 0, nil
	}

	if err = svc.repo.SaveProgress(ctx, changed); err != nil {
		return fs, 0, errors.Wrap(err, "saving progress")
	}
	return fs, len(changed), nil
}

// cleanRow validates the submitted values of rf, recording errors on it.
func (svc *Service) cleanRow(rf *RowForm) (Progress, bool) {
	p := rf.Progress
	var err error

	if err = svc.validate.Var(core.CleanString(rf.StartDate), "omitempty,date"); err == nil {
		p.StartDate, err = parseNullDate(rf.StartDate)
	}
	if err != nil {
		rf.addError(fieldStartDate, svc.message(err))
	}

	if err = svc.validate.Var(core.CleanString(rf.EndDate), "omitempty,date"); err == nil {
		p.EndDate, err = parseNullDate(rf.EndDate)
	}
	if err != nil {
		rf.addError(fieldEndDate, svc.message(err))
	}

	marks := core.CleanString(rf.Marks)
	if err = svc.validate.Var(marks, "omitempty,number"); err != nil {
		rf.addError(fieldMarks, svc.message(err))
	} else if marks == "" {
		p.Marks = null.Int{}
	} else {
		// marks is an INTEGER column
		var n int64
		if n, err = strconv.ParseInt(marks, 10, 32); err != nil {
			rf.addError(fieldMarks, errMarksRange.Error())
		} else {
			p.Marks = null.IntFrom(int(n))
		}
	}

	if len(rf.Errors) == 0 && p.StartDate.Valid && p.EndDate.Valid && p.EndDate.Time.Before(p.StartDate.Time) {
		rf.addError(fieldEndDate, errEndBeforeStart.Error())
	}
	return p, len(rf.Errors) == 0
}

func (svc *Service) message(err error) string {
	if vErrs, ok := err.(validator.ValidationErrors); ok && len(vErrs) > 0 {
		return vErrs[0].Translate(svc.translator)
	}
	return err.Error()
}
