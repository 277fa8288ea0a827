package progress

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

const (
	formPrefix     = "form"
	totalFormsName = formPrefix + "-TOTAL_FORMS"

	fieldID        = "id"
	fieldStartDate = "start_date"
	fieldEndDate   = "end_date"
	fieldMarks     = "marks"
)

var (
	errManagementForm = errors.New("management form data is missing or has been tampered with")
	errUnknownRow     = errors.New("submitted row does not belong to this student")
	errDuplicateRow   = errors.New("submitted row appears more than once")
)

// RowForm is the editable form of a single Progress row.
type RowForm struct {
	Index     int
	Progress  Progress // stored values
	StartDate string
	EndDate   string
	Marks     string
	Errors    map[string]string // field -> message
	bound     bool
}

func newRowForm(idx int, p Progress) RowForm {
	rf := RowForm{
		Index:     idx,
		Progress:  p,
		StartDate: formatNullDate(p.StartDate),
		EndDate:   formatNullDate(p.EndDate),
	}
	if p.Marks.Valid {
		rf.Marks = strconv.Itoa(p.Marks.Int)
	}
	return rf
}

// Prefix is the field name prefix of the row, eg. "form-2".
func (rf RowForm) Prefix() string { return fmt.Sprintf("%s-%d", formPrefix, rf.Index) }

// Name is the full field name of one of the row's fields, eg. "form-2-marks".
func (rf RowForm) Name(field string) string { return rf.Prefix() + "-" + field }

func (rf *RowForm) addError(field, msg string) {
	if rf.Errors == nil {
		rf.Errors = make(map[string]string)
	}
	rf.Errors[field] = msg
}

// Formset is the batch edit form of all of a student's Progress rows.
type Formset struct {
	Rows   []RowForm
	Errors []string // errors not tied to a row
}

// NewFormset builds an unbound formset prefilled with the stored rows.
func NewFormset(rows []Progress) *Formset {
	fs := &Formset{Rows: make([]RowForm, 0, len(rows))}
	for i, p := range rows {
		fs.Rows = append(fs.Rows, newRowForm(i, p))
	}
	return fs
}

func (fs *Formset) TotalForms() int { return len(fs.Rows) }
func (fs *Formset) TotalFormsName() string { return totalFormsName }

func (fs *Formset) HasErrors() bool {
	if len(fs.Errors) > 0 {
		return true
	}
	for _, rf := range fs.Rows {
		if len(rf.Errors) > 0 {
			return true
		}
	}
	return false
}

// FieldErrors flattens all row errors, keyed by full field name.
func (fs *Formset) FieldErrors() map[string]string {
	errs := make(map[string]string)
	for _, rf := range fs.Rows {
		for fld, msg := range rf.Errors {
			errs[rf.Name(fld)] = msg
		}
	}
	return errs
}

// Bind loads submitted values into the formset rows.
// Rows are matched by their id field; rows not submitted keep their stored values.
func (fs *Formset) Bind(values url.Values) error {
	total, err := strconv.Atoi(values.Get(totalFormsName))
	if err != nil || total < 0 || total > len(fs.Rows) {
		fs.Errors = append(fs.Errors, errManagementForm.Error())
		return errManagementForm
	}

	byID := make(map[int]int, len(fs.Rows))
	for i, rf := range fs.Rows {
		byID[rf.Progress.ID] = i
	}
	for i := 0; i < total; i++ {
		prefix := fmt.Sprintf("%s-%d-", formPrefix, i)
		id, err := strconv.Atoi(values.Get(prefix + fieldID))
		if err != nil {
			fs.Errors = append(fs.Errors, errManagementForm.Error())
			return errManagementForm
		}
		pos, ok := byID[id]
		if !ok {
			fs.Errors = append(fs.Errors, errUnknownRow.Error())
			return errUnknownRow
		}
		rf := &fs.Rows[pos]
		if rf.bound {
			fs.Errors = append(fs.Errors, errDuplicateRow.Error())
			return errDuplicateRow
		}
		rf.bound = true
		rf.Index = i
		rf.StartDate = values.Get(prefix + fieldStartDate)
		rf.EndDate = values.Get(prefix + fieldEndDate)
		rf.Marks = values.Get(prefix + fieldMarks)
	}

	// keep unsubmitted rows after the submitted ones
	next := total
	for i := range fs.Rows {
		if !fs.Rows[i].bound {
			fs.Rows[i].Index = next
			next++
		}
	}
	sort.SliceStable(fs.Rows, func(i, j int) bool { return fs.Rows[i].Index < fs.Rows[j].Index })
	return nil
}
