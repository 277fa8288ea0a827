package progress

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
)

// Progress is one student's record for one course topic.
type Progress struct {
	ID         int
	StudentID  int
	TopicID    int
	ModuleName string
	TopicName  string
	StartDate  null.Time
	EndDate    null.Time
	Marks      null.Int
	Sign       string // name of the last staff who changed the row
}

// sameValues reports whether p holds the same editable values as o.
func (p Progress) sameValues(o Progress) bool {
	return sameDate(p.StartDate, o.StartDate) &&
		sameDate(p.EndDate, o.EndDate) &&
		p.Marks.Valid == o.Marks.Valid && (!p.Marks.Valid || p.Marks.Int == o.Marks.Int)
}

func sameDate(a, b null.Time) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || core.SameDate(a.Time, b.Time)
}

// TopicProgress pairs a course topic with the student's record for it, if any.
type TopicProgress struct {
	Topic    school.Topic
	Progress *Progress
}

func formatNullDate(t null.Time) string {
	if !t.Valid {
		return ""
	}
	return core.FormatDate(t.Time)
}

func parseNullDate(s string) (null.Time, error) {
	if s = core.CleanString(s); s == "" {
		return null.Time{}, nil
	}
	t, err := core.ParseDate(s)
	if err != nil {
		return null.Time{}, err
	}
	return null.TimeFrom(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)), nil
}
