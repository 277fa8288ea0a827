package attendance

import (
	"time"

	"github.com/trezcool/rollbook/core"
)

// Status is the value posted by the attendance sheet markers.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

func (s Status) Valid() bool { return s == StatusPresent || s == StatusAbsent }

// StudentAttendance is one student's presence on one day.
type StudentAttendance struct {
	ID          int
	StudentID   int
	Date        time.Time
	Present     bool
	StudentName string
	CourseName  string
	StaffName   string
}

func (a StudentAttendance) Status() Status {
	if a.Present {
		return StatusPresent
	}
	return StatusAbsent
}

// CheckIn is a staff's self-reported attendance.
type CheckIn struct {
	ID           int
	StaffID      int
	StaffName    string
	Date         time.Time // calendar day, UTC midnight
	Time         time.Time // UTC
	WifiVerified bool
}

// Query filters the admin listings of both attendance kinds.
type Query struct {
	StaffID    int
	StudentIDs []int
	Date       time.Time // zero: any day
	Search     string    // student, staff or course name
	Ordering   []core.DBOrdering
}

// OrderingFields maps the sortable attendance columns to their query names.
var OrderingFields = map[string]string{
	"date":    "date",
	"student": "student",
	"staff":   "staff",
	"course":  "course",
}

// Sheet is the attendance status of a roster for one day, keyed by student ID.
// Students without a record are missing from the map.
type Sheet map[int]Status

func (s Sheet) Status(studentID int) Status { return s[studentID] }
