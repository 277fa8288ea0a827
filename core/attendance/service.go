package attendance

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
)

const markerPrefix = "status_"

var (
	nowFunc = time.Now // mockable

	// errors
	ErrNotFound = errors.New("attendance not found")
)

type Repository interface {
	// UpsertStudentAttendance inserts or updates the (student, date) records, atomically.
	UpsertStudentAttendance(ctx context.Context, rows []StudentAttendance) error
	QueryStudentAttendance(ctx context.Context, q Query) ([]StudentAttendance, error)

	CreateCheckIn(ctx context.Context, c CheckIn) (CheckIn, error)
	// LatestCheckIn returns ErrNotFound when staffID has not checked in on date.
	LatestCheckIn(ctx context.Context, staffID int, date time.Time) (CheckIn, error)
	QueryCheckIns(ctx context.Context, q Query) ([]CheckIn, error)
}

type Service struct {
	repo     Repository
	loc      *time.Location
	networks []*net.IPNet
}

func NewService(repo Repository, conf *core.Config) *Service {
	return &Service{repo: repo, loc: conf.Location(), networks: conf.CheckIn.TrustedNetworks}
}

// Today is the current calendar day in the configured time zone.
func (svc *Service) Today() time.Time {
	return core.Today(nowFunc(), svc.loc)
}

// SelectedDate interprets the date query parameter of the attendance sheet.
// A missing or malformed value means today; a future date is clamped to today.
func (svc *Service) SelectedDate(raw string) time.Time {
	today := svc.Today()
	date, err := core.ParseDate(raw)
	if err != nil || date.After(today) {
		return today
	}
	return date
}

// Sheet loads the roster's attendance on date.
func (svc *Service) Sheet(ctx context.Context, roster []school.Student, date time.Time) (Sheet, error) {
	sheet := make(Sheet, len(roster))
	if len(roster) == 0 {
		return sheet, nil
	}
	rows, err := svc.repo.QueryStudentAttendance(ctx, Query{StudentIDs: studentIDs(roster), Date: date})
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	for _, a := range rows {
		sheet[a.StudentID] = a.Status()
	}
	return sheet, nil
}

// Mark records the roster's submitted markers (`status_<student id>`) for date.
// Students without a valid marker are left untouched. It returns the number of
// records written.
func (svc *Service) Mark(ctx context.Context, roster []school.Student, date time.Time, values url.Values) (int, error) {
	rows := make([]StudentAttendance, 0, len(roster))
	for _, s := range roster {
		status := Status(core.CleanString(values.Get(markerPrefix+strconv.Itoa(s.ID)), true /* lower */))
		if !status.Valid() {
			continue
		}
		rows = append(rows, StudentAttendance{
			StudentID: s.ID,
			Date:      date,
			Present:   status == StatusPresent,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := svc.repo.UpsertStudentAttendance(ctx, rows); err != nil {
		return 0, errors.Wrap(err, "saving attendance")
	}
	return len(rows), nil
}

// MarkerName is the form field name of a student's attendance marker.
func MarkerName(studentID int) string { return markerPrefix + strconv.Itoa(studentID) }

// CheckIn records the staff's attendance for today. The check-in is wifi
// verified when ip belongs to one of the trusted networks.
func (svc *Service) CheckIn(ctx context.Context, staff school.Staff, ip net.IP) (CheckIn, error) {
	now := nowFunc()
	c := CheckIn{
		StaffID:      staff.ID,
		StaffName:    staff.Name,
		Date:         core.Today(now, svc.loc),
		Time:         now.UTC(),
		WifiVerified: svc.trusted(ip),
	}
	c, err := svc.repo.CreateCheckIn(ctx, c)
	if err != nil {
		return CheckIn{}, errors.Wrap(err, "creating check-in")
	}
	return c, nil
}

// TodayCheckIn returns the staff's latest check-in of today, if any.
func (svc *Service) TodayCheckIn(ctx context.Context, staff school.Staff) (CheckIn, bool, error) {
	c, err := svc.repo.LatestCheckIn(ctx, staff.ID, svc.Today())
	switch errors.Cause(err) {
	case nil:
		return c, true, nil
	case ErrNotFound:
		return CheckIn{}, false, nil
	}
	return CheckIn{}, false, errors.Wrap(err, "getting check-in")
}

func (svc *Service) QueryStudentAttendance(ctx context.Context, q Query) ([]StudentAttendance, error) {
	return svc.repo.QueryStudentAttendance(ctx, q)
}

func (svc *Service) QueryCheckIns(ctx context.Context, q Query) ([]CheckIn, error) {
	return svc.repo.QueryCheckIns(ctx, q)
}

func (svc *Service) trusted(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range svc.networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func studentIDs(roster []school.Student) []int {
	ids := make([]int, 0, len(roster))
	for _, s := range roster {
		ids = append(ids, s.ID)
	}
	return ids
}
