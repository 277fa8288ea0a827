package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/school"
)

type attendanceRepository struct {
	db *DB
}

var _ attendance.Repository = (*attendanceRepository)(nil)

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

func (repo *attendanceRepository) UpsertStudentAttendance(_ context.Context, rows []attendance.StudentAttendance) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, a := range rows {
		if _, ok := repo.db.students[a.StudentID]; !ok {
			return school.ErrNotFound
		}
	}
	for _, a := range rows {
		if orig := repo.findAttendance(a.StudentID, a.Date); orig != nil {
			orig.Present = a.Present
			continue
		}
		a.ID = repo.db.nextPK()
		a.Date = core.Date(a.Date)
		repo.db.attendance[a.ID] = &a
	}
	return nil
}

func (repo *attendanceRepository) findAttendance(studentID int, date time.Time) *attendance.StudentAttendance {
	for _, a := range repo.db.attendance {
		if a.StudentID == studentID && core.SameDate(a.Date, date) {
			return a
		}
	}
	return nil
}

func (repo *attendanceRepository) QueryStudentAttendance(_ context.Context, q attendance.Query) ([]attendance.StudentAttendance, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var onlyStudents map[int]struct{}
	if q.StudentIDs != nil {
		onlyStudents = make(map[int]struct{}, len(q.StudentIDs))
		for _, id := range q.StudentIDs {
			onlyStudents[id] = struct{}{}
		}
	}

	res := make([]attendance.StudentAttendance, 0)
	for _, a := range repo.db.attendance {
		s, ok := repo.db.students[a.StudentID]
		if !ok {
			continue
		}
		if onlyStudents != nil {
			if _, ok = onlyStudents[a.StudentID]; !ok {
				continue
			}
		}
		if (q.StaffID != 0 && s.StaffID != q.StaffID) || (!q.Date.IsZero() && !core.SameDate(a.Date, q.Date)) {
			continue
		}
		v := *a
		v.StudentName = s.Name
		if c, ok := repo.db.courses[s.CourseID]; ok {
			v.CourseName = c.Name
		}
		if st, ok := repo.db.staff[s.StaffID]; ok {
			v.StaffName = st.Name
		}
		if q.Search != "" && !containsFold(v.StudentName, q.Search) &&
			!containsFold(v.StaffName, q.Search) && !containsFold(v.CourseName, q.Search) {
			continue
		}
		res = append(res, v)
	}

	ordering := q.Ordering
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "date"}}
	}
	sort.Slice(res, func(i, j int) bool {
		for _, ord := range ordering {
			if c := compareAttendance(res[i], res[j], ord.Field); c != 0 {
				return (c < 0) == ord.Ascending
			}
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func compareAttendance(a, b attendance.StudentAttendance, field string) int {
	switch field {
	case "date":
		return compareTimes(a.Date, b.Date)
	case "student":
		return strings.Compare(a.StudentName, b.StudentName)
	case "staff":
		return strings.Compare(a.StaffName, b.StaffName)
	case "course":
		return strings.Compare(a.CourseName, b.CourseName)
	}
	return 0
}

func (repo *attendanceRepository) CreateCheckIn(_ context.Context, c attendance.CheckIn) (attendance.CheckIn, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	s, ok := repo.db.staff[c.StaffID]
	if !ok {
		return attendance.CheckIn{}, school.ErrNotFound
	}
	c.ID = repo.db.nextPK()
	c.StaffName = s.Name
	repo.db.checkIns[c.ID] = &c
	return c, nil
}

func (repo *attendanceRepository) LatestCheckIn(_ context.Context, staffID int, date time.Time) (attendance.CheckIn, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var latest *attendance.CheckIn
	for _, c := range repo.db.checkIns {
		if c.StaffID != staffID || !core.SameDate(c.Date, date) {
			continue
		}
		if latest == nil || c.Time.After(latest.Time) || (c.Time.Equal(latest.Time) && c.ID > latest.ID) {
			latest = c
		}
	}
	if latest == nil {
		return attendance.CheckIn{}, attendance.ErrNotFound
	}
	return *latest, nil
}

func (repo *attendanceRepository) QueryCheckIns(_ context.Context, q attendance.Query) ([]attendance.CheckIn, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]attendance.CheckIn, 0)
	for _, c := range repo.db.checkIns {
		if (q.StaffID != 0 && c.StaffID != q.StaffID) || (!q.Date.IsZero() && !core.SameDate(c.Date, q.Date)) {
			continue
		}
		v := *c
		if st, ok := repo.db.staff[c.StaffID]; ok {
			v.StaffName = st.Name
		}
		if q.Search != "" && !containsFold(v.StaffName, q.Search) {
			continue
		}
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Time.Equal(res[j].Time) {
			return res[i].Time.After(res[j].Time)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
