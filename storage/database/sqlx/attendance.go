package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/school"
)

var attendanceConstraints = map[string]error{
	"student_attendance_student_id_fkey": school.ErrNotFound,
	"staff_attendance_staff_id_fkey":     school.ErrNotFound,
}

type studentAttendanceRow struct {
	ID          int       `db:"id"`
	StudentID   int       `db:"student_id"`
	Date        time.Time `db:"date"`
	Present     bool      `db:"present"`
	StudentName string    `db:"student_name"`
	CourseName  string    `db:"course_name"`
	StaffName   string    `db:"staff_name"`
}

func (r studentAttendanceRow) toStudentAttendance() attendance.StudentAttendance {
	r.Date = utcDate(r.Date)
	return attendance.StudentAttendance(r)
}

type checkInRow struct {
	ID           int       `db:"id"`
	StaffID      int       `db:"staff_id"`
	StaffName    string    `db:"staff_name"`
	Date         time.Time `db:"date"`
	Time         time.Time `db:"time"`
	WifiVerified bool      `db:"wifi_verified"`
}

func (r checkInRow) toCheckIn() attendance.CheckIn {
	return attendance.CheckIn{
		ID:           r.ID,
		StaffID:      r.StaffID,
		StaffName:    r.StaffName,
		Date:         utcDate(r.Date),
		Time:         r.Time.UTC(),
		WifiVerified: r.WifiVerified,
	}
}

var attendanceOrderColumns = map[string]string{
	"date":    "a.date",
	"student": "st.name",
	"staff":   "sf.name",
	"course":  "c.name",
}

type attendanceRepository struct {
	db core.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db core.DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

func (repo *attendanceRepository) UpsertStudentAttendance(ctx context.Context, rows []attendance.StudentAttendance) error {
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO student_attendance (student_id, date, present) VALUES ($1, $2, $3)
			ON CONFLICT (student_id, date) DO UPDATE SET present = EXCLUDED.present`
		for _, a := range rows {
			if _, err := tx.ExecContext(ctx, q, a.StudentID, utcDate(a.Date), a.Present); err != nil {
				if domainErr, ok := constraintErr(err, attendanceConstraints); ok {
					return domainErr
				}
				return errors.Wrap(err, "upserting student attendance")
			}
		}
		return nil
	})
}

func (repo *attendanceRepository) QueryStudentAttendance(ctx context.Context, q attendance.Query) ([]attendance.StudentAttendance, error) {
	var w where
	if q.StudentIDs != nil {
		ids := make(pq.Int64Array, 0, len(q.StudentIDs))
		for _, id := range q.StudentIDs {
			ids = append(ids, int64(id))
		}
		w.add("a.student_id = ANY(?)", ids)
	}
	if q.StaffID != 0 {
		w.add("st.staff_id = ?", q.StaffID)
	}
	if !q.Date.IsZero() {
		w.add("a.date = ?", utcDate(q.Date))
	}
	if q.Search != "" {
		val := ilike(q.Search)
		w.add("(st.name ILIKE ? OR sf.name ILIKE ? OR c.name ILIKE ?)", val, val, val)
	}

	ordering := q.Ordering
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "date"}}
	}

	base := `SELECT a.id, a.student_id, a.date, a.present,
		st.name AS student_name, c.name AS course_name, sf.name AS staff_name
		FROM student_attendance a
		JOIN students st ON st.id = a.student_id
		JOIN courses c ON c.id = st.course_id
		JOIN staff sf ON sf.id = st.staff_id`

	var rows []studentAttendanceRow
	query := w.query(base, orderBy(ordering, attendanceOrderColumns, "a.id ASC"))
	if err := repo.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying student attendance")
	}
	res := make([]attendance.StudentAttendance, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toStudentAttendance())
	}
	return res, nil
}

func (repo *attendanceRepository) CreateCheckIn(ctx context.Context, c attendance.CheckIn) (attendance.CheckIn, error) {
	q := `WITH c AS (
			INSERT INTO staff_attendance (staff_id, date, time, wifi_verified) VALUES ($1, $2, $3, $4)
			RETURNING id, staff_id
		)
		SELECT c.id, s.name FROM c JOIN staff s ON s.id = c.staff_id`

	var created struct {
		ID   int    `db:"id"`
		Name string `db:"name"`
	}
	if err := repo.db.GetContext(ctx, &created, q, c.StaffID, utcDate(c.Date), c.Time.UTC(), c.WifiVerified); err != nil {
		if domainErr, ok := constraintErr(err, attendanceConstraints); ok {
			return attendance.CheckIn{}, domainErr
		}
		return attendance.CheckIn{}, errors.Wrap(err, "inserting check-in")
	}
	c.ID, c.StaffName = created.ID, created.Name
	return c, nil
}

const checkInSelect = `SELECT a.id, a.staff_id, sf.name AS staff_name, a.date, a.time, a.wifi_verified
	FROM staff_attendance a JOIN staff sf ON sf.id = a.staff_id`

func (repo *attendanceRepository) LatestCheckIn(ctx context.Context, staffID int, date time.Time) (attendance.CheckIn, error) {
	q := checkInSelect + " WHERE a.staff_id = $1 AND a.date = $2 ORDER BY a.time DESC, a.id DESC LIMIT 1"

	var row checkInRow
	if err := repo.db.GetContext(ctx, &row, q, staffID, utcDate(date)); err != nil {
		return attendance.CheckIn{}, trapNoRowsErr(err, attendance.ErrNotFound, "getting latest check-in")
	}
	return row.toCheckIn(), nil
}

func (repo *attendanceRepository) QueryCheckIns(ctx context.Context, q attendance.Query) ([]attendance.CheckIn, error) {
	var w where
	if q.StaffID != 0 {
		w.add("a.staff_id = ?", q.StaffID)
	}
	if !q.Date.IsZero() {
		w.add("a.date = ?", utcDate(q.Date))
	}
	if q.Search != "" {
		w.add("sf.name ILIKE ?", ilike(q.Search))
	}

	var rows []checkInRow
	if err := repo.db.SelectContext(ctx, &rows, w.query(checkInSelect, " ORDER BY a.time DESC, a.id DESC"), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying check-ins")
	}
	res := make([]attendance.CheckIn, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toCheckIn())
	}
	return res, nil
}
