package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
)

var schoolConstraints = map[string]error{
	"staff_email_key":                       school.ErrStaffEmailExists,
	"staff_user_id_key":                     school.ErrStaffAlreadyLinked,
	"course_topics_course_module_topic_key": school.ErrTopicExists,
	"course_topics_course_id_fkey":          school.ErrInvalidCourse,
	"students_email_key":                    school.ErrStudentEmailExists,
	"students_course_id_fkey":               school.ErrInvalidCourse,
	"students_staff_id_fkey":                school.ErrInvalidStaff,
}

// wrapSchoolErr maps constraint violations to school errors and no rows to school.ErrNotFound.
func wrapSchoolErr(err error, msg string) error {
	if domainErr, ok := constraintErr(err, schoolConstraints); ok {
		return domainErr
	}
	return trapNoRowsErr(err, school.ErrNotFound, msg)
}

type schoolRepository struct {
	db core.DB
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db core.DB) school.Repository {
	return &schoolRepository{db: db}
}

func (repo *schoolRepository) delete(ctx context.Context, table string, id int) error {
	// tables own their dependent rows through ON DELETE CASCADE
	res, err := repo.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return errors.Wrapf(err, "deleting from %s", table)
	}
	return rowsAffected(res, school.ErrNotFound, "deleting from "+table)
}

// Staff

type staffRow struct {
	ID          int            `db:"id"`
	UserID      int            `db:"user_id"`
	Name        string         `db:"name"`
	Contact     string         `db:"contact"`
	Email       string         `db:"email"`
	CourseNames pq.StringArray `db:"course_names"`
}

func (r staffRow) toStaff() school.Staff {
	names := []string(r.CourseNames)
	if names == nil {
		names = make([]string, 0)
	}
	return school.Staff{ID: r.ID, UserID: r.UserID, Name: r.Name, Contact: r.Contact, Email: r.Email, CourseNames: names}
}

const staffSelect = `SELECT s.id, s.user_id, s.name, s.contact, s.email,
	ARRAY(
		SELECT c.name FROM course_staff cs JOIN courses c ON c.id = cs.course_id
		WHERE cs.staff_id = s.id ORDER BY c.name
	) AS course_names
	FROM staff s`

func (repo *schoolRepository) CreateStaff(ctx context.Context, s school.Staff) (school.Staff, error) {
	var id int
	q := "INSERT INTO staff (user_id, name, contact, email) VALUES ($1, $2, $3, $4) RETURNING id"
	if err := repo.db.GetContext(ctx, &id, q, s.UserID, s.Name, s.Contact, s.Email); err != nil {
		return school.Staff{}, wrapSchoolErr(err, "inserting staff")
	}
	return repo.GetStaff(ctx, school.StaffFilter{ID: id})
}

func (repo *schoolRepository) UpdateStaff(ctx context.Context, s school.Staff) (school.Staff, error) {
	res, err := repo.db.ExecContext(ctx,
		"UPDATE staff SET name = $2, contact = $3, email = $4 WHERE id = $1",
		s.ID, s.Name, s.Contact, s.Email)
	if err != nil {
		return school.Staff{}, wrapSchoolErr(err, "updating staff")
	}
	if err = rowsAffected(res, school.ErrNotFound, "updating staff"); err != nil {
		return school.Staff{}, err
	}
	return repo.GetStaff(ctx, school.StaffFilter{ID: s.ID})
}

func (repo *schoolRepository) GetStaff(ctx context.Context, filter school.StaffFilter) (school.Staff, error) {
	var w where
	switch {
	case filter.ID != 0:
		w.add("s.id = ?", filter.ID)
	case filter.UserID != 0:
		w.add("s.user_id = ?", filter.UserID)
	default:
		return school.Staff{}, school.ErrNotFound
	}

	var row staffRow
	if err := repo.db.GetContext(ctx, &row, w.query(staffSelect, ""), w.args...); err != nil {
		return school.Staff{}, trapNoRowsErr(err, school.ErrNotFound, "getting staff")
	}
	return row.toStaff(), nil
}

func (repo *schoolRepository) QueryStaff(ctx context.Context, q school.StaffQuery) ([]school.Staff, error) {
	var w where
	if q.Search != "" {
		val := ilike(q.Search)
		w.add("(s.name ILIKE ? OR s.email ILIKE ?)", val, val)
	}
	if q.CourseID != 0 {
		w.add("s.id IN (SELECT staff_id FROM course_staff WHERE course_id = ?)", q.CourseID)
	}

	var rows []staffRow
	if err := repo.db.SelectContext(ctx, &rows, w.query(staffSelect, " ORDER BY s.name, s.id"), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying staff")
	}
	res := make([]school.Staff, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toStaff())
	}
	return res, nil
}

func (repo *schoolRepository) DeleteStaff(ctx context.Context, id int) error {
	return repo.delete(ctx, "staff", id)
}

// Courses

type courseRow struct {
	ID   int    `db:"id"`
	Name string `db:"name"`
}

type courseStaffRow struct {
	CourseID int    `db:"course_id"`
	ID       int    `db:"id"`
	Name     string `db:"name"`
}

// loadCourses attaches the staff of each course, ordered by name.
func (repo *schoolRepository) loadCourses(ctx context.Context, rows []courseRow) ([]school.Course, error) {
	ids := make(pq.Int64Array, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, int64(r.ID))
	}

	var members []courseStaffRow
	q := `SELECT cs.course_id, s.id, s.name FROM course_staff cs JOIN staff s ON s.id = cs.staff_id
		WHERE cs.course_id = ANY($1) ORDER BY s.name, s.id`
	if err := repo.db.SelectContext(ctx, &members, q, ids); err != nil {
		return nil, errors.Wrap(err, "querying course staff")
	}
	staffByCourse := make(map[int][]school.StaffOption, len(rows))
	for _, m := range members {
		staffByCourse[m.CourseID] = append(staffByCourse[m.CourseID], school.StaffOption{ID: m.ID, Name: m.Name})
	}

	courses := make([]school.Course, 0, len(rows))
	for _, r := range rows {
		staff := staffByCourse[r.ID]
		if staff == nil {
			staff = make([]school.StaffOption, 0)
		}
		courses = append(courses, school.Course{ID: r.ID, Name: r.Name, Staff: staff})
	}
	return courses, nil
}

func setCourseStaff(ctx context.Context, tx *sqlx.Tx, courseID int, staffIDs []int) error {
	ids := make(pq.Int64Array, 0, len(staffIDs))
	for _, id := range staffIDs {
		ids = append(ids, int64(id))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM course_staff WHERE course_id = $1", courseID); err != nil {
		return errors.Wrap(err, "clearing course staff")
	}
	// unknown staff IDs are skipped
	q := "INSERT INTO course_staff (course_id, staff_id) SELECT $1, id FROM staff WHERE id = ANY($2)"
	if _, err := tx.ExecContext(ctx, q, courseID, ids); err != nil {
		return errors.Wrap(err, "setting course staff")
	}
	return nil
}

func (repo *schoolRepository) CreateCourse(ctx context.Context, c school.Course, staffIDs []int) (school.Course, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &c.ID, "INSERT INTO courses (name) VALUES ($1) RETURNING id", c.Name); err != nil {
			return errors.Wrap(err, "inserting course")
		}
		return setCourseStaff(ctx, tx, c.ID, staffIDs)
	})
	if err != nil {
		return school.Course{}, err
	}
	return repo.GetCourse(ctx, c.ID)
}

func (repo *schoolRepository) UpdateCourse(ctx context.Context, c school.Course, staffIDs []int) (school.Course, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE courses SET name = $2 WHERE id = $1", c.ID, c.Name)
		if err != nil {
			return errors.Wrap(err, "updating course")
		}
		if err = rowsAffected(res, school.ErrNotFound, "updating course"); err != nil {
			return err
		}
		return setCourseStaff(ctx, tx, c.ID, staffIDs)
	})
	if err != nil {
		return school.Course{}, err
	}
	return repo.GetCourse(ctx, c.ID)
}

func (repo *schoolRepository) GetCourse(ctx context.Context, id int) (school.Course, error) {
	var row courseRow
	if err := repo.db.GetContext(ctx, &row, "SELECT id, name FROM courses WHERE id = $1", id); err != nil {
		return school.Course{}, trapNoRowsErr(err, school.ErrNotFound, "getting course")
	}
	courses, err := repo.loadCourses(ctx, []courseRow{row})
	if err != nil {
		return school.Course{}, err
	}
	return courses[0], nil
}

func (repo *schoolRepository) QueryCourses(ctx context.Context, q school.CourseQuery) ([]school.Course, error) {
	var w where
	if q.Search != "" {
		w.add("name ILIKE ?", ilike(q.Search))
	}
	if q.StaffID != 0 {
		w.add("id IN (SELECT course_id FROM course_staff WHERE staff_id = ?)", q.StaffID)
	}

	var rows []courseRow
	if err := repo.db.SelectContext(ctx, &rows, w.query("SELECT id, name FROM courses", " ORDER BY name, id"), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	return repo.loadCourses(ctx, rows)
}

func (repo *schoolRepository) DeleteCourse(ctx context.Context, id int) error {
	return repo.delete(ctx, "courses", id)
}

// Topics

type topicRow struct {
	ID         int    `db:"id"`
	CourseID   int    `db:"course_id"`
	CourseName string `db:"course_name"`
	ModuleName string `db:"module_name"`
	TopicName  string `db:"topic_name"`
}

func (r topicRow) toTopic() school.Topic {
	return school.Topic(r)
}

const topicSelect = `SELECT t.id, t.course_id, c.name AS course_name, t.module_name, t.topic_name
	FROM course_topics t JOIN courses c ON c.id = t.course_id`

func (repo *schoolRepository) CreateTopic(ctx context.Context, t school.Topic) (school.Topic, error) {
	q := "INSERT INTO course_topics (course_id, module_name, topic_name) VALUES ($1, $2, $3) RETURNING id"
	if err := repo.db.GetContext(ctx, &t.ID, q, t.CourseID, t.ModuleName, t.TopicName); err != nil {
		return school.Topic{}, wrapSchoolErr(err, "inserting topic")
	}
	return repo.GetTopic(ctx, t.ID)
}

func (repo *schoolRepository) UpdateTopic(ctx context.Context, t school.Topic) (school.Topic, error) {
	res, err := repo.db.ExecContext(ctx,
		"UPDATE course_topics SET course_id = $2, module_name = $3, topic_name = $4 WHERE id = $1",
		t.ID, t.CourseID, t.ModuleName, t.TopicName)
	if err != nil {
		return school.Topic{}, wrapSchoolErr(err, "updating topic")
	}
	if err = rowsAffected(res, school.ErrNotFound, "updating topic"); err != nil {
		return school.Topic{}, err
	}
	return repo.GetTopic(ctx, t.ID)
}

func (repo *schoolRepository) GetTopic(ctx context.Context, id int) (school.Topic, error) {
	var row topicRow
	if err := repo.db.GetContext(ctx, &row, topicSelect+" WHERE t.id = $1", id); err != nil {
		return school.Topic{}, trapNoRowsErr(err, school.ErrNotFound, "getting topic")
	}
	return row.toTopic(), nil
}

func (repo *schoolRepository) QueryTopics(ctx context.Context, q school.TopicQuery) ([]school.Topic, error) {
	var w where
	if q.CourseID != 0 {
		w.add("t.course_id = ?", q.CourseID)
	}
	if q.ModuleName != "" {
		w.add("t.module_name = ?", q.ModuleName)
	}

	var rows []topicRow
	if err := repo.db.SelectContext(ctx, &rows, w.query(topicSelect, " ORDER BY t.id"), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying topics")
	}
	topics := make([]school.Topic, 0, len(rows))
	for _, r := range rows {
		topics = append(topics, r.toTopic())
	}
	return topics, nil
}

func (repo *schoolRepository) DeleteTopic(ctx context.Context, id int) error {
	return repo.delete(ctx, "course_topics", id)
}

// Students

type studentRow struct {
	ID         int       `db:"id"`
	Name       string    `db:"name"`
	JoinDate   time.Time `db:"join_date"`
	EndDate    null.Time `db:"end_date"`
	Email      string    `db:"email"`
	Contact    string    `db:"contact"`
	Batch      string    `db:"batch"`
	Mode       string    `db:"mode"`
	CourseID   int       `db:"course_id"`
	CourseName string    `db:"course_name"`
	StaffID    int       `db:"staff_id"`
	StaffName  string    `db:"staff_name"`
}

func (r studentRow) toStudent() school.Student {
	return school.Student{
		ID:         r.ID,
		Name:       r.Name,
		JoinDate:   utcDate(r.JoinDate),
		EndDate:    utcNullDate(r.EndDate),
		Email:      r.Email,
		Contact:    r.Contact,
		Batch:      school.Batch(r.Batch),
		Mode:       school.Mode(r.Mode),
		CourseID:   r.CourseID,
		CourseName: r.CourseName,
		StaffID:    r.StaffID,
		StaffName:  r.StaffName,
	}
}

const studentSelect = `SELECT st.id, st.name, st.join_date, st.end_date, st.email, st.contact, st.batch, st.mode,
	st.course_id, c.name AS course_name, st.staff_id, sf.name AS staff_name
	FROM students st
	JOIN courses c ON c.id = st.course_id
	JOIN staff sf ON sf.id = st.staff_id`

var studentOrderColumns = map[string]string{
	"id":        "st.id",
	"name":      "st.name",
	"join_date": "st.join_date",
	"course":    "c.name",
	"staff":     "sf.name",
}

func (repo *schoolRepository) CreateStudent(ctx context.Context, s school.Student) (school.Student, error) {
	q := `INSERT INTO students (name, join_date, end_date, email, contact, batch, mode, course_id, staff_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err := repo.db.GetContext(ctx, &s.ID, q,
		s.Name, s.JoinDate, s.EndDate, s.Email, s.Contact, string(s.Batch), string(s.Mode), s.CourseID, s.StaffID)
	if err != nil {
		return school.Student{}, wrapSchoolErr(err, "inserting student")
	}
	return repo.GetStudent(ctx, s.ID)
}

func (repo *schoolRepository) UpdateStudent(ctx context.Context, s school.Student) (school.Student, error) {
	q := `UPDATE students SET name = $2, join_date = $3, end_date = $4, email = $5, contact = $6,
			batch = $7, mode = $8, course_id = $9, staff_id = $10
		WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, q,
		s.ID, s.Name, s.JoinDate, s.EndDate, s.Email, s.Contact, string(s.Batch), string(s.Mode), s.CourseID, s.StaffID)
	if err != nil {
		return school.Student{}, wrapSchoolErr(err, "updating student")
	}
	if err = rowsAffected(res, school.ErrNotFound, "updating student"); err != nil {
		return school.Student{}, err
	}
	return repo.GetStudent(ctx, s.ID)
}

func (repo *schoolRepository) GetStudent(ctx context.Context, id int) (school.Student, error) {
	var row studentRow
	if err := repo.db.GetContext(ctx, &row, studentSelect+" WHERE st.id = $1", id); err != nil {
		return school.Student{}, trapNoRowsErr(err, school.ErrNotFound, "getting student")
	}
	return row.toStudent(), nil
}

func (repo *schoolRepository) QueryStudents(ctx context.Context, q school.StudentQuery) ([]school.Student, error) {
	var w where
	if q.StaffID != 0 {
		w.add("st.staff_id = ?", q.StaffID)
	}
	if q.CourseID != 0 {
		w.add("st.course_id = ?", q.CourseID)
	}
	if q.Search != "" {
		w.add("st.name ILIKE ?", ilike(q.Search))
	}

	ordering := q.Ordering
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}

	var rows []studentRow
	query := w.query(studentSelect, orderBy(ordering, studentOrderColumns, "st.id ASC"))
	if err := repo.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]school.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.toStudent())
	}
	return students, nil
}

func (repo *schoolRepository) DeleteStudent(ctx context.Context, id int) error {
	return repo.delete(ctx, "students", id)
}

func (repo *schoolRepository) UpdateStudentSchedule(ctx context.Context, id, staffID int, batch school.Batch, mode school.Mode) error {
	res, err := repo.db.ExecContext(ctx,
		"UPDATE students SET batch = $3, mode = $4 WHERE id = $1 AND staff_id = $2",
		id, staffID, string(batch), string(mode))
	if err != nil {
		return errors.Wrap(err, "updating student schedule")
	}
	return rowsAffected(res, school.ErrNotFound, "updating student schedule")
}
