package sqlxrepos_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/progress"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
	"github.com/trezcool/rollbook/storage/database"
	sqlxrepos "github.com/trezcool/rollbook/storage/database/sqlx"
	"github.com/trezcool/rollbook/testutil"
)

type repos struct {
	db         *sqlx.DB
	users      user.Repository
	school     school.Repository
	progress   progress.Repository
	attendance attendance.Repository
}

// setup connects to the test database, or skips the test when none is configured.
func setup(t *testing.T) repos {
	t.Helper()
	if os.Getenv("TEST_DATABASE_HOST") == "" {
		t.Skip("TEST_DATABASE_HOST not set; skipping postgres tests")
	}

	conf := testutil.NewConfig()
	db, err := database.Setup(context.Background(), conf)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Exec("TRUNCATE users, staff, courses RESTART IDENTITY CASCADE")
		_ = db.Close()
	})

	return repos{
		db:         db,
		users:      sqlxrepos.NewUserRepository(db),
		school:     sqlxrepos.NewSchoolRepository(db),
		progress:   sqlxrepos.NewProgressRepository(db),
		attendance: sqlxrepos.NewAttendanceRepository(db),
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUserRepository(t *testing.T) {
	r := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, r.users, "Ann", "ann", "ann@test.in", "secret", []string{user.RoleStaff}, true)
	_ = testutil.CreateUser(t, r.users, "Nobody", "nobody", "", "secret", nil, true)

	got, err := r.users.GetUser(ctx, user.GetFilter{UsernameOrEmail: "ann@test.in"})
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)
	assert.Equal(t, []string{user.RoleStaff}, got.Roles)
	assert.True(t, got.LastLogin.IsZero())

	_, err = r.users.GetUser(ctx, user.GetFilter{Username: "bob"})
	assert.Equal(t, user.ErrNotFound, err)

	assert.Equal(t, user.ErrUsernameExists, r.users.CheckUsernameUniqueness(ctx, "ann", "x@test.in"))
	assert.Equal(t, user.ErrEmailExists, r.users.CheckUsernameUniqueness(ctx, "bob", "ann@test.in"))
	assert.NoError(t, r.users.CheckUsernameUniqueness(ctx, "ann", "ann@test.in", usr))
	assert.NoError(t, r.users.CheckUsernameUniqueness(ctx, "bob", ""), "empty emails never collide")

	usr.LastLogin = time.Now().UTC()
	usr.IsActive = false
	updated, err := r.users.UpdateUser(ctx, usr)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.WithinDuration(t, usr.LastLogin, updated.LastLogin, time.Millisecond)

	_, err = r.users.CreateUser(ctx, user.User{Name: "Ann 2", Username: "ann", PasswordHash: []byte("x")})
	assert.Equal(t, user.ErrUsernameExists, err)
}

func TestSchoolRepository(t *testing.T) {
	r := setup(t)
	ctx := context.Background()

	annUsr := testutil.CreateUser(t, r.users, "Ann", "ann", "ann@test.in", "", nil, true)
	bobUsr := testutil.CreateUser(t, r.users, "Bob", "bob", "bob@test.in", "", nil, true)
	ann := testutil.CreateStaff(t, r.school, annUsr.ID, "Ann", "ann@staff.test.in")
	bob := testutil.CreateStaff(t, r.school, bobUsr.ID, "Bob", "bob@staff.test.in")

	_, err := r.school.CreateStaff(ctx, school.Staff{UserID: annUsr.ID, Name: "Ann", Email: "other@staff.test.in"})
	assert.Equal(t, school.ErrStaffAlreadyLinked, err)

	goCourse := testutil.CreateCourse(t, r.school, "Go", bob.ID, ann.ID, 9999)
	assert.Equal(t, []school.StaffOption{ann.Option(), bob.Option()}, goCourse.Staff, "ordered by name, unknown IDs skipped")

	staff, err := r.school.QueryStaff(ctx, school.StaffQuery{CourseID: goCourse.ID})
	require.NoError(t, err)
	require.Len(t, staff, 2)
	assert.Equal(t, []string{"Go"}, staff[0].CourseNames)

	topic := testutil.CreateTopic(t, r.school, goCourse.ID, "Basics", "Types")
	_, err = r.school.CreateTopic(ctx, school.Topic{CourseID: goCourse.ID, ModuleName: "Basics", TopicName: "Types"})
	assert.Equal(t, school.ErrTopicExists, err)
	_, err = r.school.CreateTopic(ctx, school.Topic{CourseID: 9999, ModuleName: "Basics", TopicName: "Types"})
	assert.Equal(t, school.ErrInvalidCourse, err)

	zed := testutil.CreateStudent(t, r.school, "Zed", "zed@test.in", goCourse.ID, ann.ID)
	amy := testutil.CreateStudent(t, r.school, "Amy", "amy@test.in", goCourse.ID, bob.ID)
	assert.Equal(t, "Go", zed.CourseName)
	assert.Equal(t, "Ann", zed.StaffName)

	_, err = r.school.CreateStudent(ctx, school.Student{
		Name: "Dup", Email: "zed@test.in", JoinDate: day(2024, 1, 1),
		Batch: school.BatchMorning, Mode: school.ModeOnline, CourseID: goCourse.ID, StaffID: ann.ID,
	})
	assert.Equal(t, school.ErrStudentEmailExists, err)

	students, err := r.school.QueryStudents(ctx, school.StudentQuery{})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, amy.ID, students[0].ID, "default ordering is by name")

	students, err = r.school.QueryStudents(ctx, school.StudentQuery{
		Ordering: []core.DBOrdering{{Field: "staff", Ascending: false}},
	})
	require.NoError(t, err)
	assert.Equal(t, amy.ID, students[0].ID)

	assert.Equal(t, school.ErrNotFound,
		r.school.UpdateStudentSchedule(ctx, zed.ID, bob.ID, school.BatchAfternoon, school.ModeOnline),
		"schedule of another staff's student")
	require.NoError(t, r.school.UpdateStudentSchedule(ctx, zed.ID, ann.ID, school.BatchAfternoon, school.ModeOnline))
	zed, err = r.school.GetStudent(ctx, zed.ID)
	require.NoError(t, err)
	assert.Equal(t, school.BatchAfternoon, zed.Batch)
	assert.Equal(t, day(2024, 1, 8), zed.JoinDate)

	require.NoError(t, r.school.DeleteCourse(ctx, goCourse.ID))
	_, err = r.school.GetTopic(ctx, topic.ID)
	assert.Equal(t, school.ErrNotFound, err, "topics are deleted with their course")
	_, err = r.school.GetStudent(ctx, amy.ID)
	assert.Equal(t, school.ErrNotFound, err, "students are deleted with their course")
	assert.Equal(t, school.ErrNotFound, r.school.DeleteCourse(ctx, goCourse.ID))
}

func TestProgressRepository(t *testing.T) {
	r := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, r.users, "Ann", "ann", "ann@test.in", "", nil, true)
	ann := testutil.CreateStaff(t, r.school, usr.ID, "Ann", "ann@staff.test.in")
	course := testutil.CreateCourse(t, r.school, "Go", ann.ID)
	t1 := testutil.CreateTopic(t, r.school, course.ID, "Basics", "Types")
	t2 := testutil.CreateTopic(t, r.school, course.ID, "Basics", "Loops")
	student := testutil.CreateStudent(t, r.school, "Zed", "zed@test.in", course.ID, ann.ID)

	require.NoError(t, r.progress.EnsureProgress(ctx, student.ID, []int{t1.ID}))
	rows, err := r.progress.QueryProgress(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows[0].Marks = null.IntFrom(80)
	rows[0].StartDate = null.TimeFrom(day(2024, 2, 1))
	rows[0].Sign = "Ann"
	require.NoError(t, r.progress.SaveProgress(ctx, rows))

	require.NoError(t, r.progress.EnsureProgress(ctx, student.ID, []int{t1.ID, t2.ID}))
	rows, err = r.progress.QueryProgress(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, t1.ID, rows[0].TopicID)
	assert.Equal(t, null.IntFrom(80), rows[0].Marks, "existing rows are left untouched")
	assert.Equal(t, day(2024, 2, 1), rows[0].StartDate.Time)
	assert.Equal(t, "Loops", rows[1].TopicName)
	assert.False(t, rows[1].Marks.Valid)

	rows[1].Sign = "Ann"
	bad := progress.Progress{ID: 9999}
	assert.Equal(t, school.ErrNotFound, r.progress.SaveProgress(ctx, []progress.Progress{rows[1], bad}))
	rows, err = r.progress.QueryProgress(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, "", rows[1].Sign, "a failed save leaves every row unchanged")

	assert.Equal(t, school.ErrNotFound, r.progress.EnsureProgress(ctx, student.ID, []int{9999}))
}

func TestAttendanceRepository(t *testing.T) {
	r := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, r.users, "Ann", "ann", "ann@test.in", "", nil, true)
	ann := testutil.CreateStaff(t, r.school, usr.ID, "Ann", "ann@staff.test.in")
	course := testutil.CreateCourse(t, r.school, "Go", ann.ID)
	zed := testutil.CreateStudent(t, r.school, "Zed", "zed@test.in", course.ID, ann.ID)
	amy := testutil.CreateStudent(t, r.school, "Amy", "amy@test.in", course.ID, ann.ID)

	monday := day(2024, 3, 4)
	require.NoError(t, r.attendance.UpsertStudentAttendance(ctx, []attendance.StudentAttendance{
		{StudentID: zed.ID, Date: monday, Present: true},
		{StudentID: amy.ID, Date: monday, Present: true},
	}))
	require.NoError(t, r.attendance.UpsertStudentAttendance(ctx, []attendance.StudentAttendance{
		{StudentID: zed.ID, Date: monday, Present: false},
	}))

	rows, err := r.attendance.QueryStudentAttendance(ctx, attendance.Query{
		Date:     monday,
		Ordering: []core.DBOrdering{{Field: "student", Ascending: true}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2, "one record per student and day")
	assert.Equal(t, "Amy", rows[0].StudentName)
	assert.True(t, rows[0].Present)
	assert.False(t, rows[1].Present, "last write wins")
	assert.Equal(t, monday, rows[1].Date)

	rows, err = r.attendance.QueryStudentAttendance(ctx, attendance.Query{StudentIDs: []int{}})
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = r.attendance.UpsertStudentAttendance(ctx, []attendance.StudentAttendance{{StudentID: 9999, Date: monday}})
	assert.Equal(t, school.ErrNotFound, err)

	_, err = r.attendance.LatestCheckIn(ctx, ann.ID, monday)
	assert.Equal(t, attendance.ErrNotFound, err)

	first := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	_, err = r.attendance.CreateCheckIn(ctx, attendance.CheckIn{StaffID: ann.ID, Date: monday, Time: first})
	require.NoError(t, err)
	second, err := r.attendance.CreateCheckIn(ctx, attendance.CheckIn{StaffID: ann.ID, Date: monday, Time: first.Add(time.Hour), WifiVerified: true})
	require.NoError(t, err)
	assert.Equal(t, "Ann", second.StaffName)

	latest, err := r.attendance.LatestCheckIn(ctx, ann.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.True(t, latest.WifiVerified)

	checkIns, err := r.attendance.QueryCheckIns(ctx, attendance.Query{Search: "an"})
	require.NoError(t, err)
	assert.Len(t, checkIns, 2)
}
