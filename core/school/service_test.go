package school_test

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
	inmemdb "github.com/trezcool/rollbook/storage/database/inmem"
	"github.com/trezcool/rollbook/testutil"
)

type fixture struct {
	repo   school.Repository
	svc    *school.Service
	ann    school.Staff
	bob    school.Staff
	cid    school.Staff
	goLang school.Course
	rust   school.Course
	empty  school.Course
}

func setup(t *testing.T) fixture {
	db, _ := inmemdb.Open()
	repo := inmemdb.NewSchoolRepository(db)
	validate, _ := testutil.NewValidator()

	f := fixture{repo: repo, svc: school.NewService(repo, validate)}
	f.cid = testutil.CreateStaff(t, repo, 1, "Cid", "cid@test.test")
	f.bob = testutil.CreateStaff(t, repo, 2, "Bob", "bob@test.test")
	f.ann = testutil.CreateStaff(t, repo, 3, "Ann", "ann@test.test")
	f.goLang = testutil.CreateCourse(t, repo, "Go", f.cid.ID, f.bob.ID)
	f.rust = testutil.CreateCourse(t, repo, "Rust", f.ann.ID)
	f.empty = testutil.CreateCourse(t, repo, "Empty")
	return f
}

func validStudentForm(courseID, staffID int) school.StudentForm {
	return school.StudentForm{
		Name:     " Jane ",
		JoinDate: "2024-01-08",
		CourseID: courseID,
		StaffID:  staffID,
		Email:    "Jane@Test.test",
		Batch:    school.BatchAfternoon,
		Mode:     school.ModeOnline,
	}
}

func TestService_EligibleStaff(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		courseID int
		want     []school.StaffOption
	}{
		{name: "ordered by name", courseID: f.goLang.ID, want: []school.StaffOption{f.bob.Option(), f.cid.Option()}},
		{name: "single staff", courseID: f.rust.ID, want: []school.StaffOption{f.ann.Option()}},
		{name: "no staff", courseID: f.empty.ID, want: []school.StaffOption{}},
		{name: "unknown course", courseID: 9999, want: []school.StaffOption{}},
		{name: "no course", courseID: 0, want: []school.StaffOption{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.EligibleStaff(ctx, tt.courseID)
			if assert.NoError(t, err) {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestService_SaveStudent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("keeps eligible staff", func(t *testing.T) {
		s, err := f.svc.SaveStudent(ctx, 0, validStudentForm(f.goLang.ID, f.cid.ID))
		require.NoError(t, err)
		assert.Equal(t, f.cid.ID, s.StaffID)
		assert.Equal(t, "Jane", s.Name)
		assert.Equal(t, "jane@test.test", s.Email)
		assert.Equal(t, "Go", s.CourseName)
		assert.Equal(t, "Cid", s.StaffName)
		assert.False(t, s.EndDate.Valid)
	})

	t.Run("auto assigns first eligible staff", func(t *testing.T) {
		form := validStudentForm(f.goLang.ID, f.ann.ID) // Ann does not teach Go
		form.Email = "john@test.test"
		s, err := f.svc.SaveStudent(ctx, 0, form)
		require.NoError(t, err)
		assert.Equal(t, f.bob.ID, s.StaffID)
	})

	t.Run("auto assigns when staff is missing", func(t *testing.T) {
		form := validStudentForm(f.rust.ID, 0)
		form.Email = "jim@test.test"
		s, err := f.svc.SaveStudent(ctx, 0, form)
		require.NoError(t, err)
		assert.Equal(t, f.ann.ID, s.StaffID)
	})

	t.Run("course without staff", func(t *testing.T) {
		form := validStudentForm(f.empty.ID, f.ann.ID)
		form.Email = "joe@test.test"
		_, err := f.svc.SaveStudent(ctx, 0, form)
		require.Error(t, err)
		flds := core.FieldErrors(err, nil)
		assert.Contains(t, flds, "course")
	})

	t.Run("unknown course", func(t *testing.T) {
		form := validStudentForm(9999, f.ann.ID)
		form.Email = "joe@test.test"
		_, err := f.svc.SaveStudent(ctx, 0, form)
		assert.True(t, core.IsValidationError(err))
	})

	t.Run("end before join", func(t *testing.T) {
		form := validStudentForm(f.rust.ID, f.ann.ID)
		form.Email = "joe@test.test"
		form.EndDate = "2024-01-01"
		_, err := f.svc.SaveStudent(ctx, 0, form)
		require.Error(t, err)
		assert.Contains(t, core.FieldErrors(err, nil), "end_date")
	})

	t.Run("invalid fields", func(t *testing.T) {
		_, translator := testutil.NewValidator()
		form := school.StudentForm{JoinDate: "08/01/2024", Batch: "night", Mode: "remote"}
		_, err := f.svc.SaveStudent(ctx, 0, form)
		require.Error(t, err)
		flds := core.FieldErrors(err, translator)
		for _, fld := range []string{"name", "join_date", "course", "email", "batch", "mode"} {
			assert.Contains(t, flds, fld)
		}
	})

	t.Run("overlong fields", func(t *testing.T) {
		form := validStudentForm(f.goLang.ID, f.bob.ID)
		form.Name = strings.Repeat("n", 101)
		form.Email = longEmail()
		form.Contact = strings.Repeat("9", 21)
		_, err := f.svc.SaveStudent(ctx, 0, form)
		require.Error(t, err)
		flds := core.FieldErrors(err, nil)
		for _, fld := range []string{"name", "email", "contact"} {
			assert.Contains(t, flds, fld)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := f.svc.SaveStudent(ctx, 0, validStudentForm(f.goLang.ID, f.bob.ID))
		require.Error(t, err)
		assert.Contains(t, core.FieldErrors(err, nil), "email")
	})

	t.Run("update moves to eligible staff", func(t *testing.T) {
		s := testutil.CreateStudent(t, f.repo, "Moe", "moe@test.test", f.goLang.ID, f.cid.ID)
		form := school.StudentFormFrom(s)
		form.CourseID = f.rust.ID
		form.EndDate = "2024-06-30"
		got, err := f.svc.SaveStudent(ctx, s.ID, form)
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
		assert.Equal(t, f.ann.ID, got.StaffID)
		assert.True(t, got.EndDate.Valid)
	})
}

func TestService_StudentForStaff(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	mine := testutil.CreateStudent(t, f.repo, "Mine", "mine@test.test", f.goLang.ID, f.bob.ID)
	theirs := testutil.CreateStudent(t, f.repo, "Theirs", "theirs@test.test", f.goLang.ID, f.cid.ID)

	tests := []struct {
		name    string
		id      int
		wantErr error
	}{
		{name: "own student", id: mine.ID},
		{name: "foreign student", id: theirs.ID, wantErr: school.ErrNotOwner},
		{name: "unknown student", id: 9999, wantErr: school.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := f.svc.StudentForStaff(ctx, f.bob, tt.id)
			assert.Equal(t, tt.wantErr, errors.Cause(err))
			if tt.wantErr == nil {
				assert.Equal(t, mine.ID, s.ID)
			}
		})
	}
}

func TestService_Roster(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.CreateStudent(t, f.repo, "Zoe", "zoe@test.test", f.goLang.ID, f.bob.ID)
	testutil.CreateStudent(t, f.repo, "Abe", "abe@test.test", f.goLang.ID, f.bob.ID)
	testutil.CreateStudent(t, f.repo, "Other", "other@test.test", f.goLang.ID, f.cid.ID)

	roster, err := f.svc.Roster(ctx, f.bob)
	require.NoError(t, err)
	if assert.Len(t, roster, 2) {
		assert.Equal(t, "Abe", roster[0].Name)
		assert.Equal(t, "Zoe", roster[1].Name)
	}

	roster, err = f.svc.Roster(ctx, f.ann)
	require.NoError(t, err)
	assert.Empty(t, roster)
}

func TestService_UpdateSchedule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	mine := testutil.CreateStudent(t, f.repo, "Mine", "mine@test.test", f.goLang.ID, f.bob.ID)
	theirs := testutil.CreateStudent(t, f.repo, "Theirs", "theirs@test.test", f.goLang.ID, f.cid.ID)

	err := f.svc.UpdateSchedule(ctx, f.bob, school.ScheduleForm{StudentID: mine.ID, Batch: school.BatchAfternoon, Mode: school.ModeOnline})
	require.NoError(t, err)
	got, _ := f.svc.GetStudent(ctx, mine.ID)
	assert.Equal(t, school.BatchAfternoon, got.Batch)
	assert.Equal(t, school.ModeOnline, got.Mode)

	err = f.svc.UpdateSchedule(ctx, f.bob, school.ScheduleForm{StudentID: theirs.ID, Batch: school.BatchAfternoon, Mode: school.ModeOnline})
	assert.Equal(t, school.ErrNotFound, errors.Cause(err))
	got, _ = f.svc.GetStudent(ctx, theirs.ID)
	assert.Equal(t, school.BatchMorning, got.Batch)

	err = f.svc.UpdateSchedule(ctx, f.bob, school.ScheduleForm{StudentID: mine.ID, Batch: "evening", Mode: school.ModeOnline})
	assert.True(t, core.IsValidationError(err))
}

func TestService_Courses(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.svc.SaveCourse(ctx, 0, school.CourseForm{Name: " Python ", StaffIDs: []int{f.cid.ID, f.ann.ID, f.ann.ID}})
	require.NoError(t, err)
	assert.Equal(t, "Python", c.Name)
	assert.Equal(t, "Ann, Cid", c.StaffNames())
	assert.Equal(t, "Python (Ann, Cid)", c.Label())

	c, err = f.svc.SaveCourse(ctx, c.ID, school.CourseForm{Name: "Python", StaffIDs: []int{f.bob.ID}})
	require.NoError(t, err)
	assert.Equal(t, "Bob", c.StaffNames())

	_, err = f.svc.SaveCourse(ctx, 0, school.CourseForm{Name: "Bad", StaffIDs: []int{9999}})
	assert.Contains(t, core.FieldErrors(err, nil), "staff")

	bob, err := f.svc.GetStaff(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go, Python", bob.Courses())

	opts, err := f.svc.StaffFilterOptions(ctx, f.goLang.ID)
	require.NoError(t, err)
	assert.Equal(t, []school.StaffOption{f.bob.Option(), f.cid.Option()}, opts)

	opts, err = f.svc.StaffFilterOptions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	// Bob still has a Python student
	testutil.CreateStudent(t, f.repo, "Kim", "kim@test.test", c.ID, f.bob.ID)
	_, err = f.svc.SaveCourse(ctx, c.ID, school.CourseForm{Name: "Python", StaffIDs: []int{f.ann.ID}})
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))
	assert.Equal(t, "Bob: "+school.ErrStaffHasStudents.Error(), core.FieldErrors(err, nil)["staff"])
	c, err = f.svc.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", c.StaffNames())

	// keeping Bob while adding Ann is fine
	c, err = f.svc.SaveCourse(ctx, c.ID, school.CourseForm{Name: "Python 3", StaffIDs: []int{f.ann.ID, f.bob.ID}})
	require.NoError(t, err)
	assert.Equal(t, "Ann, Bob", c.StaffNames())
}

func TestService_Topics(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.SaveTopic(ctx, 0, school.TopicForm{CourseID: f.goLang.ID, ModuleName: "Basics", TopicName: "Types"})
	require.NoError(t, err)
	_, err = f.svc.SaveTopic(ctx, 0, school.TopicForm{CourseID: f.goLang.ID, ModuleName: "Basics", TopicName: "Loops"})
	require.NoError(t, err)

	_, err = f.svc.SaveTopic(ctx, 0, school.TopicForm{CourseID: f.goLang.ID, ModuleName: "Basics", TopicName: "Types"})
	assert.Contains(t, core.FieldErrors(err, nil), "topic_name")

	_, err = f.svc.SaveTopic(ctx, 0, school.TopicForm{CourseID: 9999, ModuleName: "Basics", TopicName: "Types"})
	assert.Contains(t, core.FieldErrors(err, nil), "course")

	topics, err := f.svc.QueryTopics(ctx, school.TopicQuery{CourseID: f.goLang.ID})
	require.NoError(t, err)
	if assert.Len(t, topics, 2) {
		assert.Equal(t, first.ID, topics[0].ID) // insertion order
		assert.Equal(t, "Go", topics[0].CourseName)
	}
}

func TestService_StaffForUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s, err := f.svc.StaffForUser(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, s.ID)

	_, err = f.svc.StaffForUser(ctx, 9999)
	assert.Equal(t, school.ErrNoStaffProfile, err)

	_, err = f.svc.SaveStaff(ctx, 0, 2, school.StaffForm{Name: "Bobby", Email: "bobby@test.test"})
	assert.Contains(t, core.FieldErrors(err, nil), "user")

	_, err = f.svc.SaveStaff(ctx, f.cid.ID, 0, school.StaffForm{Name: "Cid", Email: "ANN@test.test"})
	assert.Contains(t, core.FieldErrors(err, nil), "email")

	_, err = f.svc.SaveStaff(ctx, f.cid.ID, 0, school.StaffForm{Name: "Cid", Email: longEmail()})
	assert.Contains(t, core.FieldErrors(err, nil), "email")
}

// longEmail is a well-formed address longer than the 254 characters the column holds.
func longEmail() string {
	labels := make([]string, 0, 5)
	for _, c := range "bcdef" {
		labels = append(labels, strings.Repeat(string(c), 60))
	}
	return strings.Repeat("a", 60) + "@" + strings.Join(labels, ".") + ".test"
}

func TestService_DeleteCascades(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := testutil.CreateStudent(t, f.repo, "Gone", "gone@test.test", f.goLang.ID, f.bob.ID)

	require.NoError(t, f.svc.DeleteStaff(ctx, f.bob.ID))
	_, err := f.svc.GetStudent(ctx, s.ID)
	assert.Equal(t, school.ErrNotFound, errors.Cause(err))

	c, err := f.svc.GetCourse(ctx, f.goLang.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cid", c.StaffNames())
}
