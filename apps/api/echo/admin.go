package echoapi

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/school"
)

const adminPrefix = "/admin"

type adminApi struct {
	schoolSvc     *school.Service
	attendanceSvc *attendance.Service
	translator    ut.Translator
}

func registerAdminRoutes(app *echo.Echo, deps ServerDeps) {
	api := adminApi{
		schoolSvc:     deps.SchoolSvc,
		attendanceSvc: deps.AttendanceSvc,
		translator:    deps.Translator,
	}

	g := app.Group(adminPrefix, loginRequired, adminMiddleware)
	g.GET("", api.index)

	// staff accounts are created with `rollbook-admin addstaff`
	g.GET("/staff", api.staffList)
	g.GET("/staff/:id/edit", api.staffForm)
	g.POST("/staff/:id/edit", api.saveStaff)
	g.GET("/staff/:id/delete", api.confirmDelete(api.staffDeletion))
	g.POST("/staff/:id/delete", api.delete(api.staffDeletion))

	g.GET("/courses", api.courseList)
	g.GET("/courses/new", api.courseForm)
	g.POST("/courses/new", api.saveCourse)
	g.GET("/courses/:id/edit", api.courseForm)
	g.POST("/courses/:id/edit", api.saveCourse)
	g.GET("/courses/:id/delete", api.confirmDelete(api.courseDeletion))
	g.POST("/courses/:id/delete", api.delete(api.courseDeletion))

	g.GET("/topics", api.topicList)
	g.GET("/topics/new", api.topicForm)
	g.POST("/topics/new", api.saveTopic)
	g.GET("/topics/:id/edit", api.topicForm)
	g.POST("/topics/:id/edit", api.saveTopic)
	g.GET("/topics/:id/delete", api.confirmDelete(api.topicDeletion))
	g.POST("/topics/:id/delete", api.delete(api.topicDeletion))

	g.GET("/students", api.studentList)
	g.GET("/students/get_staff", api.getStaff)
	g.GET("/students/new", api.studentForm)
	g.POST("/students/new", api.saveStudent)
	g.GET("/students/:id/edit", api.studentForm)
	g.POST("/students/:id/edit", api.saveStudent)
	g.GET("/students/:id/delete", api.confirmDelete(api.studentDeletion))
	g.POST("/students/:id/delete", api.delete(api.studentDeletion))

	g.GET("/attendance", api.attendanceList)
	g.GET("/checkins", api.checkInList)
}

func (api *adminApi) index(ctx echo.Context) error {
	return render(ctx, http.StatusOK, "admin/index", nil)
}

// Staff

func (api *adminApi) staffList(ctx echo.Context) error {
	staff, err := api.schoolSvc.QueryStaff(ctx.Request().Context(), school.StaffQuery{
		Search:   core.CleanString(ctx.QueryParam("q")),
		CourseID: intParam(ctx.QueryParam("course")),
	})
	if err != nil {
		return errors.Wrap(err, "querying staff")
	}
	courses, err := api.schoolSvc.QueryCourses(ctx.Request().Context(), school.CourseQuery{})
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	return render(ctx, http.StatusOK, "admin/staff_list", echo.Map{
		"Staff":   staff,
		"Courses": courses,
	})
}

func (api *adminApi) staffForm(ctx echo.Context) error {
	s, err := api.schoolSvc.GetStaff(ctx.Request().Context(), intParam(ctx.Param("id")))
	if err != nil {
		return err
	}
	form := school.StaffForm{Name: s.Name, Contact: s.Contact, Email: s.Email}
	return render(ctx, http.StatusOK, "admin/staff_form", echo.Map{"Staff": s, "Form": form})
}

func (api *adminApi) saveStaff(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	s, err := api.schoolSvc.GetStaff(reqCtx, intParam(ctx.Param("id")))
	if err != nil {
		return err
	}
	var form school.StaffForm
	if err = ctx.Bind(&form); err != nil {
		return errors.Wrap(err, "binding to StaffForm")
	}

	if _, err = api.schoolSvc.SaveStaff(reqCtx, s.ID, 0, form); err != nil {
		if core.IsValidationError(err) {
			return render(ctx, http.StatusBadRequest, "admin/staff_form", echo.Map{
				"Staff":  s,
				"Form":   form,
				"Errors": core.FieldErrors(err, api.translator),
			})
		}
		return err
	}
	return redirectWithFlash(ctx, adminPrefix+"/staff", "Staff \""+form.Name+"\" saved.")
}

// Courses

func (api *adminApi) courseList(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	courses, err := api.schoolSvc.QueryCourses(reqCtx, school.CourseQuery{
		Search:  core.CleanString(ctx.QueryParam("q")),
		StaffID: intParam(ctx.QueryParam("staff")),
	})
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	staff, err := api.schoolSvc.StaffFilterOptions(reqCtx, 0)
	if err != nil {
		return errors.Wrap(err, "querying staff")
	}
	return render(ctx, http.StatusOK, "admin/course_list", echo.Map{
		"Courses":      courses,
		"StaffOptions": staff,
	})
}

func (api *adminApi) courseForm(ctx echo.Context) error {
	var (
		c    school.Course
		form school.CourseForm
		err  error
	)
	if id := ctx.Param("id"); id != "" {
		if c, err = api.schoolSvc.GetCourse(ctx.Request().Context(), intParam(id)); err != nil {
			return err
		}
		form = school.CourseForm{Name: c.Name, StaffIDs: c.StaffIDs()}
	}
	return api.renderCourseForm(ctx, http.StatusOK, c, form, nil)
}

func (api *adminApi) renderCourseForm(ctx echo.Context, code int, c school.Course, form school.CourseForm, fldErrs map[string]string) error {
	staff, err := api.schoolSvc.StaffFilterOptions(ctx.Request().Context(), 0)
	if err != nil {
		return errors.Wrap(err, "querying staff")
	}
	return render(ctx, code, "admin/course_form", echo.Map{
		"Course":       c,
		"Form":         form,
		"StaffOptions": staff,
		"Errors":       fldErrs,
	})
}

func (api *adminApi) saveCourse(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	var (
		c   school.Course
		err error
	)
	if id := ctx.Param("id"); id != "" {
		if c, err = api.schoolSvc.GetCourse(reqCtx, intParam(id)); err != nil {
			return err
		}
	}
	var form school.CourseForm
	if err = ctx.Bind(&form); err != nil {
		return errors.Wrap(err, "binding to CourseForm")
	}

	if _, err = api.schoolSvc.SaveCourse(reqCtx, c.ID, form); err != nil {
		if core.IsValidationError(err) {
			return api.renderCourseForm(ctx, http.StatusBadRequest, c, form, core.FieldErrors(err, api.translator))
		}
		return err
	}
	return redirectWithFlash(ctx, adminPrefix+"/courses", "Course \""+form.Name+"\" saved.")
}

// Topics

func (api *adminApi) topicList(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	topics, err := api.schoolSvc.QueryTopics(reqCtx, school.TopicQuery{
		CourseID:   intParam(ctx.QueryParam("course")),
		ModuleName: core.CleanString(ctx.QueryParam("module")),
	})
	if err != nil {
		return errors.Wrap(err, "querying topics")
	}
	courses, err := api.schoolSvc.QueryCourses(reqCtx, school.CourseQuery{})
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	return render(ctx, http.StatusOK, "admin/topic_list", echo.Map{
		"Topics":  topics,
		"Courses": courses,
		"Modules": moduleNames(topics),
	})
}

func moduleNames(topics []school.Topic) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, t := range topics {
		if _, ok := seen[t.ModuleName]; !ok {
			seen[t.ModuleName] = struct{}{}
			names = append(names, t.ModuleName)
		}
	}
	sort.Strings(names)
	return names
}

func (api *adminApi) topicForm(ctx echo.Context) error {
	var (
		t    school.Topic
		form = school.TopicForm{CourseID: intParam(ctx.QueryParam("course"))}
		err  error
	)
	if id := ctx.Param("id"); id != "" {
		if t, err = api.schoolSvc.GetTopic(ctx.Request().Context(), intParam(id)); err != nil {
			return err
		}
		form = school.TopicForm{CourseID: t.CourseID, ModuleName: t.ModuleName, TopicName: t.TopicName}
	}
	return api.renderTopicForm(ctx, http.StatusOK, t, form, nil)
}

func (api *adminApi) renderTopicForm(ctx echo.Context, code int, t school.Topic, form school.TopicForm, fldErrs map[string]string) error {
	courses, err := api.schoolSvc.QueryCourses(ctx.Request().Context(), school.CourseQuery{})
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	return render(ctx, code, "admin/topic_form", echo.Map{
		"Topic":   t,
		"Form":    form,
		"Courses": courses,
		"Errors":  fldErrs,
	})
}

func (api *adminApi) saveTopic(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	var (
		t   school.Topic
		err error
	)
	if id := ctx.Param("id"); id != "" {
		if t, err = api.schoolSvc.GetTopic(reqCtx, intParam(id)); err != nil {
			return err
		}
	}
	var form school.TopicForm
	if err = ctx.Bind(&form); err != nil {
		return errors.Wrap(err, "binding to TopicForm")
	}

	if _, err = api.schoolSvc.SaveTopic(reqCtx, t.ID, form); err != nil {
		if core.IsValidationError(err) {
			return api.renderTopicForm(ctx, http.StatusBadRequest, t, form, core.FieldErrors(err, api.translator))
		}
		return err
	}
	return redirectWithFlash(ctx, adminPrefix+"/topics?course="+strconv.Itoa(form.CourseID), "Topic saved.")
}

// Students

func (api *adminApi) studentList(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	courseID := intParam(ctx.QueryParam("course"))

	var ord Ordering
	ord.Bind(ctx, mapKeys(school.StudentOrderingFields)...)
	students, err := api.schoolSvc.QueryStudents(reqCtx, school.StudentQuery{
		StaffID:  intParam(ctx.QueryParam("staff")),
		CourseID: courseID,
		Search:   core.CleanString(ctx.QueryParam("q")),
		Ordering: mapOrdering(ord.Orderings, school.StudentOrderingFields),
	})
	if err != nil {
		return errors.Wrap(err, "querying students")
	}

	courses, err := api.schoolSvc.QueryCourses(reqCtx, school.CourseQuery{})
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	// the staff filter only offers the selected course's staff
	staff, err := api.schoolSvc.StaffFilterOptions(reqCtx, courseID)
	if err != nil {
		return errors.Wrap(err, "querying staff")
	}
	return render(ctx, http.StatusOK, "admin/student_list", echo.Map{
		"Students":     students,
		"Courses":      courses,
		"StaffOptions": staff,
	})
}

// getStaff feeds the dependent staff dropdown of the student form.
func (api *adminApi) getStaff(ctx echo.Context) error {
	opts, err := api.schoolSvc.EligibleStaff(ctx.Request().Context(), intParam(ctx.QueryParam("course_id")))
	if err != nil {
		return errors.Wrap(err, "querying eligible staff")
	}
	return ctx.JSON(http.StatusOK, opts)
}

func (api *adminApi) studentForm(ctx echo.Context) error {
	var (
		s    school.Student
		form = school.StudentForm{
			JoinDate: core.FormatDate(api.attendanceSvc.Today()),
			Batch:    school.BatchMorning,
			Mode:     school.ModeOffline,
		}
		err error
	)
	if id := ctx.Param("id"); id != "" {
		if s, err = api.schoolSvc.GetStudent(ctx.Request().Context(), intParam(id)); err != nil {
			return err
		}
		form = school.StudentFormFrom(s)
	}
	return api.renderStudentForm(ctx, http.StatusOK, s, form, nil)
}

func (api *adminApi) renderStudentForm(ctx echo.Context, code int, s school.Student, form school.StudentForm, fldErrs map[string]string) error {
	reqCtx := ctx.Request().Context()
	courses, err := api.schoolSvc.QueryCourses(reqCtx, school.CourseQuery{})
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	staff, err := api.schoolSvc.EligibleStaff(reqCtx, form.CourseID)
	if err != nil {
		return errors.Wrap(err, "querying eligible staff")
	}
	return render(ctx, code, "admin/student_form", echo.Map{
		"Student":      s,
		"Form":         form,
		"Courses":      courses,
		"StaffOptions": staff,
		"Errors":       fldErrs,
	})
}

func (api *adminApi) saveStudent(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	var (
		s   school.Student
		err error
	)
	if id := ctx.Param("id"); id != "" {
		if s, err = api.schoolSvc.GetStudent(reqCtx, intParam(id)); err != nil {
			return err
		}
	}
	var form school.StudentForm
	if err = ctx.Bind(&form); err != nil {
		return errors.Wrap(err, "binding to StudentForm")
	}

	saved, err := api.schoolSvc.SaveStudent(reqCtx, s.ID, form)
	if err != nil {
		if core.IsValidationError(err) {
			return api.renderStudentForm(ctx, http.StatusBadRequest, s, form, core.FieldErrors(err, api.translator))
		}
		return err
	}
	return redirectWithFlash(ctx, adminPrefix+"/students", "Student \""+saved.Name+"\" saved, assigned to "+saved.StaffName+".")
}

// Attendance

func (api *adminApi) attendanceList(ctx echo.Context) error {
	var ord Ordering
	ord.Bind(ctx, mapKeys(attendance.OrderingFields)...)
	q := attendance.Query{
		StaffID:  intParam(ctx.QueryParam("staff")),
		Date:     dateParam(ctx.QueryParam("date")),
		Search:   core.CleanString(ctx.QueryParam("q")),
		Ordering: mapOrdering(ord.Orderings, attendance.OrderingFields),
	}
	rows, err := api.attendanceSvc.QueryStudentAttendance(ctx.Request().Context(), q)
	if err != nil {
		return errors.Wrap(err, "querying student attendance")
	}
	return render(ctx, http.StatusOK, "admin/attendance_list", echo.Map{"Rows": rows})
}

func (api *adminApi) checkInList(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	rows, err := api.attendanceSvc.QueryCheckIns(reqCtx, attendance.Query{
		StaffID: intParam(ctx.QueryParam("staff")),
		Date:    dateParam(ctx.QueryParam("date")),
		Search:  core.CleanString(ctx.QueryParam("q")),
	})
	if err != nil {
		return errors.Wrap(err, "querying check-ins")
	}
	staff, err := api.schoolSvc.StaffFilterOptions(reqCtx, 0)
	if err != nil {
		return errors.Wrap(err, "querying staff")
	}
	return render(ctx, http.StatusOK, "admin/checkin_list", echo.Map{
		"Rows":         rows,
		"StaffOptions": staff,
	})
}

// Deletion

// deletion describes the removal of one record of an admin listing.
type deletion struct {
	kind    string
	listURL string
	label   func(ctx context.Context, id int) (string, error)
	delete  func(ctx context.Context, id int) error
}

func (api *adminApi) staffDeletion() deletion {
	return deletion{
		kind:    "staff",
		listURL: adminPrefix + "/staff",
		label: func(ctx context.Context, id int) (string, error) {
			s, err := api.schoolSvc.GetStaff(ctx, id)
			return s.Name, err
		},
		delete: api.schoolSvc.DeleteStaff,
	}
}

func (api *adminApi) courseDeletion() deletion {
	return deletion{
		kind:    "course",
		listURL: adminPrefix + "/courses",
		label: func(ctx context.Context, id int) (string, error) {
			c, err := api.schoolSvc.GetCourse(ctx, id)
			return c.Name, err
		},
		delete: api.schoolSvc.DeleteCourse,
	}
}

func (api *adminApi) topicDeletion() deletion {
	return deletion{
		kind:    "topic",
		listURL: adminPrefix + "/topics",
		label: func(ctx context.Context, id int) (string, error) {
			t, err := api.schoolSvc.GetTopic(ctx, id)
			return t.String(), err
		},
		delete: api.schoolSvc.DeleteTopic,
	}
}

func (api *adminApi) studentDeletion() deletion {
	return deletion{
		kind:    "student",
		listURL: adminPrefix + "/students",
		label: func(ctx context.Context, id int) (string, error) {
			s, err := api.schoolSvc.GetStudent(ctx, id)
			return s.String(), err
		},
		delete: api.schoolSvc.DeleteStudent,
	}
}

func (api *adminApi) confirmDelete(d func() deletion) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		del := d()
		label, err := del.label(ctx.Request().Context(), intParam(ctx.Param("id")))
		if err != nil {
			return err
		}
		return render(ctx, http.StatusOK, "admin/confirm_delete", echo.Map{
			"Kind":    del.kind,
			"Label":   label,
			"ListURL": del.listURL,
		})
	}
}

func (api *adminApi) delete(d func() deletion) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		del := d()
		reqCtx := ctx.Request().Context()
		id := intParam(ctx.Param("id"))
		label, err := del.label(reqCtx, id)
		if err != nil {
			return err
		}
		if err = del.delete(reqCtx, id); err != nil {
			return errors.Wrapf(err, "deleting %s", del.kind)
		}
		return redirectWithFlash(ctx, del.listURL, "Deleted "+del.kind+" \""+label+"\".")
	}
}

// Helpers

func mapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func mapOrdering(ords []core.DBOrdering, fields map[string]string) []core.DBOrdering {
	out := make([]core.DBOrdering, 0, len(ords))
	for _, o := range ords {
		out = append(out, core.DBOrdering{Field: fields[o.Field], Ascending: o.Ascending})
	}
	return out
}

// dateParam parses an optional date filter; invalid input disables the filter.
func dateParam(s string) (t time.Time) {
	if d, err := core.ParseDate(s); err == nil {
		t = d
	}
	return
}
