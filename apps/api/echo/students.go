package echoapi

import (
	"net"
	"net/http"
	"strconv"

	ut "github.com/go-playground/universal-translator"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/progress"
	"github.com/trezcool/rollbook/core/school"
)

// staffApi serves the pages of principals holding a Staff profile.
// Every record it shows is scoped to that profile.
type staffApi struct {
	schoolSvc     *school.Service
	progressSvc   *progress.Service
	attendanceSvc *attendance.Service
	translator    ut.Translator
}

func registerStaffRoutes(app *echo.Echo, deps ServerDeps) {
	api := staffApi{
		schoolSvc:     deps.SchoolSvc,
		progressSvc:   deps.ProgressSvc,
		attendanceSvc: deps.AttendanceSvc,
		translator:    deps.Translator,
	}
	staffOnly := []echo.MiddlewareFunc{loginRequired, staffMiddleware(deps.SchoolSvc)}

	app.GET("/students", api.roster, staffOnly...)
	app.POST("/students", api.updateSchedule, staffOnly...)
	app.GET("/student/:id", api.studentDetail, staffOnly...)
	app.GET("/student/:id/progress", api.progressForm, staffOnly...)
	app.POST("/student/:id/progress", api.submitProgress, staffOnly...)
	app.GET("/attendance", api.attendanceSheet, staffOnly...)
	app.POST("/attendance", api.markAttendance, staffOnly...)
	app.GET("/checkin", api.checkInStatus, staffOnly...)
	app.POST("/checkin", api.checkIn, staffOnly...)
}

func mustContextStaff(ctx echo.Context) school.Staff {
	staff, ok := getContextStaff(ctx)
	if !ok {
		panic("staff handler mounted without staffMiddleware")
	}
	return staff
}

// Roster

func (api *staffApi) roster(ctx echo.Context) error {
	return api.renderRoster(ctx, http.StatusOK, school.ScheduleForm{}, nil)
}

func (api *staffApi) renderRoster(ctx echo.Context, code int, form school.ScheduleForm, fldErrs map[string]string) error {
	students, err := api.schoolSvc.Roster(ctx.Request().Context(), mustContextStaff(ctx))
	if err != nil {
		return errors.Wrap(err, "querying roster")
	}
	return render(ctx, code, "students", echo.Map{
		"Students": students,
		"Form":     form,
		"Errors":   fldErrs,
	})
}

func (api *staffApi) updateSchedule(ctx echo.Context) error {
	var form school.ScheduleForm
	if err := ctx.Bind(&form); err != nil {
		return errors.Wrap(err, "binding to ScheduleForm")
	}

	if err := api.schoolSvc.UpdateSchedule(ctx.Request().Context(), mustContextStaff(ctx), form); err != nil {
		if core.IsValidationError(err) {
			return api.renderRoster(ctx, http.StatusBadRequest, form, core.FieldErrors(err, api.translator))
		}
		return errors.Wrap(err, "updating schedule")
	}
	return redirectWithFlash(ctx, "/students", "Schedule updated.")
}

// studentFromPath resolves the `:id` student of the context staff.
func (api *staffApi) studentFromPath(ctx echo.Context) (school.Student, error) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return school.Student{}, school.ErrNotFound
	}
	return api.schoolSvc.StudentForStaff(ctx.Request().Context(), mustContextStaff(ctx), id)
}

func (api *staffApi) studentDetail(ctx echo.Context) error {
	student, err := api.studentFromPath(ctx)
	if err != nil {
		if errors.Cause(err) == school.ErrNotOwner {
			return ctx.Redirect(http.StatusFound, "/")
		}
		return err
	}

	topics, err := api.progressSvc.Detail(ctx.Request().Context(), student)
	if err != nil {
		return errors.Wrap(err, "getting progress detail")
	}
	return render(ctx, http.StatusOK, "student", echo.Map{
		"Student": student,
		"Topics":  topics,
	})
}

// Progress

// progressStudent is studentFromPath where a foreign student is not found.
func (api *staffApi) progressStudent(ctx echo.Context) (school.Student, error) {
	student, err := api.studentFromPath(ctx)
	if err != nil && errors.Cause(err) == school.ErrNotOwner {
		return school.Student{}, errHttpNotFound
	}
	return student, err
}

func (api *staffApi) progressForm(ctx echo.Context) error {
	student, err := api.progressStudent(ctx)
	if err != nil {
		return err
	}
	fs, err := api.progressSvc.Formset(ctx.Request().Context(), student)
	if err != nil {
		return errors.Wrap(err, "building progress formset")
	}
	return render(ctx, http.StatusOK, "progress", echo.Map{
		"Student": student,
		"Formset": fs,
	})
}

func (api *staffApi) submitProgress(ctx echo.Context) error {
	student, err := api.progressStudent(ctx)
	if err != nil {
		return err
	}
	values, err := ctx.FormParams()
	if err != nil {
		return errors.Wrap(err, "parsing form")
	}

	fs, n, err := api.progressSvc.Submit(ctx.Request().Context(), student, mustContextStaff(ctx), values)
	if err != nil {
		if core.IsValidationError(err) {
			return render(ctx, http.StatusBadRequest, "progress", echo.Map{
				"Student": student,
				"Formset": fs,
				"Errors":  core.FieldErrors(err, api.translator),
			})
		}
		return errors.Wrap(err, "submitting progress")
	}

	msg := "No changes."
	if n > 0 {
		msg = "Progress saved (" + strconv.Itoa(n) + " updated)."
	}
	return redirectWithFlash(ctx, "/student/"+strconv.Itoa(student.ID), msg)
}

// Attendance

func (api *staffApi) attendanceSheet(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	date := api.attendanceSvc.SelectedDate(ctx.QueryParam("date"))

	students, err := api.schoolSvc.Roster(reqCtx, mustContextStaff(ctx))
	if err != nil {
		return errors.Wrap(err, "querying roster")
	}
	sheet, err := api.attendanceSvc.Sheet(reqCtx, students, date)
	if err != nil {
		return errors.Wrap(err, "loading attendance sheet")
	}
	return render(ctx, http.StatusOK, "attendance", echo.Map{
		"Date":     date,
		"Today":    api.attendanceSvc.Today(),
		"Students": students,
		"Sheet":    sheet,
	})
}

func (api *staffApi) markAttendance(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	values, err := ctx.FormParams()
	if err != nil {
		return errors.Wrap(err, "parsing form")
	}
	raw := values.Get("date")
	if raw == "" {
		raw = ctx.QueryParam("date")
	}
	date := api.attendanceSvc.SelectedDate(raw)

	students, err := api.schoolSvc.Roster(reqCtx, mustContextStaff(ctx))
	if err != nil {
		return errors.Wrap(err, "querying roster")
	}
	if _, err = api.attendanceSvc.Mark(reqCtx, students, date, values); err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return redirectWithFlash(ctx, "/attendance?date="+core.FormatDate(date), "Attendance saved.")
}

// Check-in

func (api *staffApi) checkInStatus(ctx echo.Context) error {
	latest, ok, err := api.attendanceSvc.TodayCheckIn(ctx.Request().Context(), mustContextStaff(ctx))
	if err != nil {
		return errors.Wrap(err, "getting today's check-in")
	}
	data := echo.Map{"CheckIn": (*attendance.CheckIn)(nil)}
	if ok {
		data["CheckIn"] = &latest
	}
	return render(ctx, http.StatusOK, "checkin", data)
}

func (api *staffApi) checkIn(ctx echo.Context) error {
	c, err := api.attendanceSvc.CheckIn(ctx.Request().Context(), mustContextStaff(ctx), net.ParseIP(ctx.RealIP()))
	if err != nil {
		return errors.Wrap(err, "checking in")
	}
	msg := "Checked in."
	if !c.WifiVerified {
		msg = "Checked in from outside the office network."
	}
	return redirectWithFlash(ctx, "/checkin", msg)
}
