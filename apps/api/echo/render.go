package echoapi

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
)

const (
	layoutTemplate  = "_layout.gohtml"
	flashCookieName = "flash"
)

var templateFuncs = template.FuncMap{
	"date": func(v interface{}) string {
		switch t := v.(type) {
		case time.Time:
			return core.FormatDate(t)
		case null.Time:
			if t.Valid {
				return core.FormatDate(t.Time)
			}
		}
		return ""
	},
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04")
	},
	"nullint": func(v null.Int) string {
		if !v.Valid {
			return ""
		}
		return fmt.Sprint(v.Int)
	},
	// same compares values of different types by their string form, eg. 3 & "3"
	"same": func(a, b interface{}) bool { return fmt.Sprint(a) == fmt.Sprint(b) },
	"hasInt": func(ids []int, id int) bool {
		for _, i := range ids {
			if i == id {
				return true
			}
		}
		return false
	},
	// orderURL toggles the ordering query param on field, keeping other params.
	"orderURL": func(base string, q url.Values, field string) string {
		v := url.Values{}
		for k, vals := range q {
			v[k] = vals
		}
		ord := field
		if q.Get(orderingParam) == field {
			ord = "-" + field
		}
		v.Set(orderingParam, ord)
		return base + "?" + v.Encode()
	},
	"marker":  attendance.MarkerName,
	"batches": func() []school.Batch { return school.Batches },
	"modes":   func() []school.Mode { return school.Modes },
}

// renderer is an echo.Renderer over the embedded page templates.
// Every page is parsed together with the shared layout and named after its
// path without extension, eg. "students" or "admin/student_form".
type renderer struct {
	pages map[string]*template.Template
}

func newRenderer(fsys fs.FS, dir string) (*renderer, error) {
	r := &renderer{pages: make(map[string]*template.Template)}
	layout := path.Join(dir, layoutTemplate)

	for _, pattern := range []string{"*.gohtml", "admin/*.gohtml"} {
		fps, err := fs.Glob(fsys, path.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		for _, fp := range fps {
			if strings.HasPrefix(path.Base(fp), "_") {
				continue
			}
			tmpl, err := template.New(layoutTemplate).Funcs(templateFuncs).ParseFS(fsys, layout, fp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", fp)
			}
			name := strings.TrimSuffix(strings.TrimPrefix(fp, dir+"/"), ".gohtml")
			r.pages[name] = tmpl
		}
	}
	return r, nil
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return errors.Errorf("template %q not found", name)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}

// render adds the request wide values (user, staff, csrf token, flash) to data
// and renders the page.
func render(ctx echo.Context, code int, name string, data echo.Map) error {
	if data == nil {
		data = echo.Map{}
	}
	data["CSRF"], _ = ctx.Get(csrfField).(string)
	data["CSRFField"] = csrfField
	data["Flash"] = popFlash(ctx)
	data["Path"] = ctx.Request().URL.Path
	data["Query"] = ctx.QueryParams()

	data["User"] = (*user.User)(nil)
	if usr, ok := getContextUser(ctx); ok {
		data["User"] = &usr
	}
	data["Staff"] = (*school.Staff)(nil)
	if staff, ok := getContextStaff(ctx); ok {
		data["Staff"] = &staff
	}
	if _, ok := data["Errors"]; !ok {
		data["Errors"] = map[string]string{}
	}
	return ctx.Render(code, name, data)
}

// redirectWithFlash redirects after a successful POST, showing msg on the next page.
func redirectWithFlash(ctx echo.Context, to, msg string) error {
	if msg != "" {
		ctx.SetCookie(&http.Cookie{
			Name:     flashCookieName,
			Value:    url.QueryEscape(msg),
			Path:     "/",
			HttpOnly: true,
		})
	}
	return ctx.Redirect(http.StatusSeeOther, to)
}

func popFlash(ctx echo.Context) string {
	cookie, err := ctx.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	ctx.SetCookie(&http.Cookie{Name: flashCookieName, Path: "/", MaxAge: -1})
	msg, _ := url.QueryUnescape(cookie.Value)
	return msg
}
