package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core/school"
)

// staffMiddleware resolves the principal's Staff profile.
// Principals without one are sent back to the landing page.
func staffMiddleware(svc *school.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, ok := getContextUser(ctx)
			if !ok {
				return errUnauthorized
			}
			staff, err := svc.StaffForUser(ctx.Request().Context(), usr.ID)
			if err != nil {
				if errors.Cause(err) == school.ErrNoStaffProfile {
					return ctx.Redirect(http.StatusFound, "/")
				}
				return errors.Wrap(err, "getting staff profile")
			}
			ctx.Set(contextStaffKey, staff)
			return next(ctx)
		}
	}
}

// adminMiddleware only lets operators (`admin:` roles) through.
func adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, ok := getContextUser(ctx)
		if !ok {
			return errUnauthorized
		}
		if !usr.IsAdmin() {
			return errHttpForbidden
		}
		return next(ctx)
	}
}
