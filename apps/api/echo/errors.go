package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound  = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message string

		switch origErr := errors.Cause(err); origErr {
		case school.ErrNotFound, user.ErrNotFound, attendance.ErrNotFound:
			code = http.StatusNotFound
			message = http.StatusText(code)
		default:
			switch herr := origErr.(type) {
			case *echo.HTTPError:
				if herr.Internal != nil {
					if ierr, ok := herr.Internal.(*echo.HTTPError); ok {
						herr = ierr
					}
				}
				code = herr.Code
				if m, ok := herr.Message.(string); ok {
					message = m
				} else {
					message = http.StatusText(code)
				}
			default:
				if core.IsValidationError(origErr) {
					code = http.StatusBadRequest
					message = err.Error()
					break
				}

				// any other error is a server error
				code = http.StatusInternalServerError
				message = http.StatusText(code)

				var usr user.User
				if u, ok := getContextUser(ctx); ok {
					usr = u
				}
				logger.Error(message, errors.Wrap(err, message), usr, ctx.Request().Context())

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}

		// Send response
		if ctx.Response().Committed {
			return
		}
		switch {
		case ctx.Request().Method == http.MethodHead: // Issue #608
			err = ctx.NoContent(code)
		case wantsJSON(ctx):
			err = ctx.JSON(code, echo.Map{"error": message})
		default:
			err = render(ctx, code, "error", echo.Map{"Code": code, "Message": message})
		}
		if err != nil {
			ctx.Echo().Logger.Error(err)
		}
	}
}

func wantsJSON(ctx echo.Context) bool {
	if strings.HasSuffix(ctx.Request().URL.Path, "/get_staff") {
		return true
	}
	return strings.Contains(ctx.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}
