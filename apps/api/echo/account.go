package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
)

const passwordResetSentMsg = "If an account exists for this email, a password reset link has been sent to it."

type accountApi struct {
	conf       *core.Config
	usrSvc     user.Service
	schoolSvc  *school.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerAccountRoutes(app *echo.Echo, deps ServerDeps) {
	api := accountApi{
		conf:       deps.Conf,
		usrSvc:     deps.UserSvc,
		schoolSvc:  deps.SchoolSvc,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	app.GET("/", api.index)
	app.GET(loginPath, api.loginForm)
	app.POST(loginPath, api.login)
	app.GET("/logout", api.logout)

	// TODO: rate limit `/password-reset` & `/password-reset/confirm`
	app.GET("/password-reset", api.passwordResetForm)
	app.POST("/password-reset", api.resetPassword)
	app.GET("/password-reset/confirm", api.passwordResetConfirmForm)
	app.POST("/password-reset/confirm", api.confirmPasswordReset)
}

// Handlers

func (api *accountApi) index(ctx echo.Context) error {
	return render(ctx, http.StatusOK, "index", nil)
}

func (api *accountApi) loginForm(ctx echo.Context) error {
	if _, ok := getContextUser(ctx); ok {
		return ctx.Redirect(http.StatusFound, "/")
	}
	return render(ctx, http.StatusOK, "login", echo.Map{
		"Next":     ctx.QueryParam("next"),
		"Username": "",
		"Error":    "",
	})
}

func (api *accountApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}

	usr, err := api.usrSvc.Authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		switch errors.Cause(err) {
		case user.ErrInvalidCredentials, user.ErrAccountDeactivated:
			return render(ctx, http.StatusOK, "login", echo.Map{
				"Next":     data.Next,
				"Username": data.Username,
				"Error":    errors.Cause(err).Error(),
			})
		}
		return errors.Wrap(err, "authenticating user")
	}

	token, err := GenerateToken(GetUserClaims(usr, api.conf), api.conf.SecretKey)
	if err != nil {
		return err
	}
	setSessionCookie(ctx, api.conf, token)

	// staff land on their roster, everyone else on the landing page
	fallback := "/"
	if _, err = api.schoolSvc.StaffForUser(ctx.Request().Context(), usr.ID); err == nil {
		fallback = "/students"
	} else if errors.Cause(err) != school.ErrNoStaffProfile {
		return errors.Wrap(err, "getting staff profile")
	}
	return ctx.Redirect(http.StatusSeeOther, safeNext(data.Next, fallback))
}

func (api *accountApi) logout(ctx echo.Context) error {
	clearSessionCookie(ctx, api.conf)
	return ctx.Redirect(http.StatusFound, loginPath)
}

func (api *accountApi) passwordResetForm(ctx echo.Context) error {
	return render(ctx, http.StatusOK, "password_reset", echo.Map{"Email": ""})
}

func (api *accountApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	data.Email = core.CleanString(data.Email, true /* lower */)
	if err := api.validate.Struct(data); err != nil {
		return render(ctx, http.StatusBadRequest, "password_reset", echo.Map{
			"Email":  data.Email,
			"Errors": core.FieldErrors(err, api.translator),
		})
	}

	// unknown emails are not revealed
	if err := api.usrSvc.RequestPasswordReset(ctx.Request().Context(), data.Email); err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return errors.Wrap(err, "requesting password reset")
		}
	}
	return redirectWithFlash(ctx, loginPath, passwordResetSentMsg)
}

func (api *accountApi) passwordResetConfirmForm(ctx echo.Context) error {
	return render(ctx, http.StatusOK, "password_reset_confirm", echo.Map{
		"UID":   ctx.QueryParam("uid"),
		"Token": ctx.QueryParam("token"),
	})
}

func (api *accountApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}

	err := data.Validate(api.validate)
	if err == nil {
		err = api.usrSvc.ResetPassword(ctx.Request().Context(), data)
	}
	if err != nil {
		if !core.IsValidationError(err) {
			return errors.Wrap(err, "resetting password")
		}
		return render(ctx, http.StatusBadRequest, "password_reset_confirm", echo.Map{
			"UID":    data.UID,
			"Token":  data.Token,
			"Errors": core.FieldErrors(err, api.translator),
		})
	}
	return redirectWithFlash(ctx, loginPath, "Your password has been set. You may go ahead and log in now.")
}
