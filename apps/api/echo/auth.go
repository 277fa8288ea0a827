package echoapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
)

const (
	contextClaimsKey = "claims"
	contextUserKey   = "user"
	contextStaffKey  = "staff"

	loginPath = "/login"
)

var (
	signingMethod = jwt.SigningMethodHS256

	errInvalidSession = errors.New("invalid session")
)

// Claims represents the session claims carried by the signed session cookie.
type Claims struct {
	jwt.StandardClaims
	Username string   `json:"username,omitempty"`
	IsAdmin  bool     `json:"is_admin,omitempty"`
	IsStaff  bool     `json:"is_staff,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

func (c Claims) UserID() (int, error) { return strconv.Atoi(c.Subject) }

func GetUserClaims(usr user.User, conf *core.Config) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   strconv.Itoa(usr.ID),
			ExpiresAt: now.Add(conf.Server.SessionExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Username: usr.Username,
		IsAdmin:  usr.IsAdmin(),
		IsStaff:  usr.IsStaff(),
		Roles:    usr.Roles,
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(claims *Claims, secretKey string) (string, error) {
	token := jwt.NewWithClaims(signingMethod, claims)
	ss, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func parseToken(tokenStr, secretKey string) (*Claims, error) {
	claims := new(Claims)
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != signingMethod.Alg() {
			return nil, errInvalidSession
		}
		return []byte(secretKey), nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidSession
	}
	return claims, nil
}

func setSessionCookie(ctx echo.Context, conf *core.Config, token string) {
	ctx.SetCookie(&http.Cookie{
		Name:     conf.Server.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(conf.Server.SessionExpirationDelta),
		HttpOnly: true,
		Secure:   conf.Server.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(ctx echo.Context, conf *core.Config) {
	ctx.SetCookie(&http.Cookie{
		Name:     conf.Server.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   conf.Server.SecureCookies,
	})
}

// sessionMiddleware loads the principal of a valid session cookie into the context.
// Requests without a valid session go on anonymously.
func sessionMiddleware(conf *core.Config, svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			cookie, err := ctx.Cookie(conf.Server.SessionCookieName)
			if err != nil || cookie.Value == "" {
				return next(ctx)
			}

			claims, err := parseToken(cookie.Value, conf.SecretKey)
			if err != nil {
				clearSessionCookie(ctx, conf)
				return next(ctx)
			}
			id, err := claims.UserID()
			if err != nil {
				clearSessionCookie(ctx, conf)
				return next(ctx)
			}
			usr, err := svc.GetByID(ctx.Request().Context(), id)
			if err != nil {
				if errors.Cause(err) != user.ErrNotFound {
					return errors.Wrap(err, "finding session user")
				}
				clearSessionCookie(ctx, conf)
				return next(ctx)
			}
			if !usr.IsActive {
				clearSessionCookie(ctx, conf)
				return next(ctx)
			}

			ctx.Set(contextClaimsKey, *claims)
			ctx.Set(contextUserKey, usr)
			return next(ctx)
		}
	}
}

// loginRequired redirects anonymous requests to the login page.
func loginRequired(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if _, ok := getContextUser(ctx); ok {
			return next(ctx)
		}
		return ctx.Redirect(http.StatusFound, loginPath+"?next="+url.QueryEscape(ctx.Request().URL.RequestURI()))
	}
}

func getContextClaims(ctx echo.Context) (Claims, bool) {
	claims, ok := ctx.Get(contextClaimsKey).(Claims)
	return claims, ok
}

func getContextUser(ctx echo.Context) (user.User, bool) {
	usr, ok := ctx.Get(contextUserKey).(user.User)
	return usr, ok
}

func getContextStaff(ctx echo.Context) (school.Staff, bool) {
	staff, ok := ctx.Get(contextStaffKey).(school.Staff)
	return staff, ok
}

// safeNext only allows local redirect targets.
func safeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}
