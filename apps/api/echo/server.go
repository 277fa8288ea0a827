package echoapi

import (
	"context"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/progress"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
	appfs "github.com/trezcool/rollbook/fs"
)

const csrfField = "csrf"

type (
	ServerDeps struct {
		Conf          *core.Config
		Logger        core.Logger
		UserSvc       user.Service
		SchoolSvc     *school.Service
		ProgressSvc   *progress.Service
		AttendanceSvc *attendance.Service
		Validate      *validator.Validate
		Translator    ut.Translator

		// DisableReqLogs & DisableCSRF are meant for tests.
		DisableReqLogs bool
		DisableCSRF    bool
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) (*Server, error) {
	renderer, err := newRenderer(appfs.FS, appfs.TemplatesDir)
	if err != nil {
		return nil, errors.Wrap(err, "parsing templates")
	}

	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)

	s.app.HideBanner = true
	s.app.Debug = deps.Conf.Debug
	s.app.Renderer = renderer
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(deps.Logger, s.SignalShutdown)
	s.setup()
	return s, nil
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.IPExtractor = ipExtractor(conf.Server.TrustedProxies)
	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if !s.deps.DisableCSRF {
		s.app.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
			TokenLookup:    "form:" + csrfField,
			CookiePath:     "/",
			CookieHTTPOnly: true,
			CookieSecure:   conf.Server.SecureCookies,
			Skipper: func(ctx echo.Context) bool {
				return strings.HasPrefix(ctx.Path(), "/static")
			},
		}))
	}
	s.app.Use(sessionMiddleware(conf, s.deps.UserSvc))

	static, _ := fs.Sub(appfs.FS, appfs.StaticDir)
	s.app.GET("/static/*", echo.WrapHandler(http.StripPrefix("/static/", http.FileServer(http.FS(static)))))

	registerAccountRoutes(s.app, s.deps)
	registerStaffRoutes(s.app, s.deps)
	registerAdminRoutes(s.app, s.deps)
}

// Start starts the server; errors other than a graceful close are sent to Errors.
// ipExtractor reads the client IP from the connection, or from X-Forwarded-For when
// the request comes through one of the trusted proxies.
func ipExtractor(proxies []*net.IPNet) echo.IPExtractor {
	if len(proxies) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{echo.TrustLoopback(false), echo.TrustLinkLocal(false), echo.TrustPrivateNet(false)}
	for _, n := range proxies {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Addr); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

// SignalShutdown asks the program to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error { return s.app.Shutdown(ctx) }

func (s *Server) Close() error { return s.app.Close() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}
