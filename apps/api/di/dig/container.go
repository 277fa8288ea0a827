package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/rollbook/apps/api/echo"
	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/progress"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
	emailsvc "github.com/trezcool/rollbook/services/email"
	logsvc "github.com/trezcool/rollbook/services/logger"
	"github.com/trezcool/rollbook/storage/database"
	sqlxrepos "github.com/trezcool/rollbook/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB) {
	db, err := database.Setup(context.Background(), conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// newTopicLister narrows the school repository to what progress needs.
func newTopicLister(repo school.Repository) progress.TopicLister {
	return repo
}

type serverParams struct {
	dig.In

	Conf          *core.Config
	Logger        core.Logger
	UserSvc       user.Service
	SchoolSvc     *school.Service
	ProgressSvc   *progress.Service
	AttendanceSvc *attendance.Service
	Validate      *validator.Validate
	Translator    ut.Translator
}

func newServer(p serverParams) (*echoapi.Server, error) {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		UserSvc:       p.UserSvc,
		SchoolSvc:     p.SchoolSvc,
		ProgressSvc:   p.ProgressSvc,
		AttendanceSvc: p.AttendanceSvc,
		Validate:      p.Validate,
		Translator:    p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewSchoolRepository))
	must(c.Provide(sqlxrepos.NewProgressRepository))
	must(c.Provide(sqlxrepos.NewAttendanceRepository))
	must(c.Provide(newTopicLister))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(school.NewService))
	must(c.Provide(progress.NewService))
	must(c.Provide(attendance.NewService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
