package main

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
	appfs "github.com/trezcool/rollbook/fs"
	emailsvc "github.com/trezcool/rollbook/services/email"
	logsvc "github.com/trezcool/rollbook/services/logger"
	"github.com/trezcool/rollbook/storage/database"
	sqlxrepos "github.com/trezcool/rollbook/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(!conf.Debug)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	school.InitValidators(validate, translator)
	user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsFile, logger)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	if err = db.Ping(); err != nil {
		logger.Fatal("pinging database", err)
	}

	// start CLI
	cli := commandLine{
		db:         db.DB,
		usrSvc:     user.NewService(sqlxrepos.NewUserRepository(db), emailsvc.NewConsoleService(conf, logger), conf),
		schoolSvc:  school.NewService(sqlxrepos.NewSchoolRepository(db), validate),
		validate:   validate,
		translator: translator,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(cli.describe(err), err)
		}
		os.Exit(1)
	}
}
