package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
	emailsvc "github.com/trezcool/rollbook/services/email"
	logsvc "github.com/trezcool/rollbook/services/logger"
	"github.com/trezcool/rollbook/storage/database/inmem"
	"github.com/trezcool/rollbook/testutil"
)

const strongPassword = "Xk9#rTq2!vL"

var (
	usrRepo    user.Repository
	schoolRepo school.Repository
)

func setup(t *testing.T) *commandLine {
	conf := testutil.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)

	db, err := inmemdb.Open()
	require.NoError(t, err)
	usrRepo = inmemdb.NewUserRepository(db)
	schoolRepo = inmemdb.NewSchoolRepository(db)

	validate, translator := testutil.NewValidator()
	return &commandLine{
		usrSvc:     user.NewService(usrRepo, emailsvc.NewConsoleServiceMock(conf, logger), conf),
		schoolSvc:  school.NewService(schoolRepo, validate),
		validate:   validate,
		translator: translator,
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string
	wantErr    error
	wantErrStr string
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var gotCommand string
	migrateFunc = func(db *sql.DB, command string, args ...string) error {
		gotCommand = command
		switch command {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			gotCommand = ""
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
			if len(tt.args) > 1 {
				assert.Equal(t, tt.args[1], gotCommand)
			}
		})
	}
}

func Test_commandLine_addStaff(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	tests := []cliTest{
		{name: "no args", args: []string{"addstaff"}, wantErr: errHelp},
		{name: "missing name", args: []string{"addstaff", "-username", "ann", "-email", "ann@test.in"}, pwd: strongPassword, wantErr: errHelp},
		{name: "no password", args: []string{"addstaff", "-username", "ann", "-email", "ann@test.in", "-name", "Ann"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(tt.pwd)
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	t.Run("weak password", func(t *testing.T) {
		mockPassword("password")
		err := cli.run([]string{"admin", "addstaff", "-username", "ann", "-email", "ann@test.in", "-name", "Ann"})
		require.Error(t, err)
		assert.True(t, core.IsValidationError(err))
		assert.Contains(t, cli.describe(err), "password")
		_, err = usrRepo.GetUser(ctx, user.GetFilter{Username: "ann"})
		assert.Equal(t, user.ErrNotFound, err, "nothing is created")
	})

	t.Run("invalid email", func(t *testing.T) {
		mockPassword(strongPassword)
		err := cli.run([]string{"admin", "addstaff", "-username", "ann", "-email", "nope", "-name", "Ann"})
		require.Error(t, err)
		assert.True(t, core.IsValidationError(err))
	})

	t.Run("staff account", func(t *testing.T) {
		mockPassword(strongPassword)
		err := cli.run([]string{"admin", "addstaff", "-username", "Ann", "-email", "Ann@Test.in", "-name", "Ann Lee", "-contact", "0700"})
		require.NoError(t, err)

		usr, err := usrRepo.GetUser(ctx, user.GetFilter{Username: "ann"})
		require.NoError(t, err)
		assert.True(t, usr.IsStaff())
		assert.False(t, usr.IsAdmin())
		assert.NoError(t, usr.CheckPassword(strongPassword))

		staff, err := schoolRepo.GetStaff(ctx, school.StaffFilter{UserID: usr.ID})
		require.NoError(t, err)
		assert.Equal(t, "Ann Lee", staff.Name)
		assert.Equal(t, "ann@test.in", staff.Email)
		assert.Equal(t, "0700", staff.Contact)
	})

	t.Run("already linked", func(t *testing.T) {
		mockPassword(strongPassword)
		err := cli.run([]string{"admin", "addstaff", "-username", "ann", "-email", "other@test.in", "-name", "Ann Lee"})
		require.Error(t, err)
		assert.True(t, core.IsValidationError(err))
		assert.Contains(t, cli.describe(err), school.ErrStaffAlreadyLinked.Error())
	})

	t.Run("existing account gets a profile", func(t *testing.T) {
		existing := testutil.CreateUser(t, usrRepo, "Bob", "bob", "bob@test.in", "", nil, false)
		mockPassword(strongPassword)
		err := cli.run([]string{"admin", "addstaff", "-username", "bob", "-email", "bob@staff.test.in", "-name", "Bob", "-admin"})
		require.NoError(t, err)

		usr, err := usrRepo.GetUser(ctx, user.GetFilter{ID: existing.ID})
		require.NoError(t, err)
		assert.True(t, usr.IsActive)
		assert.True(t, usr.IsStaff())
		assert.True(t, usr.IsAdmin())
		_, err = schoolRepo.GetStaff(ctx, school.StaffFilter{UserID: usr.ID})
		assert.NoError(t, err)
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, pwd: strongPassword, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, pwd: strongPassword},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, pwd: "Zq7&mWp3!kD"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(tt.pwd)
			err := cli.run(append([]string{"admin"}, tt.args...))
			tt.check(t, err)
			if err == nil {
				refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				assert.False(t, bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash), "failed to update new password")
				assert.NoError(t, refreshedUsr.CheckPassword(tt.pwd))
			}
		})
	}

	t.Run("weak password", func(t *testing.T) {
		mockPassword("12345678")
		err := cli.run([]string{"admin", "resetpassword", "-username", usr.Username})
		assert.True(t, core.IsValidationError(err))
	})
}
