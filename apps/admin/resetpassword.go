package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core/user"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err = user.ValidatePassword(cli.validate, pwd, usr.Name, usr.Username, usr.Email); err != nil {
		return err
	}
	if _, err = cli.usrSvc.SetPassword(ctx, usr, pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}
	return nil
}
