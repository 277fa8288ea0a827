package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
)

type newStaffAccount struct {
	username, email, name, contact, password string
	isAdmin                                  bool
}

// addStaff creates a login account and its Staff profile.
// An existing account with the same username is reactivated and linked instead.
func (cli *commandLine) addStaff(acc newStaffAccount) error {
	ctx := context.Background()

	form := school.StaffForm{Name: acc.name, Contact: acc.contact, Email: acc.email}
	if err := form.Validate(cli.validate); err != nil {
		return err
	}

	roles := []string{user.RoleStaff}
	if acc.isAdmin {
		roles = append(roles, user.RoleAdmin)
	}

	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, acc.username)
	switch errors.Cause(err) {
	case nil:
		if err = user.ValidatePassword(cli.validate, acc.password, usr.Name, usr.Username, usr.Email); err != nil {
			return err
		}
		usr.Roles = mergeRoles(usr.Roles, roles)
		usr.IsActive = true
		if usr, err = cli.usrSvc.SetPassword(ctx, usr, acc.password); err != nil {
			return errors.Wrap(err, "updating user")
		}

	case user.ErrNotFound:
		nu := user.NewUser{
			Name:            acc.name,
			Username:        acc.username,
			Email:           form.Email,
			Password:        acc.password,
			PasswordConfirm: acc.password,
			Roles:           roles,
		}
		if err = nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
			return err
		}
		if usr, err = cli.usrSvc.Create(ctx, nu); err != nil {
			return errors.Wrap(err, "creating user")
		}

	default:
		return errors.Wrap(err, "finding user")
	}

	staff, err := cli.schoolSvc.SaveStaff(ctx, 0, usr.ID, form)
	if err != nil {
		return err
	}
	fmt.Printf("staff %q (#%d) created for user %q\n", staff.Name, staff.ID, usr.Username)
	return nil
}

func mergeRoles(have, want []string) []string {
	merged := append([]string{}, have...)
	for _, role := range want {
		found := false
		for _, r := range have {
			if r == role {
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, role)
		}
	}
	return merged
}
