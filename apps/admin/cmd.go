package main

import (
	"database/sql"
	"flag"
	"fmt"
	"sort"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	usrSvc     user.Service
	schoolSvc  *school.Service
	validate   *validator.Validate
	translator ut.Translator
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command (up, up-by-one, up-to, down, down-to, redo, reset, status, version)")
	fmt.Println("  addstaff -username USERNAME -email EMAIL -name NAME [-contact CONTACT] [-admin] - create a staff account")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
}

// describe renders err for the terminal, listing field errors one per line.
func (cli *commandLine) describe(err error) string {
	fldErrs := core.FieldErrors(err, cli.translator)
	if len(fldErrs) == 0 {
		return "error: " + err.Error()
	}
	lines := make([]string, 0, len(fldErrs))
	for fld, msg := range fldErrs {
		lines = append(lines, "  "+fld+": "+msg)
	}
	sort.Strings(lines)
	return "invalid input:\n" + strings.Join(lines, "\n")
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addStaffCmd := flag.NewFlagSet("addstaff", flag.ContinueOnError)
	addStaffUname := addStaffCmd.String("username", "", "The login username.")
	addStaffEmail := addStaffCmd.String("email", "", "The staff email (also used for password resets).")
	addStaffName := addStaffCmd.String("name", "", "The staff full name.")
	addStaffContact := addStaffCmd.String("contact", "", "The staff phone number.")
	addStaffAdmin := addStaffCmd.Bool("admin", false, "Also grant access to the admin site.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "addstaff":
		if err := addStaffCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addStaffUname == "" || *addStaffEmail == "" || *addStaffName == "" {
			addStaffCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addStaffCmd.Usage()
			return errHelp
		}
		return cli.addStaff(newStaffAccount{
			username: *addStaffUname,
			email:    *addStaffEmail,
			name:     *addStaffName,
			contact:  *addStaffContact,
			password: pwd,
			isAdmin:  *addStaffAdmin,
		})

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	default:
		cli.printUsage()
		return errHelp
	}
}
