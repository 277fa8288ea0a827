package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
)

// NewConfig returns the application config with test friendly overrides.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.TestMode = true
	conf.TimeZone = "UTC"
	conf.SecretKey = "test-secret"
	return conf
}

// NewValidator returns a validator with every application rule registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	school.InitValidators(validate, translator)
	return validate, translator
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateStaff(t *testing.T, repo school.Repository, userID int, name, email string) school.Staff {
	s, err := repo.CreateStaff(context.Background(), school.Staff{UserID: userID, Name: name, Email: email})
	if err != nil {
		t.Fatalf("CreateStaff() failed: %v", err)
	}
	return s
}

func CreateCourse(t *testing.T, repo school.Repository, name string, staffIDs ...int) school.Course {
	c, err := repo.CreateCourse(context.Background(), school.Course{Name: name}, staffIDs)
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return c
}

func CreateTopic(t *testing.T, repo school.Repository, courseID int, module, topic string) school.Topic {
	tp, err := repo.CreateTopic(context.Background(), school.Topic{CourseID: courseID, ModuleName: module, TopicName: topic})
	if err != nil {
		t.Fatalf("CreateTopic() failed: %v", err)
	}
	return tp
}

func CreateStudent(t *testing.T, repo school.Repository, name, email string, courseID, staffID int) school.Student {
	s, err := repo.CreateStudent(context.Background(), school.Student{
		Name:     name,
		Email:    email,
		JoinDate: time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC),
		Batch:    school.BatchMorning,
		Mode:     school.ModeOffline,
		CourseID: courseID,
		StaffID:  staffID,
	})
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return s
}
