package inmemdb

import (
	"sync"

	"github.com/trezcool/rollbook/core/attendance"
	"github.com/trezcool/rollbook/core/progress"
	"github.com/trezcool/rollbook/core/school"
	"github.com/trezcool/rollbook/core/user"
)

// DB is a map backed store used by tests and local runs without postgres.
// It holds every table behind one lock so that repositories can join rows.
type DB struct {
	mutex sync.RWMutex
	pk    int

	users       map[int]*user.User
	staff       map[int]*school.Staff
	courses     map[int]*school.Course
	courseStaff map[int]map[int]struct{} // course ID -> staff IDs
	topics      map[int]*school.Topic
	students    map[int]*school.Student
	progress    map[int]*progress.Progress
	attendance  map[int]*attendance.StudentAttendance
	checkIns    map[int]*attendance.CheckIn
}

func Open() (*DB, error) {
	db := &DB{
		users:       make(map[int]*user.User),
		staff:       make(map[int]*school.Staff),
		courses:     make(map[int]*school.Course),
		courseStaff: make(map[int]map[int]struct{}),
		topics:      make(map[int]*school.Topic),
		students:    make(map[int]*school.Student),
		progress:    make(map[int]*progress.Progress),
		attendance:  make(map[int]*attendance.StudentAttendance),
		checkIns:    make(map[int]*attendance.CheckIn),
	}
	return db, nil
}

// nextPK must be called with the write lock held.
func (db *DB) nextPK() int {
	db.pk++
	return db.pk
}
