package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/school"
)

type schoolRepository struct {
	db *DB
}

var _ school.Repository = (*schoolRepository)(nil)

func NewSchoolRepository(db *DB) school.Repository {
	return &schoolRepository{db: db}
}

// Staff

func (repo *schoolRepository) CreateStaff(_ context.Context, s school.Staff) (school.Staff, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if err := repo.checkStaff(s); err != nil {
		return school.Staff{}, err
	}
	s.ID = repo.db.nextPK()
	s.CourseNames = nil
	repo.db.staff[s.ID] = &s
	return repo.staffView(&s), nil
}

func (repo *schoolRepository) UpdateStaff(_ context.Context, s school.Staff) (school.Staff, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.staff[s.ID]
	if !ok {
		return school.Staff{}, school.ErrNotFound
	}
	if err := repo.checkStaff(s); err != nil {
		return school.Staff{}, err
	}
	orig.Name, orig.Contact, orig.Email = s.Name, s.Contact, s.Email
	return repo.staffView(orig), nil
}

func (repo *schoolRepository) checkStaff(s school.Staff) error {
	for _, other := range repo.db.staff {
		if other.ID == s.ID {
			continue
		}
		if other.Email == s.Email {
			return school.ErrStaffEmailExists
		}
		if s.UserID != 0 && other.UserID == s.UserID {
			return school.ErrStaffAlreadyLinked
		}
	}
	return nil
}

func (repo *schoolRepository) GetStaff(_ context.Context, filter school.StaffFilter) (school.Staff, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, s := range repo.db.staff {
		if (filter.ID != 0 && s.ID == filter.ID) || (filter.UserID != 0 && s.UserID == filter.UserID) {
			return repo.staffView(s), nil
		}
	}
	return school.Staff{}, school.ErrNotFound
}

func (repo *schoolRepository) QueryStaff(_ context.Context, q school.StaffQuery) ([]school.Staff, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]school.Staff, 0, len(repo.db.staff))
	for _, s := range repo.db.staff {
		if q.Search != "" && !containsFold(s.Name, q.Search) && !containsFold(s.Email, q.Search) {
			continue
		}
		if q.CourseID != 0 {
			if _, ok := repo.db.courseStaff[q.CourseID][s.ID]; !ok {
				continue
			}
		}
		res = append(res, repo.staffView(s))
	}
	sort.Slice(res, func(i, j int) bool { return byNameThenID(res[i].Name, res[j].Name, res[i].ID, res[j].ID) })
	return res, nil
}

func (repo *schoolRepository) DeleteStaff(_ context.Context, id int) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.staff[id]; !ok {
		return school.ErrNotFound
	}
	delete(repo.db.staff, id)
	for _, members := range repo.db.courseStaff {
		delete(members, id)
	}
	for _, s := range repo.db.students {
		if s.StaffID == id {
			repo.deleteStudent(s.ID)
		}
	}
	for cid, c := range repo.db.checkIns {
		if c.StaffID == id {
			delete(repo.db.checkIns, cid)
		}
	}
	return nil
}

func (repo *schoolRepository) staffView(s *school.Staff) school.Staff {
	v := *s
	v.CourseNames = make([]string, 0)
	for cid, members := range repo.db.courseStaff {
		if _, ok := members[s.ID]; ok {
			if c, ok := repo.db.courses[cid]; ok {
				v.CourseNames = append(v.CourseNames, c.Name)
			}
		}
	}
	sort.Strings(v.CourseNames)
	return v
}

// Courses

func (repo *schoolRepository) CreateCourse(_ context.Context, c school.Course, staffIDs []int) (school.Course, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c.ID = repo.db.nextPK()
	c.Staff = nil
	repo.db.courses[c.ID] = &c
	repo.setCourseStaff(c.ID, staffIDs)
	return repo.courseView(&c), nil
}

func (repo *schoolRepository) UpdateCourse(_ context.Context, c school.Course, staffIDs []int) (school.Course, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.courses[c.ID]
	if !ok {
		return school.Course{}, school.ErrNotFound
	}
	orig.Name = c.Name
	repo.setCourseStaff(c.ID, staffIDs)
	return repo.courseView(orig), nil
}

func (repo *schoolRepository) setCourseStaff(courseID int, staffIDs []int) {
	members := make(map[int]struct{}, len(staffIDs))
	for _, sid := range staffIDs {
		if _, ok := repo.db.staff[sid]; ok {
			members[sid] = struct{}{}
		}
	}
	repo.db.courseStaff[courseID] = members
}

func (repo *schoolRepository) GetCourse(_ context.Context, id int) (school.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.courses[id]; ok {
		return repo.courseView(c), nil
	}
	return school.Course{}, school.ErrNotFound
}

func (repo *schoolRepository) QueryCourses(_ context.Context, q school.CourseQuery) ([]school.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]school.Course, 0, len(repo.db.courses))
	for _, c := range repo.db.courses {
		if q.Search != "" && !containsFold(c.Name, q.Search) {
			continue
		}
		if q.StaffID != 0 {
			if _, ok := repo.db.courseStaff[c.ID][q.StaffID]; !ok {
				continue
			}
		}
		res = append(res, repo.courseView(c))
	}
	sort.Slice(res, func(i, j int) bool { return byNameThenID(res[i].Name, res[j].Name, res[i].ID, res[j].ID) })
	return res, nil
}

func (repo *schoolRepository) DeleteCourse(_ context.Context, id int) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.courses[id]; !ok {
		return school.ErrNotFound
	}
	delete(repo.db.courses, id)
	delete(repo.db.courseStaff, id)
	for _, t := range repo.db.topics {
		if t.CourseID == id {
			repo.deleteTopic(t.ID)
		}
	}
	for _, s := range repo.db.students {
		if s.CourseID == id {
			repo.deleteStudent(s.ID)
		}
	}
	return nil
}

func (repo *schoolRepository) courseView(c *school.Course) school.Course {
	v := *c
	v.Staff = make([]school.StaffOption, 0, len(repo.db.courseStaff[c.ID]))
	for sid := range repo.db.courseStaff[c.ID] {
		if s, ok := repo.db.staff[sid]; ok {
			v.Staff = append(v.Staff, s.Option())
		}
	}
	sort.Slice(v.Staff, func(i, j int) bool {
		return byNameThenID(v.Staff[i].Name, v.Staff[j].Name, v.Staff[i].ID, v.Staff[j].ID)
	})
	return v
}

// Topics

func (repo *schoolRepository) CreateTopic(_ context.Context, t school.Topic) (school.Topic, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if err := repo.checkTopic(t); err != nil {
		return school.Topic{}, err
	}
	t.ID = repo.db.nextPK()
	repo.db.topics[t.ID] = &t
	return repo.topicView(&t), nil
}

func (repo *schoolRepository) UpdateTopic(_ context.Context, t school.Topic) (school.Topic, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.topics[t.ID]; !ok {
		return school.Topic{}, school.ErrNotFound
	}
	if err := repo.checkTopic(t); err != nil {
		return school.Topic{}, err
	}
	repo.db.topics[t.ID] = &t
	return repo.topicView(&t), nil
}

func (repo *schoolRepository) checkTopic(t school.Topic) error {
	if _, ok := repo.db.courses[t.CourseID]; !ok {
		return school.ErrInvalidCourse
	}
	for _, other := range repo.db.topics {
		if other.ID != t.ID && other.CourseID == t.CourseID &&
			other.ModuleName == t.ModuleName && other.TopicName == t.TopicName {
			return school.ErrTopicExists
		}
	}
	return nil
}

func (repo *schoolRepository) GetTopic(_ context.Context, id int) (school.Topic, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if t, ok := repo.db.topics[id]; ok {
		return repo.topicView(t), nil
	}
	return school.Topic{}, school.ErrNotFound
}

func (repo *schoolRepository) QueryTopics(_ context.Context, q school.TopicQuery) ([]school.Topic, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]school.Topic, 0)
	for _, t := range repo.db.topics {
		if (q.CourseID != 0 && t.CourseID != q.CourseID) || (q.ModuleName != "" && t.ModuleName != q.ModuleName) {
			continue
		}
		res = append(res, repo.topicView(t))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (repo *schoolRepository) DeleteTopic(_ context.Context, id int) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.topics[id]; !ok {
		return school.ErrNotFound
	}
	repo.deleteTopic(id)
	return nil
}

func (repo *schoolRepository) deleteTopic(id int) {
	delete(repo.db.topics, id)
	for pid, p := range repo.db.progress {
		if p.TopicID == id {
			delete(repo.db.progress, pid)
		}
	}
}

func (repo *schoolRepository) topicView(t *school.Topic) school.Topic {
	v := *t
	if c, ok := repo.db.courses[t.CourseID]; ok {
		v.CourseName = c.Name
	}
	return v
}

// Students

func (repo *schoolRepository) CreateStudent(_ context.Context, s school.Student) (school.Student, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if err := repo.checkStudent(s); err != nil {
		return school.Student{}, err
	}
	s.ID = repo.db.nextPK()
	repo.db.students[s.ID] = &s
	return repo.studentView(&s), nil
}

func (repo *schoolRepository) UpdateStudent(_ context.Context, s school.Student) (school.Student, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.students[s.ID]; !ok {
		return school.Student{}, school.ErrNotFound
	}
	if err := repo.checkStudent(s); err != nil {
		return school.Student{}, err
	}
	repo.db.students[s.ID] = &s
	return repo.studentView(&s), nil
}

func (repo *schoolRepository) checkStudent(s school.Student) error {
	if _, ok := repo.db.courses[s.CourseID]; !ok {
		return school.ErrInvalidCourse
	}
	if _, ok := repo.db.staff[s.StaffID]; !ok {
		return school.ErrInvalidStaff
	}
	for _, other := range repo.db.students {
		if other.ID != s.ID && other.Email == s.Email {
			return school.ErrStudentEmailExists
		}
	}
	return nil
}

func (repo *schoolRepository) GetStudent(_ context.Context, id int) (school.Student, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.students[id]; ok {
		return repo.studentView(s), nil
	}
	return school.Student{}, school.ErrNotFound
}

func (repo *schoolRepository) QueryStudents(_ context.Context, q school.StudentQuery) ([]school.Student, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]school.Student, 0)
	for _, s := range repo.db.students {
		if (q.StaffID != 0 && s.StaffID != q.StaffID) || (q.CourseID != 0 && s.CourseID != q.CourseID) {
			continue
		}
		if q.Search != "" && !containsFold(s.Name, q.Search) {
			continue
		}
		res = append(res, repo.studentView(s))
	}

	ordering := q.Ordering
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	sort.Slice(res, func(i, j int) bool {
		for _, ord := range ordering {
			if c := compareStudents(res[i], res[j], ord.Field); c != 0 {
				return (c < 0) == ord.Ascending
			}
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func compareStudents(a, b school.Student, field string) int {
	switch field {
	case "id":
		return compareInts(a.ID, b.ID)
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "join_date":
		switch {
		case a.JoinDate.Before(b.JoinDate):
			return -1
		case a.JoinDate.After(b.JoinDate):
			return 1
		}
	case "course":
		return strings.Compare(a.CourseName, b.CourseName)
	case "staff":
		return strings.Compare(a.StaffName, b.StaffName)
	}
	return 0
}

func (repo *schoolRepository) DeleteStudent(_ context.Context, id int) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.students[id]; !ok {
		return school.ErrNotFound
	}
	repo.deleteStudent(id)
	return nil
}

func (repo *schoolRepository) deleteStudent(id int) {
	delete(repo.db.students, id)
	for pid, p := range repo.db.progress {
		if p.StudentID == id {
			delete(repo.db.progress, pid)
		}
	}
	for aid, a := range repo.db.attendance {
		if a.StudentID == id {
			delete(repo.db.attendance, aid)
		}
	}
}

func (repo *schoolRepository) UpdateStudentSchedule(_ context.Context, id, staffID int, batch school.Batch, mode school.Mode) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	s, ok := repo.db.students[id]
	if !ok || s.StaffID != staffID {
		return school.ErrNotFound
	}
	s.Batch, s.Mode = batch, mode
	return nil
}

func (repo *schoolRepository) studentView(s *school.Student) school.Student {
	v := *s
	if c, ok := repo.db.courses[s.CourseID]; ok {
		v.CourseName = c.Name
	}
	if st, ok := repo.db.staff[s.StaffID]; ok {
		v.StaffName = st.Name
	}
	return v
}

// helpers

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func byNameThenID(a, b string, aID, bID int) bool {
	if a != b {
		return a < b
	}
	return aID < bID
}
