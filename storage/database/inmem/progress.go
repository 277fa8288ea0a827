package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/rollbook/core/progress"
	"github.com/trezcool/rollbook/core/school"
)

type progressRepository struct {
	db *DB
}

var _ progress.Repository = (*progressRepository)(nil)

func NewProgressRepository(db *DB) progress.Repository {
	return &progressRepository{db: db}
}

func (repo *progressRepository) EnsureProgress(_ context.Context, studentID int, topicIDs []int) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.students[studentID]; !ok {
		return school.ErrNotFound
	}
	existing := make(map[int]struct{})
	for _, p := range repo.db.progress {
		if p.StudentID == studentID {
			existing[p.TopicID] = struct{}{}
		}
	}
	for _, tid := range topicIDs {
		if _, ok := existing[tid]; ok {
			continue
		}
		if _, ok := repo.db.topics[tid]; !ok {
			return school.ErrNotFound
		}
		p := progress.Progress{ID: repo.db.nextPK(), StudentID: studentID, TopicID: tid}
		repo.db.progress[p.ID] = &p
		existing[tid] = struct{}{}
	}
	return nil
}

func (repo *progressRepository) QueryProgress(_ context.Context, studentID int) ([]progress.Progress, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]progress.Progress, 0)
	for _, p := range repo.db.progress {
		if p.StudentID != studentID {
			continue
		}
		v := *p
		if t, ok := repo.db.topics[p.TopicID]; ok {
			v.ModuleName, v.TopicName = t.ModuleName, t.TopicName
		}
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].TopicID < res[j].TopicID })
	return res, nil
}

func (repo *progressRepository) SaveProgress(_ context.Context, rows []progress.Progress) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// check everything first: all rows are saved or none
	for _, p := range rows {
		if _, ok := repo.db.progress[p.ID]; !ok {
			return school.ErrNotFound
		}
	}
	for _, p := range rows {
		orig := repo.db.progress[p.ID]
		orig.StartDate, orig.EndDate, orig.Marks, orig.Sign = p.StartDate, p.EndDate, p.Marks, p.Sign
	}
	return nil
}
