package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/progress"
	"github.com/trezcool/rollbook/core/school"
)

var progressConstraints = map[string]error{
	"student_topic_progress_student_id_fkey": school.ErrNotFound,
	"student_topic_progress_topic_id_fkey":   school.ErrNotFound,
}

type progressRow struct {
	ID         int       `db:"id"`
	StudentID  int       `db:"student_id"`
	TopicID    int       `db:"topic_id"`
	ModuleName string    `db:"module_name"`
	TopicName  string    `db:"topic_name"`
	StartDate  null.Time `db:"start_date"`
	EndDate    null.Time `db:"end_date"`
	Marks      null.Int  `db:"marks"`
	Sign       string    `db:"sign"`
}

func (r progressRow) toProgress() progress.Progress {
	return progress.Progress{
		ID:         r.ID,
		StudentID:  r.StudentID,
		TopicID:    r.TopicID,
		ModuleName: r.ModuleName,
		TopicName:  r.TopicName,
		StartDate:  utcNullDate(r.StartDate),
		EndDate:    utcNullDate(r.EndDate),
		Marks:      r.Marks,
		Sign:       r.Sign,
	}
}

type progressRepository struct {
	db core.DB
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(db core.DB) progress.Repository {
	return &progressRepository{db: db}
}

func (repo *progressRepository) EnsureProgress(ctx context.Context, studentID int, topicIDs []int) error {
	if len(topicIDs) == 0 {
		return nil
	}
	ids := make(pq.Int64Array, 0, len(topicIDs))
	for _, id := range topicIDs {
		ids = append(ids, int64(id))
	}

	q := `INSERT INTO student_topic_progress (student_id, topic_id)
		SELECT $1, topic_id FROM UNNEST($2::integer[]) AS topic_id
		ON CONFLICT (student_id, topic_id) DO NOTHING`
	if _, err := repo.db.ExecContext(ctx, q, studentID, ids); err != nil {
		if domainErr, ok := constraintErr(err, progressConstraints); ok {
			return domainErr
		}
		return errors.Wrap(err, "ensuring progress rows")
	}
	return nil
}

func (repo *progressRepository) QueryProgress(ctx context.Context, studentID int) ([]progress.Progress, error) {
	q := `SELECT p.id, p.student_id, p.topic_id, t.module_name, t.topic_name, p.start_date, p.end_date, p.marks, p.sign
		FROM student_topic_progress p JOIN course_topics t ON t.id = p.topic_id
		WHERE p.student_id = $1
		ORDER BY p.topic_id`

	var rows []progressRow
	if err := repo.db.SelectContext(ctx, &rows, q, studentID); err != nil {
		return nil, errors.Wrap(err, "querying progress")
	}
	res := make([]progress.Progress, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toProgress())
	}
	return res, nil
}

func (repo *progressRepository) SaveProgress(ctx context.Context, rows []progress.Progress) error {
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := "UPDATE student_topic_progress SET start_date = $2, end_date = $3, marks = $4, sign = $5 WHERE id = $1"
		for _, p := range rows {
			res, err := tx.ExecContext(ctx, q, p.ID, p.StartDate, p.EndDate, p.Marks, p.Sign)
			if err != nil {
				return errors.Wrap(err, "saving progress")
			}
			if err = rowsAffected(res, school.ErrNotFound, "saving progress"); err != nil {
				return err
			}
		}
		return nil
	})
}
