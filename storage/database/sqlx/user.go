package sqlxrepos

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/user"
)

type userRow struct {
	ID           int            `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func fromUser(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	hash := usr.PasswordHash
	if hash == nil {
		hash = []byte{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     usr.Username,
		Email:        usr.Email,
		IsActive:     usr.IsActive,
		Roles:        roles,
		PasswordHash: hash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (r userRow) toUser() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		IsActive:     r.IsActive,
		Roles:        []string(r.Roles),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    r.LastLogin.Time.UTC(),
	}
}

const userColumns = "id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login"

var userConstraints = map[string]error{
	"users_username_key": user.ErrUsernameExists,
	"users_email_key":    user.ErrEmailExists,
}

type userRepository struct {
	db core.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	excluded := make(pq.Int64Array, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded = append(excluded, int64(u.ID))
	}

	var taken []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	q := `SELECT username, email FROM users
		WHERE (username = $1 OR ($2::text <> '' AND email = $2)) AND NOT (id = ANY($3))`
	if err := repo.db.SelectContext(ctx, &taken, q, username, email, excluded); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, t := range taken {
		if t.Username == username {
			return user.ErrUsernameExists
		}
	}
	if len(taken) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := fromUser(usr)
	q := `INSERT INTO users (name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login)
		VALUES (:name, :username, :email, :is_active, :roles, :password_hash, :created_at, :updated_at, :last_login)
		RETURNING ` + userColumns

	var created userRow
	if err := namedGet(ctx, repo.db, &created, q, row); err != nil {
		if domainErr, ok := constraintErr(err, userConstraints); ok {
			return user.User{}, domainErr
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return created.toUser(), nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var w where
	switch {
	case filter.ID != 0:
		w.add("id = ?", filter.ID)
	case filter.Username != "":
		w.add("username = ?", filter.Username)
	case filter.Email != "":
		w.add("email = ?", filter.Email)
	case filter.UsernameOrEmail != "":
		w.add("(username = ? OR email = ?)", filter.UsernameOrEmail, filter.UsernameOrEmail)
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	q := w.query("SELECT "+userColumns+" FROM users", " ORDER BY id LIMIT 1")
	if err := repo.db.GetContext(ctx, &row, q, w.args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := fromUser(usr)
	q := `UPDATE users SET name = :name, username = :username, email = :email, is_active = :is_active,
			roles = :roles, password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id
		RETURNING ` + userColumns

	var updated userRow
	if err := namedGet(ctx, repo.db, &updated, q, row); err != nil {
		if domainErr, ok := constraintErr(err, userConstraints); ok {
			return user.User{}, domainErr
		}
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "updating user")
	}
	return updated.toUser(), nil
}
