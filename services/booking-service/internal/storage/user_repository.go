package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

// Errors returned by Create.
var (
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
)

// Unique indexes on users, see migration 0006.
const (
	emailUniqueIndex    = "users_email_lower_key"
	usernameUniqueIndex = "users_username_lower_key"
)

// NormalizeEmail is the stored and compared form of an address.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

const userColumns = `id, username, password_hash, full_name, email, role, created_at`

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user model.User) (model.User, error) {
	if user.Role == "" {
		user.Role = model.RolePatient
	}
	user.Email = NormalizeEmail(user.Email)
	created, err := scanUser(r.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, full_name, email, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		user.Username, user.PasswordHash, user.FullName, user.Email, user.Role))
	if db.IsUniqueViolation(err) {
		switch db.ConstraintName(err) {
		case usernameUniqueIndex:
			return model.User{}, ErrUsernameTaken
		case emailUniqueIndex:
			return model.User{}, ErrEmailTaken
		}
	}
	return created, err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, NormalizeEmail(email))
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) getOne(ctx context.Context, sql string, arg any) (model.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, sql, arg))
	if db.IsNotFound(err) {
		return model.User{}, model.ErrNotFound
	}
	return user, err
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &u.Email, &u.Role, &u.CreatedAt)
	return u, err
}
