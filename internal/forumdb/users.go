package forumdb

import (
	"context"
	"database/sql"
	"time"
)

// User is one account row.
type User struct {
	ID           int64
	Nickname     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Users reads and writes the accounts table.
type Users struct {
	DB *sql.DB
}

// Create inserts an account and returns its id. A unique violation surfaces
// as the driver error; callers map it to a conflict response.
func (u *Users) Create(ctx context.Context, nickname, email, passwordHash string) (int64, error) {
	var id int64
	err := u.DB.QueryRowContext(ctx,
		`INSERT INTO users (nickname, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		nickname, email, passwordHash).Scan(&id)
	return id, err
}

// ByIdentifier looks an account up by nickname or email.
func (u *Users) ByIdentifier(ctx context.Context, identifier string) (User, error) {
	var user User
	err := u.DB.QueryRowContext(ctx,
		`SELECT id, nickname, email, password_hash FROM users WHERE nickname=$1 OR email=$1`,
		identifier).Scan(&user.ID, &user.Nickname, &user.Email, &user.PasswordHash)
	return user, err
}

// ByID fetches one account.
func (u *Users) ByID(ctx context.Context, id int64) (User, error) {
	var user User
	err := u.DB.QueryRowContext(ctx,
		`SELECT id, nickname, email, password_hash FROM users WHERE id=$1`,
		id).Scan(&user.ID, &user.Nickname, &user.Email, &user.PasswordHash)
	return user, err
}
