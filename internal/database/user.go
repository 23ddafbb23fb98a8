package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxdialer/engine/internal/database/models"
)

// userRepo implements UserRepository.
type userRepo struct {
	db *DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, role, extension, max_channels)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		u.Username, u.Role, u.Extension, u.MaxChannels,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, username, role, extension, max_channels FROM users WHERE id = $1`, id))
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, username, role, extension, max_channels FROM users WHERE username = $1`, username))
}

func (r *userRepo) ListByRole(ctx context.Context, role string) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, role, extension, max_channels FROM users WHERE role = $1 ORDER BY username`, role)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.Extension, &u.MaxChannels); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *userRepo) Update(ctx context.Context, u *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = $1, role = $2, extension = $3, max_channels = $4 WHERE id = $5`,
		u.Username, u.Role, u.Extension, u.MaxChannels, u.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

func (r *userRepo) scanOne(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Role, &u.Extension, &u.MaxChannels)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}
