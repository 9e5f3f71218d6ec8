package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Users is the lazily-populated user directory. Entries are created the first
// time an order references them and never mutated afterwards.
type Users struct {
	Pool *pgxpool.Pool
}

// Ensure inserts the user if absent. Already-existing users are left untouched.
func (r *Users) Ensure(ctx context.Context, userID, username string) error {
	if r == nil || r.Pool == nil {
		return errors.New("store: users not configured")
	}
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO users (user_id, username)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, username)
	return err
}
