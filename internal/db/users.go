package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/adshot/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UpsertUser creates or refreshes a user record from the identity provider.
// The credit balance of an existing user is never touched.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, image, credits)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			image = EXCLUDED.image,
			updated_at = NOW()
		RETURNING credits, created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		user.ID, user.Email, user.Name, user.Image, models.DefaultCredits,
	).Scan(&user.Credits, &user.CreatedAt, &user.UpdatedAt)
}

// GetUser retrieves a user by their ID.
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, name, image, credits, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &models.User{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.Image,
		&user.Credits, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// UpdateUser updates mutable user profile fields.
func (db *DB) UpdateUser(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET email = $1, name = $2, image = $3, updated_at = NOW()
		WHERE id = $4
	`
	result, err := db.ExecContext(ctx, query, user.Email, user.Name, user.Image, user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return expectOneRow(result, ErrUserNotFound)
}

// DeleteUser removes a user record. Their projects go with them (ON DELETE CASCADE).
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return expectOneRow(result, ErrUserNotFound)
}

// DebitCredits subtracts amount only when the balance covers it.
// Returns false when the row was not changed (missing user or short balance).
func (db *DB) DebitCredits(ctx context.Context, id string, amount int) (bool, error) {
	query := `
		UPDATE users
		SET credits = credits - $1, updated_at = NOW()
		WHERE id = $2 AND credits >= $1
	`
	result, err := db.ExecContext(ctx, query, amount, id)
	if err != nil {
		return false, fmt.Errorf("failed to debit credits: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows == 1, nil
}

// CreditCredits adds amount to the user's balance.
func (db *DB) CreditCredits(ctx context.Context, id string, amount int) error {
	query := `
		UPDATE users
		SET credits = credits + $1, updated_at = NOW()
		WHERE id = $2
	`
	result, err := db.ExecContext(ctx, query, amount, id)
	if err != nil {
		return fmt.Errorf("failed to credit credits: %w", err)
	}

	return expectOneRow(result, ErrUserNotFound)
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
