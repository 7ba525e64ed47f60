package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/adshot/internal/models"
	"github.com/google/uuid"
)

var ErrProjectNotFound = errors.New("project not found")

const projectColumns = `
	id, user_id, name, product_name, product_description, aspect_ratio,
	target_length, user_prompt, uploaded_images, generated_image, generated_video,
	is_generating, is_published, error, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.ProductName, &p.ProductDescription, &p.AspectRatio,
		&p.TargetLength, &p.UserPrompt, &p.UploadedImages, &p.GeneratedImage, &p.GeneratedVideo,
		&p.IsGenerating, &p.IsPublished, &p.Error, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (db *DB) CreateProject(ctx context.Context, project *models.Project) error {
	query := `
		INSERT INTO projects (
			id, user_id, name, product_name, product_description, aspect_ratio,
			target_length, user_prompt, uploaded_images, is_generating
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := db.QueryRowContext(
		ctx, query,
		project.ID, project.UserID, project.Name, project.ProductName,
		project.ProductDescription, project.AspectRatio, project.TargetLength,
		project.UserPrompt, project.UploadedImages, project.IsGenerating,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetUserProject loads a project only if it belongs to userID.
func (db *DB) GetUserProject(ctx context.Context, userID string, id uuid.UUID) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND user_id = $2`

	project, err := scanProject(db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ListUserProjects returns the user's projects, newest first.
func (db *DB) ListUserProjects(ctx context.Context, userID string) ([]models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1 ORDER BY created_at DESC`
	return db.listProjects(ctx, query, userID)
}

// ListPublishedProjects returns every published project, newest first.
func (db *DB) ListPublishedProjects(ctx context.Context) ([]models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE is_published = TRUE ORDER BY created_at DESC`
	return db.listProjects(ctx, query)
}

func (db *DB) listProjects(ctx context.Context, query string, args ...interface{}) ([]models.Project, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}

	return projects, nil
}

// SetProjectImage records the composite image and ends the image generation.
func (db *DB) SetProjectImage(ctx context.Context, id uuid.UUID, imageURL string) error {
	query := `
		UPDATE projects
		SET generated_image = $1, is_generating = FALSE, updated_at = NOW()
		WHERE id = $2
	`
	result, err := db.ExecContext(ctx, query, imageURL, id)
	if err != nil {
		return fmt.Errorf("failed to set project image: %w", err)
	}
	return expectOneRow(result, ErrProjectNotFound)
}

// SetProjectVideo records the showcase video and ends the video generation.
func (db *DB) SetProjectVideo(ctx context.Context, id uuid.UUID, videoURL string) error {
	query := `
		UPDATE projects
		SET generated_video = $1, is_generating = FALSE, updated_at = NOW()
		WHERE id = $2
	`
	result, err := db.ExecContext(ctx, query, videoURL, id)
	if err != nil {
		return fmt.Errorf("failed to set project video: %w", err)
	}
	return expectOneRow(result, ErrProjectNotFound)
}

// SetProjectError clears the in-flight flag and overwrites the error message.
func (db *DB) SetProjectError(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE projects
		SET is_generating = FALSE, error = $1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, message, id)
	if err != nil {
		return fmt.Errorf("failed to set project error: %w", err)
	}
	return nil
}

// BeginVideoGeneration claims the project for a video job in one statement.
// It returns false when the project is missing, not owned by userID, already
// generating, already has a video, or has no composite image yet.
func (db *DB) BeginVideoGeneration(ctx context.Context, userID string, id uuid.UUID) (bool, error) {
	query := `
		UPDATE projects
		SET is_generating = TRUE, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
			AND is_generating = FALSE
			AND generated_video IS NULL
			AND generated_image IS NOT NULL
	`
	result, err := db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to begin video generation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows == 1, nil
}

// SetProjectPublished toggles gallery visibility for a project the user owns.
func (db *DB) SetProjectPublished(ctx context.Context, userID string, id uuid.UUID, published bool) error {
	query := `
		UPDATE projects
		SET is_published = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3
	`
	result, err := db.ExecContext(ctx, query, published, id, userID)
	if err != nil {
		return fmt.Errorf("failed to set project published: %w", err)
	}
	return expectOneRow(result, ErrProjectNotFound)
}

// DeleteUserProject removes the project regardless of its generation state.
func (db *DB) DeleteUserProject(ctx context.Context, userID string, id uuid.UUID) error {
	result, err := db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return expectOneRow(result, ErrProjectNotFound)
}
