package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bobarin/adshot/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &DB{conn}, mock
}

var projectRowColumns = []string{
	"id", "user_id", "name", "product_name", "product_description", "aspect_ratio",
	"target_length", "user_prompt", "uploaded_images", "generated_image", "generated_video",
	"is_generating", "is_published", "error", "created_at", "updated_at",
}

func TestDebitCreditsSufficientBalance(t *testing.T) {
	database, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("SET credits = credits - $1")).
		WithArgs(5, "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := database.DebitCredits(context.Background(), "user_1", 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitCreditsShortBalance(t *testing.T) {
	database, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $2 AND credits >= $1")).
		WithArgs(10, "user_1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := database.DebitCredits(context.Background(), "user_1", 10)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditCreditsMissingUser(t *testing.T) {
	database, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("SET credits = credits + $1")).
		WithArgs(80, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := database.CreditCredits(context.Background(), "ghost", 80)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetUserNotFound(t *testing.T) {
	database, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	user, err := database.GetUser(context.Background(), "ghost")
	assert.Nil(t, user)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpsertUserReturnsBalance(t *testing.T) {
	database, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("user_1", "a@b.co", "Ada Lovelace", "https://img", models.DefaultCredits).
		WillReturnRows(sqlmock.NewRows([]string{"credits", "created_at", "updated_at"}).AddRow(20, now, now))

	user := &models.User{ID: "user_1", Email: "a@b.co", Name: "Ada Lovelace", Image: "https://img"}
	require.NoError(t, database.UpsertUser(context.Background(), user))
	assert.Equal(t, models.DefaultCredits, user.Credits)
}

func TestBeginVideoGeneration(t *testing.T) {
	database, mock := newMock(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("AND is_generating = FALSE")).
		WithArgs(id, "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("AND generated_image IS NOT NULL")).
		WithArgs(id, "user_1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := database.BeginVideoGeneration(context.Background(), "user_1", id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = database.BeginVideoGeneration(context.Background(), "user_1", id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserProject(t *testing.T) {
	database, mock := newMock(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM projects WHERE id = $1 AND user_id = $2")).
		WithArgs(id, "user_1").
		WillReturnRows(sqlmock.NewRows(projectRowColumns).AddRow(
			id.String(), "user_1", "New Project", "Sneaker", "", "9:16",
			30, "", []byte(`["https://cdn/a.png","https://cdn/b.png"]`), "https://cdn/out.png", nil,
			false, false, nil, now, now,
		))

	project, err := database.GetUserProject(context.Background(), "user_1", id)
	require.NoError(t, err)
	assert.Equal(t, "Sneaker", project.ProductName)
	assert.Len(t, project.UploadedImages, 2)
	require.NotNil(t, project.GeneratedImage)
	assert.Equal(t, "https://cdn/out.png", *project.GeneratedImage)
	assert.Nil(t, project.GeneratedVideo)
	assert.Equal(t, models.ProjectStatusImageReady, project.Status())
}

func TestGetUserProjectNotFound(t *testing.T) {
	database, mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM projects")).
		WithArgs(id, "user_2").
		WillReturnRows(sqlmock.NewRows(projectRowColumns))

	_, err := database.GetUserProject(context.Background(), "user_2", id)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCreateProject(t *testing.T) {
	database, mock := newMock(t)
	now := time.Now()
	project := &models.Project{
		ID:             uuid.New(),
		UserID:         "user_1",
		Name:           models.DefaultProjectName,
		ProductName:    "Sneaker",
		AspectRatio:    models.DefaultAspectRatio,
		TargetLength:   models.DefaultTargetLength,
		UploadedImages: models.StringList{"a", "b"},
		IsGenerating:   true,
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO projects")).
		WithArgs(project.ID, "user_1", "New Project", "Sneaker", "", "9:16", 30, "", sqlmock.AnyArg(), true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, database.CreateProject(context.Background(), project))
	assert.Equal(t, now, project.CreatedAt)
}

func TestListPublishedProjectsEmpty(t *testing.T) {
	database, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE is_published = TRUE")).
		WillReturnRows(sqlmock.NewRows(projectRowColumns))

	projects, err := database.ListPublishedProjects(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, projects)
	assert.Empty(t, projects)
}

func TestDeleteUserProjectNotOwned(t *testing.T) {
	database, mock := newMock(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM projects")).
		WithArgs(id, "user_2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := database.DeleteUserProject(context.Background(), "user_2", id)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestSetProjectError(t *testing.T) {
	database, mock := newMock(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("SET is_generating = FALSE, error = $1")).
		WithArgs("Failed to generate image", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, database.SetProjectError(context.Background(), id, "Failed to generate image"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
