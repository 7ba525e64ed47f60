package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bobarin/adshot/internal/db"
	"github.com/bobarin/adshot/internal/errs"
	"github.com/bobarin/adshot/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store is the read side of persistence used by the handlers. *db.DB satisfies it.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserProject(ctx context.Context, userID string, id uuid.UUID) (*models.Project, error)
	ListUserProjects(ctx context.Context, userID string) ([]models.Project, error)
	ListPublishedProjects(ctx context.Context) ([]models.Project, error)
	SetProjectPublished(ctx context.Context, userID string, id uuid.UUID, published bool) error
	DeleteUserProject(ctx context.Context, userID string, id uuid.UUID) error
}

// Jobs runs the generation pipeline. *worker.Worker satisfies it.
type Jobs interface {
	CreateProject(ctx context.Context, userID string, input models.ProjectInput, images []models.SourceImage) (uuid.UUID, error)
	CreateVideo(ctx context.Context, userID string, projectID uuid.UUID) (string, error)
}

type Handler struct {
	store          Store
	jobs           Jobs
	tempDir        string
	maxUploadBytes int64
}

func NewHandler(store Store, jobs Jobs, tempDir string, maxUploadMB int) *Handler {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 32
	}
	return &Handler{
		store:          store,
		jobs:           jobs,
		tempDir:        tempDir,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// CreateProject handles POST /api/projects (multipart form)
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	input := models.ProjectInput{
		Name:               r.FormValue("name"),
		ProductName:        r.FormValue("productName"),
		ProductDescription: r.FormValue("productDescription"),
		AspectRatio:        r.FormValue("aspectRatio"),
		UserPrompt:         r.FormValue("userPrompt"),
	}
	if raw := strings.TrimSpace(r.FormValue("targetLength")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "targetLength must be a positive number")
			return
		}
		input.TargetLength = n
	}

	images, err := h.spoolImages(r.MultipartForm.File["images"])
	if err != nil {
		log.Error().Err(err).Msg("[API] Failed to spool uploads")
		respondError(w, http.StatusInternalServerError, "Failed to read uploaded images")
		return
	}

	projectID, err := h.jobs.CreateProject(r.Context(), userID, input, images)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.CreateProjectResponse{ProjectID: projectID})
}

// spoolImages copies each uploaded part to its own local file. Ownership of
// the files passes to the job.
func (h *Handler) spoolImages(headers []*multipart.FileHeader) ([]models.SourceImage, error) {
	images := make([]models.SourceImage, 0, len(headers))
	for _, fh := range headers {
		img, err := h.spool(fh)
		if err != nil {
			for _, done := range images {
				os.Remove(done.Path)
			}
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func (h *Handler) spool(fh *multipart.FileHeader) (models.SourceImage, error) {
	src, err := fh.Open()
	if err != nil {
		return models.SourceImage{}, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(h.tempDir, "upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return models.SourceImage{}, fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return models.SourceImage{}, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return models.SourceImage{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	return models.SourceImage{Path: dst.Name(), MIMEType: fh.Header.Get("Content-Type")}, nil
}

// CreateVideo handles POST /api/projects/video
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req models.CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	videoURL, err := h.jobs.CreateVideo(r.Context(), userID, req.ProjectID)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.CreateVideoResponse{
		Message:  "Video generated successfully",
		VideoURL: videoURL,
	})
}

// ListProjects handles GET /api/projects
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	projects, err := h.store.ListUserProjects(r.Context(), userID)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"projects": toResponses(projects)})
}

// ListPublishedProjects handles GET /api/projects/published
func (h *Handler) ListPublishedProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListPublishedProjects(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"projects": toResponses(projects)})
}

// GetProject handles GET /api/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	project, err := h.store.GetUserProject(r.Context(), userID, id)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.ProjectResponse{Project: *project, Status: project.Status()})
}

// SetPublished handles PATCH /api/projects/{id}/publish
func (h *Handler) SetPublished(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		IsPublished bool `json:"isPublished"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.SetProjectPublished(r.Context(), userID, id, req.IsPublished); err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"isPublished": req.IsPublished})
}

// DeleteProject handles DELETE /api/projects/{id}
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteUserProject(r.Context(), userID, id); err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Project deleted successfully"})
}

// GetCredits handles GET /api/user/credits
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.CreditsResponse{Credits: user.Credits})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func projectIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return uuid.Nil, false
	}
	return id, true
}

func toResponses(projects []models.Project) []models.ProjectResponse {
	out := make([]models.ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, models.ProjectResponse{Project: p, Status: p.Status()})
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// respondErr maps store and job errors onto status codes. Internal details
// are logged, not returned.
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrProjectNotFound):
		respondError(w, http.StatusNotFound, "Project not found")
		return
	case errors.Is(err, db.ErrUserNotFound):
		respondError(w, http.StatusUnauthorized, "User not found")
		return
	}

	kind := errs.KindOf(err)
	if kind == errs.KindInternal {
		log.Error().Err(err).Msg("[API] Internal error")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Debug().Str("kind", kind.String()).Str("message", errs.Message(err)).Msg("[API] Request rejected")
	respondError(w, kind.StatusCode(), errs.Message(err))
}
