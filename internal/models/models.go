package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is derived from a project's output columns; it is never stored.
type ProjectStatus string

const (
	ProjectStatusGeneratingImage ProjectStatus = "generating_image"
	ProjectStatusImageReady      ProjectStatus = "image_ready"
	ProjectStatusGeneratingVideo ProjectStatus = "generating_video"
	ProjectStatusVideoReady      ProjectStatus = "video_ready"
	ProjectStatusFailed          ProjectStatus = "failed"
)

const (
	DefaultProjectName  = "New Project"
	DefaultAspectRatio  = "9:16"
	DefaultTargetLength = 30
	DefaultCredits      = 20
)

// StringList is a custom type for PostgreSQL JSONB array columns
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	return json.Unmarshal(data, l)
}

// Models

type User struct {
	ID        string    `json:"id"` // issued by the identity provider
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Project struct {
	ID                 uuid.UUID  `json:"id"`
	UserID             string     `json:"userId"`
	Name               string     `json:"name"`
	ProductName        string     `json:"productName"`
	ProductDescription string     `json:"productDescription"`
	AspectRatio        string     `json:"aspectRatio"`
	TargetLength       int        `json:"targetLength"`
	UserPrompt         string     `json:"userPrompt"`
	UploadedImages     StringList `json:"uploadedImages"`
	GeneratedImage     *string    `json:"generatedImage,omitempty"`
	GeneratedVideo     *string    `json:"generatedVideo,omitempty"`
	IsGenerating       bool       `json:"isGenerating"`
	IsPublished        bool       `json:"isPublished"`
	Error              *string    `json:"error,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Status reports where the project sits in its image-then-video lifecycle.
func (p *Project) Status() ProjectStatus {
	switch {
	case p.GeneratedVideo != nil:
		return ProjectStatusVideoReady
	case p.IsGenerating && p.GeneratedImage == nil:
		return ProjectStatusGeneratingImage
	case p.IsGenerating:
		return ProjectStatusGeneratingVideo
	case p.GeneratedImage != nil:
		return ProjectStatusImageReady
	default:
		return ProjectStatusFailed
	}
}

// Request/Response DTOs

// ProjectInput carries the validated form fields of a composite request.
type ProjectInput struct {
	Name               string
	ProductName        string
	ProductDescription string
	AspectRatio        string
	TargetLength       int
	UserPrompt         string
}

// SourceImage is an uploaded file spooled to local disk.
type SourceImage struct {
	Path     string
	MIMEType string
}

type CreateProjectResponse struct {
	ProjectID uuid.UUID `json:"projectId"`
}

type CreateVideoRequest struct {
	ProjectID uuid.UUID `json:"projectId"`
}

type CreateVideoResponse struct {
	Message  string `json:"message"`
	VideoURL string `json:"videoUrl"`
}

type ProjectResponse struct {
	Project
	Status ProjectStatus `json:"status"`
}

type CreditsResponse struct {
	Credits int `json:"credits"`
}
