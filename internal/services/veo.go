package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bobarin/adshot/internal/errs"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo 3.1 Video Generation Service
// Seeds a showcase video from the composite image. The service exposes the
// start / poll / download primitives; the caller owns the wait loop.
// ---------------------------------------------------------------------------

const (
	defaultVeoModel   = "veo-3.1-generate-preview"
	videoResolution   = "720p"
	defaultVideoSecs  = 30
	seedImageMIMEType = "image/png"
)

type videoGenerator interface {
	GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
}

type videoOperations interface {
	GetVideosOperation(ctx context.Context, operation *genai.GenerateVideosOperation, config *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error)
}

type fileDownloader interface {
	Download(ctx context.Context, uri genai.DownloadURI, config *genai.DownloadFileConfig) ([]byte, error)
}

// VeoService handles video generation via Google's Veo 3.1 model.
type VeoService struct {
	models     videoGenerator
	operations videoOperations
	files      fileDownloader
	model      string
}

func NewVeoService(client *genai.Client, model string) *VeoService {
	if model == "" {
		model = defaultVeoModel
	}
	return &VeoService{
		models:     client.Models,
		operations: client.Operations,
		files:      client.Files,
		model:      model,
	}
}

type VideoRequest struct {
	ProductName        string
	ProductDescription string
	AspectRatio        string
	DurationSeconds    int
	SeedImage          []byte
}

// VideoOperation is a provider-neutral view of a long-running video operation.
type VideoOperation struct {
	Name            string
	Done            bool
	VideoCount      int
	FilteredReasons []string
	ResponseError   string // error message embedded in the response payload, if any
	OperationError  string
	RawResponse     string // serialized response when it carried anything at all

	raw *genai.GenerateVideosOperation
}

// BuildVideoPrompt describes the showcase for the product held in the seed image.
func BuildVideoPrompt(productName, productDescription string) string {
	var b strings.Builder
	b.WriteString("A professional product showcase video. The person is displaying and presenting the ")
	b.WriteString(productName)
	b.WriteString(". ")
	if productDescription != "" {
		b.WriteString("Product details: ")
		b.WriteString(productDescription)
		b.WriteString(". ")
	}
	b.WriteString("Smooth camera movement, natural presentation style, commercial quality lighting.")
	return b.String()
}

// VideoConfig fills in the defaults for the generation request.
func VideoConfig(aspectRatio string, durationSeconds int) *genai.GenerateVideosConfig {
	if aspectRatio == "" {
		aspectRatio = defaultAspectRatio
	}
	if durationSeconds <= 0 {
		durationSeconds = defaultVideoSecs
	}
	return &genai.GenerateVideosConfig{
		AspectRatio:     aspectRatio,
		NumberOfVideos:  1,
		Resolution:      videoResolution,
		DurationSeconds: genai.Ptr(int32(durationSeconds)),
	}
}

// StartVideo submits the generation request and returns the pending operation.
func (s *VeoService) StartVideo(ctx context.Context, req VideoRequest) (*VideoOperation, error) {
	prompt := BuildVideoPrompt(req.ProductName, req.ProductDescription)
	seed := &genai.Image{
		ImageBytes: req.SeedImage,
		MIMEType:   seedImageMIMEType,
	}

	log.Info().
		Str("model", s.model).
		Int("prompt_len", len(prompt)).
		Int("image_bytes", len(req.SeedImage)).
		Msg("[Veo] Starting video generation")

	op, err := s.models.GenerateVideos(ctx, s.model, prompt, seed, VideoConfig(req.AspectRatio, req.DurationSeconds))
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, fmt.Sprintf("Video generation failed: %v", err), err)
	}

	log.Info().Str("operation", op.Name).Msg("[Veo] Operation started")
	return summarize(op), nil
}

// PollVideo refreshes the operation once.
func (s *VeoService) PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error) {
	if op == nil || op.raw == nil {
		return nil, fmt.Errorf("no operation to poll")
	}

	next, err := s.operations.GetVideosOperation(ctx, op.raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to poll operation %s: %w", op.Name, err)
	}
	return summarize(next), nil
}

// DownloadVideo writes the first usable generated video to localPath.
func (s *VeoService) DownloadVideo(ctx context.Context, op *VideoOperation, localPath string) error {
	var video *genai.Video
	if op != nil && op.raw != nil {
		video = firstVideo(op.raw.Response)
	}
	if video == nil {
		return errs.Upstream("Video generation failed")
	}

	data, err := s.files.Download(ctx, genai.NewDownloadURIFromVideo(video), nil)
	if err != nil {
		return errs.Wrap(errs.KindUpstream, "Failed to download generated video", err)
	}
	if len(data) == 0 {
		return errs.Upstream("Downloaded video is empty")
	}

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return errs.Storage("Failed to write video file", err)
	}

	log.Info().Int("bytes", len(data)).Str("path", localPath).Msg("[Veo] Video downloaded")
	return nil
}

func firstVideo(resp *genai.GenerateVideosResponse) *genai.Video {
	if resp == nil {
		return nil
	}
	for _, v := range resp.GeneratedVideos {
		if v != nil && v.Video != nil {
			return v.Video
		}
	}
	return nil
}

func summarize(op *genai.GenerateVideosOperation) *VideoOperation {
	if op == nil {
		return &VideoOperation{}
	}

	out := &VideoOperation{
		Name: op.Name,
		Done: op.Done,
		raw:  op,
	}

	if msg, ok := op.Error["message"].(string); ok {
		out.OperationError = msg
	} else if len(op.Error) > 0 {
		errJSON, _ := json.Marshal(op.Error)
		out.OperationError = string(errJSON)
	}

	if resp := op.Response; resp != nil {
		for _, v := range resp.GeneratedVideos {
			if v != nil && v.Video != nil {
				out.VideoCount++
			}
		}
		out.FilteredReasons = resp.RAIMediaFilteredReasons

		if respJSON, err := json.Marshal(resp); err == nil {
			if s := string(respJSON); s != "{}" && s != "null" {
				out.RawResponse = s
			}
		}
	}

	return out
}
