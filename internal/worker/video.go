package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/adshot/internal/credits"
	"github.com/bobarin/adshot/internal/db"
	"github.com/bobarin/adshot/internal/errs"
	"github.com/bobarin/adshot/internal/media"
	"github.com/bobarin/adshot/internal/services"
	"github.com/bobarin/adshot/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CreateVideo runs the video extension job for a project that already has a
// composite image and returns the public URL of the stored video.
func (w *Worker) CreateVideo(ctx context.Context, userID string, projectID uuid.UUID) (string, error) {
	ctx = context.WithoutCancel(ctx)

	temps := media.NewTempFiles(w.tempDir)
	defer temps.Cleanup()

	if err := w.checkBalance(ctx, userID, credits.VideoCost); err != nil {
		return "", err
	}

	reservation, err := w.ledger.Reserve(ctx, userID, credits.VideoCost)
	if err != nil {
		return "", err
	}

	claimed, err := w.store.BeginVideoGeneration(ctx, userID, projectID)
	if err != nil {
		return "", w.fail(ctx, "video", userID, reservation, nil, errs.Internal("Failed to start video generation", err))
	}
	if !claimed {
		claimErr := w.classifyClaimFailure(ctx, userID, projectID)
		if refundErr := w.ledger.Refund(ctx, reservation); refundErr != nil {
			log.Error().Err(refundErr).Str("user_id", userID).Msg("[Video] Refund failed")
		}
		return "", claimErr
	}

	log.Info().Str("project_id", projectID.String()).Msg("[Video] Job started")

	project, err := w.store.GetUserProject(ctx, userID, projectID)
	if err != nil {
		return "", w.fail(ctx, "video", userID, reservation, &projectID, errs.Internal("Failed to load project", err))
	}
	if project.GeneratedImage == nil {
		return "", w.fail(ctx, "video", userID, reservation, &projectID, errs.PreconditionFailed("No generated image found for the project"))
	}

	seed, err := w.objects.Fetch(ctx, *project.GeneratedImage)
	if err != nil {
		return "", w.fail(ctx, "video", userID, reservation, &projectID, errs.Storage("Failed to fetch generated image", err))
	}

	op, err := w.video.StartVideo(ctx, services.VideoRequest{
		ProductName:        project.ProductName,
		ProductDescription: project.ProductDescription,
		AspectRatio:        project.AspectRatio,
		DurationSeconds:    project.TargetLength,
		SeedImage:          seed,
	})
	if err != nil {
		return "", w.fail(ctx, "video", userID, reservation, &projectID, err)
	}

	op, err = w.awaitVideo(ctx, op)
	if err != nil {
		return "", w.fail(ctx, "video", userID, reservation, &projectID, err)
	}

	if op.VideoCount == 0 {
		log.Warn().Str("operation", op.Name).Str("response", op.RawResponse).Msg("[Video] Operation finished without videos")
		return "", w.fail(ctx, "video", userID, reservation, &projectID, errs.Upstream(videoFailureMessage(op)))
	}

	localPath := temps.Create(".mp4")
	if err := w.video.DownloadVideo(ctx, op, localPath); err != nil {
		return "", w.fail(ctx, "video", userID, reservation, &projectID, err)
	}

	var videoURL string
	err = w.uploadWithLimit(ctx, "video "+projectID.String(), func() error {
		var upErr error
		videoURL, upErr = w.objects.UploadFile(ctx, localPath, "video/mp4", storage.KindVideo)
		return upErr
	})
	if err != nil {
		return "", w.fail(ctx, "video", userID, reservation, &projectID, errs.Storage("Failed to upload video", err))
	}

	if err := w.store.SetProjectVideo(ctx, projectID, videoURL); err != nil {
		return "", w.fail(ctx, "video", userID, reservation, &projectID, errs.Internal("Failed to save video", err))
	}

	log.Info().Str("project_id", projectID.String()).Str("url", videoURL).Msg("[Video] Job completed")
	return videoURL, nil
}

// classifyClaimFailure explains why BeginVideoGeneration changed no row.
// The project is left untouched.
func (w *Worker) classifyClaimFailure(ctx context.Context, userID string, projectID uuid.UUID) error {
	project, err := w.store.GetUserProject(ctx, userID, projectID)
	if errors.Is(err, db.ErrProjectNotFound) {
		return errs.NotFound("Project not found")
	}
	if err != nil {
		return errs.Internal("Failed to load project", err)
	}

	switch {
	case project.IsGenerating:
		return errs.Conflict("Generation already in progress")
	case project.GeneratedVideo != nil:
		return errs.Conflict("Video already generated")
	case project.GeneratedImage == nil:
		return errs.PreconditionFailed("No generated image found for the project")
	default:
		// state changed between the update and the read
		return errs.Conflict("Generation already in progress")
	}
}

// awaitVideo polls the operation until it completes, giving up after maxPollWait.
func (w *Worker) awaitVideo(ctx context.Context, op *services.VideoOperation) (*services.VideoOperation, error) {
	maxPolls := int(w.maxPollWait / w.pollInterval)
	if maxPolls < 1 {
		maxPolls = 1
	}

	for polls := 0; !op.Done; polls++ {
		if polls >= maxPolls {
			return nil, errs.TimedOut(fmt.Sprintf("Video generation timed out after %s", w.maxPollWait))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("video generation cancelled: %w", ctx.Err())
		case <-time.After(w.pollInterval):
		}

		next, err := w.video.PollVideo(ctx, op)
		if err != nil {
			return nil, errs.Wrap(errs.KindUpstream, "Failed to check video status", err)
		}
		op = next

		log.Debug().Str("operation", op.Name).Int("poll", polls+1).Bool("done", op.Done).Msg("[Video] Poll")
	}

	return op, nil
}
