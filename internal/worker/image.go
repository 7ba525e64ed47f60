package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bobarin/adshot/internal/credits"
	"github.com/bobarin/adshot/internal/db"
	"github.com/bobarin/adshot/internal/errs"
	"github.com/bobarin/adshot/internal/media"
	"github.com/bobarin/adshot/internal/models"
	"github.com/bobarin/adshot/internal/services"
	"github.com/bobarin/adshot/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const insufficientCredits = "Not enough credits. Please purchase more credits."

// CreateProject runs the image composite job. The worker takes ownership of
// the spooled source files and removes them before returning.
func (w *Worker) CreateProject(ctx context.Context, userID string, input models.ProjectInput, images []models.SourceImage) (uuid.UUID, error) {
	ctx = context.WithoutCancel(ctx)

	temps := media.NewTempFiles(w.tempDir)
	for _, img := range images {
		temps.Track(img.Path)
	}
	defer temps.Cleanup()

	if len(images) < 2 || strings.TrimSpace(input.ProductName) == "" {
		return uuid.Nil, errs.BadRequest("Please provide at least 2 images and product name")
	}

	if err := w.checkBalance(ctx, userID, credits.CompositeCost); err != nil {
		return uuid.Nil, err
	}

	reservation, err := w.ledger.Reserve(ctx, userID, credits.CompositeCost)
	if err != nil {
		return uuid.Nil, err
	}

	log.Info().Str("user_id", userID).Int("images", len(images)).Msg("[Image] Job started")

	urls, err := w.uploadSources(ctx, images)
	if err != nil {
		return uuid.Nil, w.fail(ctx, "image", userID, reservation, nil, errs.Storage("Failed to upload images", err))
	}

	project := newProject(userID, input, urls)
	if err := w.store.CreateProject(ctx, project); err != nil {
		return uuid.Nil, w.fail(ctx, "image", userID, reservation, nil, errs.Internal("Failed to create project", err))
	}
	projectID := project.ID

	composite, err := w.buildCompositeRequest(images[0], images[1], input, temps)
	if err != nil {
		return uuid.Nil, w.fail(ctx, "image", userID, reservation, &projectID, err)
	}

	generated, err := w.image.GenerateComposite(ctx, composite)
	if err != nil {
		return uuid.Nil, w.fail(ctx, "image", userID, reservation, &projectID, err)
	}

	var imageURL string
	err = w.uploadWithLimit(ctx, "generated image "+projectID.String(), func() error {
		var upErr error
		imageURL, upErr = w.objects.UploadBytes(ctx, generated.Data, generated.MIMEType, storage.KindGenerated)
		return upErr
	})
	if err != nil {
		return uuid.Nil, w.fail(ctx, "image", userID, reservation, &projectID, errs.Storage("Failed to upload generated image", err))
	}

	if err := w.store.SetProjectImage(ctx, projectID, imageURL); err != nil {
		return uuid.Nil, w.fail(ctx, "image", userID, reservation, &projectID, errs.Internal("Failed to save generated image", err))
	}

	log.Info().Str("project_id", projectID.String()).Str("url", imageURL).Msg("[Image] Job completed")
	return projectID, nil
}

// checkBalance rejects unknown users and users who cannot afford the job
// before anything is debited.
func (w *Worker) checkBalance(ctx context.Context, userID string, cost int) error {
	user, err := w.store.GetUser(ctx, userID)
	if errors.Is(err, db.ErrUserNotFound) {
		return errs.Unauthorized("User not found")
	}
	if err != nil {
		return errs.Internal("Failed to load user", err)
	}
	if user.Credits < cost {
		return errs.PaymentRequired(insufficientCredits)
	}
	return nil
}

func newProject(userID string, input models.ProjectInput, urls []string) *models.Project {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = models.DefaultProjectName
	}
	aspect := input.AspectRatio
	if aspect == "" {
		aspect = models.DefaultAspectRatio
	}
	length := input.TargetLength
	if length <= 0 {
		length = models.DefaultTargetLength
	}

	return &models.Project{
		ID:                 uuid.New(),
		UserID:             userID,
		Name:               name,
		ProductName:        strings.TrimSpace(input.ProductName),
		ProductDescription: input.ProductDescription,
		AspectRatio:        aspect,
		TargetLength:       length,
		UserPrompt:         input.UserPrompt,
		UploadedImages:     urls,
		IsGenerating:       true,
	}
}

// uploadSources stores every source image in parallel; the URLs keep input order.
func (w *Worker) uploadSources(ctx context.Context, images []models.SourceImage) ([]string, error) {
	urls := make([]string, len(images))

	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			return w.uploadWithLimit(gctx, fmt.Sprintf("source %d", i), func() error {
				url, err := w.objects.UploadFile(gctx, img.Path, img.MIMEType, storage.KindSource)
				if err != nil {
					return fmt.Errorf("failed to upload source %d: %w", i, err)
				}
				urls[i] = url
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// buildCompositeRequest normalizes the product and person images in parallel
// and loads them for the model.
func (w *Worker) buildCompositeRequest(product, person models.SourceImage, input models.ProjectInput, temps *media.TempFiles) (services.CompositeRequest, error) {
	sources := []models.SourceImage{product, person}
	inline := make([]services.InlineImage, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			normalized, err := w.normalizer.Normalize(src, temps)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(normalized.Path)
			if err != nil {
				return errs.Storage("Failed to read image", err)
			}
			inline[i] = services.InlineImage{Data: data, MIMEType: normalized.MIMEType}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return services.CompositeRequest{}, err
	}

	return services.CompositeRequest{
		Product:     inline[0],
		Person:      inline[1],
		AspectRatio: input.AspectRatio,
		UserPrompt:  input.UserPrompt,
	}, nil
}
