package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/bobarin/adshot/internal/credits"
	"github.com/bobarin/adshot/internal/errs"
	"github.com/bobarin/adshot/internal/media"
	"github.com/bobarin/adshot/internal/models"
	"github.com/bobarin/adshot/internal/report"
	"github.com/bobarin/adshot/internal/services"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval      = 10 * time.Second
	defaultMaxPollWait       = 15 * time.Minute
	defaultUploadConcurrency = 4
)

// Store is the persistence the jobs need. *db.DB satisfies it.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateProject(ctx context.Context, project *models.Project) error
	GetUserProject(ctx context.Context, userID string, id uuid.UUID) (*models.Project, error)
	SetProjectImage(ctx context.Context, id uuid.UUID, imageURL string) error
	SetProjectVideo(ctx context.Context, id uuid.UUID, videoURL string) error
	SetProjectError(ctx context.Context, id uuid.UUID, message string) error
	BeginVideoGeneration(ctx context.Context, userID string, id uuid.UUID) (bool, error)
}

type ImageModel interface {
	GenerateComposite(ctx context.Context, req services.CompositeRequest) (*services.InlineImage, error)
}

type VideoModel interface {
	StartVideo(ctx context.Context, req services.VideoRequest) (*services.VideoOperation, error)
	PollVideo(ctx context.Context, op *services.VideoOperation) (*services.VideoOperation, error)
	DownloadVideo(ctx context.Context, op *services.VideoOperation, localPath string) error
}

type ObjectStore interface {
	UploadFile(ctx context.Context, localPath, contentType, kind string) (string, error)
	UploadBytes(ctx context.Context, data []byte, contentType, kind string) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	TempDir           string
	PollInterval      time.Duration
	MaxPollWait       time.Duration
	UploadConcurrency int
}

// Worker runs the image composite and video extension jobs. Each job runs to
// completion on the calling goroutine.
type Worker struct {
	store      Store
	ledger     *credits.Ledger
	image      ImageModel
	video      VideoModel
	objects    ObjectStore
	reporter   report.Reporter
	normalizer *media.Normalizer

	tempDir      string
	pollInterval time.Duration
	maxPollWait  time.Duration
	uploadSem    chan struct{} // Limits concurrent storage uploads across all jobs
}

func New(
	store Store,
	ledger *credits.Ledger,
	image ImageModel,
	video VideoModel,
	objects ObjectStore,
	reporter report.Reporter,
	opts Options,
) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxPollWait <= 0 {
		opts.MaxPollWait = defaultMaxPollWait
	}
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = defaultUploadConcurrency
	}

	return &Worker{
		store:        store,
		ledger:       ledger,
		image:        image,
		video:        video,
		objects:      objects,
		reporter:     reporter,
		normalizer:   media.NewNormalizer(),
		tempDir:      opts.TempDir,
		pollInterval: opts.PollInterval,
		maxPollWait:  opts.MaxPollWait,
		uploadSem:    make(chan struct{}, opts.UploadConcurrency),
	}
}

// uploadWithLimit wraps an upload call with a semaphore to prevent storage congestion.
func (w *Worker) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	log.Debug().Str("label", label).Msg("[Upload] Waiting for upload slot")
	select {
	case w.uploadSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled while waiting for slot: %w", ctx.Err())
	}
	defer func() { <-w.uploadSem }()

	log.Debug().Str("label", label).Msg("[Upload] Uploading")
	return fn()
}

// fail runs the shared failure path: refund the reservation, annotate the
// project when one is owned by this job, and report.
func (w *Worker) fail(ctx context.Context, stage, userID string, reservation *credits.Reservation, projectID *uuid.UUID, err error) error {
	if refundErr := w.ledger.Refund(ctx, reservation); refundErr != nil {
		log.Error().Err(refundErr).Str("user_id", userID).Msg("[Worker] Refund failed")
	}

	tags := map[string]string{"stage": stage, "user_id": userID, "kind": errs.KindOf(err).String()}
	if projectID != nil {
		tags["project_id"] = projectID.String()
		if setErr := w.store.SetProjectError(ctx, *projectID, errorMessage(err)); setErr != nil {
			log.Error().Err(setErr).Str("project_id", projectID.String()).Msg("[Worker] Failed to record project error")
		}
	}

	if w.reporter != nil {
		w.reporter.CaptureError(ctx, err, tags)
	}
	return err
}
