package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/adshot/internal/errs"
	"github.com/bobarin/adshot/internal/models"
	"github.com/bobarin/adshot/internal/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) readyProject(userID string) uuid.UUID {
	image := "https://cdn.test/generated/seed.png"
	p := &models.Project{
		ID:                 uuid.New(),
		UserID:             userID,
		Name:               "Launch",
		ProductName:        "Sneaker",
		ProductDescription: "red suede",
		AspectRatio:        "16:9",
		TargetLength:       8,
		GeneratedImage:     &image,
	}
	h.store.putProject(p)
	return p.ID
}

func TestCreateVideoSuccess(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 20)
	id := h.readyProject("user_1")

	url, err := h.worker.CreateVideo(context.Background(), "user_1", id)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/videos/1", url)
	assert.Equal(t, 10, h.store.balance("user_1"))

	project := h.store.project(id)
	require.NotNil(t, project.GeneratedVideo)
	assert.Equal(t, url, *project.GeneratedVideo)
	assert.False(t, project.IsGenerating)

	require.Len(t, h.video.requests, 1)
	req := h.video.requests[0]
	assert.Equal(t, "Sneaker", req.ProductName)
	assert.Equal(t, "red suede", req.ProductDescription)
	assert.Equal(t, "16:9", req.AspectRatio)
	assert.Equal(t, 8, req.DurationSeconds)
	assert.Equal(t, []byte("seed-png"), req.SeedImage)
	assert.Equal(t, []string{"https://cdn.test/generated/seed.png"}, h.objects.fetched)

	require.Len(t, h.video.written, 1)
	assert.NoFileExists(t, h.video.written[0])
}

func TestCreateVideoInsufficientCredits(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 9)
	id := h.readyProject("user_1")

	_, err := h.worker.CreateVideo(context.Background(), "user_1", id)
	assert.True(t, errs.Is(err, errs.KindPaymentRequired))
	assert.Equal(t, 9, h.store.balance("user_1"))
	assert.False(t, h.store.project(id).IsGenerating)
}

func TestCreateVideoNotFoundForOtherOwner(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 20)
	h.store.addUser("user_2", 20)
	id := h.readyProject("user_1")

	_, err := h.worker.CreateVideo(context.Background(), "user_2", id)
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.Equal(t, 20, h.store.balance("user_2"))
	assert.Empty(t, h.video.requests)
}

func TestCreateVideoConflictWhileGenerating(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 20)
	id := h.readyProject("user_1")
	p := h.store.project(id)
	p.IsGenerating = true
	h.store.putProject(&p)

	_, err := h.worker.CreateVideo(context.Background(), "user_1", id)
	assert.True(t, errs.Is(err, errs.KindConflict))
	assert.Equal(t, 20, h.store.balance("user_1"))

	after := h.store.project(id)
	assert.True(t, after.IsGenerating, "claim failure must not touch the project")
	assert.Nil(t, after.Error)
}

func TestCreateVideoConflictWhenVideoExists(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 20)
	id := h.readyProject("user_1")
	p := h.store.project(id)
	video := "https://cdn.test/videos/old"
	p.GeneratedVideo = &video
	h.store.putProject(&p)

	_, err := h.worker.CreateVideo(context.Background(), "user_1", id)
	assert.True(t, errs.Is(err, errs.KindConflict))
	assert.Equal(t, "Video already generated", errs.Message(err))
	assert.Equal(t, 20, h.store.balance("user_1"))
}

func TestCreateVideoPreconditionWithoutImage(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 20)
	id := h.readyProject("user_1")
	p := h.store.project(id)
	p.GeneratedImage = nil
	h.store.putProject(&p)

	_, err := h.worker.CreateVideo(context.Background(), "user_1", id)
	assert.True(t, errs.Is(err, errs.KindPreconditionFailed))
	assert.Equal(t, 20, h.store.balance("user_1"))
	assert.Nil(t, h.store.project(id).Error)
}

func TestCreateVideoCelebrityRejection(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 20)
	id := h.readyProject("user_1")
	h.video.final = services.VideoOperation{
		Name:            "operations/test",
		FilteredReasons: []string{"The input image contains a celebrity likeness."},
		OperationError:  "ignored",
	}

	_, err := h.worker.CreateVideo(context.Background(), "user_1", id)
	require.Error(t, err)
	assert.Equal(t, celebrityMessage, errs.Message(err))
	assert.Equal(t, 20, h.store.balance("user_1"))

	project := h.store.project(id)
	assert.False(t, project.IsGenerating)
	require.NotNil(t, project.Error)
	assert.Equal(t, celebrityMessage, *project.Error)
	assert.Nil(t, project.GeneratedVideo)
	assert.Equal(t, 1, h.reporter.count())
}

func TestCreateVideoTimesOut(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 20)
	id := h.readyProject("user_1")
	h.video.doneAfter = -1

	_, err := h.worker.CreateVideo(context.Background(), "user_1", id)
	assert.True(t, errs.Is(err, errs.KindTimedOut))
	assert.Equal(t, 20, h.store.balance("user_1"))

	project := h.store.project(id)
	assert.False(t, project.IsGenerating)
	require.NotNil(t, project.Error)
	assert.Contains(t, *project.Error, "timed out")
	assert.Equal(t, 50, h.video.polls)

	require.Equal(t, 1, h.reporter.count())
	assert.Equal(t, "timed_out", h.reporter.tags[0]["kind"])
	assert.Equal(t, "video", h.reporter.tags[0]["stage"])
}

func TestCreateVideoSeedFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 20)
	id := h.readyProject("user_1")
	h.objects.fetchErr = errors.New("download failed with status 404")

	_, err := h.worker.CreateVideo(context.Background(), "user_1", id)
	assert.True(t, errs.Is(err, errs.KindStorage))
	assert.Equal(t, 20, h.store.balance("user_1"))
	assert.False(t, h.store.project(id).IsGenerating)
	assert.Empty(t, h.video.requests)
}

func TestCreateVideoSingleFlight(t *testing.T) {
	h := newHarness(t)
	h.store.addUser("user_1", 30)
	id := h.readyProject("user_1")
	h.video.startWait = 20 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.worker.CreateVideo(context.Background(), "user_1", id)
		}(i)
	}
	wg.Wait()

	succeeded, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errs.Is(err, errs.KindConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 20, h.store.balance("user_1"))
	assert.Len(t, h.video.requests, 1)
}
