package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bobarin/adshot/internal/db"
	"github.com/bobarin/adshot/internal/models"
	"github.com/bobarin/adshot/internal/services"
	"github.com/google/uuid"
)

// memStore mirrors the conditional SQL updates of db.DB in memory.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	projects map[uuid.UUID]*models.Project
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*models.User{}, projects: map[uuid.UUID]*models.Project{}}
}

func (s *memStore) addUser(id string, credits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &models.User{ID: id, Credits: credits}
}

func (s *memStore) balance(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Credits
}

func (s *memStore) project(id uuid.UUID) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.projects[id]
}

func (s *memStore) putProject(p *models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
}

func (s *memStore) projectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.projects)
}

func (s *memStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) DebitCredits(ctx context.Context, id string, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Credits < amount {
		return false, nil
	}
	u.Credits -= amount
	return true, nil
}

func (s *memStore) CreditCredits(ctx context.Context, id string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return db.ErrUserNotFound
	}
	u.Credits += amount
	return nil
}

func (s *memStore) CreateProject(ctx context.Context, p *models.Project) error {
	s.putProject(p)
	return nil
}

func (s *memStore) GetUserProject(ctx context.Context, userID string, id uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.UserID != userID {
		return nil, db.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) SetProjectImage(ctx context.Context, id uuid.UUID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[id]
	p.GeneratedImage = &url
	p.IsGenerating = false
	return nil
}

func (s *memStore) SetProjectVideo(ctx context.Context, id uuid.UUID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[id]
	p.GeneratedVideo = &url
	p.IsGenerating = false
	return nil
}

func (s *memStore) SetProjectError(ctx context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[id]
	p.Error = &msg
	p.IsGenerating = false
	return nil
}

func (s *memStore) BeginVideoGeneration(ctx context.Context, userID string, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.UserID != userID || p.IsGenerating || p.GeneratedVideo != nil || p.GeneratedImage == nil {
		return false, nil
	}
	p.IsGenerating = true
	return true, nil
}

type fakeImage struct {
	mu   sync.Mutex
	out  *services.InlineImage
	err  error
	reqs []services.CompositeRequest
}

func (f *fakeImage) GenerateComposite(ctx context.Context, req services.CompositeRequest) (*services.InlineImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.out, f.err
}

// fakeVideo finishes after doneAfter polls; doneAfter < 0 never finishes.
type fakeVideo struct {
	mu        sync.Mutex
	doneAfter int
	final     services.VideoOperation
	startErr  error
	startWait time.Duration
	polls     int
	requests  []services.VideoRequest
	written   []string
}

func (f *fakeVideo) StartVideo(ctx context.Context, req services.VideoRequest) (*services.VideoOperation, error) {
	if f.startWait > 0 {
		time.Sleep(f.startWait)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.doneAfter == 0 {
		op := f.final
		op.Done = true
		return &op, nil
	}
	return &services.VideoOperation{Name: "operations/test"}, nil
}

func (f *fakeVideo) PollVideo(ctx context.Context, op *services.VideoOperation) (*services.VideoOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.doneAfter >= 0 && f.polls >= f.doneAfter {
		final := f.final
		final.Done = true
		return &final, nil
	}
	return &services.VideoOperation{Name: op.Name}, nil
}

func (f *fakeVideo) DownloadVideo(ctx context.Context, op *services.VideoOperation, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, localPath)
	return os.WriteFile(localPath, []byte("mp4"), 0o644)
}

type fakeObjects struct {
	mu        sync.Mutex
	uploads   []string
	failAfter int // fail the n-th upload (1-based); 0 never fails
	fetched   []string
	fetchErr  error
}

func (f *fakeObjects) next(kind string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.uploads) + 1
	if f.failAfter > 0 && n >= f.failAfter {
		return "", errors.New("connection refused")
	}
	url := fmt.Sprintf("https://cdn.test/%s/%d", kind, n)
	f.uploads = append(f.uploads, url)
	return url, nil
}

func (f *fakeObjects) UploadFile(ctx context.Context, localPath, contentType, kind string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	return f.next(kind)
}

func (f *fakeObjects) UploadBytes(ctx context.Context, data []byte, contentType, kind string) (string, error) {
	return f.next(kind)
}

func (f *fakeObjects) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return []byte("seed-png"), nil
}

type fakeReporter struct {
	mu   sync.Mutex
	errs []error
	tags []map[string]string
}

func (f *fakeReporter) CaptureError(ctx context.Context, err error, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
	f.tags = append(f.tags, tags)
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}
