package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	storage "github.com/supabase-community/storage-go"
)

const (
	// Fetch timeout per attempt
	downloadTimeout = 120 * time.Second

	// Retry configuration
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Object kinds, used as the top-level folder in the bucket.
const (
	KindSource    = "sources"
	KindGenerated = "generated"
	KindVideo     = "videos"
)

type Storage struct {
	baseURL    string
	serviceKey string
	Bucket     string
	http       *http.Client
	retryBase  time.Duration
}

func New(supabaseURL, serviceKey, bucket string) *Storage {
	baseURL := strings.TrimRight(supabaseURL, "/")
	return &Storage{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		Bucket:     bucket,
		http: &http.Client{
			Timeout: downloadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retryBase: baseRetryDelay,
	}
}

// UploadBytes stores data under kind/ with a generated name and returns its public URL.
// Transient failures are retried with exponential backoff.
func (s *Storage) UploadBytes(ctx context.Context, data []byte, contentType, kind string) (string, error) {
	path := fmt.Sprintf("%s/%s%s", kind, uuid.New().String(), extensionFor(contentType))
	client := s.uploadClient(contentType)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			log.Warn().Int("attempt", attempt).Str("path", path).Dur("wait", delay).Msg("[Storage] Upload retry")

			select {
			case <-ctx.Done():
				return "", fmt.Errorf("upload cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		status, err := s.upload(ctx, client, path, data)
		if err == nil {
			if attempt > 0 {
				log.Info().Int("attempt", attempt+1).Str("path", path).Msg("[Storage] Upload succeeded after retry")
			}
			return s.GetPublicURL(path), nil
		}

		if status != 0 {
			lastErr = fmt.Errorf("upload failed with status %d: %w", status, err)
			if !isRetryableStatus(status) {
				return "", lastErr
			}
			continue
		}

		lastErr = fmt.Errorf("failed to upload: %w", err)
		if !isRetryableError(err) {
			return "", lastErr
		}
	}

	return "", fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
}

// uploadClient builds a storage client carrying the per-upload headers.
// storage-go keeps request headers on the client, so one client serves one upload.
func (s *Storage) uploadClient(contentType string) *storage.Client {
	return storage.NewClient(s.baseURL+"/storage/v1", s.serviceKey, map[string]string{
		"Content-Type": contentType,
		"x-upsert":     "true",
	})
}

// upload sends one attempt. The returned status is 0 when no response arrived.
func (s *Storage) upload(ctx context.Context, client *storage.Client, path string, data []byte) (int, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.Bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	var out storage.FileUploadResponse
	resp, err := client.Do(req, &out)
	if err != nil {
		if resp == nil {
			return 0, err
		}
		resp.Body.Close()
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// UploadFile uploads a file from a local path
func (s *Storage) UploadFile(ctx context.Context, localPath, contentType, kind string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", localPath, err)
	}

	return s.UploadBytes(ctx, data, contentType, kind)
}

// Fetch downloads a previously stored object by its public URL, with retries.
func (s *Storage) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			log.Warn().Int("attempt", attempt).Str("url", url).Dur("wait", delay).Msg("[Storage] Fetch retry")

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)

		req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := s.http.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to download: %w", err)
			if isRetryableError(err) {
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusOK {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancel()
			if err != nil {
				lastErr = fmt.Errorf("failed to read download body: %w", err)
				continue
			}
			return data, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		lastErr = fmt.Errorf("download failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))

		if isRetryableStatus(resp.StatusCode) {
			continue
		}

		return nil, lastErr
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", maxRetries+1, lastErr)
}

// GetPublicURL returns the public URL for a file
func (s *Storage) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.Bucket, path)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	default:
		return ""
	}
}

// retryDelay calculates exponential backoff with jitter: base * 2^attempt + random jitter
func (s *Storage) retryDelay(attempt int) time.Duration {
	delay := float64(s.retryBase) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
