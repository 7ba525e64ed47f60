package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix   = "webhook:delivery:"
	inflightTTL = 2 * time.Minute
)

// Store remembers webhook delivery ids so a redelivered event is applied once.
type Store struct {
	client      *redis.Client
	ttl         time.Duration
	inflightTTL time.Duration
}

func New(redisURL string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client, ttl: ttl, inflightTTL: inflightTTL}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Claim outcomes.
type State int

const (
	// Claimed means this caller owns the delivery and must Complete or Release it.
	Claimed State = iota
	// InFlight means another attempt is still processing the delivery.
	InFlight
	// Done means the delivery was already applied.
	Done
)

const (
	valueProcessing = "processing"
	valueDone       = "done"
)

// Claim marks id as processing. A processing mark expires after inflightTTL so
// a crashed attempt does not block retries for the full ttl.
func (s *Store) Claim(ctx context.Context, id string) (State, error) {
	key := keyPrefix + id
	ok, err := s.client.SetNX(ctx, key, valueProcessing, s.inflightTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to claim delivery %s: %w", id, err)
	}
	if ok {
		return Claimed, nil
	}

	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// expired between the two calls
		return s.Claim(ctx, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read delivery %s: %w", id, err)
	}
	if val == valueDone {
		return Done, nil
	}
	return InFlight, nil
}

// Complete records id as applied for the full ttl.
func (s *Store) Complete(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, keyPrefix+id, valueDone, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete delivery %s: %w", id, err)
	}
	return nil
}

// Release forgets id so a retried delivery is processed again.
func (s *Store) Release(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to release delivery %s: %w", id, err)
	}
	return nil
}
