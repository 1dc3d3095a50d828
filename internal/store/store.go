// Package store persists completed research runs in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"deepresearch/config"
)

const runKeyPrefix = "deepresearch:run:"

// ErrRunNotFound is returned when no run exists for the requested ID.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the stored shape of one completed research run.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	Query       string    `json:"query"`
	Breadth     int       `json:"breadth"`
	Depth       int       `json:"depth"`
	Learnings   []string  `json:"learnings"`
	VisitedURLs []string  `json:"visited_urls"`
	Errors      []string  `json:"errors,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Store saves and loads run records. Safe for concurrent use; the
// underlying redis client pools connections.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect dials Redis per config and verifies the connection with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return &Store{client: client, ttl: cfg.TTL}, nil
}

// NewWithClient wraps an existing client. Tests use this with a
// container-backed instance.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// SaveRun stores the record under its run ID, subject to the configured TTL.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.RunID == "" {
		return errors.New("run record has no ID")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, runKeyPrefix+rec.RunID, data, s.ttl).Err()
}

// GetRun loads one run record by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	val, err := s.client.Get(ctx, runKeyPrefix+runID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, err
	}
	var rec RunRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}

// ListRunIDs returns the IDs of all stored runs.
func (s *Store) ListRunIDs(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, runKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(runKeyPrefix):])
	}
	return ids, nil
}

// DeleteRun removes one run record. Deleting a missing run is not an error.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	return s.client.Del(ctx, runKeyPrefix+runID).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
