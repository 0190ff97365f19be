// Package redisstore saves run checkpoints in redis so a run can be resumed from another host.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autom8ter/foreach/errors"
	backend "github.com/redis/go-redis/v9"
)

const DefaultPrefix = "foreach:checkpoint:"

type record struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"savedAt"`
}

// Store is a foreach.Checkpointer backed by redis
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL expires checkpoints that have not been updated for ttl
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New connects to redis at the url, e.g. redis://localhost:6379/0
func New(url string, opts ...Option) (*Store, error) {
	options, err := backend.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid redis url")
	}
	return NewFromClient(backend.NewClient(options), opts...), nil
}

// NewFromClient creates a store from an existing client
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// run keys and the index live in separate namespaces so no run id can collide with the index
func (s *Store) key(runID string) string {
	return s.prefix + "runs:" + runID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if err != nil {
		if err == backend.Nil {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, errors.Unavailable, "failed to load checkpoint for run %s", runID)
	}
	var r record
	if err := json.Unmarshal(val, &r); err != nil {
		return "", false, errors.Wrap(err, errors.Internal, "corrupt checkpoint for run %s", runID)
	}
	return r.Token, true, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, runID string, token string) error {
	now := time.Now().UTC()
	data, err := json.Marshal(record{Token: token, SavedAt: now})
	if err != nil {
		return errors.Wrap(err, errors.Internal, "failed to encode checkpoint")
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(runID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(now.Unix()),
		Member: runID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.Unavailable, "failed to save checkpoint for run %s", runID)
	}
	return nil
}

func (s *Store) ClearCheckpoint(ctx context.Context, runID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(runID))
	pipe.ZRem(ctx, s.indexKey(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.Unavailable, "failed to clear checkpoint for run %s", runID)
	}
	return nil
}

// Runs returns the ids of the runs with a saved checkpoint, most recently saved last. Runs whose
// checkpoint expired are pruned from the index.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.Unavailable, "failed to list checkpoints")
	}
	var runs []string
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, errors.Wrap(err, errors.Unavailable, "failed to list checkpoints")
		}
		if n == 0 {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		runs = append(runs, id)
	}
	return runs, nil
}

// Close closes the redis client
func (s *Store) Close() error {
	return s.client.Close()
}
