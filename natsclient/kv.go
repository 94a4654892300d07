package natsclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrDocNotFound is returned when a document key has no live value
var ErrDocNotFound = errors.New("kv: key not found")

// Document is one revision of a JSON document held in a KV bucket
type Document struct {
	Key      string
	Data     []byte
	Revision uint64
}

// DocStoreConfig describes the bucket behind a DocStore
type DocStoreConfig struct {
	Bucket      string
	Description string
	History     uint8

	// Timeout bounds Get, Put and Delete. Watches are not bounded.
	Timeout time.Duration
	// MaxDocSize rejects larger documents on Put. Zero disables the check.
	MaxDocSize int
}

func (c DocStoreConfig) withDefaults() DocStoreConfig {
	if c.History == 0 {
		c.History = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxDocSize == 0 {
		c.MaxDocSize = 64 * 1024
	}
	return c
}

// DocStore keeps desired-state documents in a JetStream KV bucket
type DocStore struct {
	kv     jetstream.KeyValue
	cfg    DocStoreConfig
	logger Logger
}

// OpenDocStore creates the bucket if it does not exist and returns a store
// over it
func (m *Client) OpenDocStore(ctx context.Context, cfg DocStoreConfig) (*DocStore, error) {
	cfg = cfg.withDefaults()
	kv, err := m.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: cfg.Description,
		History:     cfg.History,
	})
	if err != nil {
		return nil, err
	}
	return &DocStore{kv: kv, cfg: cfg, logger: m.logger}, nil
}

// Bucket returns the bucket name
func (s *DocStore) Bucket() string {
	return s.cfg.Bucket
}

func (s *DocStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// Get returns the latest revision of key
func (s *DocStore) Get(ctx context.Context, key string) (Document, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	entry, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return Document{}, ErrDocNotFound
	case err != nil:
		return Document{}, fmt.Errorf("kv get %s/%s: %w", s.cfg.Bucket, key, err)
	}
	return Document{Key: key, Data: entry.Value(), Revision: entry.Revision()}, nil
}

// Put stores doc under key and returns the new revision
func (s *DocStore) Put(ctx context.Context, key string, doc []byte) (uint64, error) {
	if s.cfg.MaxDocSize > 0 && len(doc) > s.cfg.MaxDocSize {
		return 0, fmt.Errorf("kv put %s/%s: document is %d bytes, limit is %d",
			s.cfg.Bucket, key, len(doc), s.cfg.MaxDocSize)
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	rev, err := s.kv.Put(ctx, key, doc)
	if err != nil {
		return 0, fmt.Errorf("kv put %s/%s: %w", s.cfg.Bucket, key, err)
	}
	s.logger.Debugf("Stored %s/%s at revision %d", s.cfg.Bucket, key, rev)
	return rev, nil
}

// Delete places a delete marker on key
func (s *DocStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	err := s.kv.Delete(ctx, key)
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return ErrDocNotFound
	case err != nil:
		return fmt.Errorf("kv delete %s/%s: %w", s.cfg.Bucket, key, err)
	}
	return nil
}

// Watch streams changes to key. The current value arrives first, then a
// nil entry marks the end of the initial values. The watcher lives until
// ctx is done or Stop is called.
func (s *DocStore) Watch(ctx context.Context, key string) (jetstream.KeyWatcher, error) {
	watcher, err := s.kv.Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s/%s: %w", s.cfg.Bucket, key, err)
	}
	return watcher, nil
}
