package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/mintpass/service/session"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ownRevisionWindow bounds how many of its own revisions a KVStorage remembers.
const ownRevisionWindow = 1024

// KVStorage is a session.Storage backed by a JetStream key/value bucket.
// Processes sharing a bucket see each other's sessions, the way browser
// tabs share local storage.
//
// Removals are written as empty values so every write has a revision the
// writer can recognize and skip when it comes back through the watcher.
type KVStorage struct {
	nc     *nats.Conn // owned, may be nil
	kv     jetstream.KeyValue
	logger *slog.Logger

	mu       sync.Mutex
	own      map[uint64]struct{}
	latest   uint64
	watching int
}

// NewKVStorage opens (creating if needed) bucket on js.
func NewKVStorage(ctx context.Context, js jetstream.JetStream, bucket string, logger *slog.Logger) (*KVStorage, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Wallet session state",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open key/value bucket %s: %w", bucket, err)
	}
	return &KVStorage{
		kv:     kv,
		logger: logger,
		own:    make(map[uint64]struct{}),
	}, nil
}

// OpenKVStorage connects to NATS and opens bucket. Close releases the connection.
func OpenKVStorage(ctx context.Context, natsURL, bucket string, logger *slog.Logger) (*KVStorage, error) {
	nc, err := Connect(natsURL, "mintpass-session")
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	s, err := NewKVStorage(ctx, js, bucket, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.nc = nc

	logger.Info("NATS session storage initialized", "url", natsURL, "bucket", bucket)
	return s, nil
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(entry.Value()) == 0 {
		return "", false, nil
	}
	return string(entry.Value()), true, nil
}

func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	return s.put(ctx, key, value)
}

func (s *KVStorage) Remove(ctx context.Context, key string) error {
	return s.put(ctx, key, "")
}

// put writes and remembers the revision. The lock is held across the write
// so the watcher cannot see the revision before it is recorded.
func (s *KVStorage) put(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev, err := s.kv.Put(ctx, key, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if s.watching > 0 {
		s.own[rev] = struct{}{}
		if rev > s.latest {
			s.latest = rev
		}
		for r := range s.own {
			if r+ownRevisionWindow < s.latest {
				delete(s.own, r)
			}
		}
	}
	return nil
}

func (s *KVStorage) isOwn(rev uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.own[rev]
	return ok
}

func (s *KVStorage) Watch(fn func(session.Change)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := s.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch bucket: %w", err)
	}

	s.mu.Lock()
	s.watching++
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var entry jetstream.KeyValueEntry
			var ok bool
			select {
			case <-ctx.Done():
				return
			case entry, ok = <-w.Updates():
				if !ok {
					return
				}
			}
			if entry == nil || s.isOwn(entry.Revision()) {
				continue
			}
			value := string(entry.Value())
			fn(session.Change{
				Key:     entry.Key(),
				Value:   value,
				Deleted: entry.Operation() != jetstream.KeyValuePut || value == "",
			})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := w.Stop(); err != nil {
				s.logger.Debug("failed to stop watcher", "error", err)
			}
			<-done

			s.mu.Lock()
			s.watching--
			s.mu.Unlock()
		})
	}, nil
}

// Close releases the NATS connection if this storage opened it.
func (s *KVStorage) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
