package session

import (
	"context"
	"sync"
)

// Change is a write to a storage key made by another instance.
type Change struct {
	Key     string
	Value   string
	Deleted bool
}

// Storage is a flat string key/value store shared by several instances (one
// per tab or process). Each key is read and written independently.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Watch calls fn for every change made through other instances of the
	// same storage. Changes made through this instance are not reported.
	Watch(fn func(Change)) (cancel func(), err error)
}

// Hub is the shared state behind a set of MemoryStorage instances.
type Hub struct {
	mu       sync.Mutex
	data     map[string]string
	watchers map[int]*watcher
	nextID   int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		data:     make(map[string]string),
		watchers: make(map[int]*watcher),
	}
}

// Open returns a new instance over the hub's data.
func (h *Hub) Open() *MemoryStorage {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return &MemoryStorage{hub: h, id: h.nextID}
}

// MemoryStorage is an in-process Storage. Instances opened from the same Hub
// see each other's writes and get change notifications for them.
type MemoryStorage struct {
	hub *Hub
	id  int
}

// NewMemoryStorage returns a single instance over a fresh hub.
func NewMemoryStorage() *MemoryStorage {
	return NewHub().Open()
}

func (m *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	v, ok := m.hub.data[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(ctx context.Context, key, value string) error {
	m.hub.mu.Lock()
	m.hub.data[key] = value
	m.hub.mu.Unlock()

	m.hub.publish(m.id, Change{Key: key, Value: value})
	return nil
}

func (m *MemoryStorage) Remove(ctx context.Context, key string) error {
	m.hub.mu.Lock()
	_, existed := m.hub.data[key]
	delete(m.hub.data, key)
	m.hub.mu.Unlock()

	if existed {
		m.hub.publish(m.id, Change{Key: key, Deleted: true})
	}
	return nil
}

func (m *MemoryStorage) Watch(fn func(Change)) (func(), error) {
	w := newWatcher(m.id, fn)

	m.hub.mu.Lock()
	m.hub.nextID++
	id := m.hub.nextID
	m.hub.watchers[id] = w
	m.hub.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.hub.mu.Lock()
			delete(m.hub.watchers, id)
			m.hub.mu.Unlock()
			w.stop()
		})
	}, nil
}

// publish queues change for every watcher not owned by origin.
func (h *Hub) publish(origin int, change Change) {
	h.mu.Lock()
	targets := make([]*watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		if w.owner != origin {
			targets = append(targets, w)
		}
	}
	h.mu.Unlock()

	for _, w := range targets {
		w.push(change)
	}
}

// watcher delivers changes to fn on its own goroutine, in order, so a slow
// listener never blocks a writer.
type watcher struct {
	owner  int
	fn     func(Change)
	mu     sync.Mutex
	queue  []Change
	signal chan struct{}
	done   chan struct{}
}

func newWatcher(owner int, fn func(Change)) *watcher {
	w := &watcher{
		owner:  owner,
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *watcher) push(change Change) {
	w.mu.Lock()
	w.queue = append(w.queue, change)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}

		w.mu.Lock()
		pending := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, change := range pending {
			select {
			case <-w.done:
				return
			default:
			}
			w.fn(change)
		}
	}
}

func (w *watcher) stop() {
	close(w.done)
}
