// Package session keeps one window buffer per client session and serializes
// access to it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/window"
)

// ErrNotFound is returned when a session key has no live entry.
var ErrNotFound = errors.New("session not found")

// DefaultID is the session used by requests that carry no session id.
const DefaultID = "default"

// Key builds the manager key for a recognizer's session.
func Key(recognizer, id string) string {
	if id == "" {
		id = DefaultID
	}
	return recognizer + "/" + id
}

type entry struct {
	key      string
	buf      window.Buffer
	sem      chan struct{}
	refs     int
	lastUsed time.Time
	removed  bool
}

// Manager maps session keys to window buffers. Entries are created on first
// use and dropped after they sit idle, or when a lease discards them.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory window.Factory
	idle    time.Duration
	now     func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager creates a manager whose buffers come from factory. When idle is
// positive a janitor goroutine drops sessions unused for that long.
func NewManager(factory window.Factory, idle time.Duration) *Manager {
	m := &Manager{
		entries: make(map[string]*entry),
		factory: factory,
		idle:    idle,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	if idle > 0 {
		m.wg.Add(1)
		go m.janitor()
	}
	return m
}

// Acquire returns an exclusive lease on the session's buffer, creating it
// with the given capacity if needed. It blocks while another lease on the same
// key is held, until ctx is done.
func (m *Manager) Acquire(ctx context.Context, key string, capacity int) (*Lease, error) {
	for {
		m.mu.Lock()
		e, ok := m.entries[key]
		if !ok {
			e = &entry{
				key:      key,
				buf:      m.factory(key, capacity),
				sem:      make(chan struct{}, 1),
				lastUsed: m.now(),
			}
			m.entries[key] = e
		}
		e.refs++
		m.mu.Unlock()

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			m.unref(e)
			return nil, ctx.Err()
		}

		m.mu.Lock()
		removed := e.removed
		m.mu.Unlock()
		if !removed {
			return &Lease{m: m, e: e}, nil
		}

		// The previous holder discarded this entry; start over on a fresh one.
		<-e.sem
		m.unref(e)
	}
}

func (m *Manager) unref(e *entry) {
	m.mu.Lock()
	e.refs--
	e.lastUsed = m.now()
	m.mu.Unlock()
}

// Remove resets and drops a session. It waits for any lease in progress.
func (m *Manager) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	lease, err := m.Acquire(ctx, key, e.buf.Capacity())
	if err != nil {
		return err
	}
	return lease.Discard(ctx)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep drops every unleased session idle for longer than the idle timeout
// and returns how many were dropped. Shared buffers such as Redis lists are
// left to their own expiry.
func (m *Manager) Sweep() int {
	if m.idle <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.idle)
	dropped := 0
	for key, e := range m.entries {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			e.removed = true
			delete(m.entries, key)
			dropped++
		}
	}
	return dropped
}

func (m *Manager) janitor() {
	defer m.wg.Done()

	interval := m.idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("dropped idle sessions", "count", n, "remaining", m.Len())
			}
		}
	}
}

// Close stops the janitor. Leases already handed out stay valid.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

// Lease is exclusive access to one session's buffer. It must be released
// exactly once, either with Release or Discard.
type Lease struct {
	m        *Manager
	e        *entry
	released bool
}

// Key returns the session key.
func (l *Lease) Key() string {
	return l.e.key
}

// Buffer returns the session's window buffer.
func (l *Lease) Buffer() window.Buffer {
	return l.e.buf
}

// Release gives up the lease and keeps the session.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true

	l.m.unref(l.e)
	<-l.e.sem
}

// Discard resets the buffer, drops the session and gives up the lease.
func (l *Lease) Discard(ctx context.Context) error {
	if l.released {
		return nil
	}

	err := l.e.buf.Reset(ctx)

	l.m.mu.Lock()
	l.e.removed = true
	if cur, ok := l.m.entries[l.e.key]; ok && cur == l.e {
		delete(l.m.entries, l.e.key)
	}
	l.m.mu.Unlock()

	l.Release()
	return err
}
