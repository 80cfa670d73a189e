package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a caller identified by key may issue another
// request within the current fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, maxRequests int) (bool, error)
}

// FixedWindow is an in-process fixed-window counter. Each key tracks the
// start of its window and the number of requests accepted in it.
type FixedWindow struct {
	windows map[string]*windowState
	mu      sync.Mutex
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type windowState struct {
	start  time.Time
	count  int
	length time.Duration
}

// NewFixedWindow creates a FixedWindow limiter. It starts a background
// goroutine that removes keys whose window ended more than 5 minutes ago,
// running every 3 minutes, until Close is called.
func NewFixedWindow() *FixedWindow {
	l := newFixedWindow(time.Now)
	go l.cleanup(3 * time.Minute)
	return l
}

func newFixedWindow(now func() time.Time) *FixedWindow {
	return &FixedWindow{
		windows: make(map[string]*windowState),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Allow reports whether a request for key is permitted. A window that has
// lasted at least window is reset first; a full window rejects without
// counting the request.
func (l *FixedWindow) Allow(_ context.Context, key string, window time.Duration, maxRequests int) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &windowState{start: now}
		l.windows[key] = w
	}
	w.length = window

	if now.Sub(w.start) >= window {
		w.start = now
		w.count = 0
	}
	if w.count >= maxRequests {
		return false, nil
	}
	w.count++
	return true, nil
}

// Close stops the cleanup goroutine.
func (l *FixedWindow) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *FixedWindow) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep(5 * time.Minute)
		}
	}
}

// sweep drops keys whose window expired more than idle ago.
func (l *FixedWindow) sweep(idle time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= w.length+idle {
			delete(l.windows, key)
		}
	}
}
