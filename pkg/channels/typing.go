package channels

import (
	"context"
	"sync"
	"time"
)

// typingTracker keeps a chat indicator alive while one or more replies are
// pending for a chat key. Each begin must be matched by an end.
type typingTracker struct {
	interval time.Duration
	mu       sync.Mutex
	sessions map[string]*typingSession
}

type typingSession struct {
	pending int
	send    func()
	cancel  context.CancelFunc
}

func newTypingTracker(interval time.Duration) *typingTracker {
	return &typingTracker{
		interval: interval,
		sessions: make(map[string]*typingSession),
	}
}

// begin sends the indicator now and every interval until the matching end.
// A later begin for the same key replaces the indicator being refreshed.
func (t *typingTracker) begin(key string, send func()) {
	if key == "" || send == nil {
		return
	}

	t.mu.Lock()
	if sess, ok := t.sessions[key]; ok {
		sess.pending++
		sess.send = send
		t.mu.Unlock()
		send()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.sessions[key] = &typingSession{
		pending: 1,
		send:    send,
		cancel:  cancel,
	}
	t.mu.Unlock()

	send()

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.mu.Lock()
				sess, ok := t.sessions[key]
				var fn func()
				if ok {
					fn = sess.send
				}
				t.mu.Unlock()
				if fn == nil {
					return
				}
				fn()
			}
		}
	}()
}

func (t *typingTracker) end(key string) {
	if key == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[key]
	if !ok {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(t.sessions, key)
	sess.cancel()
}

func (t *typingTracker) active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[key]
	return ok
}

func (t *typingTracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, sess := range t.sessions {
		sess.cancel()
		delete(t.sessions, key)
	}
}
