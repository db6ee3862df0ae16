// Package sessiontest provides an in-memory session for tests.
package sessiontest

import (
	"context"
	"sync"

	"github.com/NordCoder/Notifyhub/internal/domain/session"
)

// Recorder is a session that keeps every pushed event. Fail makes
// subsequent pushes return err.
type Recorder struct {
	id, identity string

	mu     sync.Mutex
	events []session.Event
	err    error
	closed bool
}

func New(id, identity string) *Recorder {
	return &Recorder{id: id, identity: identity}
}

func (r *Recorder) ID() string       { return r.id }
func (r *Recorder) Identity() string { return r.identity }

func (r *Recorder) Push(ctx context.Context, ev session.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return session.ErrClosed
	}
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Events() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

// NotificationIDs lists the ids of pushed ReceiveNotification events in order.
func (r *Recorder) NotificationIDs() []string {
	var out []string
	for _, ev := range r.Events() {
		if p, ok := ev.Data.(session.NotificationPayload); ok && ev.Name == session.EventReceiveNotification {
			out = append(out, p.ID)
		}
	}
	return out
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
