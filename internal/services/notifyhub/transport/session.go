package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/oklog/ulid/v2"
)

const defaultSendBuffer = 64

// queued is the transport-independent half of a session: Push enqueues,
// a single writer goroutine drains out and owns the wire.
type queued struct {
	id       string
	identity string
	out      chan session.Event
	done     chan struct{}
	once     sync.Once
}

func newQueued(identity string, buffer int) *queued {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &queued{
		id:       ulid.Make().String(),
		identity: identity,
		out:      make(chan session.Event, buffer),
		done:     make(chan struct{}),
	}
}

func (q *queued) ID() string       { return q.id }
func (q *queued) Identity() string { return q.identity }

// Push blocks while the queue is full, up to ctx.
func (q *queued) Push(ctx context.Context, ev session.Event) error {
	select {
	case <-q.done:
		return session.ErrClosed
	default:
	}
	select {
	case q.out <- ev:
		return nil
	case <-q.done:
		return session.ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", session.ErrPushTimeout, ctx.Err())
	}
}

func (q *queued) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func (q *queued) closed() <-chan struct{} { return q.done }
