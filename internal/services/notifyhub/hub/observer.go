package hub

import (
	"sort"
	"sync"

	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChanObserver buffers presence events for a single consumer goroutine.
// Notify never blocks and never loses the latest state of an identity: when
// the buffer is full the event is parked in a per-identity backlog, where a
// newer event for the same identity replaces the older one.
type ChanObserver struct {
	ch   chan session.PresenceEvent
	kick chan struct{}

	mu      sync.Mutex
	backlog map[string]session.PresenceEvent

	mBacklogged prometheus.Counter
}

func NewChanObserver(buffer int, reg prometheus.Registerer) *ChanObserver {
	if buffer <= 0 {
		buffer = 1024
	}
	return &ChanObserver{
		ch:      make(chan session.PresenceEvent, buffer),
		kick:    make(chan struct{}, 1),
		backlog: make(map[string]session.PresenceEvent),
		mBacklogged: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "notifyhub_presence_backlogged_total",
			Help: "Presence events parked in the backlog because the observer buffer was full.",
		}),
	}
}

func (o *ChanObserver) Notify(ev session.PresenceEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Once an identity is backlogged its later events follow it there, so the
	// consumer never sees them out of order.
	if _, parked := o.backlog[ev.Identity]; !parked {
		select {
		case o.ch <- ev:
			return
		default:
		}
	}
	o.backlog[ev.Identity] = ev
	o.mBacklogged.Inc()
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

func (o *ChanObserver) Events() <-chan session.PresenceEvent { return o.ch }

// Backlogged fires when parked events are waiting for Drain.
func (o *ChanObserver) Backlogged() <-chan struct{} { return o.kick }

// Drain returns what is currently buffered followed by the backlog, oldest
// first. It holds the lock Notify takes, so a buffered event always predates
// the backlogged event of the same identity.
func (o *ChanObserver) Drain() []session.PresenceEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]session.PresenceEvent, 0, len(o.ch)+len(o.backlog))
	for buffered := true; buffered; {
		select {
		case ev := <-o.ch:
			out = append(out, ev)
		default:
			buffered = false
		}
	}

	parked := make([]session.PresenceEvent, 0, len(o.backlog))
	for _, ev := range o.backlog {
		parked = append(parked, ev)
	}
	clear(o.backlog)
	sort.Slice(parked, func(i, j int) bool { return parked[i].At.Before(parked[j].At) })
	return append(out, parked...)
}
