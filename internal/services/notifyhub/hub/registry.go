package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultShards = 64

// Observer receives presence transitions. Notify is called while the
// identity's shard lock is held, so it must not block.
type Observer interface {
	Notify(ev session.PresenceEvent)
}

type shard struct {
	mu    sync.RWMutex
	peers map[string]map[string]session.Session
}

// Registry maps identities to their live sessions. Operations on one identity
// are linearizable; different identities contend only when they share a shard.
type Registry struct {
	name     string
	shards   []*shard
	observer Observer
	now      func() time.Time

	mIdentities prometheus.Gauge
	mSessions   prometheus.Gauge
}

type Option func(*Registry)

func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]*shard, n)
		}
	}
}

func WithObserver(o Observer) Option { return func(r *Registry) { r.observer = o } }

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// NewRegistry builds a registry. name labels its gauges, so each instance in
// one process needs a distinct name.
func NewRegistry(name string, reg prometheus.Registerer, opts ...Option) *Registry {
	r := &Registry{
		name:   name,
		shards: make([]*shard, defaultShards),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(r)
	}
	for i := range r.shards {
		r.shards[i] = &shard{peers: make(map[string]map[string]session.Session)}
	}

	f := promauto.With(reg)
	r.mIdentities = f.NewGauge(prometheus.GaugeOpts{
		Name:        "notifyhub_registry_identities",
		Help:        "Identities with at least one live session.",
		ConstLabels: prometheus.Labels{"registry": name},
	})
	r.mSessions = f.NewGauge(prometheus.GaugeOpts{
		Name:        "notifyhub_registry_sessions",
		Help:        "Live sessions.",
		ConstLabels: prometheus.Labels{"registry": name},
	})
	return r
}

func (r *Registry) shardFor(identity string) *shard {
	return r.shards[xxhash.Sum64String(identity)%uint64(len(r.shards))]
}

// Register adds s under identity. Adding the first session of an identity
// emits an online event; re-registering the same session is a no-op.
func (r *Registry) Register(identity string, s session.Session) {
	sh := r.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set, ok := sh.peers[identity]
	if !ok {
		set = make(map[string]session.Session, 1)
		sh.peers[identity] = set
	}
	if _, dup := set[s.ID()]; dup {
		return
	}
	set[s.ID()] = s
	r.mSessions.Inc()

	if len(set) == 1 {
		r.mIdentities.Inc()
		r.emit(session.PresenceEvent{Kind: session.PresenceOnline, Identity: identity, SessionID: s.ID(), At: r.now()})
	}
}

// Unregister removes s. Removing the last session emits an offline event.
// It reports whether s was registered.
func (r *Registry) Unregister(identity string, s session.Session) bool {
	sh := r.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set, ok := sh.peers[identity]
	if !ok {
		return false
	}
	if _, found := set[s.ID()]; !found {
		return false
	}
	delete(set, s.ID())
	r.mSessions.Dec()

	if len(set) == 0 {
		delete(sh.peers, identity)
		r.mIdentities.Dec()
		r.emit(session.PresenceEvent{Kind: session.PresenceOffline, Identity: identity, SessionID: s.ID(), At: r.now()})
	}
	return true
}

// SessionsFor returns a snapshot; the caller may push without holding locks.
func (r *Registry) SessionsFor(identity string) []session.Session {
	sh := r.shardFor(identity)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	set := sh.peers[identity]
	out := make([]session.Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) IsOnline(identity string) bool {
	sh := r.shardFor(identity)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.peers[identity]) > 0
}

// Identities returns the identities online at the moment each shard is read.
func (r *Registry) Identities() []string {
	var out []string
	for _, sh := range r.shards {
		sh.mu.RLock()
		for id := range sh.peers {
			out = append(out, id)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// All returns every live session across identities.
func (r *Registry) All() []session.Session {
	var out []session.Session
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, set := range sh.peers {
			for _, s := range set {
				out = append(out, s)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

func (r *Registry) Count() (identities, sessions int) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		identities += len(sh.peers)
		for _, set := range sh.peers {
			sessions += len(set)
		}
		sh.mu.RUnlock()
	}
	return identities, sessions
}

func (r *Registry) emit(ev session.PresenceEvent) {
	if r.observer != nil {
		r.observer.Notify(ev)
	}
}
