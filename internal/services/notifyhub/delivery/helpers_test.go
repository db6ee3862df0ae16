package delivery

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/repository/sqlite"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/hub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 9, 26, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	ledger  *sqlite.LedgerRepo
	reg     *hub.Registry
	clock   *fakeClock
	engine  *Engine
	catchup *CatchUp
	acker   *Acker
	lc      *Lifecycle
}

func newTestEnv(t *testing.T, policy Policy) *testEnv {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "delivery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{now: t0}
	reg := hub.NewRegistry("test", prometheus.NewRegistry(), hub.WithShards(4))
	ledger := sqlite.NewLedgerRepo(db)
	d := Deps{
		Ledger:   ledger,
		Tx:       sqlite.NoTx{},
		Registry: reg,
		Clock:    clock,
	}
	engine := NewEngine(d, EngineConfig{PushTimeout: time.Second, Concurrency: 4})
	catchup := NewCatchUp(d, policy, time.Second)
	acker := NewAcker(d)
	return &testEnv{
		ledger:  ledger,
		reg:     reg,
		clock:   clock,
		engine:  engine,
		catchup: catchup,
		acker:   acker,
		lc:      NewLifecycle(reg, catchup, acker, nil),
	}
}

func (e *testEnv) records(t *testing.T, id string) map[string]notification.DeliveryRecord {
	t.Helper()
	recs, err := e.ledger.Deliveries(context.Background(), id)
	require.NoError(t, err)
	out := make(map[string]notification.DeliveryRecord, len(recs))
	for _, r := range recs {
		out[r.RecipientID] = r
	}
	return out
}

func newNote(title string) *notification.Notification {
	return &notification.Notification{Title: title, Message: title + " body"}
}

type mockLedger struct{ mock.Mock }

func (m *mockLedger) Create(ctx context.Context, n *notification.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockLedger) Get(ctx context.Context, id string) (*notification.Notification, error) {
	args := m.Called(ctx, id)
	if n, _ := args.Get(0).(*notification.Notification); n != nil {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLedger) MarkDelivered(ctx context.Context, id, recipient string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, recipient, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) MarkSeen(ctx context.Context, id, recipient string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, recipient, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) Pending(ctx context.Context, recipient string, q notification.PendingQuery) ([]*notification.Notification, error) {
	args := m.Called(ctx, recipient, q)
	ns, _ := args.Get(0).([]*notification.Notification)
	return ns, args.Error(1)
}

func (m *mockLedger) History(ctx context.Context, since time.Time, limit int) ([]*notification.Notification, error) {
	args := m.Called(ctx, since, limit)
	ns, _ := args.Get(0).([]*notification.Notification)
	return ns, args.Error(1)
}

func (m *mockLedger) Deliveries(ctx context.Context, id string) ([]notification.DeliveryRecord, error) {
	args := m.Called(ctx, id)
	rs, _ := args.Get(0).([]notification.DeliveryRecord)
	return rs, args.Error(1)
}

type mockAnnouncer struct{ mock.Mock }

func (m *mockAnnouncer) NotificationCreated(ctx context.Context, n *notification.Notification) error {
	return m.Called(ctx, n).Error(0)
}
