package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 9, 26, 8, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) *LedgerRepo {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLedgerRepo(db)
}

func create(t *testing.T, l *LedgerRepo, n notification.Notification) *notification.Notification {
	t.Helper()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Title == "" {
		n.Title = "title"
	}
	if n.Message == "" {
		n.Message = "message"
	}
	require.NoError(t, l.Create(context.Background(), &n))
	return &n
}

func TestLedger_CreateAndGetRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	meta := `{"level":"gold"}`
	exp := base.Add(time.Hour)
	n := create(t, l, notification.Notification{
		Title:        "Welcome",
		Message:      "hi",
		MetadataJSON: &meta,
		CreatedAt:    base,
		ExpiresAt:    &exp,
		IsBroadcast:  true,
	})

	got, err := l.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "Welcome", got.Title)
	require.NotNil(t, got.MetadataJSON)
	assert.Equal(t, meta, *got.MetadataJSON)
	assert.True(t, got.CreatedAt.Equal(base))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(exp))
	assert.True(t, got.IsBroadcast)

	_, err = l.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, notification.ErrNotFound)
}

func TestLedger_CreateDuplicateID(t *testing.T) {
	l := newTestLedger(t)
	n := create(t, l, notification.Notification{CreatedAt: base})

	dup := *n
	dup.Title = "other"
	err := l.Create(context.Background(), &dup)
	require.ErrorIs(t, err, notification.ErrAlreadyExists)
}

func TestLedger_ConcurrentClaimsYieldOneRecord(t *testing.T) {
	l := newTestLedger(t)
	n := create(t, l, notification.Notification{CreatedAt: base, IsBroadcast: true})

	const workers = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := l.MarkDelivered(context.Background(), n.ID, "p1", base.Add(time.Duration(i)*time.Second))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, claims)
	recs, err := l.Deliveries(context.Background(), n.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotNil(t, recs[0].DeliveredAt)
	assert.Nil(t, recs[0].SeenAt)
}

func TestLedger_MarkSeenIsMonotonic(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	n := create(t, l, notification.Notification{CreatedAt: base})

	delivered := base.Add(time.Minute)
	ok, err := l.MarkDelivered(ctx, n.ID, "p1", delivered)
	require.NoError(t, err)
	require.True(t, ok)

	seen := base.Add(2 * time.Minute)
	ok, err = l.MarkSeen(ctx, n.ID, "p1", seen)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.MarkSeen(ctx, n.ID, "p1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	recs, err := l.Deliveries(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].DeliveredAt.Equal(delivered))
	assert.True(t, recs[0].SeenAt.Equal(seen))
}

func TestLedger_MarkSeenWithoutRecordSetsBoth(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	n := create(t, l, notification.Notification{CreatedAt: base})

	at := base.Add(time.Minute)
	ok, err := l.MarkSeen(ctx, n.ID, "p2", at)
	require.NoError(t, err)
	assert.True(t, ok)

	recs, err := l.Deliveries(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].DeliveredAt.Equal(at))
	assert.True(t, recs[0].SeenAt.Equal(at))

	ok, err = l.MarkDelivered(ctx, n.ID, "p2", base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "delivered_at is already set")
}

func TestLedger_UnknownNotification(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.MarkSeen(context.Background(), uuid.NewString(), "p1", base)
	assert.ErrorIs(t, err, notification.ErrNotFound)
	_, err = l.MarkDelivered(context.Background(), "not-a-uuid", "p1", base)
	assert.ErrorIs(t, err, notification.ErrNotFound)
}

func TestLedger_PendingFiltersAndOrders(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	past := base.Add(-time.Minute)

	later := create(t, l, notification.Notification{Title: "later", CreatedAt: base.Add(2 * time.Hour), IsBroadcast: true})
	earlier := create(t, l, notification.Notification{Title: "earlier", CreatedAt: base.Add(time.Hour), IsBroadcast: true})
	create(t, l, notification.Notification{Title: "expired", CreatedAt: base.Add(time.Hour), ExpiresAt: &past, IsBroadcast: true})
	create(t, l, notification.Notification{Title: "yesterday", CreatedAt: base.Add(-24 * time.Hour), IsBroadcast: true})
	targeted := create(t, l, notification.Notification{Title: "targeted", CreatedAt: base.Add(90 * time.Minute)})

	q := notification.PendingQuery{Now: base.Add(3 * time.Hour), Since: base.Truncate(24 * time.Hour), BroadcastOnly: true}

	got, err := l.Pending(ctx, "p1", q)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, earlier.ID, got[0].ID)
	assert.Equal(t, later.ID, got[1].ID)

	again, err := l.Pending(ctx, "p1", q)
	require.NoError(t, err)
	assert.Equal(t, ids(got), ids(again))

	_, err = l.MarkDelivered(ctx, earlier.ID, "p1", base.Add(3*time.Hour))
	require.NoError(t, err)
	third, err := l.Pending(ctx, "p1", q)
	require.NoError(t, err)
	assert.Equal(t, []string{later.ID}, ids(third))

	q.BroadcastOnly = false
	all, err := l.Pending(ctx, "p1", q)
	require.NoError(t, err)
	assert.Equal(t, []string{targeted.ID, later.ID}, ids(all))
}

func TestLedger_HistoryNewestFirst(t *testing.T) {
	l := newTestLedger(t)
	old := create(t, l, notification.Notification{CreatedAt: base.Add(-10 * 24 * time.Hour)})
	a := create(t, l, notification.Notification{CreatedAt: base.Add(-time.Hour)})
	b := create(t, l, notification.Notification{CreatedAt: base})

	got, err := l.History(context.Background(), base.Add(-7*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, ids(got))
	assert.NotContains(t, ids(got), old.ID)
}

func ids(ns []*notification.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}
