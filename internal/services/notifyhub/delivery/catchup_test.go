package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session/sessiontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func broadcastAt(t *testing.T, env *testEnv, title string, at time.Time) *notification.Notification {
	t.Helper()
	env.clock.Set(at)
	n := newNote(title)
	_, err := env.engine.Send(context.Background(), n, notification.AllConnected())
	require.NoError(t, err)
	return n
}

func TestCatchUp_OfflineRecipientGetsNotificationOnConnect(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	n1 := broadcastAt(t, env, "N1", t0)

	t1 := t0.Add(30 * time.Minute)
	env.clock.Set(t1)
	s := sessiontest.New("s1", "p1")
	conn, err := env.lc.Open(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, conn.State())
	assert.Equal(t, []string{n1.ID}, s.NotificationIDs())

	rec := env.records(t, n1.ID)["p1"]
	require.NotNil(t, rec.DeliveredAt)
	assert.True(t, rec.DeliveredAt.Equal(t1))
	assert.Nil(t, rec.SeenAt)

	t2 := t1.Add(time.Minute)
	env.clock.Set(t2)
	assert.Equal(t, AckSeen, env.acker.Acknowledge(context.Background(), n1.ID, "p1"))
	env.clock.Set(t2.Add(time.Minute))
	assert.Equal(t, AckDuplicate, env.acker.Acknowledge(context.Background(), n1.ID, "p1"))

	rec = env.records(t, n1.ID)["p1"]
	require.NotNil(t, rec.SeenAt)
	assert.True(t, rec.SeenAt.Equal(t2))
	assert.True(t, rec.DeliveredAt.Equal(t1))
}

func TestCatchUp_PendingIsOrderedAndIdempotent(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	c := broadcastAt(t, env, "C", t0.Add(3*time.Minute))
	a := broadcastAt(t, env, "A", t0.Add(1*time.Minute))
	b := broadcastAt(t, env, "B", t0.Add(2*time.Minute))
	env.clock.Set(t0.Add(time.Hour))

	first, err := env.catchup.PendingFor(context.Background(), "p1")
	require.NoError(t, err)
	second, err := env.catchup.PendingFor(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, idsOf(first))
	assert.Equal(t, idsOf(first), idsOf(second))
	for i := 1; i < len(first); i++ {
		assert.True(t, first[i-1].CreatedAt.Before(first[i].CreatedAt))
	}

	_, err = env.ledger.MarkDelivered(context.Background(), b.ID, "p1", env.clock.Now())
	require.NoError(t, err)
	third, err := env.catchup.PendingFor(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID}, idsOf(third))
}

func TestCatchUp_ReconnectDoesNotRedeliver(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	n := broadcastAt(t, env, "once", t0)

	first := sessiontest.New("s1", "p1")
	conn, err := env.lc.Open(context.Background(), first)
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, StateDisconnected, conn.State())
	assert.False(t, env.reg.IsOnline("p1"))

	second := sessiontest.New("s2", "p1")
	_, err = env.lc.Open(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, []string{n.ID}, first.NotificationIDs())
	assert.Empty(t, second.NotificationIDs())
}

func TestCatchUp_BroadcastBoundary(t *testing.T) {
	t.Run("same day is caught up", func(t *testing.T) {
		env := newTestEnv(t, DefaultPolicy())
		n := broadcastAt(t, env, "today", t0)
		env.clock.Set(t0.Add(10 * time.Hour))

		s := sessiontest.New("s1", "late")
		_, err := env.lc.Open(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, []string{n.ID}, s.NotificationIDs())
	})

	t.Run("previous day is not", func(t *testing.T) {
		env := newTestEnv(t, DefaultPolicy())
		broadcastAt(t, env, "yesterday", t0)
		env.clock.Set(t0.Add(24 * time.Hour))

		s := sessiontest.New("s1", "late")
		_, err := env.lc.Open(context.Background(), s)
		require.NoError(t, err)
		assert.Empty(t, s.NotificationIDs())
	})

	t.Run("expired is not", func(t *testing.T) {
		env := newTestEnv(t, DefaultPolicy())
		exp := t0.Add(time.Minute)
		n := newNote("short lived")
		n.ExpiresAt = &exp
		_, err := env.engine.Send(context.Background(), n, notification.AllConnected())
		require.NoError(t, err)
		env.clock.Set(t0.Add(2 * time.Minute))

		s := sessiontest.New("s1", "late")
		_, err = env.lc.Open(context.Background(), s)
		require.NoError(t, err)
		assert.Empty(t, s.NotificationIDs())
	})

	t.Run("rolling window spans midnight", func(t *testing.T) {
		env := newTestEnv(t, Policy{Mode: WindowRolling, Window: 48 * time.Hour, BroadcastOnly: true})
		n := broadcastAt(t, env, "yesterday", t0)
		env.clock.Set(t0.Add(24 * time.Hour))

		s := sessiontest.New("s1", "late")
		_, err := env.lc.Open(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, []string{n.ID}, s.NotificationIDs())
	})
}

func TestCatchUp_TargetedNotificationsStayPrivate(t *testing.T) {
	env := newTestEnv(t, Policy{Mode: WindowDay, BroadcastOnly: true})
	n := newNote("for p1 only")
	_, err := env.engine.Send(context.Background(), n, notification.Single("p1"))
	require.NoError(t, err)

	s := sessiontest.New("s1", "p2")
	_, err = env.lc.Open(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, s.NotificationIDs())

	open := newTestEnv(t, DefaultPolicy())
	m := newNote("visible")
	_, err = open.engine.Send(context.Background(), m, notification.Single("p1"))
	require.NoError(t, err)
	s2 := sessiontest.New("s2", "p2")
	_, err = open.lc.Open(context.Background(), s2)
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, s2.NotificationIDs())
}

func TestCatchUp_DefaultPendingIgnoresOriginalTargets(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	n := newNote("N1")
	_, err := env.engine.Send(context.Background(), n, notification.List("other"))
	require.NoError(t, err)
	env.clock.Set(t0.Add(time.Hour))

	pending, err := env.catchup.PendingFor(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, n.ID, pending[0].ID)
}

func TestCatchUp_StopsAtFailedPush(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	a := broadcastAt(t, env, "A", t0)
	b := broadcastAt(t, env, "B", t0.Add(time.Minute))

	s := sessiontest.New("s1", "p1")
	s.Fail(errors.New("gone"))
	_, err := env.lc.Open(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, env.reg.IsOnline("p1"))

	pending, err := env.catchup.PendingFor(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, idsOf(pending), "A was claimed before the push failed")
	assert.Contains(t, env.records(t, a.ID), "p1")
}

func TestCatchUp_RacingDispatchDeliversOnce(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())

	for i := 0; i < 20; i++ {
		identity := fmt.Sprintf("p%d", i)
		n := newNote("race")
		n.IsBroadcast = true
		s := sessiontest.New("s-"+identity, identity)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.engine.Send(context.Background(), n, notification.Single(identity))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := env.lc.Open(context.Background(), s)
			assert.NoError(t, err)
		}()
		wg.Wait()

		got := 0
		for _, id := range s.NotificationIDs() {
			if id == n.ID {
				got++
			}
		}
		assert.LessOrEqual(t, got, 1, identity)
		recs := env.records(t, n.ID)
		assert.Len(t, recs, 1, identity)
	}
}

func TestPolicy_Since(t *testing.T) {
	now := time.Date(2025, 9, 26, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 9, 26, 0, 0, 0, 0, time.UTC), DefaultPolicy().Since(now))
	assert.Equal(t, now.Add(-time.Hour), Policy{Mode: WindowRolling, Window: time.Hour}.Since(now))

	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{Mode: WindowRolling}.Validate())
	assert.Error(t, Policy{Mode: "weekly"}.Validate())
}

func idsOf(ns []*notification.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}
