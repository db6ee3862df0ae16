package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/NordCoder/Notifyhub/internal/domain/session/sessiontest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAck_BeforeDeliveryCreatesRecord(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	n := broadcastAt(t, env, "unseen", t0)

	at := t0.Add(5 * time.Minute)
	env.clock.Set(at)
	assert.Equal(t, AckSeen, env.acker.Acknowledge(context.Background(), n.ID, "p7"))

	rec := env.records(t, n.ID)["p7"]
	require.NotNil(t, rec.DeliveredAt)
	require.NotNil(t, rec.SeenAt)
	assert.True(t, rec.DeliveredAt.Equal(at))
	assert.True(t, rec.SeenAt.Equal(at))

	pending, err := env.catchup.PendingFor(context.Background(), "p7")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAck_InvalidInputIsIgnored(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	n := broadcastAt(t, env, "x", t0)

	assert.Equal(t, AckRejected, env.acker.Acknowledge(context.Background(), "not-a-uuid", "p1"))
	assert.Equal(t, AckRejected, env.acker.Acknowledge(context.Background(), uuid.NewString(), "p1"))
	assert.Equal(t, AckRejected, env.acker.Acknowledge(context.Background(), n.ID, ""))
	assert.Empty(t, env.records(t, n.ID))
}

func TestAck_StoreErrorIsSwallowed(t *testing.T) {
	ledger := &mockLedger{}
	ledger.On("MarkSeen", mock.Anything, mock.Anything, "p1", mock.Anything).Return(false, errors.New("timeout"))

	a := NewAcker(Deps{Ledger: ledger, Clock: &fakeClock{now: t0}})
	assert.Equal(t, AckRejected, a.Acknowledge(context.Background(), uuid.NewString(), "p1"))
	ledger.AssertExpectations(t)
}

func TestAck_NormalisesNotificationID(t *testing.T) {
	ledger := &mockLedger{}
	id := uuid.New()
	ledger.On("MarkSeen", mock.Anything, id.String(), "p1", t0).Return(true, nil)

	a := NewAcker(Deps{Ledger: ledger, Clock: &fakeClock{now: t0}})
	assert.Equal(t, AckSeen, a.Acknowledge(context.Background(), " "+id.String()+" ", "p1"))
	ledger.AssertExpectations(t)
}

func TestLifecycle_CommandsAfterCloseAreIgnored(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	n := broadcastAt(t, env, "late ack", t0)

	s := sessiontest.New("s1", "p1")
	conn, err := env.lc.Open(context.Background(), s)
	require.NoError(t, err)
	conn.Close()
	conn.Close()

	conn.Handle(context.Background(), session.Command{Type: session.CommandAckNotification, ID: n.ID})
	assert.Nil(t, env.records(t, n.ID)["p1"].SeenAt)
}

func TestLifecycle_AckThroughConnection(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	n := broadcastAt(t, env, "ack me", t0)

	s := sessiontest.New("s1", "p1")
	conn, err := env.lc.Open(context.Background(), s)
	require.NoError(t, err)

	conn.Handle(context.Background(), session.Command{Type: "Unknown"})
	conn.Handle(context.Background(), session.Command{Type: session.CommandAckNotification, ID: n.ID})
	assert.NotNil(t, env.records(t, n.ID)["p1"].SeenAt)
}

func TestLifecycle_OpenRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, DefaultPolicy())
	_, err := env.lc.Open(context.Background(), sessiontest.New("s1", " "))
	assert.ErrorIs(t, err, notification.ErrInvalidArgument)
	ids, _ := env.reg.Count()
	assert.Zero(t, ids)
}
