package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NordCoder/Notifyhub/internal/auth"
	"github.com/NordCoder/Notifyhub/internal/domain/member"
	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session/sessiontest"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/hub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// --- mocks ---

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Send(ctx context.Context, n *notification.Notification, target notification.Target) (*notification.DispatchResult, error) {
	args := m.Called(n, target)
	if r, _ := args.Get(0).(*notification.DispatchResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) Get(ctx context.Context, id string) (*notification.Notification, error) {
	args := m.Called(id)
	if n, _ := args.Get(0).(*notification.Notification); n != nil {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) History(ctx context.Context, since time.Time, limit int) ([]*notification.Notification, error) {
	args := m.Called(since, limit)
	ns, _ := args.Get(0).([]*notification.Notification)
	return ns, args.Error(1)
}

func (m *mockStore) Deliveries(ctx context.Context, id string) ([]notification.DeliveryRecord, error) {
	args := m.Called(id)
	rs, _ := args.Get(0).([]notification.DeliveryRecord)
	return rs, args.Error(1)
}

type mockDirectory struct {
	member.NopDirectory
	mock.Mock
}

func (m *mockDirectory) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	args := m.Called(groupID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockDirectory) Template(ctx context.Context, id string) (*member.Template, error) {
	args := m.Called(id)
	if t, _ := args.Get(0).(*member.Template); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDirectory) IncrementTemplateUsage(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// --- helpers ---

var now = time.Date(2025, 9, 26, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dispatch *mockDispatcher
	store    *mockStore
	dir      *mockDirectory
	reg      *hub.Registry
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dispatch: &mockDispatcher{},
		store:    &mockStore{},
		dir:      &mockDirectory{},
		reg:      hub.NewRegistry("test", prometheus.NewRegistry()),
	}
	keys, err := auth.NewAdminKey("admin-key", "")
	require.NoError(t, err)
	uc := NewUsecase(f.dispatch, f.store, f.reg, f.dir, fixedClock(now), nil)
	f.router = NewRouter(RouterConfig{}, RouterDeps{
		Handler:  NewHandler(uc, nil),
		AdminKey: keys,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(auth.HeaderAdminKey, "admin-key")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// --- tests ---

func TestAPI_RequiresAdminKey(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/members/online", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set(auth.HeaderAdminKey, "nope")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_SendToPlayer(t *testing.T) {
	f := newFixture(t)
	meta := `{"gold":5}`
	f.dispatch.On("Send", mock.MatchedBy(func(n *notification.Notification) bool {
		return n.Title == "t" && n.Message == "m" && n.MetadataJSON != nil && *n.MetadataJSON == meta
	}), notification.Single("p1")).Return(&notification.DispatchResult{
		NotificationID: "n1", Targeted: 1, Delivered: 1, Recorded: 1,
	}, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/notifications/send-to-player",
		map[string]any{"playerId": "p1", "title": "t", "message": "m", "metadataJson": meta})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[dispatchResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "n1", resp.NotificationID)
	assert.Equal(t, 1, resp.Delivered)
	f.dispatch.AssertExpectations(t)
}

func TestAPI_ValidationErrors(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		path string
		body any
	}{
		{"missing player", "/api/notifications/send-to-player", map[string]any{"title": "t", "message": "m"}},
		{"missing title", "/api/notifications/send-to-players", map[string]any{"playerIds": []string{"a"}, "message": "m"}},
		{"empty players", "/api/notifications/send-to-players", map[string]any{"playerIds": []string{}, "title": "t", "message": "m"}},
		{"blank player", "/api/notifications/send-to-players", map[string]any{"playerIds": []string{""}, "title": "t", "message": "m"}},
		{"bad metadata", "/api/notifications/broadcast", map[string]any{"title": "t", "message": "m", "metadataJson": "{nope"}},
		{"template without recipients", "/api/admin/notifications/send-template", map[string]any{"templateId": "welcome"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/broadcast", bytes.NewBufferString("{"))
	req.Header.Set(auth.HeaderAdminKey, "admin-key")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestAPI_BroadcastCarriesExpiry(t *testing.T) {
	f := newFixture(t)
	exp := now.Add(time.Hour)
	f.dispatch.On("Send", mock.MatchedBy(func(n *notification.Notification) bool {
		return n.ExpiresAt != nil && n.ExpiresAt.Equal(exp)
	}), notification.AllConnected()).Return(&notification.DispatchResult{NotificationID: "b1"}, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/notifications/broadcast",
		map[string]any{"title": "t", "message": "m", "expiresAt": exp})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "b1", decodeBody[dispatchResponse](t, rec).ID)
}

func TestAPI_DispatchFailureIs500(t *testing.T) {
	f := newFixture(t)
	f.dispatch.On("Send", mock.Anything, mock.Anything).
		Return(nil, errors.New("persist notification: connection refused")).Once()

	rec := f.do(t, http.MethodPost, "/api/notifications/send-to-players",
		map[string]any{"playerIds": []string{"a", "b"}, "title": "t", "message": "m"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestAPI_SendToGroup(t *testing.T) {
	f := newFixture(t)
	f.dir.On("GroupMembers", "vip").Return([]string{"p1", "p2"}, nil).Once()
	f.dir.On("GroupMembers", "empty").Return([]string{}, nil).Once()
	f.dir.On("GroupMembers", "ghost").Return(nil, member.ErrNotFound).Once()
	f.dispatch.On("Send", mock.Anything, notification.List("p1", "p2")).
		Return(&notification.DispatchResult{NotificationID: "g1", Targeted: 2}, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/admin/notifications/send-to-group",
		map[string]any{"groupId": "vip", "title": "t", "message": "m"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[dispatchResponse](t, rec).Targeted)

	rec = f.do(t, http.MethodPost, "/api/admin/notifications/send-to-group",
		map[string]any{"groupId": "empty", "title": "t", "message": "m"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[dispatchResponse](t, rec).Targeted)

	rec = f.do(t, http.MethodPost, "/api/admin/notifications/send-to-group",
		map[string]any{"groupId": "ghost", "title": "t", "message": "m"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.dispatch.AssertNumberOfCalls(t, "Send", 1)
}

func TestAPI_SendToEmptyGroupPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.dir.On("GroupMembers", "empty").Return([]string{}, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/admin/notifications/send-to-group",
		map[string]any{"groupId": "empty", "title": "t", "message": "m"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[dispatchResponse](t, rec)
	assert.Zero(t, body.Targeted)
	assert.Empty(t, body.NotificationID)
	f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestAPI_SendTemplate(t *testing.T) {
	f := newFixture(t)
	tpl := &member.Template{ID: "welcome", Title: "Welcome", Message: "Hello"}
	f.dir.On("Template", "welcome").Return(tpl, nil)
	f.dir.On("Template", "missing").Return(nil, member.ErrNotFound)
	f.dir.On("GroupMembers", "new").Return([]string{"p3"}, nil)
	f.dir.On("IncrementTemplateUsage", "welcome").Return(nil).Twice()
	f.dispatch.On("Send", mock.MatchedBy(func(n *notification.Notification) bool {
		return n.Title == "Welcome" && n.Message == "Hello"
	}), mock.Anything).Return(&notification.DispatchResult{NotificationID: "t1", Targeted: 1}, nil).Twice()

	rec := f.do(t, http.MethodPost, "/api/admin/notifications/send-template",
		map[string]any{"templateId": "welcome", "playerIds": []string{"p1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/admin/notifications/send-template",
		map[string]any{"templateId": "welcome", "groupId": "new"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/admin/notifications/send-template",
		map[string]any{"templateId": "missing", "playerIds": []string{"p1"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.dispatch.AssertCalled(t, "Send", mock.Anything, notification.List("p1"))
	f.dispatch.AssertCalled(t, "Send", mock.Anything, notification.List("p3"))
	f.dir.AssertExpectations(t)
}

func TestAPI_History(t *testing.T) {
	f := newFixture(t)
	ns := []*notification.Notification{{ID: "n2", Title: "b"}, {ID: "n1", Title: "a"}}
	f.store.On("History", now.AddDate(0, 0, -7), historyLimit).Return(ns, nil).Once()
	f.store.On("History", now.AddDate(0, 0, -2), historyLimit).Return(nil, nil).Once()

	rec := f.do(t, http.MethodGet, "/api/admin/notifications/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]notification.Notification](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, "n2", got[0].ID)

	rec = f.do(t, http.MethodGet, "/api/admin/notifications/history?days=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/admin/notifications/history?days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.store.AssertExpectations(t)
}

func TestAPI_DeliveryStats(t *testing.T) {
	f := newFixture(t)
	seen := now
	f.store.On("Get", "n1").Return(&notification.Notification{ID: "n1"}, nil)
	f.store.On("Get", "nx").Return(nil, notification.ErrNotFound)
	f.store.On("Deliveries", "n1").Return([]notification.DeliveryRecord{
		{RecipientID: "a", DeliveredAt: &now, SeenAt: &seen},
		{RecipientID: "b", DeliveredAt: &now},
	}, nil)

	rec := f.do(t, http.MethodGet, "/api/admin/notifications/n1/delivery-stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[notification.DeliveryStats](t, rec)
	assert.Equal(t, 2, st.Delivered)
	assert.Equal(t, 1, st.Seen)
	assert.Len(t, st.Records, 2)

	rec = f.do(t, http.MethodGet, "/api/admin/notifications/nx/delivery-stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_StatusAndOnlineMembers(t *testing.T) {
	f := newFixture(t)
	f.reg.Register("p1", sessiontest.New("s1", "p1"))
	f.reg.Register("p1", sessiontest.New("s2", "p1"))
	f.reg.Register("p2", sessiontest.New("s3", "p2"))

	rec := f.do(t, http.MethodGet, "/api/notifications/player/p1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, PlayerStatus{PlayerID: "p1", IsConnected: true, Status: "online", Sessions: 2},
		decodeBody[PlayerStatus](t, rec))

	rec = f.do(t, http.MethodGet, "/api/notifications/player/p9/status", nil)
	assert.Equal(t, PlayerStatus{PlayerID: "p9", Status: "offline"}, decodeBody[PlayerStatus](t, rec))

	rec = f.do(t, http.MethodGet, "/api/admin/members/online", nil)
	online := decodeBody[[]PlayerStatus](t, rec)
	require.Len(t, online, 2)
	assert.Equal(t, "p1", online[0].PlayerID)
	assert.Equal(t, "p2", online[1].PlayerID)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, rate.Limit(1), 2)
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/hubs/notifications", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/hubs/notifications", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rl.sweep(time.Now().Add(time.Hour))
	rl.mu.Lock()
	assert.Empty(t, rl.limiters)
	rl.mu.Unlock()
}

func TestRouter_Healthz(t *testing.T) {
	r := NewRouter(RouterConfig{}, RouterDeps{
		Handler: NewHandler(NewUsecase(nil, nil, nil, nil, nil, nil), nil),
		Health:  func(context.Context) error { return errors.New("db down") },
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
