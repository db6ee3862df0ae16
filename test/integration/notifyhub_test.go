//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

type dispatched struct {
	NotificationID string `json:"notificationId"`
	Delivered      int    `json:"delivered"`
}

func TestIT_SendToPlayer_DeliverAndAck(t *testing.T) {
	c := LoadCfg()
	WaitHealthz(t, c.BaseURL, 60*time.Second)
	db := DBOpen(t, c.DBDSN)

	player := "it-player-" + RandID()
	ws := DialPlayer(t, c, player)

	require.Eventually(t, func() bool {
		b := AdminDo(t, c, http.MethodGet, "/api/notifications/player/"+player+"/status", nil, http.StatusOK)
		var st struct {
			IsConnected bool `json:"isConnected"`
		}
		return json.Unmarshal(b, &st) == nil && st.IsConnected
	}, 10*time.Second, 200*time.Millisecond)

	body := fmt.Sprintf(`{"playerId":%q,"title":"it","message":"hello"}`, player)
	var res dispatched
	require.NoError(t, json.Unmarshal(AdminDo(t, c, http.MethodPost, "/api/notifications/send-to-player", []byte(body), http.StatusOK), &res))
	require.NotEmpty(t, res.NotificationID)
	assert.Equal(t, 1, res.Delivered)

	f := WaitFrame(t, ws, res.NotificationID, 10*time.Second)
	assert.Equal(t, "ReceiveNotification", f.Event)
	assert.Equal(t, "hello", f.Data["message"])

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "AckNotification", "id": res.NotificationID}))
	require.Eventually(t, func() bool { return SeenAt(t, db, res.NotificationID, player) },
		10*time.Second, 200*time.Millisecond)
}

func TestIT_Broadcast_AnnouncedOnKafka(t *testing.T) {
	c := LoadCfg()
	WaitHealthz(t, c.BaseURL, 60*time.Second)

	var res dispatched
	body := []byte(`{"title":"it broadcast","message":"to everyone"}`)
	require.NoError(t, json.Unmarshal(AdminDo(t, c, http.MethodPost, "/api/notifications/broadcast", body, http.StatusOK), &res))
	require.NotEmpty(t, res.NotificationID)

	ev := &structpb.Struct{}
	ok := ReadProtoWithKey(t, c.KafkaBootstrap, c.NotificationsTopic, res.NotificationID, 45*time.Second, ev)
	require.True(t, ok, "notification.created not seen on %s", c.NotificationsTopic)
	assert.Equal(t, "it broadcast", ev.GetFields()["title"].GetStringValue())
	assert.True(t, ev.GetFields()["isBroadcast"].GetBoolValue())
}

func TestIT_DispatchFromKafka(t *testing.T) {
	c := LoadCfg()
	WaitHealthz(t, c.BaseURL, 60*time.Second)

	player := "it-player-" + RandID()
	ws := DialPlayer(t, c, player)
	time.Sleep(500 * time.Millisecond)

	id := "00000000-0000-4000-8000-" + RandID()
	req, err := structpb.NewStruct(map[string]any{
		"id":         id,
		"identities": []any{player},
		"title":      "from bus",
		"message":    "m",
	})
	require.NoError(t, err)
	PublishProto(t, c.KafkaBootstrap, c.DispatchTopic, []byte(player), req)

	f := WaitFrame(t, ws, id, 30*time.Second)
	assert.Equal(t, "from bus", f.Data["title"])
}
