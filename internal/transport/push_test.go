package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/relay-core/internal/command"
	"github.com/nerrad567/relay-core/internal/infrastructure/config"
)

type pushHarness struct {
	*core
	push   *Push
	server *httptest.Server
}

func newPushHarness(t *testing.T) *pushHarness {
	t.Helper()
	c := newCore(t)
	push := NewPush(c.handler, c.registry, config.WebSocketConfig{
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	})
	server := httptest.NewServer(push)
	t.Cleanup(server.Close)
	return &pushHarness{core: c, push: push, server: server}
}

func (h *pushHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func (h *pushHarness) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := h.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(identifyJSON())))
	ack := readFrame(t, conn)
	require.Equal(t, TypeIdentifyAck, ack["type"])
	require.Equal(t, testID, ack["deviceId"])
	return conn
}

func TestPush_IdentifyThenCommandAndAck(t *testing.T) {
	h := newPushHarness(t)
	conn := h.connect(t)
	assert.True(t, h.online())
	assert.Equal(t, 1, h.push.SessionCount())

	out, err := h.dispatcher.Toggle(h.ctx, testID, "relay2", true, command.UserSource("u1"))
	require.NoError(t, err)
	require.Equal(t, command.OutcomeSent, out.Status)

	frame := readFrame(t, conn)
	assert.Equal(t, TypeCommand, frame["type"])
	assert.Equal(t, "relay2", frame["switchId"])
	assert.Equal(t, true, frame["state"])
	assert.Equal(t, out.CommandID, frame["commandId"])
	seq := frame["seq"].(float64) //nolint:forcetypeassert // JSON number

	ack, err := json.Marshal(map[string]any{"type": "ack", "switchId": "relay2", "seq": uint64(seq), "state": true})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ack))

	eventually(t, func() bool {
		cmd, err := h.dispatcher.Command(h.ctx, out.CommandID)
		return err == nil && cmd.Status == command.StatusAcked
	}, "command never acked")
	assert.True(t, h.state(t, "relay2").State)
}

func TestPush_QueuedCommandsFollowIdentifyAck(t *testing.T) {
	h := newPushHarness(t)
	conn := h.connect(t)
	require.NoError(t, conn.Close())
	eventually(t, func() bool { return !h.online() }, "device still online after close")

	out, err := h.dispatcher.Toggle(h.ctx, testID, "relay1", true, command.UserSource("u1"))
	require.NoError(t, err)
	require.Equal(t, command.OutcomeQueued, out.Status)

	conn = h.connect(t)
	frame := readFrame(t, conn)
	assert.Equal(t, TypeCommand, frame["type"])
	assert.Equal(t, "relay1", frame["switchId"])
}

func TestPush_RejectsBadFirstFrame(t *testing.T) {
	h := newPushHarness(t)

	conn := h.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`)))
	frame := readFrame(t, conn)
	assert.Equal(t, TypeIdentifyReject, frame["type"])
	assert.Contains(t, frame["reason"], "identify")

	conn = h.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	assert.Equal(t, TypeIdentifyReject, readFrame(t, conn)["type"])

	// Register the board, then present the wrong secret.
	h.connect(t)
	conn = h.dial(t)
	bad := strings.Replace(identifyJSON(), testSecret, "nope", 1)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(bad)))
	assert.Equal(t, TypeIdentifyReject, readFrame(t, conn)["type"])
}

func TestPush_InvalidMessagesKeepSession(t *testing.T) {
	h := newPushHarness(t)
	conn := h.connect(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"state","switches":[{"switchId":"relay1","state":true}]}`)))

	eventually(t, func() bool {
		sw, err := h.registry.Switch(testID, "relay1")
		return err == nil && sw.State
	}, "state report not applied")
	assert.True(t, h.online())
}

func TestPush_CloseDetaches(t *testing.T) {
	h := newPushHarness(t)
	h.connect(t)

	h.push.Close()
	eventually(t, func() bool { return !h.online() }, "device still online after Close")
	eventually(t, func() bool { return h.push.SessionCount() == 0 }, "session not released")
}
