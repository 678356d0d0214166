package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bluehatcoders/jam/internal/signaling"
)

type testRelay struct {
	hub     *Hub
	metrics *Metrics
	srv     *httptest.Server
	url     string
}

func startRelay(t *testing.T) *testRelay {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	hub := NewHub(m)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(Routes(hub, reg))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &testRelay{
		hub:     hub,
		metrics: m,
		srv:     srv,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + WSPath,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, f signaling.Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func read(t *testing.T, conn *websocket.Conn) signaling.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f signaling.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func join(t *testing.T, url, room, peer string, topics ...string) *websocket.Conn {
	t.Helper()
	conn := dial(t, url)
	write(t, conn, signaling.Frame{Type: signaling.FrameJoinRoom, RoomID: room, PeerID: peer})
	f := read(t, conn)
	require.Equal(t, signaling.FrameJoinSuccess, f.Type)
	require.Equal(t, room, f.RoomID)

	for _, topic := range topics {
		write(t, conn, signaling.Frame{Type: signaling.FrameSubscribe, Topic: topic})
	}
	barrier(t, conn)
	return conn
}

// barrier waits until the hub has processed everything conn sent so far.
func barrier(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	write(t, conn, signaling.Frame{Type: signaling.FramePublish, ID: "barrier", Topic: "barrier"})
	f := read(t, conn)
	require.Equal(t, signaling.FrameAck, f.Type)
	require.Equal(t, "barrier", f.ID)
}

func TestPublishFansOutExceptSender(t *testing.T) {
	r := startRelay(t)

	a := join(t, r.url, "room", "a", "chat")
	b := join(t, r.url, "room", "b", "chat")
	c := join(t, r.url, "room", "c", "chat")
	other := join(t, r.url, "elsewhere", "d", "chat")

	payload := json.RawMessage(`{"hello":"world"}`)
	write(t, a, signaling.Frame{Type: signaling.FramePublish, ID: "1", Topic: "chat", Payload: payload})

	ack := read(t, a)
	assert.Equal(t, signaling.FrameAck, ack.Type, "sender gets the ack, not its own event")
	assert.Equal(t, "1", ack.ID)

	for _, conn := range []*websocket.Conn{b, c} {
		f := read(t, conn)
		assert.Equal(t, signaling.FrameEvent, f.Type)
		assert.Equal(t, "chat", f.Topic)
		assert.Equal(t, "a", f.PeerID)
		assert.JSONEq(t, string(payload), string(f.Payload))
	}

	// Nothing leaked into the other room.
	barrier(t, other)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.metrics.Rooms))
	assert.Equal(t, float64(4), testutil.ToFloat64(r.metrics.Clients))
	assert.GreaterOrEqual(t, testutil.ToFloat64(r.metrics.Frames.WithLabelValues(signaling.FramePublish)), float64(5))
}

func TestAnonymousFlagIsForwarded(t *testing.T) {
	r := startRelay(t)

	a := join(t, r.url, "room", "a")
	b := join(t, r.url, "room", "b", signaling.TopicAnonymous)

	write(t, a, signaling.Frame{
		Type:      signaling.FramePublish,
		ID:        "anon",
		Topic:     signaling.TopicAnonymous,
		Anonymous: true,
		Payload:   json.RawMessage(`"psst"`),
	})
	require.Equal(t, signaling.FrameAck, read(t, a).Type)

	f := read(t, b)
	assert.True(t, f.Anonymous)
	assert.Equal(t, `"psst"`, string(f.Payload))
}

func TestPublishWithoutJoinIsRejected(t *testing.T) {
	r := startRelay(t)
	conn := dial(t, r.url)

	write(t, conn, signaling.Frame{Type: signaling.FramePublish, ID: "x", Topic: "chat"})

	f := read(t, conn)
	assert.Equal(t, signaling.FrameError, f.Type)
	assert.Equal(t, "x", f.ID)
	assert.Equal(t, "you must join a room first", f.Error)
}

func TestJoinRequiresRoom(t *testing.T) {
	r := startRelay(t)
	conn := dial(t, r.url)

	write(t, conn, signaling.Frame{Type: signaling.FrameJoinRoom, PeerID: "a"})

	f := read(t, conn)
	assert.Equal(t, signaling.FrameError, f.Type)
	assert.Equal(t, "room id required", f.Error)
}

func TestCreateRoomIssuesMemorableIDs(t *testing.T) {
	r := startRelay(t)
	conn := dial(t, r.url)
	pattern := regexp.MustCompile(`^[a-z]+-[a-z]+-[a-z]+-[a-z]+$`)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		write(t, conn, signaling.Frame{Type: signaling.FrameCreateRoom})
		f := read(t, conn)
		require.Equal(t, signaling.FrameRoomCreated, f.Type)
		assert.Regexp(t, pattern, f.RoomID)
		seen[f.RoomID] = true
	}
	assert.Len(t, seen, 3)
}

func TestGenerateRoomIDAvoidsOpenRooms(t *testing.T) {
	h := NewHub(nil)
	for i := 0; i < 50; i++ {
		id := h.generateRoomID()
		_, taken := h.rooms[id]
		require.False(t, taken)
		h.rooms[id] = newRoom(id)
	}
	assert.Len(t, h.rooms, 50)
}

func TestRoomClosesWhenLastClientLeaves(t *testing.T) {
	r := startRelay(t)

	a := join(t, r.url, "room", "a", "chat")
	b := join(t, r.url, "room", "b", "chat")
	require.Equal(t, float64(1), testutil.ToFloat64(r.metrics.Rooms))

	a.Close()
	b.Close()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(r.metrics.Rooms) == 0 &&
			testutil.ToFloat64(r.metrics.Clients) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	r := startRelay(t)
	join(t, r.url, "room", "a")

	res, err := http.Get(r.srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", string(body))

	res, err = http.Get(r.srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	assert.Contains(t, string(body), "jam_relay_clients 1")
	assert.Contains(t, string(body), "jam_relay_rooms 1")
}

func TestSlowClientIsDropped(t *testing.T) {
	h := NewHub(nil)
	c := &Client{Hub: h, Send: make(chan *signaling.Frame, 1)}
	h.clients[c] = true
	room := newRoom("room")
	room.Clients[c] = true
	h.rooms["room"] = room
	c.RoomID = "room"

	h.send(c, &signaling.Frame{Type: signaling.FrameEvent})
	h.send(c, &signaling.Frame{Type: signaling.FrameEvent})

	assert.False(t, h.clients[c])
	assert.Empty(t, h.rooms)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Dropped))

	_, ok := <-c.Send
	assert.True(t, ok, "queued frame is still delivered")
	_, ok = <-c.Send
	assert.False(t, ok)
}
