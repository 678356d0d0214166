package swarm

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bluehatcoders/jam/internal/signaling"
)

var hex4 = regexp.MustCompile(`^[0-9a-f]{4}$`)

type harness struct {
	c         *Coordinator
	opener    *fakeOpener
	transport *fakeTransport
	clock     *clock.Mock
	events    *Subscription
}

func newHarness(t *testing.T, manualAck bool) *harness {
	t.Helper()
	h := &harness{
		opener:    &fakeOpener{manual: manualAck},
		transport: newFakeTransport(),
		clock:     clock.NewMock(),
	}
	h.c = New(h.transport,
		WithChannelOpener(h.opener.open),
		WithClock(h.clock),
		WithBackoff(BackoffPolicy{Base: time.Second, Max: 10 * time.Second}),
	)
	h.events = h.c.Subscribe()
	t.Cleanup(h.events.Close)

	h.c.Configure(Options{URL: "wss://x", Room: "r1", PeerID: "p1"})
	return h
}

// connect connects and waits for the presence ack.
func (h *harness) connect(t *testing.T) *fakeChannel {
	t.Helper()
	require.NoError(t, h.c.Connect(""))
	require.Eventually(t, h.c.Connected, time.Second, time.Millisecond)
	h.drain()
	return h.opener.current()
}

func (h *harness) drain() []Event {
	var out []Event
	for {
		select {
		case e := <-h.events.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

func count(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func announce(ch *fakeChannel, peerID, connID string) {
	ch.deliver(signaling.TopicAnnounce, signaling.Payload{PeerID: peerID, ConnectionID: connID})
}

func TestConnectAnnouncesPresence(t *testing.T) {
	h := newHarness(t, false)

	require.NoError(t, h.c.Connect(""))
	require.Equal(t, 1, h.opener.count())

	ch := h.opener.current()
	assert.Equal(t, "wss://x", ch.cfg.URL)
	assert.Equal(t, "r1", ch.cfg.Room)
	assert.Equal(t, "p1", ch.cfg.PeerID)
	assert.Nil(t, ch.cfg.Auth)
	assert.ElementsMatch(t, []string{"connect-me", "signal-p1", "all"}, ch.topics())
	assert.Contains(t, ch.anon, "anonymous")

	msg := ch.messages()[0]
	assert.Equal(t, signaling.TopicAnnounce, msg.topic)
	assert.Equal(t, "p1", msg.payload.PeerID)
	assert.Regexp(t, hex4, msg.payload.ConnectionID)
	assert.Equal(t, h.c.ConnectionID(), msg.payload.ConnectionID)
	assert.Nil(t, msg.payload.SharedState)

	require.Eventually(t, h.c.Connected, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return count(h.drain(), EventConnectionChanged) == 1
	}, time.Second, time.Millisecond)
}

func TestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t)
	connID := h.c.ConnectionID()

	require.NoError(t, h.c.Connect("other-room"))

	assert.Equal(t, 1, h.opener.count())
	assert.Equal(t, connID, h.c.ConnectionID())
	assert.Equal(t, "r1", h.c.Room())
	assert.True(t, h.c.Connected())
}

func TestConnectMergesRoom(t *testing.T) {
	h := newHarness(t, false)

	require.NoError(t, h.c.Connect("r2"))
	assert.Equal(t, "r2", h.opener.current().cfg.Room)
}

func TestConnectRequiresRoomAndURL(t *testing.T) {
	c := New(newFakeTransport(), WithChannelOpener((&fakeOpener{}).open))

	err := c.Connect("")
	assert.ErrorIs(t, err, ErrMissingRoom)
	assert.True(t, IsKind(err, KindConfiguration))

	err = c.Connect("r1")
	assert.ErrorIs(t, err, ErrMissingURL)
	assert.False(t, c.Connected())
	assert.Empty(t, c.ConnectionID())
}

func TestPeerIDIsFixedWhileConnected(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	h.c.Configure(Options{PeerID: "intruder", Room: "r2"})
	assert.Equal(t, "p1", h.c.PeerID())

	require.NoError(t, h.c.SetSharedState(map[string]bool{"hand": true}))
	assert.Equal(t, "p1", ch.last().payload.PeerID)
	assert.Contains(t, ch.topics(), signaling.SignalTopic("p1"))

	require.NoError(t, h.c.Disconnect())
	h.c.Configure(Options{PeerID: "p9"})
	assert.Equal(t, "p9", h.c.PeerID())
}

func TestSignHooksReachChannel(t *testing.T) {
	h := newHarness(t, false)
	h.c.Configure(Options{
		Sign: func(state json.RawMessage) (json.RawMessage, error) { return state, nil },
	})

	require.NoError(t, h.c.Connect(""))
	assert.NotNil(t, h.opener.current().cfg.Auth)
}

func TestAnnounceRegistersAndDialsPeer(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	announce(ch, "p2", "abcd")

	sticky := h.c.StickyPeers()
	require.Contains(t, sticky, "p2")
	assert.False(t, sticky["p2"].HadStream)
	assert.True(t, sticky["p2"].LastFailure.IsZero())
	assert.Equal(t, "abcd", sticky["p2"].ConnectionID)

	events := h.drain()
	assert.Equal(t, 1, count(events, EventNewPeer))

	conns := h.transport.opened()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].spec.Initiator)
	assert.Equal(t, "p2", conns[0].spec.PeerID)
	assert.Equal(t, "abcd", conns[0].spec.ConnectionID)
	assert.Equal(t, "p1", conns[0].spec.LocalPeerID)
	assert.Equal(t, h.c.ConnectionID(), conns[0].spec.LocalConnectionID)
	assert.Equal(t, []string{"p2"}, h.c.Peers())
}

func TestNewPeerFiresOncePerPeer(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	announce(ch, "p2", "abcd")
	announce(ch, "p2", "abcd")
	ch.deliver(signaling.SignalTopic("p1"), signaling.Payload{
		PeerID:               "p2",
		ConnectionID:         "abcd",
		ExpectedConnectionID: h.c.ConnectionID(),
		Data:                 json.RawMessage(`{"type":"answer"}`),
	})
	announce(ch, "p3", "0001")

	events := h.drain()
	assert.Equal(t, 2, count(events, EventNewPeer))
	assert.Len(t, h.transport.opened(), 2, "repeat announce reuses the connection")
	assert.Len(t, h.c.StickyPeers(), 2)
}

func TestOwnAnnounceIsIgnored(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	announce(ch, "p1", h.c.ConnectionID())

	assert.Empty(t, h.c.StickyPeers())
	assert.Empty(t, h.transport.opened())
}

func TestAnnounceCarriesState(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.deliver(signaling.TopicAnnounce, signaling.Payload{
		PeerID:       "p2",
		ConnectionID: "abcd",
		SharedState:  json.RawMessage(`{"name":"ada"}`),
	})

	assert.JSONEq(t, `{"name":"ada"}`, string(h.c.PeerState()["p2"]))
	assert.Equal(t, 1, count(h.drain(), EventPeerStateChanged))
}

func TestSignalOpensResponder(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.deliver(signaling.SignalTopic("p1"), signaling.Payload{
		PeerID:               "p3",
		ConnectionID:         "0001",
		ExpectedConnectionID: h.c.ConnectionID(),
		Data:                 json.RawMessage(`{"type":"offer"}`),
	})

	conn := h.transport.last()
	assert.False(t, conn.spec.Initiator)
	assert.Equal(t, "0001", conn.spec.ConnectionID)
	require.Len(t, conn.received(), 1)
	assert.JSONEq(t, `{"type":"offer"}`, string(conn.received()[0]))
}

func TestStaleSignalIsDropped(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.deliver(signaling.SignalTopic("p1"), signaling.Payload{
		PeerID:               "p3",
		ConnectionID:         "0001",
		ExpectedConnectionID: "dead",
		Data:                 json.RawMessage(`{"type":"offer"}`),
	})

	assert.Empty(t, h.transport.opened())
	assert.Empty(t, h.c.Peers())
	assert.Contains(t, h.c.StickyPeers(), "p3", "the peer is still observed")
}

func TestSignalFromNewSessionReplacesConnection(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	announce(ch, "p2", "abcd")
	old := h.transport.last()

	ch.deliver(signaling.SignalTopic("p1"), signaling.Payload{
		PeerID:       "p2",
		ConnectionID: "ffff",
		Data:         json.RawMessage(`{"type":"offer"}`),
	})

	assert.Equal(t, 1, old.destroyCount())
	fresh := h.transport.last()
	assert.NotSame(t, old, fresh)
	assert.False(t, fresh.spec.Initiator)
	assert.Equal(t, "ffff", fresh.spec.ConnectionID)
	assert.Equal(t, "ffff", h.c.StickyPeers()["p2"].ConnectionID)
}

func TestLateSignalFromRetiredConnectionIsDropped(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	announce(ch, "p2", "aaaa")
	announce(ch, "p2", "bbbb")
	fresh := h.transport.last()
	require.Equal(t, "bbbb", fresh.spec.ConnectionID)

	ch.deliver(signaling.SignalTopic("p1"), signaling.Payload{
		PeerID:               "p2",
		ConnectionID:         "aaaa",
		ExpectedConnectionID: h.c.ConnectionID(),
		Data:                 json.RawMessage(`{"type":"offer"}`),
	})
	announce(ch, "p2", "aaaa")

	assert.Zero(t, fresh.destroyCount())
	assert.Empty(t, fresh.received())
	assert.Same(t, fresh, h.transport.last())
	assert.Equal(t, "bbbb", h.c.StickyPeers()["p2"].ConnectionID)

	// Our signals still target the live attempt.
	fresh.spec.Host.SendSignal(json.RawMessage(`{"type":"answer"}`))
	assert.Equal(t, "bbbb", ch.last().payload.ExpectedConnectionID)
}

func TestFailedOpenLeavesNoPeer(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)
	h.transport.failOpen["p2"] = true

	announce(ch, "p2", "abcd")

	assert.Empty(t, h.c.Peers())
	assert.Contains(t, h.c.StickyPeers(), "p2")
}

func TestDisconnectTearsDownPeers(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)
	h.transport.destroyErr["p2"] = errors.New("stuck")

	announce(ch, "p2", "abcd")
	announce(ch, "p3", "0001")
	require.Len(t, h.c.Peers(), 2)

	err := h.c.Disconnect()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPeerTeardown))

	for _, conn := range h.transport.opened() {
		assert.Equal(t, 1, conn.destroyCount())
	}
	assert.Empty(t, h.c.Peers())
	assert.False(t, h.c.Connected())
	assert.Empty(t, h.c.ConnectionID())
	assert.Len(t, h.c.StickyPeers(), 2)
	assert.Equal(t, 1, ch.closeCount())

	events := h.drain()
	assert.Equal(t, 2, count(events, EventPeerRemoved))
	assert.Equal(t, 1, count(events, EventConnectionChanged))
}

func TestDisconnectSwallowsCloseError(t *testing.T) {
	h := newHarness(t, false)
	h.opener.closeErr = errors.New("already gone")
	h.connect(t)

	assert.NoError(t, h.c.Disconnect())
	assert.NoError(t, h.c.Disconnect())
}

func TestReconnectUsesFreshConnectionID(t *testing.T) {
	h := newHarness(t, false)
	first := h.connect(t)

	announce(first, "p2", "abcd")
	require.NoError(t, h.c.Reconnect())

	assert.Equal(t, 2, h.opener.count())
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, "r1", h.opener.current().cfg.Room)
	assert.Regexp(t, hex4, h.c.ConnectionID())
	assert.Empty(t, h.c.Peers())
	assert.Contains(t, h.c.StickyPeers(), "p2")

	// Events on the old channel no longer count.
	announce(first, "p9", "9999")
	assert.NotContains(t, h.c.StickyPeers(), "p9")
}

func TestAddLocalStreamReachesEveryPeer(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)
	h.transport.attachErr["p2"] = errors.New("renegotiation failed")

	announce(ch, "p2", "abcd")
	announce(ch, "p3", "0001")

	name, err := h.c.AddLocalStream(fakeStream("s1"), "mic")
	assert.Equal(t, "mic", name)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindStreamAttach))

	conns := h.transport.opened()
	assert.Empty(t, conns[0].attachments())
	assert.Equal(t, []string{"mic=s1"}, conns[1].attachments())

	// Future peers get it too.
	announce(ch, "p4", "0002")
	assert.Equal(t, []string{"mic=s1"}, h.transport.last().attachments())
}

func TestAddLocalStreamDefaultName(t *testing.T) {
	h := newHarness(t, false)

	name, err := h.c.AddLocalStream(fakeStream("s1"), "")
	require.NoError(t, err)
	assert.Regexp(t, hex4, name)
}

func TestAddLocalStreamRejectsNil(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)
	announce(ch, "p2", "abcd")

	name, err := h.c.AddLocalStream(nil, "mic")
	assert.Empty(t, name)
	assert.ErrorIs(t, err, ErrNilStream)
	assert.True(t, IsKind(err, KindStreamAttach))
	assert.Empty(t, h.transport.last().attachments())
}

func TestSharedStateBroadcast(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	require.NoError(t, h.c.SetSharedState(map[string]bool{"hand": true}))

	msg := ch.last()
	assert.Equal(t, signaling.TopicAll, msg.topic)
	assert.Equal(t, signaling.TypeSharedState, msg.payload.Type)
	assert.Equal(t, "p1", msg.payload.PeerID)
	assert.JSONEq(t, `{"hand":true}`, string(msg.payload.Data))
	assert.JSONEq(t, `{"hand":true}`, string(h.c.SharedState()))
}

func TestSharedStateWithoutChannelIsStoredAndAnnounced(t *testing.T) {
	h := newHarness(t, false)

	require.NoError(t, h.c.SetSharedState(map[string]string{"name": "ada"}))
	require.NoError(t, h.c.Connect(""))

	ch := h.opener.current()
	msgs := ch.messages()
	require.Len(t, msgs, 1, "only the announcement")
	assert.JSONEq(t, `{"name":"ada"}`, string(msgs[0].payload.SharedState))
}

func TestInboundSharedStateIsLastWriteWins(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.deliver(signaling.TopicAll, signaling.Payload{Type: signaling.TypeSharedState, PeerID: "p3", Data: json.RawMessage(`{"v":"A"}`)})
	ch.deliver(signaling.TopicAll, signaling.Payload{Type: signaling.TypeSharedState, PeerID: "p3", Data: json.RawMessage(`{"v":"B"}`)})

	assert.JSONEq(t, `{"v":"B"}`, string(h.c.PeerState()["p3"]))

	events := h.drain()
	require.Equal(t, 2, count(events, EventPeerStateChanged))
	assert.Equal(t, "p3", events[0].PeerID)
	assert.JSONEq(t, `{"v":"A"}`, string(events[0].Data))
}

func TestUnverifiedStateIsNotApplied(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.deliver(signaling.TopicAll, signaling.Payload{Type: signaling.TypeSharedState, PeerID: "p3"})

	assert.Empty(t, h.c.PeerState())
	assert.Zero(t, count(h.drain(), EventPeerStateChanged))
}

func TestSharedEventsAndAnonymous(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	require.NoError(t, h.c.SendSharedEvent("wave"))
	msg := ch.last()
	assert.Equal(t, signaling.TypeSharedEvent, msg.payload.Type)
	assert.Equal(t, `"wave"`, string(msg.payload.Data))

	ch.deliver(signaling.TopicAll, signaling.Payload{Type: signaling.TypeSharedEvent, PeerID: "p3", Data: json.RawMessage(`"clap"`)})
	ch.deliverAnonymous(signaling.TopicAnonymous, json.RawMessage(`{"raw":1}`))

	events := h.drain()
	require.Len(t, events, 2)
	assert.Equal(t, EventPeerEvent, events[0].Kind)
	assert.Equal(t, "p3", events[0].PeerID)
	assert.Equal(t, `"clap"`, string(events[0].Data))
	assert.Equal(t, EventAnonymous, events[1].Kind)
	assert.JSONEq(t, `{"raw":1}`, string(events[1].Data))
}

func TestPresenceFailureDisconnects(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.c.Connect(""))
	ch := h.opener.current()

	ch.messages()[0].ack <- errors.New("relay unreachable")

	require.Eventually(t, func() bool { return ch.closeCount() == 1 }, time.Second, time.Millisecond)
	assert.False(t, h.c.Connected())
	assert.Empty(t, h.c.ConnectionID())
}

func TestAckAfterDisconnectIsIgnored(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.c.Connect(""))
	ch := h.opener.current()

	require.NoError(t, h.c.Disconnect())
	ch.messages()[0].ack <- nil

	assert.Never(t, h.c.Connected, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, ch.closeCount())
}

func TestLostChannelDisconnects(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)
	announce(ch, "p2", "abcd")

	close(ch.done)

	require.Eventually(t, func() bool { return !h.c.Connected() }, time.Second, time.Millisecond)
	assert.Empty(t, h.c.Peers())
	require.NoError(t, h.c.Connect(""))
	assert.Equal(t, 2, h.opener.count())
}

func TestResetRequiresDisconnect(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)
	announce(ch, "p2", "abcd")
	ch.deliver(signaling.TopicAll, signaling.Payload{Type: signaling.TypeSharedState, PeerID: "p2", Data: json.RawMessage(`1`)})

	assert.ErrorIs(t, h.c.Reset(), ErrConnected)

	require.NoError(t, h.c.Disconnect())
	assert.Len(t, h.c.StickyPeers(), 1)
	require.NoError(t, h.c.Reset())
	assert.Empty(t, h.c.StickyPeers())
	assert.Empty(t, h.c.PeerState())
}

func TestOutboundSignalCarriesConnectionIDs(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)
	require.NoError(t, h.c.SetSharedState("hi"))

	announce(ch, "p2", "abcd")
	h.transport.last().spec.Host.SendSignal(json.RawMessage(`{"type":"offer"}`))

	msg := ch.last()
	assert.Equal(t, "signal-p2", msg.topic)
	assert.Equal(t, "p1", msg.payload.PeerID)
	assert.Equal(t, h.c.ConnectionID(), msg.payload.ConnectionID)
	assert.Equal(t, "abcd", msg.payload.ExpectedConnectionID)
	assert.Equal(t, `"hi"`, string(msg.payload.SharedState))
}

func TestCallbacksFromReplacedConnectionAreIgnored(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	announce(ch, "p2", "abcd")
	stale := h.transport.last().spec.Host
	announce(ch, "p2", "beef")
	sent := len(ch.messages())

	stale.SendSignal(json.RawMessage(`{}`))
	stale.AddRemoteStream("cam", fakeStream("old"))
	stale.Failed(errors.New("late"))

	assert.Len(t, ch.messages(), sent)
	assert.Empty(t, h.c.RemoteStreams())
	assert.Equal(t, []string{"p2"}, h.c.Peers())
	assert.Zero(t, h.c.StickyPeers()["p2"].Failures)
}

func TestRemoteStreamsAreUniquePerNameAndPeer(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)
	announce(ch, "p2", "abcd")
	host := h.transport.last().spec.Host

	host.AddRemoteStream("cam", fakeStream("s1"))
	host.AddRemoteStream("cam", fakeStream("s2"))
	host.AddRemoteStream("", fakeStream("s3"))
	host.AddRemoteStream("", fakeStream("s4"))

	streams := h.c.RemoteStreams()
	require.Len(t, streams, 3)
	assert.Equal(t, "s2", streams[0].Stream.ID())
	assert.True(t, h.c.StickyPeers()["p2"].HadStream)

	events := h.drain()
	assert.Equal(t, 4, count(events, EventStreamAdded))
	assert.Equal(t, 1, count(events, EventStreamRemoved))
}

func TestFailedPeerBacksOffBeforeRedial(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	announce(ch, "p2", "abcd")
	conn := h.transport.last()
	conn.spec.Host.AddRemoteStream("cam", fakeStream("s1"))
	conn.spec.Host.Failed(errors.New("ice failed"))

	assert.Equal(t, 1, conn.destroyCount())
	assert.Empty(t, h.c.Peers())
	assert.Empty(t, h.c.RemoteStreams())

	sp := h.c.StickyPeers()["p2"]
	assert.Equal(t, 1, sp.Failures)
	assert.Equal(t, h.clock.Now(), sp.LastFailure)

	events := h.drain()
	assert.Equal(t, 1, count(events, EventPeerRemoved))
	assert.Equal(t, 1, count(events, EventStreamRemoved))

	// Inside the window an announce does not dial.
	announce(ch, "p2", "abcd")
	assert.Len(t, h.transport.opened(), 1)

	// One failure with a stream: Base * 1.
	h.clock.Add(time.Second)
	require.Eventually(t, func() bool { return len(h.transport.opened()) == 2 }, time.Second, time.Millisecond)
	assert.True(t, h.transport.last().spec.Initiator)

	h.transport.last().spec.Host.Connected()
	assert.Zero(t, h.c.StickyPeers()["p2"].Failures)
}

func TestDisconnectCancelsRetries(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	announce(ch, "p2", "abcd")
	h.transport.last().spec.Host.Failed(errors.New("ice failed"))
	require.NoError(t, h.c.Disconnect())

	h.clock.Add(time.Minute)
	assert.Never(t, func() bool { return len(h.transport.opened()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}
