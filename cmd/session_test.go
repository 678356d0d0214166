package cmd

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bluehatcoders/jam/internal/config"
	"github.com/Bluehatcoders/jam/internal/relay"
)

func startRelay(t *testing.T) string {
	t.Helper()
	hub := relay.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.Routes(hub, nil))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + relay.WSPath
}

func joined(t *testing.T, url, room, keyPath string) *session {
	t.Helper()
	sess, err := newSession(&config.Config{URL: url, Domain: "jam.test"}, keyPath == "", keyPath)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.join(context.Background(), room))
	return sess
}

func TestLoadConfigRejectsForcedRelayWithoutTURN(t *testing.T) {
	t.Setenv("TURN_SERVER", "")
	_, err := LoadConfig(config.Options{ForceRelay: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without TURN")
}

func TestSessionsSeeEachOther(t *testing.T) {
	url := startRelay(t)
	dir := t.TempDir()

	alice := joined(t, url, "lobby", filepath.Join(dir, "alice"))
	bob := joined(t, url, "lobby", filepath.Join(dir, "bob"))

	assert.Eventually(t, func() bool {
		return len(alice.snapshot().Peers) == 1 && len(bob.snapshot().Peers) == 1
	}, 5*time.Second, 20*time.Millisecond)

	snap := alice.snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, "lobby", snap.Room)
	assert.Equal(t, bob.swarm.PeerID(), snap.Peers[0].PeerID)

	// Signed state round-trips through the relay.
	require.NoError(t, bob.toggleHand())
	assert.Eventually(t, func() bool {
		peers := alice.snapshot().Peers
		return len(peers) == 1 && peers[0].Hand
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, alice.wave())
	assert.Eventually(t, func() bool {
		return bob.summary().Events == 1
	}, 5*time.Second, 20*time.Millisecond)

	sum := alice.summary()
	assert.Equal(t, "lobby", sum.Room)
	assert.Equal(t, 1, sum.PeersSeen)
}

func TestEphemeralSessionUsesRandomID(t *testing.T) {
	url := startRelay(t)
	sess := joined(t, url, "lobby", "")

	assert.Len(t, sess.swarm.PeerID(), 36)
	assert.True(t, sess.swarm.Connected())

	var state handState
	require.NoError(t, sess.toggleHand())
	require.NoError(t, json.Unmarshal(sess.swarm.SharedState(), &state))
	assert.True(t, state.Hand)
}

func TestJoinWithoutRoomFails(t *testing.T) {
	sess, err := newSession(&config.Config{URL: "ws://127.0.0.1:1/_/signal/ws"}, true, "")
	require.NoError(t, err)
	defer sess.Close()

	assert.Error(t, sess.join(context.Background(), ""))
}

func TestRunRelayStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runRelay(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
