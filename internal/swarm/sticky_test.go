package swarm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := BackoffPolicy{Base: 2 * time.Second, Max: time.Minute}

	tests := []struct {
		failures  int
		hadStream bool
		want      time.Duration
	}{
		{0, true, 0},
		{1, true, 2 * time.Second},
		{1, false, 4 * time.Second},
		{2, true, 4 * time.Second},
		{3, false, 16 * time.Second},
		{5, true, 32 * time.Second},
		{6, true, time.Minute},
		{50, false, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.failures, tt.hadStream), "failures=%d hadStream=%v", tt.failures, tt.hadStream)
	}
}

func TestStickyRegistry(t *testing.T) {
	clk := clock.NewMock()
	r := NewStickyRegistry(clk, DefaultBackoff())

	assert.True(t, r.Observe("p2", "abcd"))
	assert.False(t, r.Observe("p2", "beef"))
	assert.Equal(t, 1, r.Len())

	p, ok := r.Get("p2")
	require.True(t, ok)
	assert.Equal(t, "beef", p.ConnectionID)
	assert.True(t, r.Retired("p2", "abcd"))
	assert.False(t, r.Retired("p2", "beef"))
	assert.False(t, r.Retired("p2", ""))
	assert.False(t, r.Retired("p3", "abcd"))
	assert.True(t, r.RetryAt("p2").IsZero())

	clk.Add(time.Hour)
	r.RecordFailure("p2")
	assert.Equal(t, clk.Now().Add(4*time.Second), r.RetryAt("p2"))

	r.RecordStream("p2")
	r.RecordFailure("p2")
	assert.Equal(t, clk.Now().Add(4*time.Second), r.RetryAt("p2"))

	r.RecordConnected("p2")
	assert.True(t, r.RetryAt("p2").IsZero())
	p, _ = r.Get("p2")
	assert.False(t, p.LastFailure.IsZero(), "the last failure is remembered")

	// Unknown peers are ignored.
	r.RecordFailure("nobody")
	r.RecordStream("nobody")
	_, ok = r.Get("nobody")
	assert.False(t, ok)

	snap := r.Snapshot()
	snap["p2"] = StickyPeer{}
	p, _ = r.Get("p2")
	assert.True(t, p.HadStream, "snapshots are copies")

	r.Reset()
	assert.Zero(t, r.Len())
	assert.False(t, r.Retired("p2", "abcd"))
}

func TestPeerStateStore(t *testing.T) {
	var notified []string
	s := NewPeerStateStore(func(peerID string, _ json.RawMessage) {
		notified = append(notified, peerID)
	})

	s.Apply("p3", []byte(`"A"`))
	s.Apply("p3", []byte(`"B"`))

	got, ok := s.Get("p3")
	require.True(t, ok)
	assert.Equal(t, `"B"`, string(got))
	assert.Equal(t, []string{"p3", "p3"}, notified)
	assert.Equal(t, 1, s.Len())

	s.Reset()
	assert.Zero(t, s.Len())
}
