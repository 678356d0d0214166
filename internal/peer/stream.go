package peer

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// LocalStream groups outbound tracks that share a stream id.
type LocalStream struct {
	id     string
	tracks []webrtc.TrackLocal
}

func NewLocalStream(id string, tracks ...webrtc.TrackLocal) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

// NewAudioStream creates a stream with a single Opus track to write
// samples into.
func NewAudioStream(id string) (*LocalStream, *webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", id,
	)
	if err != nil {
		return nil, nil, NewError("create audio track", err)
	}
	return NewLocalStream(id, track), track, nil
}

func (s *LocalStream) ID() string {
	return s.id
}

func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// RemoteStream groups inbound tracks by the sender's stream id. Tracks are
// drained in the background so stats stay current even when nobody plays
// them.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote

	packets atomic.Int64
	bytes   atomic.Int64
}

func newRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string {
	return s.id
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), s.tracks...)
}

// Packets and Bytes count RTP received on all tracks.
func (s *RemoteStream) Packets() int64 { return s.packets.Load() }
func (s *RemoteStream) Bytes() int64   { return s.bytes.Load() }

func (s *RemoteStream) addTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()

	go s.drain(track)
}

func (s *RemoteStream) drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		s.packets.Add(1)
		s.bytes.Add(int64(n))
	}
}
