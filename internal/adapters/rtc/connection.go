package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/medrelay/telecall/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ErrConnectionClosed marks failures caused by a connection that was
// already torn down. Expected noise during the teardown race; callers
// suppress it from user-facing alerting.
var ErrConnectionClosed = errors.New("peer connection already closed")

type localTrack struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// Connection wraps one pion PeerConnection for a single call. Candidates
// are gathered up front so each direction sends exactly one bundled
// description (non-trickle).
type Connection struct {
	pc   *webrtc.PeerConnection
	room domain.RoomID

	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	local  map[webrtc.RTPCodecType]*localTrack

	onConnected func()
	onTrack     func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed    func()
}

func DefaultConfig(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	}
}

// New builds a Connection. api carries the media engine matching the
// local capture codecs; pass nil to use pion defaults.
func New(cfg webrtc.Configuration, api *webrtc.API, room domain.RoomID) (*Connection, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, err
	}
	return &Connection{
		pc:    pc,
		room:  room,
		local: make(map[webrtc.RTPCodecType]*localTrack),
	}, nil
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("room", string(c.room)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("room", string(c.room)).Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.onConnected != nil {
				c.onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			cancel()
			if c.onClosed != nil {
				c.onClosed()
			}
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("room", string(c.room)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		if c.onTrack != nil {
			c.onTrack(ctx, track, receiver)
		}
	})

	return nil
}

// CreateOfferBundle builds the local offer and blocks until ICE
// gathering completes, so the offer carries every candidate.
func (c *Connection) CreateOfferBundle() (*webrtc.SessionDescription, error) {
	if c.isClosed() {
		return nil, ErrConnectionClosed
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return c.pc.LocalDescription(), nil
}

// HandleOffer applies the remote offer and returns a fully gathered answer.
func (c *Connection) HandleOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if c.isClosed() {
		return nil, ErrConnectionClosed
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return c.pc.LocalDescription(), nil
}

func (c *Connection) HandleAnswer(answer webrtc.SessionDescription) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.local[track.Kind()] = &localTrack{sender: sender, track: track}
	c.mu.Unlock()
	return nil
}

// SetTrackEnabled swaps the outbound track against nil, which pauses the
// RTP flow without touching the negotiated m-lines.
func (c *Connection) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	c.mu.Lock()
	lt, ok := c.local[kind]
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}
	if !ok {
		return nil
	}
	if enabled {
		return lt.sender.ReplaceTrack(lt.track)
	}
	return lt.sender.ReplaceTrack(nil)
}

func (c *Connection) RequestKeyframe(ssrc uint32) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return c.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
}

func (c *Connection) OnConnected(fn func()) { c.onConnected = fn }

func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("room", string(c.room)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("room", string(c.room)).Msg("closed")
	}
}
