// Package sink consumes remote tracks of the active call. Reading the
// RTP flow keeps pion's interceptors fed; for video a periodic PLI asks
// the remote sender to recover after loss.
package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const keyframeInterval = 3 * time.Second

type TrackStats struct {
	Kind    string `json:"kind"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

type counter struct {
	kind    string
	packets atomic.Uint64
	bytes   atomic.Uint64
}

// Player drains remote tracks and exposes per-track flow stats to the
// control API.
type Player struct {
	mu     sync.RWMutex
	tracks map[string]*counter
}

func NewPlayer() *Player {
	return &Player{tracks: make(map[string]*counter)}
}

func (p *Player) Attach(ctx context.Context, track *webrtc.TrackRemote, keyframe func() error) {
	logger := log.With().
		Str("module", "sink").
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Logger()

	c := &counter{kind: track.Kind().String()}
	p.mu.Lock()
	p.tracks[track.ID()] = c
	p.mu.Unlock()

	if track.Kind() == webrtc.RTPCodecTypeVideo && keyframe != nil {
		go p.keyframeLoop(ctx, keyframe, &logger)
	}
	go p.readLoop(ctx, track, c, &logger)
}

// readLoop reads RTP packets from the remote track until the session
// context is cancelled or the track errors out.
func (p *Player) readLoop(ctx context.Context, track *webrtc.TrackRemote, c *counter, logger *zerolog.Logger) {
	defer func() {
		p.mu.Lock()
		delete(p.tracks, track.ID())
		p.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("sink read RTP error, stopping")
			}
			return
		}
		p.observe(c, pkt)
	}
}

func (p *Player) observe(c *counter, pkt *rtp.Packet) {
	c.packets.Add(1)
	c.bytes.Add(uint64(len(pkt.Payload)))
}

func (p *Player) keyframeLoop(ctx context.Context, keyframe func() error, logger *zerolog.Logger) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := keyframe(); err != nil {
				logger.Warn().Err(err).Msg("keyframe request failed, stopping")
				return
			}
		}
	}
}

// Stats returns a snapshot of the remote flow per track.
func (p *Player) Stats() map[string]TrackStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]TrackStats, len(p.tracks))
	for id, c := range p.tracks {
		out[id] = TrackStats{Kind: c.kind, Packets: c.packets.Load(), Bytes: c.bytes.Load()}
	}
	return out
}
