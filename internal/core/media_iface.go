package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaSource owns the local capture handle for one session. Exactly one
// may exist at a time; Close stops every track on all exit paths.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	AudioEnabled() bool
	VideoEnabled() bool
	Close()
}

// Negotiator wraps one peer-connection negotiation.
type Negotiator interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	// CreateOfferBundle produces a local offer with all ICE candidates
	// already gathered (non-trickle).
	CreateOfferBundle() (*webrtc.SessionDescription, error)
	// HandleOffer applies a remote offer and returns the bundled answer.
	HandleOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// HandleAnswer applies the remote answer to a previously sent offer.
	HandleAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote trickled candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) error
	// SetTrackEnabled pauses or resumes the outbound track of a kind
	// without renegotiating.
	SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error
	// RequestKeyframe asks the remote sender for a keyframe (PLI).
	RequestKeyframe(ssrc uint32) error
	// OnConnected sets a callback fired once the peer connection reaches
	// the connected state.
	OnConnected(func())
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnClosed sets a callback for cleanup when the connection dies.
	OnClosed(func())
}

// RemoteSink consumes remote tracks for playback and keeps the RTP flow
// alive. The keyframe func is invoked periodically for video tracks.
type RemoteSink interface {
	Attach(ctx context.Context, track *webrtc.TrackRemote, keyframe func() error)
}
