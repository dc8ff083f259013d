package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/medrelay/telecall/internal/adapters/rtc"
	"github.com/medrelay/telecall/internal/core"
	"github.com/medrelay/telecall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session owns local media and one peer negotiation for a single active
// call. It relays negotiation payloads over the signal channel and is
// the only component allowed to touch the media source.
type Session struct {
	logger zerolog.Logger

	ch     core.SignalChannel
	sink   core.RemoteSink
	notify core.Notifier

	localID   domain.UserID
	remote    domain.UserID
	room      domain.RoomID
	initiator bool

	media core.MediaSource
	neg   core.Negotiator

	cancelCtx context.CancelFunc
	cancelSub func()

	mu        sync.Mutex
	done      bool
	confirmed bool

	onConnected func()
	onEnded     func(error)
}

func NewSession(
	ch core.SignalChannel,
	sink core.RemoteSink,
	notify core.Notifier,
	localID domain.UserID,
	call domain.Call,
	media core.MediaSource,
	neg core.Negotiator,
	onConnected func(),
	onEnded func(error),
) *Session {
	return &Session{
		logger: log.With().
			Str("module", "app.session").
			Str("room", string(call.Room)).
			Bool("initiator", call.Initiator).
			Logger(),
		ch:          ch,
		sink:        sink,
		notify:      notify,
		localID:     localID,
		remote:      call.RemoteParty,
		room:        call.Room,
		initiator:   call.Initiator,
		media:       media,
		neg:         neg,
		onConnected: onConnected,
		onEnded:     onEnded,
	}
}

// Start attaches local tracks, registers the scoped signal listener and
// kicks off negotiation in the role fixed at session creation.
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelCtx = cancel

	for _, t := range s.media.Tracks() {
		if err := s.neg.AddLocalTrack(t); err != nil {
			return err
		}
	}

	s.neg.OnConnected(func() {
		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			return
		}
		s.confirmed = true
		s.mu.Unlock()
		s.logger.Info().Msg("negotiation connected")
		if s.onConnected != nil {
			s.onConnected()
		}
	})

	s.neg.OnClosed(func() {
		s.end(rtc.ErrConnectionClosed)
	})

	s.neg.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		ssrc := uint32(track.SSRC())
		s.sink.Attach(trackCtx, track, func() error {
			return s.neg.RequestKeyframe(ssrc)
		})
		s.notify.Notify(core.NoticeInfo, "Remote stream available.")
	})

	s.cancelSub = s.ch.Subscribe(s.handleEvent)

	if err := s.neg.Start(ctx); err != nil {
		return err
	}

	if s.initiator {
		go s.sendOffer()
	}
	return nil
}

// sendOffer blocks on candidate gathering, so it runs off the caller's
// goroutine.
func (s *Session) sendOffer() {
	offer, err := s.neg.CreateOfferBundle()
	if err != nil {
		s.logger.Error().Err(err).Msg("create offer")
		s.end(err)
		return
	}
	if err := s.sendSignal(core.SignalOffer, offer); err != nil {
		s.end(err)
	}
}

// handleEvent applies inbound negotiation payloads. Anything not
// addressed to this exact session (receiver, sender, room) is dropped;
// the relay gives no cross-session ordering guarantee.
func (s *Session) handleEvent(ev core.Event) {
	if ev.Name != core.EventSignal {
		return
	}
	var msg core.SignalData
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		s.logger.Error().Err(err).Msg("bad signal payload")
		return
	}
	if msg.Receiver != string(s.localID) || msg.Sender != string(s.remote) || msg.Room != string(s.room) {
		s.logger.Warn().
			Str("sender", msg.Sender).
			Str("receiver", msg.Receiver).
			Str("msg_room", msg.Room).
			Msg("dropping signal for another session")
		return
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	switch msg.Type {
	case core.SignalOffer:
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Payload, &offer); err != nil {
			s.logger.Error().Err(err).Msg("bad offer")
			return
		}
		answer, err := s.neg.HandleOffer(offer)
		if err != nil {
			s.logger.Error().Err(err).Msg("apply offer")
			s.end(err)
			return
		}
		if err := s.sendSignal(core.SignalAnswer, answer); err != nil {
			s.end(err)
		}
	case core.SignalAnswer:
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Payload, &answer); err != nil {
			s.logger.Error().Err(err).Msg("bad answer")
			return
		}
		if err := s.neg.HandleAnswer(answer); err != nil {
			s.logger.Error().Err(err).Msg("apply answer")
			s.end(err)
		}
	case core.SignalCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Payload, &cand); err != nil {
			s.logger.Error().Err(err).Msg("bad candidate")
			return
		}
		if err := s.neg.AddICECandidate(cand); err != nil {
			s.logger.Warn().Err(err).Msg("add ice candidate")
		}
	default:
		s.logger.Warn().Str("type", msg.Type).Msg("unknown signal type")
	}
}

func (s *Session) sendSignal(kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	err = s.ch.Emit(core.EventSignal, core.SignalData{
		Room:     string(s.room),
		Sender:   string(s.localID),
		Receiver: string(s.remote),
		Type:     kind,
		Payload:  raw,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("type", kind).Msg("emit signal")
	}
	return err
}

// SetAudioEnabled and SetVideoEnabled are local-only; they never
// renegotiate the connection.
func (s *Session) SetAudioEnabled(on bool) {
	s.media.SetAudioEnabled(on)
	if err := s.neg.SetTrackEnabled(webrtc.RTPCodecTypeAudio, on); err != nil && !errors.Is(err, rtc.ErrConnectionClosed) {
		s.logger.Warn().Err(err).Msg("toggle audio")
	}
}

func (s *Session) SetVideoEnabled(on bool) {
	s.media.SetVideoEnabled(on)
	if err := s.neg.SetTrackEnabled(webrtc.RTPCodecTypeVideo, on); err != nil && !errors.Is(err, rtc.ErrConnectionClosed) {
		s.logger.Warn().Err(err).Msg("toggle video")
	}
}

func (s *Session) Confirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed
}

func (s *Session) AudioEnabled() bool { return s.media.AudioEnabled() }
func (s *Session) VideoEnabled() bool { return s.media.VideoEnabled() }

// end reports an unrecoverable negotiation failure upward. It is inert
// once teardown has begun, so the teardown race cannot resurrect the
// session.
func (s *Session) end(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if s.onEnded != nil {
		s.onEnded(err)
	}
}

// Teardown releases everything the session holds: media tracks, the
// negotiation object and the signal subscription. Idempotent, runs on
// every exit path; no device handle outlives the session.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	if s.cancelSub != nil {
		s.cancelSub()
	}
	if s.cancelCtx != nil {
		s.cancelCtx()
	}
	s.neg.Close()
	s.media.Close()
	s.logger.Info().Msg("session torn down")
}
