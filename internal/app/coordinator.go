// Package app holds the call state machine and the per-call signaling
// session. One Coordinator exists per process and owns zero-or-one call.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/medrelay/telecall/internal/adapters/rtc"
	"github.com/medrelay/telecall/internal/core"
	"github.com/medrelay/telecall/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrBusy         = errors.New("another call is already in progress")
	ErrChannelDown  = errors.New("relay channel is not connected")
	ErrNoIdentity   = errors.New("identity unknown")
	ErrNoTarget     = errors.New("no call target")
	ErrNoCall       = errors.New("no matching pending call")
	ErrTooManyDials = errors.New("too many dial attempts")
)

// MediaFactory acquires the local capture for one session.
type MediaFactory func() (core.MediaSource, error)

// NegotiatorFactory builds the peer negotiation for one session, with a
// media engine matching the capture codecs.
type NegotiatorFactory func(src core.MediaSource, room domain.RoomID) (core.Negotiator, error)

type Deps struct {
	Channel    core.SignalChannel
	Identity   core.IdentityProvider
	Notify     core.Notifier
	Sink       core.RemoteSink
	Media      MediaFactory
	Negotiator NegotiatorFactory

	// DialTimeout auto-cancels a dial the remote never answers.
	DialTimeout time.Duration
}

// CallState is the read-only view served to the UI.
type CallState struct {
	Status      domain.CallStatus `json:"status"`
	RemoteParty domain.UserID     `json:"remote_party,omitempty"`
	RemoteName  string            `json:"remote_name,omitempty"`
	Room        domain.RoomID     `json:"room,omitempty"`
	Initiator   bool              `json:"initiator,omitempty"`
	Title       string            `json:"title,omitempty"`
	Confirmed   bool              `json:"confirmed,omitempty"`
	AudioOn     bool              `json:"audio_on,omitempty"`
	VideoOn     bool              `json:"video_on,omitempty"`
}

// Coordinator serializes every transition behind one mutex. Each call
// carries an epoch; relay events and timer callbacks referencing an
// older epoch are ignored, so a locally reset call can never be
// resurrected by an in-flight event.
type Coordinator struct {
	ctx  context.Context
	deps Deps

	dials *DialRateLimiter

	mu        sync.Mutex
	epoch     uint64
	call      *domain.Call
	sess      *Session
	dialTimer *time.Timer
	localID   domain.UserID

	// pendingSignals holds negotiation payloads that arrive while the
	// session is still acquiring media, so an early offer is replayed
	// instead of lost.
	pendingSignals []core.Event

	cancelSub func()
}

const maxPendingSignals = 16

func NewCoordinator(ctx context.Context, deps Deps) *Coordinator {
	if deps.DialTimeout <= 0 {
		deps.DialTimeout = 45 * time.Second
	}
	c := &Coordinator{
		ctx:   ctx,
		deps:  deps,
		dials: NewDialRateLimiter(5, 30*time.Second),
	}
	c.cancelSub = deps.Channel.Subscribe(c.onEvent)
	return c
}

// Close hangs up any call and detaches from the channel.
func (c *Coordinator) Close() {
	if c.cancelSub != nil {
		c.cancelSub()
	}
	_ = c.HangUp()
}

// Dial starts an outbound call. Rejected locally, with a user notice and
// no event emitted, when the channel is down or identity is unknown.
func (c *Coordinator) Dial(ctx context.Context, target domain.UserID, title string) error {
	if target == "" {
		return ErrNoTarget
	}
	if !c.deps.Channel.Connected() {
		c.deps.Notify.Notify(core.NoticeWarn, "Not connected to the clinic relay. Try again shortly.")
		return ErrChannelDown
	}
	user, err := c.deps.Identity.Current(ctx)
	if err != nil || user == nil {
		c.deps.Notify.Notify(core.NoticeError, "Your identity could not be verified. Please sign in again.")
		return ErrNoIdentity
	}
	if !c.dials.Allow(target) {
		c.deps.Notify.Notify(core.NoticeWarn, "Too many call attempts. Wait a moment before retrying.")
		return ErrTooManyDials
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call != nil {
		c.deps.Notify.Notify(core.NoticeWarn, "You are already in a call.")
		return ErrBusy
	}

	c.epoch++
	c.call = domain.NewOutboundCall(target, title, c.epoch)

	if err := c.deps.Channel.Emit(core.EventInitiateCall, core.InitiateCallData{Target: string(target)}); err != nil {
		c.resetLocked()
		c.deps.Notify.Notify(core.NoticeError, "Could not reach the relay to place the call.")
		return err
	}

	epoch := c.epoch
	c.dialTimer = time.AfterFunc(c.deps.DialTimeout, func() { c.dialExpired(epoch) })

	log.Info().Str("module", "app.coordinator").Str("target", string(target)).Msg("dialing")
	return nil
}

// Accept answers the pending incoming call as responder.
func (c *Coordinator) Accept(ctx context.Context) error {
	user, err := c.deps.Identity.Current(ctx)
	if err != nil || user == nil {
		c.deps.Notify.Notify(core.NoticeError, "Your identity could not be verified. Please sign in again.")
		return ErrNoIdentity
	}

	c.mu.Lock()
	if c.call == nil || c.call.Status != domain.CallIncoming {
		c.mu.Unlock()
		return ErrNoCall
	}
	if err := c.deps.Channel.Emit(core.EventAcceptCall, core.AcceptCallData{
		CallerSID: c.call.RemoteSID,
		Caller:    string(c.call.RemoteParty),
		Room:      string(c.call.Room),
	}); err != nil {
		c.mu.Unlock()
		c.deps.Notify.Notify(core.NoticeError, "Could not reach the relay to accept the call.")
		return err
	}
	c.call.Status = domain.CallActive
	c.emitJoinLocked()
	snapshot := *c.call
	c.mu.Unlock()

	go c.runSession(snapshot, *user)
	return nil
}

// Reject declines the pending incoming call.
func (c *Coordinator) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil || c.call.Status != domain.CallIncoming {
		return ErrNoCall
	}
	_ = c.deps.Channel.Emit(core.EventRejectCall, core.RejectCallData{
		CallerSID: c.call.RemoteSID,
		Caller:    string(c.call.RemoteParty),
	})
	log.Info().Str("module", "app.coordinator").Str("caller", string(c.call.RemoteParty)).Msg("call rejected")
	c.resetLocked()
	return nil
}

// HangUp cancels a dial or ends the active call. Teardown is local and
// synchronous; it never waits on a relay acknowledgement.
func (c *Coordinator) HangUp() error {
	user, _ := c.deps.Identity.Current(c.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil {
		return nil
	}
	if c.call.Room != "" {
		ender := ""
		if user != nil {
			ender = string(user.ID)
		}
		// Best-effort; the channel may already be gone.
		_ = c.deps.Channel.Emit(core.EventEndCall, core.EndCallData{
			Room:  string(c.call.Room),
			Ender: ender,
		})
	}
	log.Info().Str("module", "app.coordinator").Str("remote", string(c.call.RemoteParty)).Msg("hangup")
	c.resetLocked()
	return nil
}

func (c *Coordinator) SetAudio(on bool) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNoCall
	}
	sess.SetAudioEnabled(on)
	return nil
}

func (c *Coordinator) SetVideo(on bool) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNoCall
	}
	sess.SetVideoEnabled(on)
	return nil
}

func (c *Coordinator) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil {
		return CallState{Status: domain.CallIdle}
	}
	st := CallState{
		Status:      c.call.Status,
		RemoteParty: c.call.RemoteParty,
		RemoteName:  c.call.RemoteName,
		Room:        c.call.Room,
		Initiator:   c.call.Initiator,
		Title:       c.call.Title,
	}
	if c.sess != nil {
		st.Confirmed = c.sess.Confirmed()
		st.AudioOn = c.sess.AudioEnabled()
		st.VideoOn = c.sess.VideoEnabled()
	}
	return st
}

// onEvent routes inbound relay call-control events into transitions.
// Negotiation payloads are consumed by the session's own subscription.
func (c *Coordinator) onEvent(ev core.Event) {
	switch ev.Name {
	case core.EventCallAccepted:
		var data core.CallAcceptedData
		if json.Unmarshal(ev.Data, &data) == nil {
			c.handleAccepted(data)
		}
	case core.EventCallRejected:
		var data core.CallRejectedData
		if json.Unmarshal(ev.Data, &data) == nil {
			c.handleDialFailed(data.Callee, fmt.Sprintf("%s declined the call.", data.Callee))
		}
	case core.EventTargetUnavail:
		var data core.TargetUnavailableData
		if json.Unmarshal(ev.Data, &data) == nil {
			c.handleDialFailed(data.Target, fmt.Sprintf("%s is not available right now.", data.Target))
		}
	case core.EventCallInitFailed:
		var data core.CallInitFailedData
		if json.Unmarshal(ev.Data, &data) == nil {
			c.handleDialFailed(data.Target, "The call could not be placed.")
		}
	case core.EventIncomingCall:
		var data core.IncomingCallData
		if json.Unmarshal(ev.Data, &data) == nil {
			c.handleIncoming(data)
		}
	case core.EventEndCall:
		var data core.EndCallData
		if json.Unmarshal(ev.Data, &data) == nil {
			c.handleRemoteEnded(data)
		}
	case core.EventSignal:
		c.bufferSignal(ev)
	}
}

// bufferSignal queues negotiation payloads for a call whose session is
// not installed yet. The session filters by sender/receiver/room on
// replay, so no addressing check is needed here.
func (c *Coordinator) bufferSignal(ev core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil || c.call.Status != domain.CallActive || c.sess != nil {
		return
	}
	if len(c.pendingSignals) >= maxPendingSignals {
		return
	}
	c.pendingSignals = append(c.pendingSignals, ev)
}

func (c *Coordinator) handleAccepted(data core.CallAcceptedData) {
	// Staleness first: an event that does not match the pending dial
	// must not touch the current call, whatever the identity state.
	c.mu.Lock()
	if c.call == nil || c.call.Status != domain.CallDialing || string(c.call.RemoteParty) != data.Callee {
		c.mu.Unlock()
		log.Info().Str("module", "app.coordinator").Str("callee", data.Callee).Msg("stale call_accepted ignored")
		return
	}
	epoch := c.call.Epoch
	c.mu.Unlock()

	user, err := c.deps.Identity.Current(c.ctx)
	if err != nil || user == nil {
		c.deps.Notify.Notify(core.NoticeError, "Your identity could not be verified. The call was dropped.")
		c.mu.Lock()
		if c.call != nil && c.call.Epoch == epoch {
			c.resetLocked()
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.call == nil || c.call.Epoch != epoch || c.call.Status != domain.CallDialing {
		c.mu.Unlock()
		log.Info().Str("module", "app.coordinator").Str("callee", data.Callee).Msg("stale call_accepted ignored")
		return
	}
	c.stopDialTimerLocked()
	c.call.Status = domain.CallActive
	c.call.Room = domain.RoomID(data.Room)
	c.call.RemoteSID = data.CalleeSID
	c.emitJoinLocked()
	snapshot := *c.call
	c.mu.Unlock()

	log.Info().Str("module", "app.coordinator").Str("room", data.Room).Msg("call accepted")
	go c.runSession(snapshot, *user)
}

func (c *Coordinator) handleDialFailed(party, userMsg string) {
	c.mu.Lock()
	if c.call == nil || c.call.Status != domain.CallDialing || string(c.call.RemoteParty) != party {
		c.mu.Unlock()
		log.Info().Str("module", "app.coordinator").Str("party", party).Msg("stale dial outcome ignored")
		return
	}
	c.resetLocked()
	c.mu.Unlock()
	c.deps.Notify.Notify(core.NoticeWarn, userMsg)
}

func (c *Coordinator) handleIncoming(data core.IncomingCallData) {
	c.mu.Lock()
	if c.call != nil {
		// Second caller while busy: tell their session, keep ours.
		_ = c.deps.Channel.Emit(core.EventUserBusy, core.UserBusyData{TargetSID: data.CallerSID})
		c.mu.Unlock()
		log.Info().Str("module", "app.coordinator").Str("caller", data.Caller).Msg("busy, caller notified")
		return
	}
	c.epoch++
	c.call = domain.NewInboundCall(
		domain.UserID(data.Caller),
		data.CallerName,
		data.CallerSID,
		domain.RoomID(data.Room),
		c.epoch,
	)
	c.mu.Unlock()

	name := data.CallerName
	if name == "" {
		name = data.Caller
	}
	c.deps.Notify.Notify(core.NoticeInfo, fmt.Sprintf("Incoming call from %s.", name))
}

func (c *Coordinator) handleRemoteEnded(data core.EndCallData) {
	c.mu.Lock()
	if c.call == nil || string(c.call.Room) != data.Room {
		c.mu.Unlock()
		log.Info().Str("module", "app.coordinator").Str("room", data.Room).Msg("stale end_call ignored")
		return
	}
	c.resetLocked()
	c.mu.Unlock()
	c.deps.Notify.Notify(core.NoticeInfo, "The other party ended the call.")
}

// dialExpired fires when the remote never answered within DialTimeout.
func (c *Coordinator) dialExpired(epoch uint64) {
	c.mu.Lock()
	if c.call == nil || c.call.Epoch != epoch || c.call.Status != domain.CallDialing {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.mu.Unlock()
	c.deps.Notify.Notify(core.NoticeWarn, "No answer.")
}

// runSession acquires media and builds the negotiation off the
// coordinator lock, then installs the session if the call is still the
// current one.
func (c *Coordinator) runSession(call domain.Call, user domain.User) {
	media, err := c.deps.Media()
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("media acquire failed")
		c.deps.Notify.Notify(core.NoticeError, "Camera or microphone unavailable. Check permissions and devices.")
		c.abortCall(call.Epoch, call.Room, string(user.ID))
		return
	}

	neg, err := c.deps.Negotiator(media, call.Room)
	if err != nil {
		media.Close()
		log.Error().Err(err).Str("module", "app.coordinator").Msg("negotiator build failed")
		c.deps.Notify.Notify(core.NoticeError, "The call could not be set up.")
		c.abortCall(call.Epoch, call.Room, string(user.ID))
		return
	}

	epoch := call.Epoch
	sess := NewSession(
		c.deps.Channel,
		c.deps.Sink,
		c.deps.Notify,
		user.ID,
		call,
		media,
		neg,
		func() { c.sessionConnected(epoch) },
		func(err error) { c.sessionEnded(epoch, err) },
	)

	c.mu.Lock()
	if c.call == nil || c.call.Epoch != epoch {
		c.mu.Unlock()
		// Call was reset while media was being acquired.
		sess.Teardown()
		return
	}
	c.sess = sess
	c.localID = user.ID
	pending := c.pendingSignals
	c.pendingSignals = nil
	c.mu.Unlock()

	if err := sess.Start(c.ctx); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("session start failed")
		c.sessionEnded(epoch, err)
		return
	}

	// Payloads that raced the media acquisition are applied now that the
	// negotiation callbacks are in place.
	for _, ev := range pending {
		sess.handleEvent(ev)
	}
}

func (c *Coordinator) sessionConnected(epoch uint64) {
	c.mu.Lock()
	current := c.call != nil && c.call.Epoch == epoch
	c.mu.Unlock()
	if current {
		c.deps.Notify.Notify(core.NoticeInfo, "Call connected.")
	}
}

// sessionEnded is the only path by which the session forces a
// transition. A "connection already closed" error is teardown-race
// noise and is not surfaced.
func (c *Coordinator) sessionEnded(epoch uint64, err error) {
	c.mu.Lock()
	if c.call == nil || c.call.Epoch != epoch {
		c.mu.Unlock()
		return
	}
	if c.call.Room != "" {
		_ = c.deps.Channel.Emit(core.EventEndCall, core.EndCallData{
			Room:  string(c.call.Room),
			Ender: string(c.localID),
		})
	}
	c.resetLocked()
	c.mu.Unlock()

	switch {
	case err == nil, errors.Is(err, rtc.ErrConnectionClosed):
		c.deps.Notify.Notify(core.NoticeInfo, "Call ended.")
	default:
		c.deps.Notify.Notify(core.NoticeError, "The call failed: "+err.Error())
	}
}

// abortCall ends a call whose session never came up (media or
// negotiator failure).
func (c *Coordinator) abortCall(epoch uint64, room domain.RoomID, ender string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil || c.call.Epoch != epoch {
		return
	}
	if room != "" {
		_ = c.deps.Channel.Emit(core.EventEndCall, core.EndCallData{Room: string(room), Ender: ender})
	}
	c.resetLocked()
}

func (c *Coordinator) emitJoinLocked() {
	if c.call.Room == "" {
		return
	}
	if err := c.deps.Channel.Emit(core.EventJoinRoom, core.JoinRoomData{Room: string(c.call.Room)}); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("join_room emit failed")
	}
}

func (c *Coordinator) stopDialTimerLocked() {
	if c.dialTimer != nil {
		c.dialTimer.Stop()
		c.dialTimer = nil
	}
}

// resetLocked is the single transition into idle: full session teardown,
// no stale room or remote-party state survives.
func (c *Coordinator) resetLocked() {
	c.stopDialTimerLocked()
	if c.sess != nil {
		c.sess.Teardown()
		c.sess = nil
	}
	c.pendingSignals = nil
	c.call = nil
}
