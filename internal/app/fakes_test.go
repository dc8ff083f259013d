package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/medrelay/telecall/internal/core"
	"github.com/medrelay/telecall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type emitted struct {
	Event string
	Data  json.RawMessage
}

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	emitErr   error
	events    []emitted
	subs      map[int]func(core.Event)
	next      int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{connected: true, subs: make(map[int]func(core.Event))}
}

func (f *fakeChannel) Emit(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.events = append(f.events, emitted{Event: event, Data: raw})
	return nil
}

func (f *fakeChannel) Subscribe(fn func(core.Event)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// push delivers one inbound relay event to all subscribers, synchronously.
func (f *fakeChannel) push(name string, data any) {
	raw, _ := json.Marshal(data)
	f.mu.Lock()
	handlers := make([]func(core.Event), 0, len(f.subs))
	for _, fn := range f.subs {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(core.Event{Name: name, Data: raw})
	}
}

func (f *fakeChannel) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeChannel) last(event string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Event == event {
			return f.events[i].Data, true
		}
	}
	return nil, false
}

func (f *fakeChannel) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeIdentity struct {
	mu   sync.Mutex
	user *domain.User
	err  error
}

func (f *fakeIdentity) Current(context.Context) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user, f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
	levels  []core.NoticeLevel
}

func (f *fakeNotifier) Notify(level core.NoticeLevel, text string) {
	f.mu.Lock()
	f.notices = append(f.notices, text)
	f.levels = append(f.levels, level)
	f.mu.Unlock()
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.notices))
	copy(out, f.notices)
	return out
}

type fakeSink struct {
	mu       sync.Mutex
	attached int
}

func (f *fakeSink) Attach(_ context.Context, _ *webrtc.TrackRemote, _ func() error) {
	f.mu.Lock()
	f.attached++
	f.mu.Unlock()
}

type fakeMedia struct {
	mu      sync.Mutex
	closed  bool
	audioOn bool
	videoOn bool
}

func newFakeMedia() *fakeMedia { return &fakeMedia{audioOn: true, videoOn: true} }

func (f *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func (f *fakeMedia) SetAudioEnabled(on bool) {
	f.mu.Lock()
	f.audioOn = on
	f.mu.Unlock()
}

func (f *fakeMedia) SetVideoEnabled(on bool) {
	f.mu.Lock()
	f.videoOn = on
	f.mu.Unlock()
}

func (f *fakeMedia) AudioEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioOn
}

func (f *fakeMedia) VideoEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.videoOn
}

func (f *fakeMedia) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeMedia) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeNegotiator struct {
	mu sync.Mutex

	started bool
	closed  bool

	offerCalls       int
	handleOfferCalls int
	answerCalls      int
	candidateCalls   int
	localTracks      int
	toggles          map[webrtc.RTPCodecType]bool

	startErr error
	offerErr error

	onConnected func()
	onClosed    func()
	onTrack     func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{toggles: make(map[webrtc.RTPCodecType]bool)}
}

func (f *fakeNegotiator) Start(context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return f.startErr
}

func (f *fakeNegotiator) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeNegotiator) CreateOfferBundle() (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	f.offerCalls++
	f.mu.Unlock()
	if f.offerErr != nil {
		return nil, f.offerErr
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeNegotiator) HandleOffer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	f.handleOfferCalls++
	f.mu.Unlock()
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeNegotiator) HandleAnswer(webrtc.SessionDescription) error {
	f.mu.Lock()
	f.answerCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) AddICECandidate(webrtc.ICECandidateInit) error {
	f.mu.Lock()
	f.candidateCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) AddLocalTrack(webrtc.TrackLocal) error {
	f.mu.Lock()
	f.localTracks++
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	f.mu.Lock()
	f.toggles[kind] = enabled
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) RequestKeyframe(uint32) error { return nil }

func (f *fakeNegotiator) OnConnected(fn func()) {
	f.mu.Lock()
	f.onConnected = fn
	f.mu.Unlock()
}

func (f *fakeNegotiator) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakeNegotiator) OnClosed(fn func()) {
	f.mu.Lock()
	f.onClosed = fn
	f.mu.Unlock()
}

func (f *fakeNegotiator) fireConnected() {
	f.mu.Lock()
	fn := f.onConnected
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeNegotiator) fireClosed() {
	f.mu.Lock()
	fn := f.onClosed
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeNegotiator) isStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeNegotiator) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeNegotiator) stat(fn func(*fakeNegotiator) int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f)
}
