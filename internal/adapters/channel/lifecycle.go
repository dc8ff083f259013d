package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/medrelay/telecall/internal/core"
	"github.com/rs/zerolog/log"
)

// Options bound the acquisition policy; connection attempts never hang
// and never retry indefinitely.
type Options struct {
	URL               string
	ConnectTimeout    time.Duration
	PingPeriod        time.Duration
	ReconnectAttempts int
}

// Lifecycle owns zero-or-one Conn and re-evaluates the acquisition
// precondition (identity present AND token present) whenever identity,
// token, or the live connection changes.
type Lifecycle struct {
	opt      Options
	identity core.IdentityProvider
	tokens   core.TokenStore
	notify   core.Notifier

	mu        sync.Mutex
	conn      *Conn
	acquiring bool
	suspended bool
	gen       uint64

	subMu   sync.RWMutex
	subs    map[int]func(core.Event)
	nextSub int

	onAuthExpired func()
}

func NewLifecycle(opt Options, identity core.IdentityProvider, tokens core.TokenStore, notify core.Notifier) *Lifecycle {
	return &Lifecycle{
		opt:      opt,
		identity: identity,
		tokens:   tokens,
		notify:   notify,
		subs:     make(map[int]func(core.Event)),
	}
}

// OnAuthExpired registers the application hook fired when the relay
// forces a disconnect or rejects the token; the owner is expected to
// force a logout.
func (l *Lifecycle) OnAuthExpired(fn func()) { l.onAuthExpired = fn }

func (l *Lifecycle) Subscribe(fn func(core.Event)) (cancel func()) {
	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.subMu.Unlock()
	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

func (l *Lifecycle) Emit(event string, data any) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrChannelDown
	}
	return conn.Emit(event, data)
}

func (l *Lifecycle) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Sync re-runs the lifecycle check. Called at startup, on token-file
// change, and whenever a live connection is lost.
func (l *Lifecycle) Sync(ctx context.Context) {
	tok, err := l.tokens.Token()
	if err != nil {
		log.Error().Err(err).Str("module", "channel").Msg("token read failed")
		return
	}
	if tok == "" {
		l.Teardown("no auth token")
		return
	}
	user, err := l.identity.Current(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "channel").Msg("identity unavailable")
		return
	}
	if user == nil || user.ID == "" {
		l.Teardown("no identity")
		return
	}

	l.mu.Lock()
	if l.suspended || l.conn != nil || l.acquiring {
		l.mu.Unlock()
		return
	}
	l.acquiring = true
	gen := l.gen
	l.mu.Unlock()

	go l.acquire(ctx, gen, tok)
}

// OnTokenChanged clears an auth suspension and re-runs the check.
func (l *Lifecycle) OnTokenChanged(ctx context.Context) {
	l.mu.Lock()
	l.suspended = false
	l.mu.Unlock()
	l.Sync(ctx)
}

// acquire dials with bounded attempts and exponential backoff.
func (l *Lifecycle) acquire(ctx context.Context, gen uint64, token string) {
	defer func() {
		l.mu.Lock()
		l.acquiring = false
		l.mu.Unlock()
	}()

	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= l.opt.ReconnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		conn, err := Dial(ctx, l.opt.URL, token, l.opt.ConnectTimeout, l.opt.PingPeriod, l.dispatch, func(error) { l.onConnLost(ctx) })
		if err == nil {
			l.mu.Lock()
			if gen != l.gen {
				l.mu.Unlock()
				conn.Close()
				return
			}
			l.conn = conn
			l.mu.Unlock()
			log.Info().Str("module", "channel").Int("attempt", attempt).Msg("relay channel connected")
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			log.Error().Str("module", "channel").Msg("relay rejected token")
			l.suspend("Your session has expired. Please sign in again.")
			return
		}
		log.Warn().Err(err).Str("module", "channel").Int("attempt", attempt).Msg("relay dial failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
	log.Error().Str("module", "channel").Int("attempts", l.opt.ReconnectAttempts).Msg("relay unreachable, giving up")
	l.notify.Notify(core.NoticeWarn, "Connection to the clinic relay lost. Calls are unavailable.")
}

func (l *Lifecycle) onConnLost(ctx context.Context) {
	l.mu.Lock()
	l.conn = nil
	suspended := l.suspended
	l.mu.Unlock()
	if suspended || ctx.Err() != nil {
		return
	}
	log.Info().Str("module", "channel").Msg("relay channel lost, re-running lifecycle check")
	l.Sync(ctx)
}

// dispatch handles channel-level control events, then fans out to
// subscribers.
func (l *Lifecycle) dispatch(ev core.Event) {
	if ev.Name == core.EventForceDisconnect {
		var data core.ForceDisconnectData
		_ = json.Unmarshal(ev.Data, &data)
		if data.Message == "" {
			data.Message = "Disconnected by the server."
		}
		log.Warn().Str("module", "channel").Str("reason", data.Message).Msg("forced disconnect")
		l.suspend(data.Message)
	}

	l.subMu.RLock()
	handlers := make([]func(core.Event), 0, len(l.subs))
	for _, fn := range l.subs {
		handlers = append(handlers, fn)
	}
	l.subMu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// suspend tears the channel down and blocks re-acquisition until the
// token changes. Used for auth failures and forced disconnects.
func (l *Lifecycle) suspend(userMsg string) {
	l.mu.Lock()
	l.suspended = true
	l.gen++
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	l.notify.Notify(core.NoticeError, userMsg)
	if l.onAuthExpired != nil {
		l.onAuthExpired()
	}
}

// Teardown closes the channel and clears local state. Guaranteed on
// every exit path of the owner.
func (l *Lifecycle) Teardown(reason string) {
	l.mu.Lock()
	l.gen++
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
		log.Info().Str("module", "channel").Str("reason", reason).Msg("relay channel torn down")
	}
}

// Close releases the channel on process shutdown.
func (l *Lifecycle) Close() { l.Teardown("shutdown") }
