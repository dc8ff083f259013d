package core

import (
	"context"
	"encoding/json"

	"github.com/medrelay/telecall/internal/domain"
)

// Frame is a raw wire payload.
type Frame []byte

// Event is one decoded relay envelope.
type Event struct {
	Name string
	Data json.RawMessage
}

// SignalChannel abstracts the authenticated relay event channel.
// Owned by the channel adapter; only it may create/destroy the
// underlying connection.
type SignalChannel interface {
	// Emit sends one event to the relay. Returns ErrChannelDown when no
	// live connection exists and ErrBackpressure when the outbound
	// buffer is full.
	Emit(event string, data any) error
	// Subscribe registers fn for every inbound event. The returned
	// cancel must be called on teardown; registrations never outlive
	// their owner.
	Subscribe(fn func(Event)) (cancel func())
	Connected() bool
}

// IdentityProvider resolves the current authenticated user. May error
// (portal unreachable, token expired).
type IdentityProvider interface {
	Current(ctx context.Context) (*domain.User, error)
}

// TokenStore exposes the auth token persisted by the portal login flow.
// An absent token is reported as ("", nil).
type TokenStore interface {
	Token() (string, error)
	// Watch fires fn whenever the persisted token changes.
	Watch(fn func()) (stop func(), err error)
}
