// Package channel owns the authenticated relay event channel. It is the
// only place the websocket is created or destroyed; everything else sees
// the core.SignalChannel interface.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/medrelay/telecall/internal/core"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrChannelDown  = errors.New("channel down")
	ErrUnauthorized = errors.New("relay rejected credentials")
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

// envelope is the wire form of one relay event.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn is one live websocket to the relay.
type Conn struct {
	ws   *websocket.Conn
	send chan core.Frame

	pingPeriod time.Duration

	mu     sync.RWMutex
	closed bool

	onEvent  func(core.Event)
	onClosed func(error)
}

// Dial opens the channel, presenting the auth token as a bearer
// credential. A 401/403 handshake response maps to ErrUnauthorized so
// the lifecycle can stop retrying.
func Dial(ctx context.Context, url, token string, handshakeTimeout, pingPeriod time.Duration, onEvent func(core.Event), onClosed func(error)) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)

	ws, resp, err := dialer.DialContext(ctx, url, hdr)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	c := &Conn{
		ws:         ws,
		send:       make(chan core.Frame, sendBuffer),
		pingPeriod: pingPeriod,
		onEvent:    onEvent,
		onClosed:   onClosed,
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelDown
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Emit marshals one event envelope and queues it for the write pump.
func (c *Conn) Emit(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}
	return c.TrySend(frame)
}

// Close is idempotent and safe from any goroutine.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "channel").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "channel").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	defer func() {
		log.Info().Str("module", "channel").Msg("readPump closing")
		c.Close()
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.RLock()
			wasClosed := c.closed
			c.mu.RUnlock()
			if !wasClosed {
				log.Warn().Err(err).Str("module", "channel").Msg("readPump read error")
			}
			if c.onClosed != nil {
				c.onClosed(err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "channel").Msg("bad json envelope")
			continue
		}
		if env.Event == "" {
			continue
		}
		if c.onEvent != nil {
			c.onEvent(core.Event{Name: env.Event, Data: env.Data})
		}
	}
}
