// Package notify fans user-facing notices out to UI subscribers.
package notify

import (
	"sync"
	"time"

	"github.com/medrelay/telecall/internal/core"
	"github.com/rs/zerolog/log"
)

// Hub is a fire-and-forget notice sink. Slow subscribers drop notices
// rather than blocking the caller.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan core.Notice
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan core.Notice)}
}

func (h *Hub) Notify(level core.NoticeLevel, text string) {
	n := core.Notice{Level: level, Text: text, At: time.Now()}

	ev := log.Info()
	switch level {
	case core.NoticeWarn:
		ev = log.Warn()
	case core.NoticeError:
		ev = log.Error()
	}
	ev.Str("module", "notify").Str("notice", text).Msg("user notice")

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribe returns a buffered notice stream plus its cancel. Every UI
// connection holds one subscription and cancels it on close.
func (h *Hub) Subscribe() (<-chan core.Notice, func()) {
	ch := make(chan core.Notice, 16)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}
