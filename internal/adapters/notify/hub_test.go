package notify

import (
	"testing"
	"time"

	"github.com/medrelay/telecall/internal/core"
	"github.com/stretchr/testify/require"
)

func TestHubFansOutToAllSubscribers(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelA()
	defer cancelB()

	h.Notify(core.NoticeInfo, "call connected")

	for _, ch := range []<-chan core.Notice{a, b} {
		select {
		case n := <-ch:
			require.Equal(t, core.NoticeInfo, n.Level)
			require.Equal(t, "call connected", n.Text)
			require.WithinDuration(t, time.Now(), n.At, time.Minute)
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the notice")
		}
	}
}

func TestHubCancelStopsDelivery(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	cancel()

	h.Notify(core.NoticeWarn, "late")
	require.Empty(t, ch)
}

func TestHubNeverBlocksOnSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			h.Notify(core.NoticeInfo, "burst")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on an undrained subscriber")
	}
	require.Len(t, ch, 16)
}
