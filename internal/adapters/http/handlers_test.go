package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/medrelay/telecall/internal/adapters/notify"
	"github.com/medrelay/telecall/internal/adapters/sink"
	"github.com/medrelay/telecall/internal/app"
	"github.com/medrelay/telecall/internal/config"
	"github.com/medrelay/telecall/internal/core"
	"github.com/medrelay/telecall/internal/domain"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	mu        sync.Mutex
	connected bool
}

func (s *stubChannel) Emit(string, any) error { return nil }

func (s *stubChannel) Subscribe(func(core.Event)) func() { return func() {} }

func (s *stubChannel) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

type stubIdentity struct{}

func (stubIdentity) Current(context.Context) (*domain.User, error) {
	return &domain.User{ID: "doc-1", Name: "Dr. Abel"}, nil
}

func newTestRouter(t *testing.T, connected bool) (http.Handler, *stubChannel) {
	t.Helper()
	ch := &stubChannel{connected: connected}
	hub := notify.NewHub()
	coord := app.NewCoordinator(context.Background(), app.Deps{
		Channel:  ch,
		Identity: stubIdentity{},
		Notify:   hub,
		Sink:     sink.NewPlayer(),
		Media: func() (core.MediaSource, error) {
			t.Error("media must not be acquired by control-plane tests")
			return nil, errors.New("no media in tests")
		},
		Negotiator: func(core.MediaSource, domain.RoomID) (core.Negotiator, error) {
			t.Error("negotiator must not be built by control-plane tests")
			return nil, errors.New("no negotiator in tests")
		},
	})
	t.Cleanup(coord.Close)

	cfg := &config.Config{Mode: "release", Secret: "test-secret", ControlPort: 7300}
	ctl := &Controller{Coord: coord, Hub: hub, Channel: ch, Player: sink.NewPlayer()}
	return SetupRouter(cfg, ctl), ch
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDialRequiresTarget(t *testing.T) {
	h, _ := newTestRouter(t, true)
	w := doJSON(t, h, http.MethodPost, "/api/call/dial", `{"title":"no target"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDialChannelDownMapsTo503(t *testing.T) {
	h, _ := newTestRouter(t, false)
	w := doJSON(t, h, http.MethodPost, "/api/call/dial", `{"target":"pat-1"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDialStartsCall(t *testing.T) {
	h, _ := newTestRouter(t, true)
	w := doJSON(t, h, http.MethodPost, "/api/call/dial", `{"target":"pat-1","title":"Checkup"}`)
	require.Equal(t, http.StatusOK, w.Code)

	state := doJSON(t, h, http.MethodGet, "/api/call/state", "")
	require.Equal(t, http.StatusOK, state.Code)
	var body struct {
		Call             app.CallState `json:"call"`
		ChannelConnected bool          `json:"channel_connected"`
	}
	require.NoError(t, json.Unmarshal(state.Body.Bytes(), &body))
	require.Equal(t, domain.CallDialing, body.Call.Status)
	require.Equal(t, domain.UserID("pat-1"), body.Call.RemoteParty)
	require.True(t, body.ChannelConnected)
}

func TestSecondDialMapsToConflict(t *testing.T) {
	h, _ := newTestRouter(t, true)
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/api/call/dial", `{"target":"pat-1"}`).Code)
	require.Equal(t, http.StatusConflict, doJSON(t, h, http.MethodPost, "/api/call/dial", `{"target":"pat-2"}`).Code)
}

func TestAcceptWithoutPendingCallMapsTo404(t *testing.T) {
	h, _ := newTestRouter(t, true)
	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodPost, "/api/call/accept", "").Code)
	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodPost, "/api/call/reject", "").Code)
}

func TestHangUpIsIdempotent(t *testing.T) {
	h, _ := newTestRouter(t, true)
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/api/call/hangup", "").Code)
}

func TestToggleValidation(t *testing.T) {
	h, _ := newTestRouter(t, true)
	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/api/call/audio", `{}`).Code)
	// A well-formed toggle with no active call is a 404, not a 400.
	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodPost, "/api/call/video", `{"enabled":false}`).Code)
}
