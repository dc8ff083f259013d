//go:build !linux || !cgo

package media

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Camera/mic capture via pion/mediadevices needs platform drivers
// (V4L2/malgo); only Linux is supported here. The error surfaces as a
// media failure and aborts the session.
var ErrNoDevices = errors.New("local media capture is not supported on this platform")

type Source struct {
	mu      sync.Mutex
	audioOn bool
	videoOn bool
}

func Capture() (*Source, error) {
	return nil, ErrNoDevices
}

func (s *Source) API() *webrtc.API { return nil }

func (s *Source) Tracks() []webrtc.TrackLocal { return nil }

func (s *Source) SetAudioEnabled(on bool) {
	s.mu.Lock()
	s.audioOn = on
	s.mu.Unlock()
}

func (s *Source) SetVideoEnabled(on bool) {
	s.mu.Lock()
	s.videoOn = on
	s.mu.Unlock()
}

func (s *Source) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

func (s *Source) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

func (s *Source) Close() {}
