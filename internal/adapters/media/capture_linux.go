//go:build linux && cgo

package media

import (
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ErrNoDevices is returned when no capture attempt yields a usable track.
// A session must not proceed with no media at all.
var ErrNoDevices = errors.New("no usable media devices")

// Source owns the local capture handle for one call.
type Source struct {
	tracks []mediadevices.Track
	api    *webrtc.API

	mu      sync.Mutex
	audioOn bool
	videoOn bool
	closed  bool
}

// Capture acquires camera+microphone via pion/mediadevices (V4L2 + malgo
// on Linux) with VP8+Opus encoders. A missing or busy camera falls back
// to audio-only; only a full failure aborts.
func Capture() (*Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	type attempt struct {
		video bool
		label string
	}
	for _, a := range []attempt{{true, "video+audio"}, {false, "audio-only"}} {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes on some cameras emit malformed frames that
				// poison the VP8 encoder. Raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Str("attempt", a.label).Msg("GetUserMedia failed")
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warn().Err(err).Str("module", "media").Msg("local track ended")
				}
			})
		}
		log.Info().Str("module", "media").Str("attempt", a.label).Int("tracks", len(tracks)).Msg("local media captured")
		return &Source{tracks: tracks, api: api, audioOn: true, videoOn: a.video}, nil
	}

	return nil, ErrNoDevices
}

// API returns the webrtc API whose media engine matches the capture codecs.
func (s *Source) API() *webrtc.API { return s.api }

func (s *Source) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Source) SetAudioEnabled(on bool) {
	s.mu.Lock()
	s.audioOn = on
	s.mu.Unlock()
	log.Info().Str("module", "media").Bool("enabled", on).Msg("audio toggled")
}

func (s *Source) SetVideoEnabled(on bool) {
	s.mu.Lock()
	s.videoOn = on
	s.mu.Unlock()
	log.Info().Str("module", "media").Bool("enabled", on).Msg("video toggled")
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

// Close stops every local track. Idempotent; no device handle survives.
func (s *Source) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	for _, t := range s.tracks {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("track close")
		}
	}
	log.Info().Str("module", "media").Msg("local media released")
}
