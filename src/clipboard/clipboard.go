// Package clipboard publishes captured images and text to the OS clipboard.
package clipboard

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.design/x/clipboard"

	"framesense/src/failure"
	"framesense/src/logutil"
	"framesense/src/screenshot"
)

// Payload is either text or an encoded image. Exactly one side is set.
type Payload struct {
	Text   string            `json:"text,omitempty"`
	Image  []byte            `json:"image,omitempty"`
	Format screenshot.Format `json:"format,omitempty"`
}

// Text builds a text payload.
func Text(s string) Payload { return Payload{Text: s} }

// Image builds an image payload from encoded bytes.
func Image(data []byte, f screenshot.Format) Payload {
	return Payload{Image: data, Format: f}
}

// IsImage reports whether p carries image bytes.
func (p Payload) IsImage() bool { return len(p.Image) > 0 }

// Backend is the OS clipboard. The signatures match golang.design/x/clipboard.
type Backend interface {
	Init() error
	Write(f clipboard.Format, data []byte) <-chan struct{}
}

type systemBackend struct{}

func (systemBackend) Init() error { return clipboard.Init() }

func (systemBackend) Write(f clipboard.Format, data []byte) <-chan struct{} {
	return clipboard.Write(f, data)
}

// Sink writes payloads to a Backend. The backend is initialised on first use;
// an init failure is remembered and reported on every later Publish.
type Sink struct {
	backend Backend

	initOnce sync.Once
	initErr  error

	// writeMu prevents corruption under parallel writes.
	writeMu sync.Mutex
	log     zerolog.Logger
}

// NewSink returns a Sink over backend, or over the OS clipboard when nil.
func NewSink(backend Backend) *Sink {
	if backend == nil {
		backend = systemBackend{}
	}
	return &Sink{backend: backend, log: logutil.Component("clipboard")}
}

// Init initialises the backend if needed and returns the sticky result.
func (s *Sink) Init() error {
	s.initOnce.Do(func() {
		if err := s.backend.Init(); err != nil {
			s.initErr = failure.Wrap(failure.KindClipboardUnavailable, "init clipboard", err)
			s.log.Error().Err(err).Msg("clipboard unavailable")
		}
	})
	return s.initErr
}

// Publish overwrites the clipboard with p. Prior contents are not preserved.
func (s *Sink) Publish(ctx context.Context, p Payload) error {
	if !p.IsImage() && p.Text == "" {
		return failure.New(failure.KindInvalidArgument, "publish", "empty clipboard payload")
	}
	if err := s.Init(); err != nil {
		return err
	}

	format := clipboard.FmtText
	data := []byte(p.Text)
	if p.IsImage() {
		png, err := screenshot.ToPNG(p.Image, p.Format)
		if err != nil {
			return err
		}
		format, data = clipboard.FmtImage, png
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return failure.Wrap(failure.KindClipboardUnavailable, "publish", err)
	}
	// The returned channel fires when another program overwrites the
	// clipboard; we never wait on it.
	if changed := s.backend.Write(format, data); changed == nil {
		return failure.New(failure.KindClipboardUnavailable, "publish", "clipboard rejected the write")
	}

	if p.IsImage() {
		s.log.Info().Int("bytes", len(data)).Msg("image copied to clipboard")
	} else {
		s.log.Info().Str("text", logutil.Sanitize(p.Text)).Msg("text copied to clipboard")
	}
	return nil
}
