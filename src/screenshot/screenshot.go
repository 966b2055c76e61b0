// Package screenshot captures a rectangular screen region and encodes it.
package screenshot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"github.com/rs/zerolog"

	"framesense/src/failure"
	"framesense/src/logutil"
)

// Result is an encoded capture. Bounds is the region actually captured, after
// clamping; compare it with the request to detect clamping.
type Result struct {
	ImageData []byte `json:"image_data"`
	Format    Format `json:"format"`
	Bounds    Bounds `json:"bounds"`
	Clamped   bool   `json:"clamped"`
}

// Base64 is the canonical text encoding of the image bytes.
func (r Result) Base64() string { return base64.StdEncoding.EncodeToString(r.ImageData) }

// DisplaySource enumerates active display rectangles.
type DisplaySource interface {
	Displays() ([]image.Rectangle, error)
}

// Grabber copies the pixels of rect from the screen.
type Grabber interface {
	Grab(rect image.Rectangle) (*image.RGBA, error)
}

// Options configures a Capturer. Zero fields fall back to the OS backends.
type Options struct {
	Displays DisplaySource
	Grabber  Grabber
	Format   Format
	// ScreenAllowed re-checks the screen-recording grant after a failed grab so
	// a revocation is reported as CaptureDenied. Nil skips the check.
	ScreenAllowed func() bool
}

// Capturer implements region capture.
type Capturer struct {
	displays      DisplaySource
	grabber       Grabber
	format        Format
	screenAllowed func() bool
	log           zerolog.Logger
}

// NewCapturer builds a Capturer.
func NewCapturer(opts Options) *Capturer {
	c := &Capturer{
		displays:      opts.Displays,
		grabber:       opts.Grabber,
		format:        opts.Format,
		screenAllowed: opts.ScreenAllowed,
		log:           logutil.Component("screenshot"),
	}
	if c.displays == nil {
		c.displays = SystemDisplays{}
	}
	if c.grabber == nil {
		c.grabber = systemGrabber{}
	}
	if c.format == "" {
		c.format = FormatPNG
	}
	return c
}

// Format returns the encoding used for results.
func (c *Capturer) Format() Format { return c.format }

// Capture grabs the pixels of bounds and encodes them. Bounds partly past a
// display edge are clamped to the visible area; the grab honours ctx and
// fails with CaptureTimeout when it expires first.
func (c *Capturer) Capture(ctx context.Context, bounds Bounds) (Result, error) {
	if err := bounds.Validate(); err != nil {
		return Result{}, err
	}
	displays, err := c.displays.Displays()
	if err != nil {
		return Result{}, failure.Wrap(failure.KindCaptureFailed, "enumerate displays", err)
	}
	rect, err := Clamp(bounds.Rect(), displays)
	if err != nil {
		return Result{}, err
	}
	actual := FromRect(rect)
	clamped := actual != bounds
	if clamped {
		c.log.Info().Stringer("requested", bounds).Stringer("captured", actual).Msg("region clamped to visible area")
	}

	img, err := c.grab(ctx, rect)
	if err != nil {
		return Result{}, err
	}

	data, err := Encode(img, c.format)
	if err != nil {
		return Result{}, failure.Wrap(failure.KindCaptureFailed, "encode capture", err)
	}
	c.log.Debug().Stringer("bounds", actual).Int("bytes", len(data)).Str("format", string(c.format)).Msg("region captured")
	return Result{ImageData: data, Format: c.format, Bounds: actual, Clamped: clamped}, nil
}

// grab runs the OS call in its own goroutine so a stuck call cannot outlive
// ctx. The goroutine is left to finish in the background on timeout.
func (c *Capturer) grab(ctx context.Context, rect image.Rectangle) (*image.RGBA, error) {
	type grabbed struct {
		img *image.RGBA
		err error
	}
	resCh := make(chan grabbed, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- grabbed{err: fmt.Errorf("panic in grab: %v", r)}
			}
		}()
		img, err := c.grabber.Grab(rect)
		resCh <- grabbed{img: img, err: err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			return nil, c.classify(r.err)
		}
		if r.img == nil {
			return nil, failure.New(failure.KindCaptureFailed, "capture", "grabber returned no image")
		}
		return r.img, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, failure.Wrap(failure.KindCaptureTimeout, "capture", ctx.Err())
		}
		return nil, failure.Wrap(failure.KindCaptureFailed, "capture", ctx.Err())
	}
}

func (c *Capturer) classify(err error) error {
	if c.screenAllowed != nil && !c.screenAllowed() {
		return failure.Wrap(failure.KindCaptureDenied, "capture", err)
	}
	return failure.Wrap(failure.KindCaptureFailed, "capture", err)
}

// SystemDisplays reads display bounds from the OS.
type SystemDisplays struct{}

func (SystemDisplays) Displays() ([]image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out, nil
}

// PrimaryDisplay returns the bounds of display 0.
func PrimaryDisplay(src DisplaySource) (Bounds, error) {
	if src == nil {
		src = SystemDisplays{}
	}
	displays, err := src.Displays()
	if err != nil {
		return Bounds{}, failure.Wrap(failure.KindCaptureFailed, "enumerate displays", err)
	}
	if len(displays) == 0 {
		return Bounds{}, failure.New(failure.KindInvalidBounds, "primary display", "no active displays")
	}
	return FromRect(displays[0]), nil
}

type systemGrabber struct{}

func (systemGrabber) Grab(rect image.Rectangle) (*image.RGBA, error) {
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("failed to capture region: %w", err)
	}
	return img, nil
}
