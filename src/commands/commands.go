// Package commands is the command surface the shell calls: permission
// queries, capture, clipboard delivery and hotkey registration.
package commands

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"framesense/src/clipboard"
	"framesense/src/failure"
	"framesense/src/hotkey"
	"framesense/src/logutil"
	"framesense/src/permission"
	"framesense/src/screenshot"
)

// DefaultHotkey is Option+Space on macOS and Alt+Space elsewhere.
const DefaultHotkey = "Alt+Space"

// Oracle answers permission queries.
type Oracle interface {
	Check() permission.Status
	Request() bool
	OpenSystemSettings() error
}

// Capturer grabs a region.
type Capturer interface {
	Capture(ctx context.Context, bounds screenshot.Bounds) (screenshot.Result, error)
}

// Sink publishes to the clipboard.
type Sink interface {
	Publish(ctx context.Context, p clipboard.Payload) error
}

// Hotkeys registers global combinations.
type Hotkeys interface {
	Register(combo string, cb func()) (hotkey.Handle, error)
	Unregister(h hotkey.Handle)
}

// Options wires a Service.
type Options struct {
	Oracle   Oracle
	Capturer Capturer
	Sink     Sink
	Hotkeys  Hotkeys
	// Trigger starts a capture sequence when the hotkey fires.
	Trigger func()
	// Hotkey is the combo used by RegisterGlobalHotkey with an empty argument.
	Hotkey string
	// Timeout bounds CaptureScreenRegion and CopyToClipboard. Zero means 5s.
	Timeout time.Duration
}

// Service implements the command surface.
type Service struct {
	oracle   Oracle
	capturer Capturer
	sink     Sink
	hotkeys  Hotkeys
	trigger  func()
	timeout  time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	combo  string
	handle hotkey.Handle
}

// New builds a Service.
func New(opts Options) *Service {
	s := &Service{
		oracle:   opts.Oracle,
		capturer: opts.Capturer,
		sink:     opts.Sink,
		hotkeys:  opts.Hotkeys,
		trigger:  opts.Trigger,
		timeout:  opts.Timeout,
		combo:    opts.Hotkey,
		log:      logutil.Component("commands"),
	}
	if s.combo == "" {
		s.combo = DefaultHotkey
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	return s
}

// CheckPermissions queries the OS. Always safe to call.
func (s *Service) CheckPermissions() permission.Status { return s.oracle.Check() }

// RequestPermissions provokes the OS prompt. False means fall back to settings.
func (s *Service) RequestPermissions() bool { return s.oracle.Request() }

// OpenSystemPreferences opens the OS privacy panel.
func (s *Service) OpenSystemPreferences() error { return s.oracle.OpenSystemSettings() }

// CaptureScreenRegion captures bounds after a fresh screen-recording check.
func (s *Service) CaptureScreenRegion(ctx context.Context, bounds screenshot.Bounds) (screenshot.Result, error) {
	if st := s.oracle.Check(); !st.ScreenRecording {
		return screenshot.Result{}, failure.New(failure.KindPermission, "capture screen region",
			"screen recording permission is not granted")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.capturer.Capture(ctx, bounds)
	if err != nil {
		s.log.Warn().Err(err).Stringer("bounds", bounds).Msg("captureScreenRegion failed")
		return screenshot.Result{}, err
	}
	return res, nil
}

// CopyToClipboard publishes p.
func (s *Service) CopyToClipboard(ctx context.Context, p clipboard.Payload) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.sink.Publish(ctx, p)
}

// RegisterGlobalHotkey binds combo (the configured one when empty) to the
// capture trigger. A previous registration is replaced, never duplicated;
// when the new combo cannot be bound the previous one stays active.
func (s *Service) RegisterGlobalHotkey(combo string) (string, error) {
	if s.hotkeys == nil {
		return "", failure.New(failure.KindInvalidArgument, "register hotkey", "hotkeys are not available")
	}
	if s.trigger == nil {
		return "", failure.New(failure.KindInvalidArgument, "register hotkey", "no capture trigger configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(combo) == "" {
		combo = s.combo
	}
	h, err := s.hotkeys.Register(combo, s.trigger)
	if err != nil {
		s.log.Error().Err(err).Str("combo", combo).Msg("registerGlobalHotkey failed")
		return "", err
	}
	if s.handle.Valid() && s.handle.Combo() != h.Combo() {
		s.hotkeys.Unregister(s.handle)
	}
	s.handle = h
	s.combo = combo
	return h.Combo(), nil
}

// UnregisterGlobalHotkey releases the current binding. Idempotent.
func (s *Service) UnregisterGlobalHotkey() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle.Valid() {
		s.hotkeys.Unregister(s.handle)
		s.handle = hotkey.Handle{}
	}
}

// Hotkey returns the active combo, or "" when none is registered.
func (s *Service) Hotkey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.Combo()
}
