// Package permission tracks the OS privacy grants the capture pipeline needs.
//
// The Oracle re-queries the platform Provider on every Check and records the
// result in a State, the process-wide permission cache owned by the caller.
package permission

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"framesense/src/failure"
	"framesense/src/logutil"
)

// Status is an immutable snapshot of the grants the pipeline depends on.
type Status struct {
	ScreenRecording bool `json:"screen_recording"`
	Accessibility   bool `json:"accessibility"`
}

// Granted reports whether every required grant is present.
func (s Status) Granted() bool { return s.ScreenRecording && s.Accessibility }

// Missing lists the grants that are absent, in a stable order.
func (s Status) Missing() []string {
	var missing []string
	if !s.ScreenRecording {
		missing = append(missing, string(SectionScreenCapture))
	}
	if !s.Accessibility {
		missing = append(missing, string(SectionAccessibility))
	}
	return missing
}

// Section names a pane of the OS privacy settings.
type Section string

const (
	SectionScreenCapture Section = "screen_recording"
	SectionAccessibility Section = "accessibility"
)

// Provider is the platform capability behind the Oracle.
type Provider interface {
	ScreenRecording() bool
	Accessibility() bool
	// Request provokes the OS consent prompts. False means the platform needs
	// manual user action; it is not an error.
	Request() bool
	// OpenSettings launches the OS privacy panel at section.
	OpenSettings(section Section) error
}

// Snapshot is a copy of State at one instant.
type Snapshot struct {
	Status    Status    `json:"status"`
	Known     bool      `json:"known"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
	Requested bool      `json:"requested"`
}

// State holds the last known permission status under a mutex.
// The zero value is usable and means "unknown, not granted".
type State struct {
	mu        sync.Mutex
	status    Status
	known     bool
	checkedAt time.Time
	requested bool
}

// NewState returns a State in its unknown/ungranted start condition.
func NewState() *State { return &State{} }

// Snapshot returns a consistent copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Status: s.status, Known: s.known, CheckedAt: s.checkedAt, Requested: s.requested}
}

// MarkRequested records that the consent prompt was provoked and reports
// whether this was the first time in the process lifetime.
func (s *State) MarkRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := !s.requested
	s.requested = true
	return first
}

func (s *State) record(st Status, at time.Time) {
	s.mu.Lock()
	s.status = st
	s.known = true
	s.checkedAt = at
	s.mu.Unlock()
}

// Oracle answers permission queries against a Provider.
type Oracle struct {
	provider Provider
	state    *State
	now      func() time.Time
	log      zerolog.Logger
}

// NewOracle binds provider to state. A nil state gets a private one.
func NewOracle(provider Provider, state *State) *Oracle {
	if state == nil {
		state = NewState()
	}
	return &Oracle{
		provider: provider,
		state:    state,
		now:      time.Now,
		log:      logutil.Component("permission"),
	}
}

// State returns the cache this oracle writes to.
func (o *Oracle) State() *State { return o.state }

// Check queries the OS for the current grants. It never trusts a previous
// answer: revocation can happen at any moment.
func (o *Oracle) Check() Status {
	st := Status{
		ScreenRecording: o.provider.ScreenRecording(),
		Accessibility:   o.provider.Accessibility(),
	}
	o.state.record(st, o.now())
	o.log.Debug().
		Bool("screen_recording", st.ScreenRecording).
		Bool("accessibility", st.Accessibility).
		Msg("permissions checked")
	return st
}

// Request provokes the OS consent prompt where the platform supports it.
func (o *Oracle) Request() bool {
	o.state.MarkRequested()
	return o.request()
}

// RequestOnce provokes the consent prompt only if no request was made yet in
// this process. requested is false when an earlier call already asked.
func (o *Oracle) RequestOnce() (requested, granted bool) {
	if !o.state.MarkRequested() {
		return false, false
	}
	return true, o.request()
}

func (o *Oracle) request() bool {
	granted := o.provider.Request()
	o.log.Info().Bool("granted", granted).Msg("permission request finished")
	return granted
}

// OpenSystemSettings opens the privacy panel at the section that still needs
// attention, screen capture first.
func (o *Oracle) OpenSystemSettings() error {
	section := SectionScreenCapture
	if snap := o.state.Snapshot(); snap.Known && snap.Status.ScreenRecording && !snap.Status.Accessibility {
		section = SectionAccessibility
	}
	if err := o.provider.OpenSettings(section); err != nil {
		o.log.Error().Err(err).Str("section", string(section)).Msg("open system settings failed")
		return failure.Wrap(failure.KindExternalLaunch, "open system settings", err)
	}
	o.log.Info().Str("section", string(section)).Msg("opened system settings")
	return nil
}
