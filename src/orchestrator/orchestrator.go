// Package orchestrator runs the permission-gated capture sequence.
//
// One Orchestrator owns one loop goroutine. Hotkey activations enter through
// Fire; slow steps run on a single-slot worker pool and post their results back
// into the loop, so the caller of Fire never waits on the OS.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"framesense/src/clipboard"
	"framesense/src/failure"
	"framesense/src/logutil"
	"framesense/src/notification"
	"framesense/src/overlay"
	"framesense/src/permission"
	"framesense/src/screenshot"
	"framesense/src/worker"
)

// DefaultStepTimeout bounds each capture and delivery step.
const DefaultStepTimeout = 5 * time.Second

// Oracle is the permission gate.
type Oracle interface {
	Check() permission.Status
	// RequestOnce provokes the consent prompt at most once per process.
	RequestOnce() (requested, granted bool)
	OpenSystemSettings() error
}

// Capturer grabs a region.
type Capturer interface {
	Capture(ctx context.Context, bounds screenshot.Bounds) (screenshot.Result, error)
}

// Sink receives the encoded capture.
type Sink interface {
	Publish(ctx context.Context, p clipboard.Payload) error
}

// Options wires an Orchestrator. Oracle, Capturer, Sink and Selector are required.
type Options struct {
	Oracle   Oracle
	Capturer Capturer
	Sink     Sink
	Selector overlay.Selector
	Notifier notification.Notifier
	// StepTimeout bounds capture and delivery. Zero means DefaultStepTimeout.
	StepTimeout time.Duration
	// AutoRequest provokes the OS consent prompt on the first denial.
	AutoRequest bool
	// OnTransition is called after every state change, outside any lock.
	OnTransition func(from, to State)
}

// Snapshot is a point-in-time view of the orchestrator.
type Snapshot struct {
	State         State        `json:"state"`
	Sequence      string       `json:"sequence,omitempty"`
	Running       bool         `json:"running"`
	Fired         uint64       `json:"fired"`
	Dropped       uint64       `json:"dropped"`
	Completed     uint64       `json:"completed"`
	Denied        uint64       `json:"denied"`
	Failed        uint64       `json:"failed"`
	LastError     string       `json:"last_error,omitempty"`
	LastErrorKind failure.Kind `json:"last_error_kind,omitempty"`
}

type event interface{ isEvent() }

type fired struct{ seq string }

type captured struct {
	seq       string
	res       screenshot.Result
	cancelled bool
	err       error
}

type delivered struct {
	seq    string
	bounds screenshot.Bounds
	err    error
}

func (fired) isEvent()     {}
func (captured) isEvent()  {}
func (delivered) isEvent() {}

// Orchestrator is the capture state machine.
type Orchestrator struct {
	oracle       Oracle
	capturer     Capturer
	sink         Sink
	selector     overlay.Selector
	notifier     notification.Notifier
	stepTimeout  time.Duration
	autoRequest  bool
	onTransition func(from, to State)

	events chan event
	log    zerolog.Logger

	mu   sync.Mutex
	snap Snapshot
	stop chan struct{}
}

// New builds an Orchestrator. Call Run to start it.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Oracle == nil:
		return nil, errors.New("orchestrator: nil Oracle")
	case opts.Capturer == nil:
		return nil, errors.New("orchestrator: nil Capturer")
	case opts.Sink == nil:
		return nil, errors.New("orchestrator: nil Sink")
	case opts.Selector == nil:
		return nil, errors.New("orchestrator: nil Selector")
	}
	o := &Orchestrator{
		oracle:       opts.Oracle,
		capturer:     opts.Capturer,
		sink:         opts.Sink,
		selector:     opts.Selector,
		notifier:     opts.Notifier,
		stepTimeout:  opts.StepTimeout,
		autoRequest:  opts.AutoRequest,
		onTransition: opts.OnTransition,
		events:       make(chan event, 1),
		log:          logutil.Component("orchestrator"),
	}
	if o.notifier == nil {
		o.notifier = notification.NewLog()
	}
	if o.stepTimeout <= 0 {
		o.stepTimeout = DefaultStepTimeout
	}
	return o, nil
}

// Snapshot returns the current state and counters.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Fire requests a capture sequence. It never blocks. It returns false when
// the loop is not running or a sequence is already in flight; such signals
// are dropped, not queued.
func (o *Orchestrator) Fire() bool {
	o.mu.Lock()
	if !o.snap.Running || o.snap.State != Idle {
		o.snap.Dropped++
		state := o.snap.State
		o.mu.Unlock()
		o.log.Debug().Stringer("state", state).Msg("hotkey dropped, sequence in flight")
		return false
	}
	seq := uuid.NewString()
	o.snap.Fired++
	o.snap.Sequence = seq
	o.snap.LastError, o.snap.LastErrorKind = "", ""
	o.snap.State = PermissionPending
	o.mu.Unlock()

	o.log.Info().Str("sequence", seq).Msg("capture requested")
	o.changed(Idle, PermissionPending)
	// Only one sequence exists at a time, so the one-slot buffer always has room.
	o.events <- fired{seq: seq}
	return true
}

// Run processes events until ctx is cancelled. It blocks.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.snap.Running {
		o.mu.Unlock()
		return errors.New("orchestrator: already running")
	}
	o.snap.Running = true
	o.stop = make(chan struct{})
	stop := o.stop
	o.mu.Unlock()

	pool := worker.New(1)
	defer func() {
		o.mu.Lock()
		o.snap.Running = false
		close(stop)
		o.mu.Unlock()
		pool.Close()
		o.abandon()
	}()

	o.log.Info().Dur("step_timeout", o.stepTimeout).Msg("orchestrator running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-o.events:
			switch ev := ev.(type) {
			case fired:
				o.handleFired(ctx, pool, ev)
			case captured:
				o.handleCaptured(ctx, pool, ev)
			case delivered:
				o.handleDelivered(ev)
			}
		}
	}
}

// abandon drops any sequence cut short by shutdown so a later Run starts
// from Idle.
func (o *Orchestrator) abandon() {
	for {
		select {
		case <-o.events:
			continue
		default:
		}
		break
	}
	o.mu.Lock()
	from := o.snap.State
	o.snap.State = Idle
	o.snap.Sequence = ""
	o.mu.Unlock()
	if from != Idle {
		o.log.Warn().Stringer("state", from).Msg("sequence abandoned on shutdown")
		o.changed(from, Idle)
	}
}

// post hands a worker result back to the loop. It gives up once the loop is
// gone so a late worker never blocks forever.
func (o *Orchestrator) post(stop <-chan struct{}, ev event) {
	select {
	case o.events <- ev:
	case <-stop:
	}
}

func (o *Orchestrator) currentStop() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stop
}

func (o *Orchestrator) handleFired(ctx context.Context, pool *worker.Pool, ev fired) {
	status := o.oracle.Check()
	if !status.Granted() {
		o.deny(pool, ev.seq, status)
		return
	}

	o.transition(PermissionPending, Capturing)
	stop := o.currentStop()
	var res captured
	submitted := pool.Submit(ctx, "capture", func(ctx context.Context) error {
		bounds, cancelled, err := o.selector.Select(ctx)
		if err != nil {
			if failure.KindOf(err) == failure.KindUnknown {
				err = failure.Wrap(failure.KindCaptureFailed, "select region", err)
			}
			return err
		}
		if cancelled {
			res.cancelled = true
			return nil
		}
		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
		r, err := o.capturer.Capture(stepCtx, bounds)
		res.res = r
		return err
	}, func(err error) {
		res.seq, res.err = ev.seq, err
		o.post(stop, res)
	})
	if !submitted {
		o.fail(ev.seq, Capturing, failure.New(failure.KindCaptureFailed, "capture", "worker busy"))
	}
}

func (o *Orchestrator) handleCaptured(ctx context.Context, pool *worker.Pool, ev captured) {
	switch {
	case ev.err != nil:
		o.fail(ev.seq, Capturing, ev.err)
		return
	case ev.cancelled:
		o.log.Info().Str("sequence", ev.seq).Msg("selection cancelled")
		o.transition(Capturing, Idle)
		return
	}

	o.transition(Capturing, Delivering)
	stop := o.currentStop()
	result := ev.res
	submitted := pool.Submit(ctx, "deliver", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
		return o.sink.Publish(stepCtx, clipboard.Image(result.ImageData, result.Format))
	}, func(err error) {
		o.post(stop, delivered{seq: ev.seq, bounds: result.Bounds, err: err})
	})
	if !submitted {
		o.fail(ev.seq, Delivering, failure.New(failure.KindClipboardUnavailable, "deliver", "worker busy"))
	}
}

func (o *Orchestrator) handleDelivered(ev delivered) {
	if ev.err != nil {
		o.fail(ev.seq, Delivering, ev.err)
		return
	}
	bounds := ev.bounds
	o.notifier.Notify(notification.Event{
		Kind:     notification.KindCaptureCopied,
		Sequence: ev.seq,
		Title:    "Capture copied",
		Message:  fmt.Sprintf("Copied a %dx%d region to the clipboard", bounds.Width, bounds.Height),
		Bounds:   &bounds,
		At:       time.Now(),
	})
	o.mu.Lock()
	o.snap.Completed++
	o.mu.Unlock()
	o.log.Info().Str("sequence", ev.seq).Stringer("bounds", bounds).Msg("capture delivered")
	o.transition(Delivering, Idle)
}

func (o *Orchestrator) deny(pool *worker.Pool, seq string, status permission.Status) {
	o.transition(PermissionPending, Denied)
	missing := status.Missing()
	o.mu.Lock()
	o.snap.Denied++
	o.snap.LastError = "missing permissions: " + strings.Join(missing, ", ")
	o.snap.LastErrorKind = failure.KindPermission
	o.mu.Unlock()

	o.log.Warn().Str("sequence", seq).Strs("missing", missing).Msg("capture blocked by permissions")
	o.notifier.Notify(notification.Event{
		Kind:      notification.KindPermissionRequired,
		Sequence:  seq,
		Title:     "Permission required",
		Message:   "Grant " + strings.ReplaceAll(strings.Join(missing, " and "), "_", " ") + " access in system settings, then try again.",
		ErrorKind: failure.KindPermission,
		Missing:   missing,
		At:        time.Now(),
	})

	if o.autoRequest {
		// Runs off the loop; the OS prompt may take a while to appear.
		pool.Submit(context.Background(), "request-permissions", func(context.Context) error {
			requested, granted := o.oracle.RequestOnce()
			if !requested || granted {
				return nil
			}
			return o.oracle.OpenSystemSettings()
		}, func(err error) {
			if err != nil {
				o.log.Error().Err(err).Msg("permission remediation failed")
			}
		})
	}
	o.transition(Denied, Idle)
}

func (o *Orchestrator) fail(seq string, from State, err error) {
	o.transition(from, Failed)
	kind := failure.KindOf(err)
	o.mu.Lock()
	o.snap.Failed++
	o.snap.LastError = err.Error()
	o.snap.LastErrorKind = kind
	o.mu.Unlock()

	o.log.Error().Err(err).Str("sequence", seq).Str("kind", string(kind)).Stringer("step", from).Msg("capture sequence failed")
	o.notifier.Notify(notification.Event{
		Kind:      notification.KindCaptureFailed,
		Sequence:  seq,
		Title:     "Capture failed",
		Message:   err.Error(),
		ErrorKind: kind,
		At:        time.Now(),
	})
	o.transition(Failed, Idle)
}

func (o *Orchestrator) transition(from, to State) {
	o.mu.Lock()
	if o.snap.State != from || !canTransition(from, to) {
		cur := o.snap.State
		o.mu.Unlock()
		o.log.Error().Stringer("state", cur).Stringer("from", from).Stringer("to", to).Msg("illegal transition ignored")
		return
	}
	o.snap.State = to
	if to == Idle {
		o.snap.Sequence = ""
	}
	o.mu.Unlock()
	o.changed(from, to)
}

func (o *Orchestrator) changed(from, to State) {
	o.log.Debug().Stringer("from", from).Stringer("to", to).Msg("transition")
	if o.onTransition != nil {
		o.onTransition(from, to)
	}
}
