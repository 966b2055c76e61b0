package orchestrator

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesense/src/clipboard"
	"framesense/src/failure"
	"framesense/src/notification"
	"framesense/src/overlay"
	"framesense/src/permission"
	"framesense/src/screenshot"
)

type fakeOracle struct {
	mu          sync.Mutex
	status      permission.Status
	checks      int
	requests    int
	requested   bool
	requestOK   bool
	settings    int
	settingsErr error
}

func (f *fakeOracle) Check() permission.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.status
}

func (f *fakeOracle) RequestOnce() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requested {
		return false, false
	}
	f.requested = true
	f.requests++
	return true, f.requestOK
}

func (f *fakeOracle) OpenSystemSettings() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings++
	return f.settingsErr
}

func (f *fakeOracle) counts() (checks, requests, settings int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks, f.requests, f.settings
}

type fakeCapturer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
	inner   Capturer
}

func (c *fakeCapturer) Capture(ctx context.Context, b screenshot.Bounds) (screenshot.Result, error) {
	c.calls.Add(1)
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return screenshot.Result{}, failure.Wrap(failure.KindCaptureTimeout, "capture", ctx.Err())
		}
	}
	if c.err != nil {
		return screenshot.Result{}, c.err
	}
	if c.inner != nil {
		return c.inner.Capture(ctx, b)
	}
	return screenshot.Result{ImageData: []byte("png"), Format: screenshot.FormatPNG, Bounds: b}, nil
}

type fakeSink struct {
	mu       sync.Mutex
	payloads []clipboard.Payload
	err      error
}

func (s *fakeSink) Publish(_ context.Context, p clipboard.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *fakeSink) published() []clipboard.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]clipboard.Payload(nil), s.payloads...)
}

type displays []image.Rectangle

func (d displays) Displays() ([]image.Rectangle, error) { return d, nil }

type solidGrabber struct{}

func (solidGrabber) Grab(rect image.Rectangle) (*image.RGBA, error) {
	return image.NewRGBA(rect), nil
}

type transition struct{ from, to State }

type harness struct {
	o        *Orchestrator
	oracle   *fakeOracle
	capturer *fakeCapturer
	sink     *fakeSink
	notes    *notification.Recorder
	idle     chan struct{}

	mu    sync.Mutex
	trail []transition
}

func (h *harness) transitions() []transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]transition(nil), h.trail...)
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	select {
	case <-h.idle:
	case <-time.After(2 * time.Second):
		t.Fatalf("orchestrator did not return to idle; trail=%v", h.transitions())
	}
}

func granted() permission.Status {
	return permission.Status{ScreenRecording: true, Accessibility: true}
}

func newHarness(t *testing.T, mutate func(*Options, *harness)) *harness {
	t.Helper()
	h := &harness{
		oracle:   &fakeOracle{status: granted()},
		capturer: &fakeCapturer{},
		sink:     &fakeSink{},
		notes:    &notification.Recorder{},
		idle:     make(chan struct{}, 16),
	}
	opts := Options{
		Oracle:   h.oracle,
		Capturer: h.capturer,
		Sink:     h.sink,
		Selector: overlay.Fixed{X: 10, Y: 10, Width: 100, Height: 100},
		Notifier: h.notes,
		OnTransition: func(from, to State) {
			h.mu.Lock()
			h.trail = append(h.trail, transition{from, to})
			h.mu.Unlock()
			if to == Idle {
				h.idle <- struct{}{}
			}
		},
	}
	if mutate != nil {
		mutate(&opts, h)
	}
	o, err := New(opts)
	require.NoError(t, err)
	h.o = o

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return o.Snapshot().Running }, time.Second, time.Millisecond)
	return h
}

func TestSuccessfulCaptureScenario(t *testing.T) {
	h := newHarness(t, func(o *Options, h *harness) {
		h.capturer.inner = screenshot.NewCapturer(screenshot.Options{
			Displays: displays{image.Rect(0, 0, 1920, 1080)},
			Grabber:  solidGrabber{},
		})
	})

	require.True(t, h.o.Fire())
	h.waitIdle(t)

	snap := h.o.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.EqualValues(t, 1, snap.Completed)
	assert.EqualValues(t, 1, h.capturer.calls.Load())

	payloads := h.sink.published()
	require.Len(t, payloads, 1)
	require.True(t, payloads[0].IsImage())
	img, err := png.Decode(bytes.NewReader(payloads[0].Image))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())

	events := h.notes.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notification.KindCaptureCopied, events[0].Kind)
	require.NotNil(t, events[0].Bounds)
	assert.Equal(t, screenshot.Bounds{X: 10, Y: 10, Width: 100, Height: 100}, *events[0].Bounds)
	assert.NotEmpty(t, events[0].Sequence)

	assert.Equal(t, []transition{
		{Idle, PermissionPending},
		{PermissionPending, Capturing},
		{Capturing, Delivering},
		{Delivering, Idle},
	}, h.transitions())
}

func TestDeniedNeverCaptures(t *testing.T) {
	h := newHarness(t, func(o *Options, h *harness) {
		h.oracle.status = permission.Status{ScreenRecording: false, Accessibility: true}
	})

	require.True(t, h.o.Fire())
	h.waitIdle(t)

	assert.Zero(t, h.capturer.calls.Load())
	assert.Empty(t, h.sink.published())
	events := h.notes.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notification.KindPermissionRequired, events[0].Kind)
	assert.Equal(t, []string{"screen_recording"}, events[0].Missing)
	assert.Equal(t, failure.KindPermission, events[0].ErrorKind)

	assert.Equal(t, []transition{
		{Idle, PermissionPending},
		{PermissionPending, Denied},
		{Denied, Idle},
	}, h.transitions())
	snap := h.o.Snapshot()
	assert.EqualValues(t, 1, snap.Denied)
	assert.Equal(t, failure.KindPermission, snap.LastErrorKind)
}

func TestPermissionsRecheckedEveryFire(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 3; i++ {
		require.True(t, h.o.Fire())
		h.waitIdle(t)
	}
	checks, _, _ := h.oracle.counts()
	assert.Equal(t, 3, checks)
}

func TestSecondFireWhileBusyIsDropped(t *testing.T) {
	h := newHarness(t, func(o *Options, h *harness) {
		h.capturer.started = make(chan struct{}, 1)
		h.capturer.release = make(chan struct{})
	})

	require.True(t, h.o.Fire())
	<-h.capturer.started
	assert.False(t, h.o.Fire())
	assert.False(t, h.o.Fire())
	close(h.capturer.release)
	h.waitIdle(t)

	// No second sequence may start.
	select {
	case <-h.idle:
		t.Fatal("returned to idle twice")
	case <-time.After(50 * time.Millisecond):
	}
	assert.EqualValues(t, 1, h.capturer.calls.Load())
	snap := h.o.Snapshot()
	assert.EqualValues(t, 2, snap.Dropped)
	assert.EqualValues(t, 1, snap.Fired)
}

func TestConcurrentFiresStartOneSequence(t *testing.T) {
	h := newHarness(t, func(o *Options, h *harness) {
		h.capturer.release = make(chan struct{})
	})

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.o.Fire() {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(h.capturer.release)
	h.waitIdle(t)

	assert.EqualValues(t, 1, accepted.Load())
	assert.EqualValues(t, 1, h.capturer.calls.Load())
}

func TestCaptureErrorReturnsToIdle(t *testing.T) {
	h := newHarness(t, func(o *Options, h *harness) {
		h.capturer.err = failure.New(failure.KindCaptureDenied, "capture", "revoked")
	})

	require.True(t, h.o.Fire())
	h.waitIdle(t)

	assert.Empty(t, h.sink.published())
	ev, ok := h.notes.Last()
	require.True(t, ok)
	assert.Equal(t, notification.KindCaptureFailed, ev.Kind)
	assert.Equal(t, failure.KindCaptureDenied, ev.ErrorKind)
	assert.Contains(t, h.transitions(), transition{Capturing, Failed})
	assert.Contains(t, h.transitions(), transition{Failed, Idle})

	// The next attempt is accepted.
	h.capturer.err = nil
	require.True(t, h.o.Fire())
	h.waitIdle(t)
	assert.Len(t, h.sink.published(), 1)
	assert.EqualValues(t, 1, h.o.Snapshot().Failed)
}

func TestClipboardErrorReturnsToIdle(t *testing.T) {
	h := newHarness(t, func(o *Options, h *harness) {
		h.sink.err = failure.New(failure.KindClipboardUnavailable, "publish", "sandboxed")
	})

	require.True(t, h.o.Fire())
	h.waitIdle(t)

	ev, ok := h.notes.Last()
	require.True(t, ok)
	assert.Equal(t, failure.KindClipboardUnavailable, ev.ErrorKind)
	assert.Contains(t, h.transitions(), transition{Delivering, Failed})
	snap := h.o.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, failure.KindClipboardUnavailable, snap.LastErrorKind)
}

func TestCaptureTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options, h *harness) {
		o.StepTimeout = 20 * time.Millisecond
		h.capturer.release = make(chan struct{})
	})

	require.True(t, h.o.Fire())
	h.waitIdle(t)

	ev, ok := h.notes.Last()
	require.True(t, ok)
	assert.Equal(t, failure.KindCaptureTimeout, ev.ErrorKind)
}

func TestSelectionCancelled(t *testing.T) {
	h := newHarness(t, func(o *Options, h *harness) {
		o.Selector = overlay.Func(func(context.Context) (screenshot.Bounds, bool, error) {
			return screenshot.Bounds{}, true, nil
		})
	})

	require.True(t, h.o.Fire())
	h.waitIdle(t)
	assert.Zero(t, h.capturer.calls.Load())
	assert.Empty(t, h.notes.Events())
	assert.Contains(t, h.transitions(), transition{Capturing, Idle})
}

func TestAutoRequestOncePerProcess(t *testing.T) {
	h := newHarness(t, func(o *Options, h *harness) {
		h.oracle.status = permission.Status{}
		o.AutoRequest = true
	})

	for i := 0; i < 3; i++ {
		require.True(t, h.o.Fire())
		h.waitIdle(t)
	}
	require.Eventually(t, func() bool {
		_, requests, settings := h.oracle.counts()
		return requests == 1 && settings == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunAgainAfterShutdownMidCapture(t *testing.T) {
	capturer := &fakeCapturer{started: make(chan struct{}, 1), release: make(chan struct{})}
	sink := &fakeSink{}
	o, err := New(Options{
		Oracle:   &fakeOracle{status: granted()},
		Capturer: capturer,
		Sink:     sink,
		Selector: overlay.Fixed{Width: 10, Height: 10},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	require.Eventually(t, func() bool { return o.Snapshot().Running }, time.Second, time.Millisecond)

	require.True(t, o.Fire())
	select {
	case <-capturer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not start")
	}
	cancel()
	<-done
	assert.Equal(t, Idle, o.Snapshot().State)
	assert.Empty(t, o.Snapshot().Sequence)

	capturer.started = nil
	capturer.release = nil
	ctx2, cancel2 := context.WithCancel(context.Background())
	done2 := make(chan struct{})
	go func() {
		defer close(done2)
		_ = o.Run(ctx2)
	}()
	t.Cleanup(func() {
		cancel2()
		<-done2
	})
	require.Eventually(t, func() bool { return o.Snapshot().Running }, time.Second, time.Millisecond)

	require.True(t, o.Fire(), "fire after restart must not be dropped")
	require.Eventually(t, func() bool { return o.Snapshot().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, sink.published(), 1)
}

func TestFireWithoutRunIsDropped(t *testing.T) {
	o, err := New(Options{
		Oracle:   &fakeOracle{},
		Capturer: &fakeCapturer{},
		Sink:     &fakeSink{},
		Selector: overlay.Fixed{Width: 1, Height: 1},
	})
	require.NoError(t, err)
	assert.False(t, o.Fire())
	assert.EqualValues(t, 1, o.Snapshot().Dropped)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "permission_pending", PermissionPending.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, canTransition(Idle, PermissionPending))
	assert.False(t, canTransition(Idle, Capturing))

	var st State
	require.NoError(t, st.UnmarshalText([]byte("delivering")))
	assert.Equal(t, Delivering, st)
	assert.Error(t, st.UnmarshalText([]byte("bogus")))
}
