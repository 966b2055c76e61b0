package hotkey

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	hook "github.com/robotn/gohook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesense/src/failure"
	"framesense/src/singleinstance"
)

func TestKeyNameToRawcodes(t *testing.T) {
	tests := []struct {
		keyName  string
		expected []uint16
	}{
		{"ctrl", []uint16{162, 163}},
		{"alt", []uint16{164, 165}},
		{"option", []uint16{164, 165}},
		{"shift", []uint16{160, 161}},
		{"win", []uint16{91, 92}},
		{"cmd", []uint16{91, 92}},
		{"super", []uint16{91, 92}},

		{"q", []uint16{81}},
		{"e", []uint16{69}},
		{"0", []uint16{48}},
		{"9", []uint16{57}},
		{"f1", []uint16{112}},
		{"f12", []uint16{123}},
		{"f24", []uint16{135}},

		{"space", []uint16{32}},
		{"enter", []uint16{13}},
		{"return", []uint16{13}},
		{"esc", []uint16{27}},

		{"unknown", nil},
	}

	for _, tt := range tests {
		t.Run(tt.keyName, func(t *testing.T) {
			assert.Equal(t, tt.expected, keyNameToRawcodes(tt.keyName))
		})
	}
}

func TestParseCombo(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"Ctrl+Alt+Q", []string{"ctrl", "alt", "q"}},
		{"Option+Space", []string{"alt", "space"}},
		{"opt + space", []string{"alt", "space"}},
		{"Control+Shift+F13", []string{"ctrl", "shift", "f13"}},
		{"Win+Shift+S", []string{"cmd", "shift", "s"}},
		{"Command+Alt+T", []string{"cmd", "alt", "t"}},
		{"F9", []string{"f9"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, err := ParseCombo(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c.Keys())
		})
	}
}

func TestParseComboRejects(t *testing.T) {
	for _, in := range []string{"", "Ctrl+", "Ctrl+Alt", "Ctrl+Hyper+Q", "Alt+Q+W", "Alt+Alt+Q"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseCombo(in)
			assert.ErrorIs(t, err, failure.ErrInvalidArgument)
		})
	}
}

type fakeSource struct {
	mu     sync.Mutex
	ch     chan hook.Event
	starts int
	ends   int
}

func (s *fakeSource) Start() chan hook.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.ch = make(chan hook.Event)
	return s.ch
}

func (s *fakeSource) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
}

func (s *fakeSource) send(kind uint8, rawcode uint16) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	ch <- hook.Event{Kind: kind, Rawcode: rawcode}
}

type fakeLease struct {
	name     string
	released atomic.Int32
}

func (l *fakeLease) Name() string   { return l.name }
func (l *fakeLease) Port() int      { return 0 }
func (l *fakeLease) Release() error { l.released.Add(1); return nil }

type leases struct {
	mu      sync.Mutex
	held    map[string]bool
	granted []*fakeLease
}

func (ls *leases) claim(name string) (singleinstance.Lease, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.held[name] {
		return nil, fmt.Errorf("%q: %w", name, singleinstance.ErrOwned)
	}
	l := &fakeLease{name: name}
	ls.granted = append(ls.granted, l)
	return l, nil
}

const (
	vkAlt   = 164
	vkRAlt  = 165
	vkSpace = 32
)

func newTestListener(t *testing.T) (*Listener, *fakeSource, *leases) {
	t.Helper()
	prev := matchRawcodes
	matchRawcodes = true
	t.Cleanup(func() { matchRawcodes = prev })

	src := &fakeSource{}
	ls := &leases{held: map[string]bool{}}
	l := NewListener(Options{Source: src, Claim: ls.claim})
	t.Cleanup(l.Close)
	return l, src, ls
}

func counter() (func(), func() int32) {
	var n atomic.Int32
	return func() { n.Add(1) }, n.Load
}

func TestListenerFiresOncePerActivation(t *testing.T) {
	l, src, _ := newTestListener(t)
	cb, count := counter()
	_, err := l.Register("Option+Space", cb)
	require.NoError(t, err)

	src.send(hook.KeyHold, vkAlt)
	src.send(hook.KeyHold, vkSpace)
	// OS auto-repeat while the combo is held.
	for i := 0; i < 5; i++ {
		src.send(hook.KeyDown, vkSpace)
	}
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	src.send(hook.KeyUp, vkSpace)
	src.send(hook.KeyHold, vkSpace)
	assert.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	src.send(hook.KeyUp, vkSpace)
	src.send(hook.KeyUp, vkAlt)
	// Space alone is not the combo.
	src.send(hook.KeyHold, vkSpace)
	src.send(hook.KeyUp, vkSpace)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, count())
}

func TestListenerRightHandModifier(t *testing.T) {
	l, src, _ := newTestListener(t)
	cb, count := counter()
	_, err := l.Register("Alt+Space", cb)
	require.NoError(t, err)

	src.send(hook.KeyHold, vkRAlt)
	src.send(hook.KeyHold, vkSpace)
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	l, src, ls := newTestListener(t)
	h, err := l.Register("Alt+Space", func() {})
	require.NoError(t, err)
	require.True(t, l.Registered(h))

	l.Unregister(h)
	l.Unregister(h)
	l.Unregister(Handle{})

	assert.False(t, l.Registered(h))
	require.Len(t, ls.granted, 1)
	assert.EqualValues(t, 1, ls.granted[0].released.Load())
	assert.Equal(t, 1, src.ends)
}

func TestReRegisterReplaces(t *testing.T) {
	l, src, ls := newTestListener(t)
	first, firstCount := counter()
	second, secondCount := counter()

	h1, err := l.Register("Alt+Space", first)
	require.NoError(t, err)
	h2, err := l.Register("option+SPACE", second)
	require.NoError(t, err)

	assert.False(t, l.Registered(h1))
	assert.True(t, l.Registered(h2))
	assert.Len(t, ls.granted, 1, "replacement must not claim a second lease")
	assert.Equal(t, 1, src.starts)

	src.send(hook.KeyHold, vkAlt)
	src.send(hook.KeyHold, vkSpace)
	assert.Eventually(t, func() bool { return secondCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, firstCount())

	// The stale handle no longer controls the binding.
	l.Unregister(h1)
	assert.True(t, l.Registered(h2))
}

func TestRegisterConflict(t *testing.T) {
	l, _, ls := newTestListener(t)
	ls.held["hotkey:alt+space"] = true

	_, err := l.Register("Alt+Space", func() {})
	require.ErrorIs(t, err, failure.ErrHotkeyConflict)
	assert.ErrorIs(t, err, singleinstance.ErrOwned)
}

func TestRegisterWithoutAccessibility(t *testing.T) {
	src := &fakeSource{}
	ls := &leases{held: map[string]bool{}}
	l := NewListener(Options{Source: src, Claim: ls.claim, Access: func() bool { return false }})
	defer l.Close()

	_, err := l.Register("Alt+Space", func() {})
	require.ErrorIs(t, err, failure.ErrPermission)
	assert.Zero(t, src.starts)
	assert.Empty(t, ls.granted)
}

func TestRegisterInvalidCombo(t *testing.T) {
	l, _, _ := newTestListener(t)
	_, err := l.Register("Alt+Nope", func() {})
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
	_, err = l.Register("Alt+Space", nil)
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
}

func TestCloseReleasesAll(t *testing.T) {
	l, src, ls := newTestListener(t)
	_, err := l.Register("Alt+Space", func() {})
	require.NoError(t, err)
	_, err = l.Register("Ctrl+Shift+S", func() {})
	require.NoError(t, err)

	l.Close()
	for _, lease := range ls.granted {
		assert.EqualValues(t, 1, lease.released.Load())
	}
	assert.Equal(t, 1, src.ends)
}
