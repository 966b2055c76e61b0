// Package hotkey registers global key combinations over a low-level keyboard
// hook and emits one callback per physical activation.
package hotkey

import (
	"errors"
	"sync"

	hook "github.com/robotn/gohook"
	"github.com/rs/zerolog"

	"framesense/src/failure"
	"framesense/src/logutil"
	"framesense/src/singleinstance"
)

// Source delivers raw keyboard events. The signatures match gohook.
type Source interface {
	Start() chan hook.Event
	End()
}

type gohookSource struct{}

func (gohookSource) Start() chan hook.Event { return hook.Start() }
func (gohookSource) End()                   { hook.End() }

// Handle identifies one registration. The zero Handle is invalid.
type Handle struct {
	id    uint64
	combo string
}

// Combo returns the canonical combination the handle was issued for.
func (h Handle) Combo() string { return h.combo }

// Valid reports whether h was issued by Register.
func (h Handle) Valid() bool { return h.id != 0 }

// Options configures a Listener. Zero fields fall back to the OS hook and the
// loopback lease.
type Options struct {
	Source Source
	// Access reports the input-monitoring grant. Nil means always granted.
	Access func() bool
	// Claim takes a machine-wide lease on a combo name.
	Claim func(name string) (singleinstance.Lease, error)
}

type key struct {
	name     string
	keycodes []uint16
	rawcodes []uint16
	pressed  bool
}

func (k *key) matches(ev hook.Event) bool {
	if ev.Keycode != 0 && containsCode(k.keycodes, ev.Keycode) {
		return true
	}
	return matchRawcodes && containsCode(k.rawcodes, ev.Rawcode)
}

type binding struct {
	id    uint64
	combo Combo
	keys  []*key
	cb    func()
	lease singleinstance.Lease
	// armed is cleared when the binding fires and set again once any key of
	// the combo is released, so OS auto-repeat never fires twice.
	armed bool
}

// Listener owns the keyboard hook and every registered binding.
type Listener struct {
	source Source
	access func() bool
	claim  func(string) (singleinstance.Lease, error)

	mu       sync.Mutex
	bindings map[string]*binding
	byID     map[uint64]*binding
	nextID   uint64
	done     chan struct{}
	log      zerolog.Logger
}

// NewListener builds a Listener. The hook starts with the first Register.
func NewListener(opts Options) *Listener {
	l := &Listener{
		source:   opts.Source,
		access:   opts.Access,
		claim:    opts.Claim,
		bindings: make(map[string]*binding),
		byID:     make(map[uint64]*binding),
		log:      logutil.Component("hotkey"),
	}
	if l.source == nil {
		l.source = gohookSource{}
	}
	if l.claim == nil {
		l.claim = singleinstance.Claim
	}
	return l
}

// Register binds combo to cb. Registering a combo this listener already holds
// replaces its callback and invalidates the previous handle. cb runs on the
// hook goroutine and must not block.
func (l *Listener) Register(comboStr string, cb func()) (Handle, error) {
	if cb == nil {
		return Handle{}, failure.New(failure.KindInvalidArgument, "register hotkey", "nil callback")
	}
	combo, err := ParseCombo(comboStr)
	if err != nil {
		return Handle{}, err
	}
	if l.access != nil && !l.access() {
		return Handle{}, failure.New(failure.KindPermission, "register hotkey",
			"input monitoring permission is required for %s", combo)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	name := combo.String()
	l.nextID++
	if b, ok := l.bindings[name]; ok {
		delete(l.byID, b.id)
		b.id = l.nextID
		b.cb = cb
		l.byID[b.id] = b
		l.log.Info().Str("combo", name).Msg("hotkey callback replaced")
		return Handle{id: b.id, combo: name}, nil
	}

	lease, err := l.claim("hotkey:" + name)
	if err != nil {
		// Only ErrOwned means another process binds the combo; the rest is logged.
		if !errors.Is(err, singleinstance.ErrOwned) {
			l.log.Warn().Err(err).Str("combo", name).Msg("hotkey lease failed")
		}
		return Handle{}, failure.Wrap(failure.KindHotkeyConflict, "register hotkey "+name, err)
	}

	b := &binding{id: l.nextID, combo: combo, cb: cb, lease: lease, armed: true}
	for _, k := range combo.keys {
		b.keys = append(b.keys, &key{name: k, keycodes: keyCodes(k), rawcodes: keyNameToRawcodes(k)})
	}
	l.bindings[name] = b
	l.byID[b.id] = b
	l.startLocked()
	l.log.Info().Str("combo", name).Msg("hotkey registered")
	return Handle{id: b.id, combo: name}, nil
}

// Unregister releases h. Unknown or already released handles are ignored.
func (l *Listener) Unregister(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.byID[h.id]
	if !ok {
		return
	}
	l.removeLocked(b)
	if len(l.bindings) == 0 {
		l.stopLocked()
	}
}

// Registered reports whether h is still live.
func (l *Listener) Registered(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byID[h.id]
	return ok
}

// Close releases every binding and stops the hook.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.bindings {
		l.removeLocked(b)
	}
	l.stopLocked()
}

func (l *Listener) removeLocked(b *binding) {
	delete(l.byID, b.id)
	delete(l.bindings, b.combo.String())
	if b.lease != nil {
		if err := b.lease.Release(); err != nil {
			l.log.Warn().Err(err).Str("combo", b.combo.String()).Msg("release hotkey lease")
		}
	}
	l.log.Info().Str("combo", b.combo.String()).Msg("hotkey unregistered")
}

func (l *Listener) startLocked() {
	if l.done != nil {
		return
	}
	evChan := l.source.Start()
	if evChan == nil {
		l.log.Error().Msg("keyboard hook returned nil channel")
		return
	}
	l.done = make(chan struct{})
	go l.run(evChan, l.done)
	l.log.Debug().Msg("keyboard hook started")
}

func (l *Listener) stopLocked() {
	if l.done == nil {
		return
	}
	close(l.done)
	l.done = nil
	l.source.End()
	l.log.Debug().Msg("keyboard hook stopped")
}

func (l *Listener) run(evChan chan hook.Event, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("panic in hotkey goroutine")
		}
	}()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-evChan:
			if !ok {
				l.log.Debug().Msg("event channel closed")
				return
			}
			for _, cb := range l.dispatch(ev) {
				cb()
			}
		}
	}
}

// dispatch updates key state and returns the callbacks to invoke, outside
// the lock.
func (l *Listener) dispatch(ev hook.Event) []func() {
	var down bool
	switch ev.Kind {
	case hook.KeyDown, hook.KeyHold:
		down = true
	case hook.KeyUp:
	default:
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var fire []func()
	for _, b := range l.bindings {
		touched := false
		for _, k := range b.keys {
			if k.matches(ev) {
				k.pressed = down
				touched = true
			}
		}
		if !touched {
			continue
		}
		if !down {
			b.armed = true
			continue
		}
		if b.armed && b.allPressed() {
			b.armed = false
			l.log.Debug().Str("combo", b.combo.String()).Msg("hotkey activated")
			fire = append(fire, b.cb)
		}
	}
	return fire
}

func (b *binding) allPressed() bool {
	for _, k := range b.keys {
		if !k.pressed {
			return false
		}
	}
	return true
}
