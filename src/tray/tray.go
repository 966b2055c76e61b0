// Package tray shows the resident in the system tray.
package tray

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"framesense/src/logutil"
	"framesense/src/orchestrator"
)

const appTitle = "framesense"

// Config wires the menu. Nil callbacks hide their entry.
type Config struct {
	Hotkey    string
	OnCapture func()
	OnGrant   func()
	OnExit    func()
}

// Tray owns the systray icon. Run must be called from the main goroutine on
// macOS.
type Tray struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	ready   bool
	state   orchestrator.State
	hotkey  string
	capture *systray.MenuItem
}

// New creates a tray; nothing is shown until Run.
func New(cfg Config) *Tray {
	return &Tray{cfg: cfg, hotkey: cfg.Hotkey, log: logutil.Component("tray")}
}

// Run blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// SetState reflects the orchestrator state in the tooltip and disables the
// capture entry while a sequence runs.
func (t *Tray) SetState(s orchestrator.State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.refresh()
}

// SetHotkey updates the combo shown in the tooltip.
func (t *Tray) SetHotkey(combo string) {
	t.mu.Lock()
	t.hotkey = combo
	t.mu.Unlock()
	t.refresh()
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return
	}
	systray.SetTooltip(tooltipFor(t.hotkey, t.state))
	if t.capture != nil {
		if t.state == orchestrator.Idle {
			t.capture.Enable()
		} else {
			t.capture.Disable()
		}
	}
}

func (t *Tray) onReady() {
	systray.SetIcon(Icon())
	systray.SetTitle(appTitle)

	var capture, grant *systray.MenuItem
	if t.cfg.OnCapture != nil {
		capture = systray.AddMenuItem("Capture region", "Capture the screen region to the clipboard")
	}
	if t.cfg.OnGrant != nil {
		grant = systray.AddMenuItem("Grant permissions...", "Open the privacy settings")
	}
	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "Quit framesense")

	t.mu.Lock()
	t.ready = true
	t.capture = capture
	t.mu.Unlock()
	t.refresh()
	t.log.Info().Msg("tray ready")

	go func() {
		for {
			select {
			case <-clicked(capture):
				t.cfg.OnCapture()
			case <-clicked(grant):
				t.cfg.OnGrant()
			case <-quit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {
	t.mu.Lock()
	t.ready = false
	t.mu.Unlock()
	if t.cfg.OnExit != nil {
		t.cfg.OnExit()
	}
}

// clicked returns a channel that never fires for a hidden entry.
func clicked(m *systray.MenuItem) <-chan struct{} {
	if m == nil {
		return nil
	}
	return m.ClickedCh
}

func tooltipFor(hotkey string, s orchestrator.State) string {
	switch s {
	case orchestrator.PermissionPending:
		return appTitle + ": checking permissions..."
	case orchestrator.Capturing:
		return appTitle + ": capturing..."
	case orchestrator.Delivering:
		return appTitle + ": copying to clipboard..."
	case orchestrator.Denied:
		return appTitle + ": permission required"
	case orchestrator.Failed:
		return appTitle + ": capture failed"
	}
	if hotkey == "" {
		return appTitle
	}
	return fmt.Sprintf("%s - Press %s to capture", appTitle, hotkey)
}

var (
	iconOnce sync.Once
	iconPNG  []byte
)

// Icon returns the 16x16 tray icon: a dashed selection frame.
func Icon() []byte {
	iconOnce.Do(func() {
		const size = 16
		img := image.NewNRGBA(image.Rect(0, 0, size, size))
		frame := color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}
		fill := color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0x40}
		for y := 3; y <= 12; y++ {
			for x := 2; x <= 13; x++ {
				edge := x == 2 || x == 13 || y == 3 || y == 12
				switch {
				case edge && (x+y)%3 != 0:
					img.SetNRGBA(x, y, frame)
				case !edge:
					img.SetNRGBA(x, y, fill)
				}
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err == nil {
			iconPNG = buf.Bytes()
		}
	})
	return iconPNG
}
