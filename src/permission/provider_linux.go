//go:build linux

package permission

import "os"

const defaultLinuxSettings = "gnome-control-center privacy"

// linuxProvider reflects what the X11 capture and XRecord hook backends need:
// an X display. Pure Wayland sessions route capture through the desktop portal,
// which these backends do not speak, so they report not granted.
type linuxProvider struct {
	launch   Launcher
	settings string
	getenv   func(string) string
}

// NewSystemProvider returns the Linux provider.
func NewSystemProvider(opts SystemOptions) Provider {
	settings := opts.SettingsCommand
	if settings == "" {
		settings = defaultLinuxSettings
	}
	return &linuxProvider{launch: opts.launcher(), settings: settings, getenv: os.Getenv}
}

func (p *linuxProvider) hasX11() bool { return p.getenv("DISPLAY") != "" }

func (p *linuxProvider) ScreenRecording() bool { return p.hasX11() }

func (p *linuxProvider) Accessibility() bool { return p.hasX11() }

// Request cannot prompt on Linux; the answer is whatever the session offers.
func (p *linuxProvider) Request() bool { return p.hasX11() }

func (p *linuxProvider) OpenSettings(section Section) error {
	name, args, ok := splitCommand(p.settings)
	if !ok {
		return errNoSettingsHandler
	}
	return p.launch(name, args...)
}
