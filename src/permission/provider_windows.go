//go:build windows

package permission

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Windows has no per-app gate for GDI capture or low-level keyboard hooks.
type windowsProvider struct {
	launch Launcher
}

// NewSystemProvider returns the Windows provider.
func NewSystemProvider(opts SystemOptions) Provider {
	return &windowsProvider{launch: opts.Launch}
}

func (p *windowsProvider) ScreenRecording() bool { return true }

func (p *windowsProvider) Accessibility() bool { return true }

func (p *windowsProvider) Request() bool { return true }

func (p *windowsProvider) OpenSettings(section Section) error {
	uri := "ms-settings:privacy"
	if section == SectionAccessibility {
		uri = "ms-settings:easeofaccess-keyboard"
	}
	if p.launch != nil {
		return p.launch("explorer.exe", uri)
	}
	return shellOpen(uri)
}

func shellOpen(target string) error {
	verb, err := windows.UTF16PtrFromString("open")
	if err != nil {
		return err
	}
	file, err := windows.UTF16PtrFromString(target)
	if err != nil {
		return err
	}
	if err := windows.ShellExecute(0, verb, file, nil, nil, windows.SW_SHOWNORMAL); err != nil {
		return fmt.Errorf("shell open %s: %w", target, err)
	}
	return nil
}
