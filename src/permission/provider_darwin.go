//go:build darwin && cgo

package permission

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation -framework CoreGraphics
#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>
#include <CoreGraphics/CoreGraphics.h>

static int axTrusted(int prompt) {
    CFMutableDictionaryRef opts = CFDictionaryCreateMutable(NULL, 0, NULL, NULL);
    CFDictionarySetValue(opts, kAXTrustedCheckOptionPrompt, prompt ? kCFBooleanTrue : kCFBooleanFalse);
    Boolean trusted = AXIsProcessTrustedWithOptions(opts);
    CFRelease(opts);
    return trusted ? 1 : 0;
}

static int screenPreflight() {
    return CGPreflightScreenCaptureAccess() ? 1 : 0;
}

static int screenRequest() {
    return CGRequestScreenCaptureAccess() ? 1 : 0;
}
*/
import "C"

const settingsURLPrefix = "x-apple.systempreferences:com.apple.preference.security?"

type darwinProvider struct {
	launch Launcher
}

// NewSystemProvider returns the macOS provider backed by CoreGraphics and
// the accessibility trust API.
func NewSystemProvider(opts SystemOptions) Provider {
	return &darwinProvider{launch: opts.launcher()}
}

func (p *darwinProvider) ScreenRecording() bool { return C.screenPreflight() != 0 }

func (p *darwinProvider) Accessibility() bool { return C.axTrusted(0) != 0 }

// Request shows both consent prompts. macOS only reports true when the grant
// already exists; a fresh grant needs the user to act in System Settings.
func (p *darwinProvider) Request() bool {
	screen := C.screenRequest() != 0
	ax := C.axTrusted(1) != 0
	return screen && ax
}

func (p *darwinProvider) OpenSettings(section Section) error {
	anchor := "Privacy_ScreenCapture"
	if section == SectionAccessibility {
		anchor = "Privacy_Accessibility"
	}
	return p.launch("open", settingsURLPrefix+anchor)
}
