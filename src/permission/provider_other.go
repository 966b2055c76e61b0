//go:build !linux && !windows && !(darwin && cgo)

package permission

type unsupportedProvider struct{}

// NewSystemProvider returns a provider that grants nothing; capture stays
// unavailable on platforms without a backend.
func NewSystemProvider(SystemOptions) Provider { return unsupportedProvider{} }

func (unsupportedProvider) ScreenRecording() bool { return false }

func (unsupportedProvider) Accessibility() bool { return false }

func (unsupportedProvider) Request() bool { return false }

func (unsupportedProvider) OpenSettings(Section) error { return errNoSettingsHandler }
