package notification

import (
	"github.com/rs/zerolog"

	"framesense/src/logutil"
)

const appName = "framesense"

// displayLimit bounds the message shown in a desktop popup.
const displayLimit = 200

// truncate cuts s to at most limit runes so the result stays valid UTF-8.
func truncate(s string, limit int) string {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// Desktop shows events as OS notifications. Delivery happens on a background
// goroutine; failures are logged and never reach the caller.
type Desktop struct {
	show func(title, message string, urgent bool) error
	log  zerolog.Logger
}

// NewDesktop returns the platform desktop notifier.
func NewDesktop() *Desktop {
	return &Desktop{show: showNative, log: logutil.Component("notification")}
}

func (d *Desktop) Notify(ev Event) {
	if ev.Kind == KindInfo {
		return
	}
	text := truncate(ev.Message, displayLimit)
	urgent := ev.Kind == KindCaptureFailed || ev.Kind == KindPermissionRequired
	go func() {
		if err := d.show(ev.Title, text, urgent); err != nil {
			d.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("failed to show notification")
		}
	}()
}
