//go:build !linux && !darwin

package notification

import "github.com/rs/zerolog/log"

// showNative logs the notification; there is no native popup on this platform.
func showNative(title, message string, urgent bool) error {
	log.Info().Str("component", "notification").Bool("urgent", urgent).Str("title", title).Msg(message)
	return nil
}
