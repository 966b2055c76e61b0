//go:build darwin

package notification

import (
	"fmt"
	"os/exec"
	"strconv"
)

func showNative(title, message string, urgent bool) error {
	script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(message), strconv.Quote(title))
	if urgent {
		script += ` sound name "Basso"`
	}
	if out, err := exec.Command("osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, out)
	}
	return nil
}
