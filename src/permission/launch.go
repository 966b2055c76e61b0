package permission

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var errNoSettingsHandler = errors.New("no privacy settings handler on this platform")

// Launcher starts an external program without waiting for it to exit.
type Launcher func(name string, args ...string) error

// SystemOptions configures the platform provider.
type SystemOptions struct {
	// SettingsCommand overrides the privacy-panel launcher where the platform
	// has no canonical one (Linux). Split on whitespace.
	SettingsCommand string
	// Launch replaces the process launcher. Tests use it.
	Launch Launcher
}

func execLaunch(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (o SystemOptions) launcher() Launcher {
	if o.Launch != nil {
		return o.Launch
	}
	return execLaunch
}

func splitCommand(cmdline string) (string, []string, bool) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}
