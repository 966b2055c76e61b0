// Package runtimeinit wires the resident's components from configuration.
package runtimeinit

import (
	"fmt"

	"framesense/src/clipboard"
	"framesense/src/commands"
	"framesense/src/config"
	"framesense/src/hotkey"
	"framesense/src/logutil"
	"framesense/src/notification"
	"framesense/src/orchestrator"
	"framesense/src/overlay"
	"framesense/src/permission"
	"framesense/src/screenshot"
	"framesense/src/shellapi"
	"framesense/src/singleinstance"
)

// Options controls Bootstrap. The backend fields exist for tests; nil means
// the OS implementation.
type Options struct {
	LoadOptions  config.LoadOptions
	SetupLogging func(*config.Config)

	Provider     permission.Provider
	Displays     screenshot.DisplaySource
	Grabber      screenshot.Grabber
	Clipboard    clipboard.Backend
	HotkeySource hotkey.Source
	Claim        func(name string) (singleinstance.Lease, error)

	// Notifiers receive every event next to the built-in ones.
	Notifiers    []notification.Notifier
	OnTransition func(from, to orchestrator.State)
}

// App is the wired resident.
type App struct {
	Config       *config.Config
	Oracle       *permission.Oracle
	Capturer     *screenshot.Capturer
	Sink         *clipboard.Sink
	Hotkeys      *hotkey.Listener
	Orchestrator *orchestrator.Orchestrator
	Commands     *commands.Service
	Server       *shellapi.Server
}

// Bootstrap loads configuration and builds every component. Nothing is
// started: the caller runs the orchestrator, registers the hotkey and serves
// the shell API.
func Bootstrap(opts Options) (*App, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.SetupLogging != nil {
		opts.SetupLogging(cfg)
	}
	return Build(cfg, opts)
}

// Build wires an App from an already loaded configuration.
func Build(cfg *config.Config, opts Options) (*App, error) {
	log := logutil.Component("runtimeinit")

	provider := opts.Provider
	if provider == nil {
		provider = permission.NewSystemProvider(permission.SystemOptions{SettingsCommand: cfg.SettingsCommand})
	}
	state := permission.NewState()
	oracle := permission.NewOracle(provider, state)

	capturer := screenshot.NewCapturer(screenshot.Options{
		Displays:      opts.Displays,
		Grabber:       opts.Grabber,
		Format:        cfg.ImageFormat,
		ScreenAllowed: provider.ScreenRecording,
	})

	sink := clipboard.NewSink(opts.Clipboard)

	selector, err := overlay.NewSelector(cfg.CaptureRegion, opts.Displays)
	if err != nil {
		return nil, fmt.Errorf("invalid capture region: %w", err)
	}

	listener := hotkey.NewListener(hotkey.Options{
		Source: opts.HotkeySource,
		Access: provider.Accessibility,
		Claim:  opts.Claim,
	})

	hub := shellapi.NewHub()
	notifiers := notification.Fanout{notification.NewLog(), hub}
	if cfg.EnableNotifications {
		notifiers = append(notifiers, notification.NewDesktop())
	}
	notifiers = append(notifiers, opts.Notifiers...)

	orch, err := orchestrator.New(orchestrator.Options{
		Oracle:       oracle,
		Capturer:     capturer,
		Sink:         sink,
		Selector:     selector,
		Notifier:     notifiers,
		StepTimeout:  cfg.CaptureTimeout(),
		AutoRequest:  cfg.AutoRequestPermissions,
		OnTransition: opts.OnTransition,
	})
	if err != nil {
		return nil, err
	}

	svc := commands.New(commands.Options{
		Oracle:   oracle,
		Capturer: capturer,
		Sink:     sink,
		Hotkeys:  listener,
		Trigger:  func() { orch.Fire() },
		Hotkey:   cfg.Hotkey,
		Timeout:  cfg.CaptureTimeout(),
	})

	server := shellapi.NewServer(shellapi.Options{
		Commands: svc,
		Trigger:  orch.Fire,
		Status:   orch.Snapshot,
		Hub:      hub,
	})

	log.Info().
		Str("hotkey", cfg.Hotkey).
		Str("format", string(cfg.ImageFormat)).
		Dur("step_timeout", cfg.CaptureTimeout()).
		Bool("shell_api", cfg.EnableShellAPI).
		Msg("framesense initialized")

	return &App{
		Config:       cfg,
		Oracle:       oracle,
		Capturer:     capturer,
		Sink:         sink,
		Hotkeys:      listener,
		Orchestrator: orch,
		Commands:     svc,
		Server:       server,
	}, nil
}

// Close releases the hotkey hook and every lease the App holds.
func (a *App) Close() {
	a.Commands.UnregisterGlobalHotkey()
	a.Hotkeys.Close()
	a.Server.Hub().Close()
}
