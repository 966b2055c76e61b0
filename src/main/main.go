package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"framesense/src/config"
	"framesense/src/failure"
	"framesense/src/logutil"
	"framesense/src/orchestrator"
	"framesense/src/runtimeinit"
	"framesense/src/screenshot"
	"framesense/src/shellapi"
	"framesense/src/singleinstance"
	"framesense/src/tray"
)

const residentLease = "framesense-resident"

type mainOptions struct {
	configFile string
	envFile    string
	hotkey     string
	runOnce    bool
	noTray     bool
	verbose    bool
}

func (o mainOptions) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFile: o.configFile, EnvFile: o.envFile, HotkeyOverride: o.hotkey}
}

func main() {
	// Ensure DPI awareness before querying display metrics.
	enableDPIAwareness()

	// The tray event loop must own the main thread on macOS.
	runtime.LockOSThread()

	if err := run(normalizeLegacyArgs(os.Args)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		args = []string{"framesense"}
	}
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "framesense",
		Short:         "Capture a screen region to the clipboard with a global hotkey",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.runOnce {
				return runOnce(cmd.Context(), *opts)
			}
			return runResident(*opts)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", "", "Config file (yaml, json or toml); watched for changes")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "Path to a .env file")
	cmd.Flags().StringVar(&opts.hotkey, "hotkey", "", "Global hotkey, e.g. Alt+Space (overrides config)")
	cmd.Flags().BoolVar(&opts.runOnce, "run-once", false, "Capture once, copy to clipboard and exit")
	cmd.Flags().BoolVar(&opts.noTray, "no-tray", false, "Do not show the tray icon")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr at debug level")

	return cmd
}

// normalizeLegacyArgs maps single-dash long flags (-run-once) to the
// double-dash form cobra expects.
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	legacy := []string{"run-once", "no-tray", "config", "env-file", "hotkey", "verbose"}
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range legacy {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}
	return normalized
}

func setupLogging(opts mainOptions) func(*config.Config) {
	return func(cfg *config.Config) {
		lo := logutil.Options{File: cfg.EnableFileLogging, Level: cfg.LogLevel}
		if opts.verbose {
			lo.Level = "debug"
			lo.Console = os.Stderr
		}
		logutil.Setup(lo)
	}
}

// triggerClient is the part of shellapi.Client used for delegation.
type triggerClient interface {
	TryTrigger(ctx context.Context) (bool, error)
}

// runOnce prefers delegating to a running resident and falls back to a
// standalone capture.
func runOnce(ctx context.Context, opts mainOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Load .env early so SHELL_ADDR is applied before delegation.
	cfg, err := config.LoadWithOptions(opts.loadOptions())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(opts)(cfg)

	return handleRunOnceWithDelegation(ctx, shellapi.NewClient(cfg.ShellAddr), func() error {
		return runStandalone(ctx, cfg)
	})
}

func handleRunOnceWithDelegation(ctx context.Context, client triggerClient, fallback func() error) error {
	delegated, err := client.TryTrigger(ctx)
	switch {
	case errors.Is(err, shellapi.ErrBusy):
		return fmt.Errorf("resident is busy with another capture: %w", err)
	case err != nil:
		log.Warn().Err(err).Msg("delegation failed, running standalone")
		return fallback()
	case delegated:
		log.Info().Msg("delegated to resident")
		return nil
	default:
		log.Info().Msg("no resident detected, running standalone")
		return fallback()
	}
}

// runStandalone runs one capture sequence in this process.
func runStandalone(ctx context.Context, cfg *config.Config) error {
	idle := make(chan struct{}, 1)
	app, err := runtimeinit.Build(cfg, runtimeinit.Options{
		OnTransition: func(from, to orchestrator.State) {
			if to == orchestrator.Idle {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer app.Close()
	logDisplays()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.Orchestrator.Run(ctx) }()

	if err := waitRunning(app.Orchestrator, done); err != nil {
		return err
	}

	if !app.Orchestrator.Fire() {
		return errors.New("capture could not start")
	}
	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	snap := app.Orchestrator.Snapshot()
	if snap.Completed == 0 {
		kind := snap.LastErrorKind
		if kind == "" {
			kind = failure.KindUnknown
		}
		return failure.New(kind, "run once", "%s", snap.LastError)
	}
	log.Info().Msg("capture copied to clipboard")
	return nil
}

func waitRunning(o *orchestrator.Orchestrator, done <-chan error) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(time.Second)
	for !o.Snapshot().Running {
		select {
		case <-deadline:
			return errors.New("orchestrator did not start")
		case err := <-done:
			return err
		case <-tick.C:
		}
	}
	return nil
}

func runResident(opts mainOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		current atomic.Pointer[runtimeinit.App]
		tr      *tray.Tray
	)

	cfg, err := config.Watch(ctx, opts.loadOptions(), func(next *config.Config, err error) {
		if err != nil {
			log.Error().Err(err).Msg("config reload rejected")
			return
		}
		if app := current.Load(); app != nil {
			applyReload(app, tr, next)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(opts)(cfg)

	lease, err := singleinstance.Claim(residentLease)
	if err != nil {
		if singleinstance.Held(ctx, residentLease) {
			fmt.Println("framesense is already running")
			return nil
		}
		return fmt.Errorf("single instance port %d: %w", singleinstance.PortFor(residentLease), err)
	}
	defer lease.Release()

	useTray := cfg.EnableTray && !opts.noTray
	if useTray {
		tr = tray.New(tray.Config{
			Hotkey:    cfg.Hotkey,
			OnCapture: func() {
				if app := current.Load(); app != nil {
					app.Orchestrator.Fire()
				}
			},
			OnGrant: func() {
				if app := current.Load(); app != nil {
					grantPermissions(app)
				}
			},
			OnExit:    stop,
		})
	}

	app, err := runtimeinit.Build(cfg, runtimeinit.Options{
		OnTransition: func(_, to orchestrator.State) {
			if tr != nil {
				tr.SetState(to)
			}
		},
	})
	if err != nil {
		return err
	}
	defer app.Close()
	current.Store(app)
	logDisplays()

	if err := app.Sink.Init(); err != nil {
		log.Error().Err(err).Msg("clipboard unavailable; captures will fail")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.Orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("orchestrator stopped")
		}
	}()

	if cfg.EnableShellAPI {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Server.ListenAndServe(ctx, cfg.ShellAddr); err != nil {
				log.Error().Err(err).Str("addr", cfg.ShellAddr).Msg("shell API stopped")
			}
		}()
	}

	if combo, err := app.Commands.RegisterGlobalHotkey(""); err != nil {
		log.Error().Err(err).Str("kind", string(failure.KindOf(err))).Msg("hotkey not registered")
	} else {
		log.Info().Str("hotkey", combo).Msg("hotkey registered")
	}

	if useTray {
		go func() {
			<-ctx.Done()
			tr.Quit()
		}()
		tr.Run()
		stop()
	} else {
		<-ctx.Done()
	}

	log.Info().Msg("shutting down")
	wg.Wait()
	return nil
}

// applyReload applies the settings that can change at runtime. The rest take
// effect on restart.
func applyReload(app *runtimeinit.App, tr *tray.Tray, next *config.Config) {
	if next.Hotkey == app.Config.Hotkey {
		log.Info().Msg("config reloaded; restart to apply changes other than the hotkey")
		return
	}
	combo, err := app.Commands.RegisterGlobalHotkey(next.Hotkey)
	if err != nil {
		log.Error().Err(err).Str("hotkey", next.Hotkey).Msg("new hotkey rejected, keeping the previous one")
		return
	}
	app.Config.Hotkey = next.Hotkey
	if tr != nil {
		tr.SetHotkey(next.Hotkey)
	}
	log.Info().Str("hotkey", combo).Msg("hotkey changed")
}

func grantPermissions(app *runtimeinit.App) {
	if app.Commands.RequestPermissions() {
		return
	}
	if err := app.Commands.OpenSystemPreferences(); err != nil {
		log.Error().Err(err).Msg("could not open system settings")
	}
}

func logDisplays() {
	rects, err := screenshot.SystemDisplays{}.Displays()
	if err != nil {
		log.Warn().Err(err).Msg("display enumeration failed")
		return
	}
	for i, r := range rects {
		log.Info().Int("display", i).Int("x", r.Min.X).Int("y", r.Min.Y).
			Int("w", r.Dx()).Int("h", r.Dy()).Msg("display detected")
	}
}
