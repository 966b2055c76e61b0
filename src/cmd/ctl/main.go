// Command framesense-ctl drives a running framesense resident through its
// shell API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"framesense/src/clipboard"
	"framesense/src/config"
	"framesense/src/notification"
	"framesense/src/overlay"
	"framesense/src/screenshot"
	"framesense/src/shellapi"
)

type ctlOptions struct {
	addr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(&ctlOptions{})
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *ctlOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "framesense-ctl",
		Short:         "Control a running framesense resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.addr != "" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			opts.addr = cfg.ShellAddr
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "Resident shell API address (default from SHELL_ADDR)")

	client := func() *shellapi.Client { return shellapi.NewClient(opts.addr) }

	root.AddCommand(
		newPermissionsCmd(client),
		newCaptureCmd(client),
		newCopyCmd(client),
		newHotkeyCmd(client),
		newTriggerCmd(client),
		newStatusCmd(client),
		newEventsCmd(client),
		newDisplaysCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPermissionsCmd(client func() *shellapi.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Show screen recording and accessibility grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Permissions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "request",
		Short: "Provoke the OS consent prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			granted, err := client().RequestPermissions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"granted": granted})
		},
	}, &cobra.Command{
		Use:   "settings",
		Short: "Open the OS privacy settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().OpenSettings(cmd.Context())
		},
	})
	return cmd
}

func newCaptureCmd(client func() *shellapi.Client) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "capture x,y,w,h",
		Short: "Capture a region and write the image to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := overlay.ParseRegion(args[0])
			if err != nil {
				return err
			}
			res, err := client().Capture(cmd.Context(), b)
			if err != nil {
				return err
			}
			if res.Clamped {
				fmt.Fprintf(cmd.ErrOrStderr(), "region clamped to %s\n", res.Bounds)
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(res.ImageData)
				return err
			}
			return os.WriteFile(out, res.ImageData, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file ('-' or empty for stdout)")
	return cmd
}

func newCopyCmd(client func() *shellapi.Client) *cobra.Command {
	var (
		file   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "copy [text]",
		Short: "Put text or an image file on the clipboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p clipboard.Payload
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				f, err := screenshot.ParseFormat(format)
				if err != nil {
					return err
				}
				p = clipboard.Image(data, f)
			case len(args) == 1:
				p = clipboard.Text(args[0])
			default:
				return errors.New("give text or --file")
			}
			return client().Copy(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Image file to copy")
	cmd.Flags().StringVar(&format, "format", "png", "Encoding of --file: png, bmp or tiff")
	return cmd
}

func newHotkeyCmd(client func() *shellapi.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "hotkey [combo]",
		Short: "Rebind the global hotkey; without a combo re-registers the configured one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var combo string
			if len(args) == 1 {
				combo = args[0]
			}
			bound, err := client().SetHotkey(cmd.Context(), combo)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), bound)
			return nil
		},
	}
}

func newTriggerCmd(client func() *shellapi.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Start a capture sequence as if the hotkey was pressed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			delegated, err := client().TryTrigger(cmd.Context())
			if err != nil {
				return err
			}
			if !delegated {
				return errors.New("no resident is running")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "accepted")
			return nil
		},
	}
}

func newStatusCmd(client func() *shellapi.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the hotkey and capture pipeline state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newEventsCmd(client func() *shellapi.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream notifications as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return client().Events(cmd.Context(), func(ev notification.Event) {
				_ = enc.Encode(ev)
			})
		},
	}
}

func newDisplaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "displays",
		Short: "List local displays in virtual-screen coordinates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rects, err := screenshot.SystemDisplays{}.Displays()
			if err != nil {
				return err
			}
			out := make([]screenshot.Bounds, 0, len(rects))
			for _, r := range rects {
				out = append(out, screenshot.FromRect(r))
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
