package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"framesense/src/config"
	"framesense/src/shellapi"
)

type stressOptions struct {
	n        int
	addr     string
	deadline time.Duration
}

type counts struct {
	ok, busy, absent, err int32
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-trigger",
		Short:         "Fire concurrent capture triggers at a resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.addr == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				opts.addr = cfg.ShellAddr
			}
			start := time.Now()
			c := runWithOptions(*opts)
			report(cmd.OutOrStdout(), opts.n, c, time.Since(start))
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of concurrent triggers")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "resident shell API address (default from SHELL_ADDR)")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-trigger timeout")

	return cmd
}

// runWithOptions fires opts.n triggers at once. A healthy resident accepts
// exactly one and reports the rest busy.
func runWithOptions(opts stressOptions) counts {
	var (
		wg sync.WaitGroup
		c  counts
	)
	client := shellapi.NewClient(opts.addr)
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), opts.deadline)
			defer cancel()
			delegated, err := client.TryTrigger(ctx)
			switch {
			case errors.Is(err, shellapi.ErrBusy):
				atomic.AddInt32(&c.busy, 1)
			case err != nil:
				atomic.AddInt32(&c.err, 1)
			case !delegated:
				atomic.AddInt32(&c.absent, 1)
			default:
				atomic.AddInt32(&c.ok, 1)
			}
		}()
	}
	wg.Wait()
	return c
}

func report(w io.Writer, n int, c counts, elapsed time.Duration) {
	fmt.Fprintf(w, "launched=%d ok=%d busy=%d absent=%d err=%d elapsed=%s\n", n, c.ok, c.busy, c.absent, c.err, elapsed)
}
