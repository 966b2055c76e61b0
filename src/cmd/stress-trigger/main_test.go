package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"framesense/src/shellapi"
)

func TestNewRootCmdDefaults(t *testing.T) {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags([]string{}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if opts.n != 50 {
		t.Fatalf("Expected default n=50, got %d", opts.n)
	}
	if opts.deadline != 5*time.Second {
		t.Fatalf("Expected default deadline=5s, got %v", opts.deadline)
	}
}

func TestNewRootCmdCustomFlags(t *testing.T) {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags([]string{"--n", "3", "--addr", "127.0.0.1:1", "--deadline", "7s"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if opts.n != 3 || opts.addr != "127.0.0.1:1" || opts.deadline != 7*time.Second {
		t.Fatalf("Unexpected options: %+v", *opts)
	}
}

func TestOnlyOneTriggerAccepted(t *testing.T) {
	var accepted atomic.Bool
	s := shellapi.NewServer(shellapi.Options{
		Trigger: func() bool { return accepted.CompareAndSwap(false, true) },
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c := runWithOptions(stressOptions{n: 20, addr: strings.TrimPrefix(ts.URL, "http://"), deadline: 5 * time.Second})
	if c.ok != 1 || c.busy != 19 || c.err != 0 || c.absent != 0 {
		t.Fatalf("Expected ok=1 busy=19, got %+v", c)
	}

	var out bytes.Buffer
	report(&out, 20, c, time.Second)
	if !strings.HasPrefix(out.String(), "launched=20 ok=1 busy=19 absent=0 err=0") {
		t.Fatalf("Unexpected report %q", out.String())
	}
}
