package main

import (
	"context"
	"errors"
	"testing"

	"framesense/src/shellapi"
)

func TestNormalizeLegacyArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		out  []string
	}{
		{
			name: "Normalizes long single dash flags",
			in:   []string{"framesense", "-run-once", "-config", "/tmp/fs.yaml"},
			out:  []string{"framesense", "--run-once", "--config", "/tmp/fs.yaml"},
		},
		{
			name: "Normalizes equals form",
			in:   []string{"framesense", "-run-once=true", "-hotkey=Ctrl+Q"},
			out:  []string{"framesense", "--run-once=true", "--hotkey=Ctrl+Q"},
		},
		{
			name: "Leaves other flags unchanged",
			in:   []string{"framesense", "--run-once", "-v", "--other", "-hotkeys"},
			out:  []string{"framesense", "--run-once", "-v", "--other", "-hotkeys"},
		},
		{
			name: "Does not touch the program name",
			in:   []string{"-config"},
			out:  []string{"-config"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeLegacyArgs(tt.in)
			if len(got) != len(tt.out) {
				t.Fatalf("Expected len=%d, got %d", len(tt.out), len(got))
			}
			for i := range got {
				if got[i] != tt.out[i] {
					t.Fatalf("Expected arg[%d]=%q, got %q", i, tt.out[i], got[i])
				}
			}
		})
	}
}

func TestNewRootCmdParsesFlags(t *testing.T) {
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags([]string{"--run-once", "--config", "/tmp/fs.yaml", "--hotkey", "Ctrl+Q", "--no-tray", "-v"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if !opts.runOnce {
		t.Fatal("Expected runOnce=true")
	}
	if !opts.noTray || !opts.verbose {
		t.Fatal("Expected noTray and verbose")
	}
	lo := opts.loadOptions()
	if lo.ConfigFile != "/tmp/fs.yaml" {
		t.Fatalf("Expected ConfigFile=/tmp/fs.yaml, got %q", lo.ConfigFile)
	}
	if lo.HotkeyOverride != "Ctrl+Q" {
		t.Fatalf("Expected HotkeyOverride=Ctrl+Q, got %q", lo.HotkeyOverride)
	}
}

type fakeClient struct {
	delegated bool
	err       error
	called    bool
}

func (f *fakeClient) TryTrigger(ctx context.Context) (bool, error) {
	f.called = true
	return f.delegated, f.err
}

func TestHandleRunOnceWithDelegation_Delegated(t *testing.T) {
	client := &fakeClient{delegated: true}
	fallbackCalled := false

	err := handleRunOnceWithDelegation(context.Background(), client, func() error {
		fallbackCalled = true
		return nil
	})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !client.called {
		t.Fatal("Expected client.TryTrigger to be called")
	}
	if fallbackCalled {
		t.Fatal("Did not expect fallback when delegation succeeds")
	}
}

func TestHandleRunOnceWithDelegation_NoResidentFallback(t *testing.T) {
	client := &fakeClient{delegated: false}
	fallbackErr := errors.New("capture failed")

	err := handleRunOnceWithDelegation(context.Background(), client, func() error {
		return fallbackErr
	})

	if !errors.Is(err, fallbackErr) {
		t.Fatalf("Expected fallback error, got %v", err)
	}
}

func TestHandleRunOnceWithDelegation_DelegationErrorFallback(t *testing.T) {
	client := &fakeClient{err: errors.New("connection reset")}
	fallbackCalled := false

	_ = handleRunOnceWithDelegation(context.Background(), client, func() error {
		fallbackCalled = true
		return nil
	})

	if !fallbackCalled {
		t.Fatal("Expected fallback when delegation returns an error")
	}
}

func TestHandleRunOnceWithDelegation_BusyDoesNotFallBack(t *testing.T) {
	client := &fakeClient{delegated: true, err: shellapi.ErrBusy}
	fallbackCalled := false

	err := handleRunOnceWithDelegation(context.Background(), client, func() error {
		fallbackCalled = true
		return nil
	})

	if !errors.Is(err, shellapi.ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}
	if fallbackCalled {
		t.Fatal("Did not expect a standalone capture while the resident is busy")
	}
}
