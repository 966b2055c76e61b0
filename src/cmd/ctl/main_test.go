package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesense/src/clipboard"
	"framesense/src/orchestrator"
	"framesense/src/permission"
	"framesense/src/screenshot"
	"framesense/src/shellapi"
)

type fakeCommands struct {
	mu     sync.Mutex
	copied []clipboard.Payload
	combo  string
}

func (f *fakeCommands) CheckPermissions() permission.Status {
	return permission.Status{ScreenRecording: true}
}
func (f *fakeCommands) RequestPermissions() bool     { return true }
func (f *fakeCommands) OpenSystemPreferences() error { return nil }

func (f *fakeCommands) CaptureScreenRegion(_ context.Context, b screenshot.Bounds) (screenshot.Result, error) {
	return screenshot.Result{ImageData: []byte("PNGDATA"), Format: screenshot.FormatPNG, Bounds: b}, nil
}

func (f *fakeCommands) CopyToClipboard(_ context.Context, p clipboard.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copied = append(f.copied, p)
	return nil
}

func (f *fakeCommands) RegisterGlobalHotkey(combo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.combo = strings.ToLower(combo)
	return f.combo, nil
}

func (f *fakeCommands) Hotkey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.combo
}

func startResident(t *testing.T, cmds *fakeCommands) string {
	t.Helper()
	s := shellapi.NewServer(shellapi.Options{
		Commands: cmds,
		Trigger:  func() bool { return true },
		Status:   func() orchestrator.Snapshot { return orchestrator.Snapshot{State: orchestrator.Idle, Running: true} },
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return strings.TrimPrefix(ts.URL, "http://")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(&ctlOptions{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPermissions(t *testing.T) {
	addr := startResident(t, &fakeCommands{})

	out, err := execute(t, "--addr", addr, "permissions")
	require.NoError(t, err)
	var st permission.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.ScreenRecording)
	assert.False(t, st.Accessibility)

	out, err = execute(t, "--addr", addr, "permissions", "request")
	require.NoError(t, err)
	assert.JSONEq(t, `{"granted":true}`, out)
}

func TestCaptureToFile(t *testing.T) {
	addr := startResident(t, &fakeCommands{})
	file := filepath.Join(t.TempDir(), "shot.png")

	_, err := execute(t, "--addr", addr, "capture", "0,0,10,10", "-o", file)
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	_, err = execute(t, "--addr", addr, "capture", "0,0,0,10")
	assert.Error(t, err)
}

func TestCopyAndHotkey(t *testing.T) {
	cmds := &fakeCommands{}
	addr := startResident(t, cmds)

	_, err := execute(t, "--addr", addr, "copy", "hello")
	require.NoError(t, err)
	cmds.mu.Lock()
	copied := append([]clipboard.Payload(nil), cmds.copied...)
	cmds.mu.Unlock()
	require.Len(t, copied, 1)
	assert.Equal(t, "hello", copied[0].Text)

	_, err = execute(t, "--addr", addr, "copy")
	assert.Error(t, err)

	out, err := execute(t, "--addr", addr, "hotkey", "Ctrl+Q")
	require.NoError(t, err)
	assert.Equal(t, "ctrl+q\n", out)

	out, err = execute(t, "--addr", addr, "status")
	require.NoError(t, err)
	var st shellapi.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "ctrl+q", st.Hotkey)
}

func TestTrigger(t *testing.T) {
	addr := startResident(t, &fakeCommands{})
	out, err := execute(t, "--addr", addr, "trigger")
	require.NoError(t, err)
	assert.Equal(t, "accepted\n", out)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := lis.Addr().String()
	require.NoError(t, lis.Close())

	_, err = execute(t, "--addr", dead, "trigger")
	assert.EqualError(t, err, "no resident is running")
}
