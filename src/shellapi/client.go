package shellapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"framesense/src/clipboard"
	"framesense/src/failure"
	"framesense/src/notification"
	"framesense/src/permission"
	"framesense/src/screenshot"
)

// ErrBusy is returned by TryTrigger when the resident drops the request
// because a capture is already in flight.
var ErrBusy = errors.New("busy, please retry")

// Client talks to a running resident's shell API.
type Client struct {
	addr string
	base string
	http *http.Client
}

// NewClient returns a client for the API at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		addr: addr,
		base: "http://" + addr + "/api",
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// Health reports whether a framesense resident answers at the address.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var body struct {
		App string `json:"app"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &body); err != nil {
		return false
	}
	return body.App == AppName
}

// TryTrigger asks a running resident to start a capture sequence. delegated
// is false when no resident answers, so the caller can capture on its own.
func (c *Client) TryTrigger(ctx context.Context) (delegated bool, err error) {
	if !c.Health(ctx) {
		return false, nil
	}
	var body struct {
		Accepted bool `json:"accepted"`
	}
	err = c.do(ctx, http.MethodPost, "/trigger", nil, &body)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		return true, ErrBusy
	}
	if err != nil {
		return true, err
	}
	return true, nil
}

// Permissions returns the resident's view of the OS grants.
func (c *Client) Permissions(ctx context.Context) (permission.Status, error) {
	var st permission.Status
	err := c.do(ctx, http.MethodGet, "/permissions", nil, &st)
	return st, err
}

// RequestPermissions asks the resident to provoke the OS consent prompt.
func (c *Client) RequestPermissions(ctx context.Context) (bool, error) {
	var body struct {
		Granted bool `json:"granted"`
	}
	err := c.do(ctx, http.MethodPost, "/permissions/request", nil, &body)
	return body.Granted, err
}

// OpenSettings asks the resident to open the OS privacy settings.
func (c *Client) OpenSettings(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/permissions/settings", nil, nil)
}

// Capture captures bounds on the resident's screen.
func (c *Client) Capture(ctx context.Context, b screenshot.Bounds) (screenshot.Result, error) {
	var res screenshot.Result
	err := c.do(ctx, http.MethodPost, "/capture", b, &res)
	return res, err
}

// Copy publishes p to the resident's clipboard.
func (c *Client) Copy(ctx context.Context, p clipboard.Payload) error {
	return c.do(ctx, http.MethodPost, "/clipboard", p, nil)
}

// SetHotkey rebinds the trigger combo. Empty re-registers the configured one.
func (c *Client) SetHotkey(ctx context.Context, combo string) (string, error) {
	var body struct {
		Combo string `json:"combo"`
	}
	err := c.do(ctx, http.MethodPost, "/hotkey", map[string]string{"combo": combo}, &body)
	return body.Combo, err
}

// Status returns the resident's hotkey and orchestrator snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Events streams notifications to fn until ctx is done or the resident goes
// away.
func (c *Client) Events(ctx context.Context, fn func(notification.Event)) error {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/api/events"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	for {
		var ev notification.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(ev)
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body ErrorBody
}

func (e *StatusError) Error() string {
	if e.Body.Message != "" {
		return fmt.Sprintf("shell API: %d %s: %s", e.Code, e.Body.Kind, e.Body.Message)
	}
	return fmt.Sprintf("shell API: status %d", e.Code)
}

// Kind returns the failure kind carried by the response.
func (e *StatusError) Kind() failure.Kind { return e.Body.Kind }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &body)
	if err != nil {
		return err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		se := &StatusError{Code: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&se.Body)
		return se
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
