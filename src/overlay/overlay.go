// Package overlay provides the region-selection step that runs between the
// permission gate and the capture.
package overlay

import (
	"context"
	"strconv"
	"strings"

	"framesense/src/failure"
	"framesense/src/screenshot"
)

// Selector defines a synchronous region-selection API owned by the orchestrator.
// Returns (bounds, cancelled, error). If cancelled is true, bounds is undefined
// and err is nil.
type Selector interface {
	Select(ctx context.Context) (screenshot.Bounds, bool, error)
}

// Func adapts a function to Selector.
type Func func(ctx context.Context) (screenshot.Bounds, bool, error)

func (f Func) Select(ctx context.Context) (screenshot.Bounds, bool, error) { return f(ctx) }

// Fixed always selects the same region.
type Fixed screenshot.Bounds

func (f Fixed) Select(ctx context.Context) (screenshot.Bounds, bool, error) {
	if err := ctx.Err(); err != nil {
		return screenshot.Bounds{}, false, err
	}
	return screenshot.Bounds(f), false, nil
}

// PrimaryDisplay selects the whole of display 0.
type PrimaryDisplay struct {
	Displays screenshot.DisplaySource
}

func (p PrimaryDisplay) Select(ctx context.Context) (screenshot.Bounds, bool, error) {
	if err := ctx.Err(); err != nil {
		return screenshot.Bounds{}, false, err
	}
	b, err := screenshot.PrimaryDisplay(p.Displays)
	return b, false, err
}

// NewSelector returns a Fixed selector for region ("x,y,w,h") or the primary
// display selector when region is empty.
func NewSelector(region string, displays screenshot.DisplaySource) (Selector, error) {
	if strings.TrimSpace(region) == "" {
		return PrimaryDisplay{Displays: displays}, nil
	}
	b, err := ParseRegion(region)
	if err != nil {
		return nil, err
	}
	return Fixed(b), nil
}

// ParseRegion parses "x,y,w,h". x and y may be negative.
func ParseRegion(s string) (screenshot.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return screenshot.Bounds{}, failure.New(failure.KindInvalidArgument, "parse region", "want x,y,w,h, got %q", s)
	}
	var v [4]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return screenshot.Bounds{}, failure.Wrap(failure.KindInvalidArgument, "parse region", err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return screenshot.Bounds{}, failure.New(failure.KindInvalidBounds, "parse region", "width and height must be positive in %q", s)
	}
	return screenshot.Bounds{X: int32(v[0]), Y: int32(v[1]), Width: uint32(v[2]), Height: uint32(v[3])}, nil
}
