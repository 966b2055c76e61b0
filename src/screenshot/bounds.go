package screenshot

import (
	"fmt"
	"image"
	"math"

	"framesense/src/failure"
)

// Bounds is a region in virtual-screen coordinates. X and Y may be negative
// when a display sits left of or above the primary one.
type Bounds struct {
	X      int32  `json:"x"`
	Y      int32  `json:"y"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (b Bounds) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", b.Width, b.Height, b.X, b.Y)
}

// Validate checks the positive-size invariant.
func (b Bounds) Validate() error {
	if b.Width == 0 || b.Height == 0 {
		return failure.New(failure.KindInvalidBounds, "validate bounds", "region %s has zero width or height", b)
	}
	return nil
}

// Rect converts b to an image.Rectangle. Extents past the int32 range are
// saturated; no display can reach them.
func (b Bounds) Rect() image.Rectangle {
	x0, y0 := int64(b.X), int64(b.Y)
	x1 := saturate(x0 + int64(b.Width))
	y1 := saturate(y0 + int64(b.Height))
	return image.Rect(int(x0), int(y0), int(x1), int(y1))
}

// FromRect converts a non-empty rectangle back to Bounds.
func FromRect(r image.Rectangle) Bounds {
	return Bounds{
		X:      int32(r.Min.X),
		Y:      int32(r.Min.Y),
		Width:  uint32(r.Dx()),
		Height: uint32(r.Dy()),
	}
}

func saturate(v int64) int64 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return v
}

// Clamp fits req to the visible area. The result is the bounding box of req's
// intersections with every display; a region spanning two displays stays one
// capture. It fails with InvalidBounds when req touches no display.
func Clamp(req image.Rectangle, displays []image.Rectangle) (image.Rectangle, error) {
	if req.Empty() {
		return image.Rectangle{}, failure.New(failure.KindInvalidBounds, "clamp", "empty region %v", req)
	}
	var out image.Rectangle
	for _, d := range displays {
		in := req.Intersect(d)
		if in.Empty() {
			continue
		}
		out = out.Union(in)
	}
	if out.Empty() {
		return image.Rectangle{}, failure.New(failure.KindInvalidBounds, "clamp", "region %v lies outside every display", req)
	}
	return out, nil
}
