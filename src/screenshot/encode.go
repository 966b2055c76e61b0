package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"framesense/src/failure"
)

// Format is an image encoding for captured regions.
type Format string

const (
	FormatPNG  Format = "png"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// ParseFormat accepts png, bmp, tiff (and tif). Empty means png.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "bmp":
		return FormatBMP, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return "", failure.New(failure.KindInvalidArgument, "parse image format", "unsupported image format %q", s)
	}
}

// MIME returns the media type for f.
func (f Format) MIME() string {
	switch f {
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// Encode writes img in format f.
func Encode(img image.Image, f Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case FormatPNG, "":
		err = png.Encode(&buf, img)
	case FormatBMP:
		err = bmp.Encode(&buf, img)
	case FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return nil, failure.New(failure.KindInvalidArgument, "encode", "unsupported image format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image as %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

// ToPNG re-encodes data from format f to PNG. PNG input is returned as is.
func ToPNG(data []byte, f Format) ([]byte, error) {
	if f == FormatPNG || f == "" {
		return data, nil
	}
	var img image.Image
	var err error
	switch f {
	case FormatBMP:
		img, err = bmp.Decode(bytes.NewReader(data))
	case FormatTIFF:
		img, err = tiff.Decode(bytes.NewReader(data))
	default:
		return nil, failure.New(failure.KindInvalidArgument, "convert image", "unsupported image format %q", f)
	}
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidArgument, "decode "+string(f), err)
	}
	return Encode(img, FormatPNG)
}
