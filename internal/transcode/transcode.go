// Package transcode turns an in-memory source image into a bounded,
// lossy-compressed WebP buffer. It never upscales.
package transcode

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Default output bounds per image category.
var (
	HeroBounds    = Bounds{MaxWidth: 1920, MaxHeight: 1080}
	ProductBounds = Bounds{MaxWidth: 800, MaxHeight: 800}
)

// DefaultQuality is the re-encode quality used when the caller passes 0.
const DefaultQuality = 0.85

// Bounds caps the output dimensions. Aspect ratio is always preserved, so
// the output may be smaller than the bounds on one axis.
type Bounds struct {
	MaxWidth  int
	MaxHeight int
}

// Result is the re-encoded image.
type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Error reports a fatal decode/render/encode failure. None are retryable.
type Error struct {
	Stage string // "decode", "resize" or "encode"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Dimensions reads the natural width and height without decoding the full
// raster.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, &Error{Stage: "decode", Err: err}
	}
	return cfg.Width, cfg.Height, nil
}

// WebP decodes data, downscales it to fit within b, and re-encodes it as
// lossy WebP at quality (in (0,1], 0 means DefaultQuality).
func WebP(data []byte, b Bounds, quality float64) (*Result, error) {
	if quality == 0 {
		quality = DefaultQuality
	}
	if quality < 0 || quality > 1 {
		return nil, &Error{Stage: "encode", Err: fmt.Errorf("quality %v out of range (0,1]", quality)}
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Stage: "decode", Err: err}
	}

	bounds := src.Bounds()
	natW := bounds.Dx()
	natH := bounds.Dy()
	if natW == 0 || natH == 0 {
		return nil, &Error{Stage: "decode", Err: fmt.Errorf("empty image %dx%d", natW, natH)}
	}

	w, h := fit(natW, natH, b)

	out := src
	if w != natW || h != natH {
		out = imaging.Resize(src, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	opts := &webp.Options{Lossless: false, Quality: encoderQuality(quality)}
	if err := webp.Encode(&buf, out, opts); err != nil {
		return nil, &Error{Stage: "encode", Err: err}
	}
	if buf.Len() == 0 {
		return nil, &Error{Stage: "encode", Err: fmt.Errorf("encoder produced no data")}
	}

	return &Result{Data: buf.Bytes(), Width: w, Height: h}, nil
}

// fit computes the single uniform scale factor min(1, maxW/natW, maxH/natH)
// and applies it to both axes, rounding to the nearest pixel.
func fit(natW, natH int, b Bounds) (int, int) {
	scale := 1.0
	if b.MaxWidth > 0 {
		scale = math.Min(scale, float64(b.MaxWidth)/float64(natW))
	}
	if b.MaxHeight > 0 {
		scale = math.Min(scale, float64(b.MaxHeight)/float64(natH))
	}
	if scale >= 1 {
		return natW, natH
	}
	w := int(math.Round(float64(natW) * scale))
	h := int(math.Round(float64(natH) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// encoderQuality maps the (0,1] hint to the encoder's percent scale.
func encoderQuality(q float64) float32 {
	p := math.Round(q * 100)
	if p < 1 {
		p = 1
	}
	if p > 100 {
		p = 100
	}
	return float32(p)
}
