// Package enhance crops the plate region out of a vehicle photo and produces
// a magnified, sharpened image of it. Everything here is deterministic; the
// only inputs are the encoded image and a normalized region.
package enhance

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register WEBP decoder
)

const (
	padXRatio = 0.15
	padYRatio = 0.12

	minCropWidth  = 100
	minCropHeight = 40

	zoomFactor     = 2.5
	maxOutputWidth = 1200

	jpegQuality = 95
)

// ErrNoRegion means no usable plate region was supplied. It is an expected
// outcome, not a processing failure.
var ErrNoRegion = errors.New("no plate region available")

// Region is the plate's bounding box as fractions of the image dimensions.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Valid reports whether the region describes a usable rectangle.
func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Result is an enhanced plate crop. Note carries an advisory message when
// the output deviates from the ideal (e.g. sharpening was skipped).
type Result struct {
	Data []byte
	MIME string
	Note string
}

// Enhance crops region out of the encoded image, magnifies it and applies an
// unsharp mask. The output is encoded in the same family as the source MIME
// type.
func Enhance(data []byte, mimeType string, region Region) (*Result, error) {
	if !region.Valid() {
		return nil, ErrNoRegion
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	rect := cropRect(region, bounds.Dx(), bounds.Dy())
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, ErrNoRegion
	}

	outW, outH := outputSize(rect.Dx(), rect.Dy())
	cropped := imaging.Crop(img, rect)
	resized := imaging.Resize(cropped, outW, outH, imaging.CatmullRom)

	sharpened, note := sharpen(resized)

	encoded, outMIME, encodeNote, err := encode(sharpened, mimeType)
	if err != nil {
		return nil, err
	}

	return &Result{
		Data: encoded,
		MIME: outMIME,
		Note: joinNotes(note, encodeNote),
	}, nil
}

// cropRect converts the normalized region to pixel coordinates, applies the
// asymmetric padding, clamps to the image bounds and enforces the minimum
// crop size. The result never extends outside the source image.
func cropRect(r Region, w, h int) image.Rectangle {
	px := r.X * float64(w)
	py := r.Y * float64(h)
	pw := r.Width * float64(w)
	ph := r.Height * float64(h)

	padX := pw * padXRatio
	padY := ph * padYRatio

	rect := image.Rect(
		int(math.Floor(px-padX)),
		int(math.Floor(py-padY)),
		int(math.Ceil(px+pw+padX)),
		int(math.Ceil(py+ph+padY)),
	)
	rect = rect.Intersect(image.Rect(0, 0, w, h))
	if rect.Empty() {
		return image.Rectangle{}
	}

	minX, maxX := growSpan(rect.Min.X, rect.Max.X, minCropWidth, w)
	minY, maxY := growSpan(rect.Min.Y, rect.Max.Y, minCropHeight, h)
	return image.Rect(minX, minY, maxX, maxY)
}

// growSpan widens [lo, hi) around its center until it is at least min long,
// then shifts and clamps it back inside [0, bound).
func growSpan(lo, hi, min, bound int) (int, int) {
	size := hi - lo
	if size >= min {
		return lo, hi
	}
	extra := min - size
	lo -= extra / 2
	hi += extra - extra/2
	if lo < 0 {
		hi -= lo
		lo = 0
	}
	if hi > bound {
		lo -= hi - bound
		hi = bound
	}
	if lo < 0 {
		lo = 0
	}
	return lo, hi
}

// outputSize scales the crop by the zoom factor, capping the output width.
// The aspect ratio of the crop is preserved exactly.
func outputSize(cw, ch int) (int, int) {
	scale := zoomFactor
	if float64(cw)*scale > maxOutputWidth {
		scale = maxOutputWidth / float64(cw)
	}
	outW := int(math.Round(float64(cw) * scale))
	outH := int(math.Round(float64(ch) * scale))
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}

// sharpen applies a fixed 3x3 unsharp mask: center 1.4, orthogonal
// neighbors -0.1, corners 0. The kernel weights sum to 1.0, so flat regions
// are unchanged. Border pixels are copied unfiltered and the alpha channel
// passes through. When the image is too small for the kernel the unsharpened
// input is returned with a note.
func sharpen(src *image.NRGBA) (*image.NRGBA, string) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return src, "crop too small to sharpen"
	}

	dst := imaging.Clone(src)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*src.Stride + x*4
			for c := 0; c < 3; c++ {
				center := float64(src.Pix[i+c])
				up := float64(src.Pix[i-src.Stride+c])
				down := float64(src.Pix[i+src.Stride+c])
				left := float64(src.Pix[i-4+c])
				right := float64(src.Pix[i+4+c])
				dst.Pix[i+c] = clampByte(1.4*center - 0.1*(up+down+left+right))
			}
		}
	}
	return dst, ""
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// encode writes the image in the same family as the source MIME type. WEBP
// has no Go encoder, so WEBP sources come back as lossless PNG with a note.
func encode(img image.Image, mimeType string) ([]byte, string, string, error) {
	var buf bytes.Buffer
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", "", fmt.Errorf("encoding jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", "", nil
	case "image/png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", "", fmt.Errorf("encoding png: %w", err)
		}
		return buf.Bytes(), "image/png", "", nil
	case "image/gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, "", "", fmt.Errorf("encoding gif: %w", err)
		}
		return buf.Bytes(), "image/gif", "", nil
	case "image/webp":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", "", fmt.Errorf("encoding png: %w", err)
		}
		return buf.Bytes(), "image/png", "webp source re-encoded as png", nil
	default:
		return nil, "", "", fmt.Errorf("unsupported image format: %s", mimeType)
	}
}

func joinNotes(notes ...string) string {
	var parts []string
	for _, n := range notes {
		if n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "; ")
}
