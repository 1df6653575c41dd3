package analysis

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // register WEBP decoder

	"github.com/zombor/plate-watch/internal/vision"
)

// supportedFormats is the set of encodings the pipeline accepts.
var supportedFormats = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// prepareImage normalizes the declared MIME type, converts PDF and HEIC
// uploads to PNG, and verifies the bytes actually decode. All rejection
// happens here, before any provider call.
func prepareImage(data []byte, contentType string) (vision.Image, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}

	// Camera and phone exports the model APIs cannot consume directly are
	// rendered to PNG first.
	switch {
	case mimeType == "application/pdf":
		pngData, err := pdfToPNG(data)
		if err != nil {
			return vision.Image{}, &ValidationError{Reason: fmt.Sprintf("rendering PDF: %v", err)}
		}
		data, mimeType = pngData, "image/png"
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		pngData, err := heicToPNG(data)
		if err != nil {
			return vision.Image{}, &ValidationError{Reason: fmt.Sprintf("converting HEIC: %v", err)}
		}
		data, mimeType = pngData, "image/png"
	}

	// The sniffed format is authoritative over the declared one: a valid PNG
	// labeled application/octet-stream is a PNG, and mislabeled bytes are
	// whatever they decode as. The declared type only routes PDF and HEIC
	// conversion above.
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if !supportedFormats[mimeType] {
			return vision.Image{}, &ValidationError{Reason: fmt.Sprintf("unsupported image format %q; supported: JPEG, PNG, GIF, WEBP, HEIC, PDF", mimeType)}
		}
		return vision.Image{}, &ValidationError{Reason: fmt.Sprintf("image does not decode: %v", err)}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return vision.Image{}, &ValidationError{Reason: "image has no pixels"}
	}

	sniffed := "image/" + format
	if !supportedFormats[sniffed] {
		return vision.Image{}, &ValidationError{Reason: fmt.Sprintf("unsupported image format %q", sniffed)}
	}

	return vision.Image{Data: data, MIME: sniffed}, nil
}

// pdfToPNG renders the first page of a PDF to a PNG image.
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// heicToPNG converts a HEIC/HEIF image (common on iPhones) to PNG.
func heicToPNG(imageData []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for the ftyp box brands HEIC files start with.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format.
func isHEICMimeType(mimeType string) bool {
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
