package analysis

import (
	"time"

	"github.com/zombor/plate-watch/internal/vision"
)

// Analysis is the assembled result of one pipeline run. Failures of the
// later stages show up in Error and Message; the caller always receives a
// complete object.
type Analysis struct {
	ID            string                    `json:"id"`
	Plate         string                    `json:"plate"`
	Confidence    float64                   `json:"confidence,omitempty"`
	Duplicate     bool                      `json:"duplicate"`
	Attributes    *vision.VehicleAttributes `json:"attributes,omitempty"`
	EnhancedPlate *EnhancedPlate            `json:"enhanced_plate,omitempty"`
	Message       string                    `json:"message,omitempty"`
	Error         string                    `json:"error,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// EnhancedPlate is the magnified plate crop. Image marshals as base64.
type EnhancedPlate struct {
	Image []byte `json:"image_base64,omitempty"`
	MIME  string `json:"mime_type"`
	Note  string `json:"note,omitempty"`
}

// Record is what the history database keeps for an analysis: everything but
// the pixels. The crop lives in file storage under CropFilename.
type Record struct {
	ID           string                    `json:"id"`
	Plate        string                    `json:"plate"`
	Confidence   float64                   `json:"confidence,omitempty"`
	Duplicate    bool                      `json:"duplicate"`
	Attributes   *vision.VehicleAttributes `json:"attributes,omitempty"`
	CropFilename string                    `json:"crop_filename,omitempty"`
	CropMIME     string                    `json:"crop_mime,omitempty"`
	Message      string                    `json:"message,omitempty"`
	Error        string                    `json:"error,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
}

// ValidationError reports input rejected before any provider call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Reason
}
