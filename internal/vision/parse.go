package vision

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls the outermost JSON object out of a model response,
// tolerating markdown code fences and surrounding chatter.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parsePlateJSON parses a plate-extraction response.
func parsePlateJSON(text string) (*PlateReading, error) {
	body, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var reading PlateReading
	if err := json.Unmarshal([]byte(body), &reading); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	reading.Plate = strings.ToUpper(strings.TrimSpace(reading.Plate))
	if reading.Plate == "" {
		reading.Plate = NoPlateFound
	}
	if reading.Confidence < 0 {
		reading.Confidence = 0
	}
	if reading.Confidence > 1 {
		reading.Confidence = 1
	}
	if reading.Region != nil && !validNormalized(*reading.Region) {
		// An out-of-range or degenerate box is treated as no detection.
		reading.Region = nil
	}
	return &reading, nil
}

func validNormalized(r Region) bool {
	if !r.Valid() {
		return false
	}
	return r.X >= 0 && r.X <= 1 && r.Y >= 0 && r.Y <= 1 &&
		r.Width <= 1 && r.Height <= 1
}

// parseAttributesJSON parses a vehicle-description response.
func parseAttributesJSON(text string) (*VehicleAttributes, error) {
	body, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var attrs VehicleAttributes
	if err := json.Unmarshal([]byte(body), &attrs); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	attrs.Color = normalizeAttribute(attrs.Color)
	attrs.BodyType = normalizeAttribute(attrs.BodyType)
	attrs.Make = normalizeAttribute(attrs.Make)
	attrs.PlateStyle = normalizeAttribute(attrs.PlateStyle)
	return &attrs, nil
}

func normalizeAttribute(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "null") {
		return "unknown"
	}
	return v
}

// parseDataURL decodes a data URL of the form data:<mime>;base64,<payload>.
func parseDataURL(url string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data URL")
	}
	mimeType, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, "", fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding data URL payload: %w", err)
	}
	return data, mimeType, nil
}
