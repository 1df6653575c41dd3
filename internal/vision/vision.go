package vision

import "context"

// NoPlateFound is the sentinel plate value reported when the model could not
// read a plate. It is never inserted into the dedup cache.
const NoPlateFound = "NO_PLATE_FOUND"

// Region is a rectangle expressed as fractions of image width/height,
// independent of the actual resolution. A zero width or height means the
// model did not locate the plate.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the region describes a usable rectangle.
func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Image is a raw encoded image plus its declared MIME type.
type Image struct {
	Data []byte
	MIME string
}

// PlateReading is the result of a plate extraction call.
type PlateReading struct {
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
	Region     *Region `json:"region,omitempty"`
}

// Found reports whether a concrete plate was read.
func (p *PlateReading) Found() bool {
	return p != nil && p.Plate != "" && p.Plate != NoPlateFound
}

// VehicleAttributes describes the vehicle carrying the plate. Fields the
// model could not determine are set to "unknown".
type VehicleAttributes struct {
	Color      string `json:"color"`
	BodyType   string `json:"body_type"`
	Make       string `json:"make"`
	PlateStyle string `json:"plate_style"`
}

// Crop is an image returned by a provider-side crop call.
type Crop struct {
	Data []byte
	MIME string
}

// Provider defines the interface for vision model operations. One
// implementation exists per provider; selection happens at startup.
type Provider interface {
	// ExtractPlate reads the license plate from the image.
	ExtractPlate(ctx context.Context, img Image) (*PlateReading, error)

	// ExtractAttributes describes the vehicle in the image.
	ExtractAttributes(ctx context.Context, img Image) (*VehicleAttributes, error)

	// CropPlate asks the model to return a cropped image of the plate.
	CropPlate(ctx context.Context, img Image) (*Crop, error)

	// Close releases provider resources.
	Close() error
}
