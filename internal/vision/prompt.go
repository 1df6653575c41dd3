package vision

// platePrompt is the shared prompt used by all providers to read a plate.
const platePrompt = `You are analyzing a photo of a vehicle. Read the license plate in the image.

Return ONLY valid JSON in this exact format:
{
  "plate": "ABC1234",
  "confidence": 0.95,
  "region": {"x": 0.41, "y": 0.62, "width": 0.18, "height": 0.07}
}

Important:
- The plate must be the characters exactly as printed, uppercase, without spaces
- The confidence must be a number between 0 and 1
- The region is the plate's bounding box as fractions of the image width and
  height (x, y are the top-left corner); omit the region if you cannot locate
  the plate precisely
- If no license plate is visible or readable, use "NO_PLATE_FOUND" as the plate
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// attributesPrompt is the shared prompt used to describe the vehicle.
const attributesPrompt = `You are analyzing a photo of a vehicle. Describe the vehicle carrying the license plate.

Return ONLY valid JSON in this exact format:
{
  "color": "red",
  "body_type": "sedan",
  "make": "Toyota",
  "plate_style": "standard"
}

Important:
- body_type is one of: sedan, hatchback, suv, van, pickup, truck, bus, motorcycle, other
- plate_style describes the plate format, e.g. "standard", "commercial", "diplomatic", "temporary"
- Use "unknown" for any field you cannot determine
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// cropPrompt asks the model to return a cropped image of the plate itself.
const cropPrompt = `Crop this photo to show only the license plate, tightly framed with a small margin. Return the cropped image. Do not return text.`
