package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini implements the Provider interface using Google Gemini. The prompts
// instruct the model to answer with bare JSON; parse failures are retried
// like any other failed attempt.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	retry  *retrier
}

// NewGemini creates a new Gemini Provider instance.
func NewGemini(apiKey string, modelName string, observer Observer) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	temperature := float32(0.1)

	model := client.GenerativeModel(modelName)
	model.Temperature = &temperature

	return &Gemini{
		client: client,
		model:  model,
		retry:  newRetrier("gemini", observer),
	}, nil
}

// ExtractPlate reads the license plate from the image.
func (g *Gemini) ExtractPlate(ctx context.Context, img Image) (*PlateReading, error) {
	var reading *PlateReading
	err := g.generate(ctx, "extract_plate", platePrompt, img, func(text string) error {
		r, err := parsePlateJSON(text)
		if err != nil {
			return malformedError("parsing plate response", err)
		}
		reading = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// ExtractAttributes describes the vehicle in the image.
func (g *Gemini) ExtractAttributes(ctx context.Context, img Image) (*VehicleAttributes, error) {
	var attrs *VehicleAttributes
	err := g.generate(ctx, "extract_attributes", attributesPrompt, img, func(text string) error {
		a, err := parseAttributesJSON(text)
		if err != nil {
			return malformedError("parsing attributes response", err)
		}
		attrs = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// CropPlate asks the model to return a cropped image of the plate.
func (g *Gemini) CropPlate(ctx context.Context, img Image) (*Crop, error) {
	var crop *Crop
	err := g.retry.Do(ctx, "crop_plate", func(ctx context.Context) error {
		resp, err := g.model.GenerateContent(ctx, imageParts(cropPrompt, img)...)
		if err != nil {
			return classifyGeminiError(err)
		}
		blob, err := firstBlob(resp)
		if err != nil {
			return err
		}
		crop = &Crop{Data: blob.Data, MIME: blob.MIMEType}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return crop, nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// generate runs a generation through the retrier and hands the concatenated
// text of the first candidate to handle. A handle failure counts as a failed
// attempt, so unparseable content is retried the same as a failed request.
func (g *Gemini) generate(ctx context.Context, operation, prompt string, img Image, handle func(text string) error) error {
	return g.retry.Do(ctx, operation, func(ctx context.Context) error {
		resp, err := g.model.GenerateContent(ctx, imageParts(prompt, img)...)
		if err != nil {
			return classifyGeminiError(err)
		}
		text, err := responseText(resp)
		if err != nil {
			return err
		}
		return handle(text)
	})
}

// imageParts assembles the image and prompt parts for a generation call.
// genai.ImageData expects just the format suffix (e.g. "png"), not the full
// MIME type.
func imageParts(prompt string, img Image) []genai.Part {
	format := strings.TrimPrefix(strings.ToLower(img.MIME), "image/")
	return []genai.Part{
		genai.ImageData(format, img.Data),
		genai.Text(prompt),
	}
}

// responseText extracts the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", malformedError("no candidates in response", nil)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", malformedError("no text parts in response", nil)
	}
	return strings.TrimSpace(sb.String()), nil
}

// firstBlob extracts the first inline image of the first candidate.
func firstBlob(resp *genai.GenerateContentResponse) (*genai.Blob, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, malformedError("no candidates in response", nil)
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if blob, ok := part.(genai.Blob); ok {
			return &blob, nil
		}
	}
	return nil, malformedError("no image in crop response", nil)
}

// classifyGeminiError maps SDK errors to the provider failure taxonomy.
func classifyGeminiError(err error) *Error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return transportError("calling gemini API", err)
	}

	switch gerr.Code {
	case 401, 403:
		return authError(gerr.Message, err)
	case 429:
		var retryAfter time.Duration
		if v := gerr.Header.Get("Retry-After"); v != "" {
			if d, perr := time.ParseDuration(v + "s"); perr == nil && d > 0 {
				retryAfter = d
			}
		}
		return rateLimitError(gerr.Message, retryAfter, err)
	default:
		return unknownError(gerr.Message, err)
	}
}
