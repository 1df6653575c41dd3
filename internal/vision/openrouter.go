package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	openRouterURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel = "google/gemini-2.5-flash"
)

// OpenRouter implements the Provider interface using the OpenRouter
// chat-completions API.
type OpenRouter struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	retry   *retrier
}

// NewOpenRouter creates a new OpenRouter Provider instance.
func NewOpenRouter(apiKey string, modelName string, observer Observer) (*OpenRouter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter api key is required")
	}
	if modelName == "" {
		modelName = defaultOpenRouterModel
	}

	return &OpenRouter{
		apiKey:  apiKey,
		model:   modelName,
		baseURL: openRouterURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		retry:   newRetrier("openrouter", observer),
	}, nil
}

// chatRequest represents the request body for the chat-completions API.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Modalities  []string      `json:"modalities,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

// chatResponse represents the response from the chat-completions API.
type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Message responseMessage `json:"message"`
}

type responseMessage struct {
	Content string          `json:"content"`
	Images  []responseImage `json:"images,omitempty"`
}

type responseImage struct {
	Type     string   `json:"type"`
	ImageURL imageRef `json:"image_url"`
}

type apiError struct {
	Message    string  `json:"message"`
	Type       string  `json:"type"`
	Code       any     `json:"code"` // can be a string or a number
	RetryAfter float64 `json:"retry_after,omitempty"`
}

// ExtractPlate reads the license plate from the image.
func (o *OpenRouter) ExtractPlate(ctx context.Context, img Image) (*PlateReading, error) {
	var reading *PlateReading
	err := o.complete(ctx, "extract_plate", o.textRequest(platePrompt, img), func(msg *responseMessage) error {
		r, err := parsePlateJSON(msg.Content)
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
func (o *OpenRouter) ExtractAttributes(ctx context.Context, img Image) (*VehicleAttributes, error) {
	var attrs *VehicleAttributes
	err := o.complete(ctx, "extract_attributes", o.textRequest(attributesPrompt, img), func(msg *responseMessage) error {
		a, err := parseAttributesJSON(msg.Content)
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
func (o *OpenRouter) CropPlate(ctx context.Context, img Image) (*Crop, error) {
	req := o.textRequest(cropPrompt, img)
	req.Modalities = []string{"image", "text"}

	var crop *Crop
	err := o.complete(ctx, "crop_plate", req, func(msg *responseMessage) error {
		if len(msg.Images) == 0 {
			return malformedError("no image in crop response", nil)
		}
		data, mimeType, err := parseDataURL(msg.Images[0].ImageURL.URL)
		if err != nil {
			return malformedError("decoding crop image", err)
		}
		crop = &Crop{Data: data, MIME: mimeType}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return crop, nil
}

// Close closes the provider (no-op for the HTTP client).
func (o *OpenRouter) Close() error {
	return nil
}

// textRequest builds a single-turn request carrying the prompt and the image
// as a base64 data URL.
func (o *OpenRouter) textRequest(prompt string, img Image) chatRequest {
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.MIME, base64.StdEncoding.EncodeToString(img.Data))
	return chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageRef{URL: dataURL}},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   1000,
	}
}

// complete sends the request through the retrier and hands the first choice's
// message to handle. A handle failure counts as a failed attempt, so content
// the model got wrong is retried the same as a failed request.
func (o *OpenRouter) complete(ctx context.Context, operation string, req chatRequest, handle func(*responseMessage) error) error {
	return o.retry.Do(ctx, operation, func(ctx context.Context) error {
		msg, err := o.send(ctx, req)
		if err != nil {
			return err
		}
		return handle(msg)
	})
}

// send performs one attempt against the API and classifies any failure.
func (o *OpenRouter) send(ctx context.Context, req chatRequest) (*responseMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, unknownError("marshaling request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, unknownError("creating request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://github.com/zombor/plate-watch")
	httpReq.Header.Set("X-Title", "Plate Watch")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, transportError("calling openrouter API", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("reading response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, o.classifyStatus(resp, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, malformedError("decoding response", err)
	}
	if chatResp.Error != nil {
		return nil, o.classifyPayloadError(chatResp.Error)
	}
	if len(chatResp.Choices) == 0 {
		return nil, malformedError("no choices in response", nil)
	}
	return &chatResp.Choices[0].Message, nil
}

// classifyStatus maps a non-200 response to a classified error. Rate limits
// carry the provider's retry hint from the Retry-After header or the error
// payload.
func (o *OpenRouter) classifyStatus(resp *http.Response, body []byte) *Error {
	var payload struct {
		Error *apiError `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	message := fmt.Sprintf("API returned status %d", resp.StatusCode)
	if payload.Error != nil && payload.Error.Message != "" {
		message = payload.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return authError(message, nil)
	case http.StatusTooManyRequests:
		retryAfter := retryAfterHeader(resp)
		if retryAfter == 0 && payload.Error != nil && payload.Error.RetryAfter > 0 {
			retryAfter = time.Duration(payload.Error.RetryAfter * float64(time.Second))
		}
		return rateLimitError(message, retryAfter, nil)
	default:
		return unknownError(message, nil)
	}
}

// classifyPayloadError maps an in-body error object (some gateways return
// status 200 with an error payload) to a classified error.
func (o *OpenRouter) classifyPayloadError(apiErr *apiError) *Error {
	code := 0
	switch v := apiErr.Code.(type) {
	case float64:
		code = int(v)
	case string:
		code, _ = strconv.Atoi(v)
	}

	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return authError(apiErr.Message, nil)
	case http.StatusTooManyRequests:
		var retryAfter time.Duration
		if apiErr.RetryAfter > 0 {
			retryAfter = time.Duration(apiErr.RetryAfter * float64(time.Second))
		}
		return rateLimitError(apiErr.Message, retryAfter, nil)
	default:
		return unknownError(fmt.Sprintf("API error: %s (type: %s)", apiErr.Message, apiErr.Type), nil)
	}
}

// retryAfterHeader parses the Retry-After header as integer seconds.
func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
