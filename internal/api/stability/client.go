// Package stability is a client for the Stability AI v1 REST generation API.
// Only the image-to-image endpoint is covered.
package stability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultBaseURL = "https://api.stability.ai"
	DefaultEngine  = "stable-diffusion-xl-1024-v1-0"
)

// ErrNoArtifacts is returned when a successful response carries no image.
var ErrNoArtifacts = errors.New("stability: response contained no artifacts")

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithEngine sets the generation engine id.
func WithEngine(engine string) ClientOption {
	return func(c *Client) {
		if engine != "" {
			c.engine = engine
		}
	}
}

// Client is an HTTP client for the Stability AI API.
type Client struct {
	apiKey     string
	baseURL    string
	engine     string
	httpClient *http.Client
}

// NewClient creates a new Stability API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		engine:     DefaultEngine,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Engine returns the configured engine id.
func (c *Client) Engine() string {
	return c.engine
}

// TextPrompt is a weighted prompt. Negative weights are negative prompts.
type TextPrompt struct {
	Text   string
	Weight float64
}

// ImageToImageRequest is the multipart form of the image-to-image endpoint.
type ImageToImageRequest struct {
	InitImage     []byte
	TextPrompts   []TextPrompt
	ImageStrength float64
	CFGScale      float64
	Samples       int
	Steps         int
	StylePreset   string
	Seed          int64
}

// Artifact is a generated image.
type Artifact struct {
	Base64       string `json:"base64"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finishReason"`
}

// GenerationResponse is the JSON response of a generation endpoint.
type GenerationResponse struct {
	Artifacts []Artifact `json:"artifacts"`
}

// Image decodes the first artifact.
func (r *GenerationResponse) Image() ([]byte, error) {
	if len(r.Artifacts) == 0 || r.Artifacts[0].Base64 == "" {
		return nil, ErrNoArtifacts
	}
	data, err := base64.StdEncoding.DecodeString(r.Artifacts[0].Base64)
	if err != nil {
		return nil, fmt.Errorf("stability: decode artifact: %w", err)
	}
	return data, nil
}

// APIError is a non-200 API response.
type APIError struct {
	StatusCode int    `json:"-"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stability %d %s: %s", e.StatusCode, e.Name, e.Message)
}

// ImageToImage runs an image-to-image generation.
func (c *Client) ImageToImage(ctx context.Context, req *ImageToImageRequest) (*GenerationResponse, error) {
	body, contentType, err := encodeImageToImage(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/generation/%s/image-to-image", c.baseURL, c.engine)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("User-Agent", "threadsketch/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return nil, apiErr
	}

	var result GenerationResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func encodeImageToImage(req *ImageToImageRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("init_image", "init.png")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.InitImage); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"init_image_mode", "IMAGE_STRENGTH"},
		{"image_strength", formatFloat(req.ImageStrength)},
		{"cfg_scale", formatFloat(req.CFGScale)},
		{"samples", strconv.Itoa(max(req.Samples, 1))},
		{"steps", strconv.Itoa(req.Steps)},
	}
	for i, p := range req.TextPrompts {
		fields = append(fields,
			[2]string{fmt.Sprintf("text_prompts[%d][text]", i), p.Text},
			[2]string{fmt.Sprintf("text_prompts[%d][weight]", i), formatFloat(p.Weight)},
		)
	}
	if req.StylePreset != "" {
		fields = append(fields, [2]string{"style_preset", req.StylePreset})
	}
	if req.Seed != 0 {
		fields = append(fields, [2]string{"seed", strconv.FormatInt(req.Seed, 10)})
	}

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
