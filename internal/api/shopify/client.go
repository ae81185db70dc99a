// Package shopify is a small client for the Shopify Admin REST API covering
// products, product images and themes.
package shopify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
)

const defaultAPIVersion = "2023-10"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithAPIVersion sets the Admin API version segment.
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		if version != "" {
			c.apiVersion = version
		}
	}
}

// WithBaseURL overrides the https://<store> base URL.
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

// Client talks to one store's Admin REST API.
type Client struct {
	token      string
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

var _ ports.Commerce = (*Client)(nil)

// NewClient creates a client for store (a bare myshopify.com host).
func NewClient(store, token string, opts ...ClientOption) *Client {
	c := &Client{
		token:      token,
		baseURL:    "https://" + strings.TrimSuffix(store, "/"),
		apiVersion: defaultAPIVersion,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx Admin API response.
type APIError struct {
	StatusCode int
	Errors     json.RawMessage
	Body       string
}

// HTTPStatus reports the Admin API's status code.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("shopify API error (status %d): %s", e.StatusCode, string(e.Errors))
	}
	return fmt.Sprintf("shopify API error (status %d): %s", e.StatusCode, e.Body)
}

type productPayload struct {
	ID          int64                   `json:"id,omitempty"`
	Title       string                  `json:"title"`
	BodyHTML    string                  `json:"body_html"`
	Vendor      string                  `json:"vendor"`
	ProductType string                  `json:"product_type"`
	Handle      string                  `json:"handle,omitempty"`
	Status      string                  `json:"status,omitempty"`
	Tags        string                  `json:"tags"`
	Variants    []domain.ProductVariant `json:"variants,omitempty"`
	CreatedAt   string                  `json:"created_at,omitempty"`
}

func toPayload(p *domain.Product) productPayload {
	return productPayload{
		Title:       p.Title,
		BodyHTML:    p.BodyHTML,
		Vendor:      p.Vendor,
		ProductType: p.ProductType,
		Status:      p.Status,
		Tags:        strings.Join(p.Tags, ", "),
		Variants:    p.Variants,
	}
}

func fromPayload(p productPayload) *domain.Product {
	return &domain.Product{
		ID:          p.ID,
		Title:       p.Title,
		BodyHTML:    p.BodyHTML,
		Vendor:      p.Vendor,
		ProductType: p.ProductType,
		Handle:      p.Handle,
		Status:      p.Status,
		Tags:        splitTags(p.Tags),
		Variants:    p.Variants,
		CreatedAt:   p.CreatedAt,
	}
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// CreateProduct creates a product and returns the stored record.
func (c *Client) CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	req := struct {
		Product productPayload `json:"product"`
	}{Product: toPayload(product)}

	var resp struct {
		Product productPayload `json:"product"`
	}
	if err := c.do(ctx, http.MethodPost, "products.json", req, &resp); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	if resp.Product.ID == 0 {
		return nil, fmt.Errorf("create product: response missing product id")
	}
	return fromPayload(resp.Product), nil
}

// AttachImage uploads a base64 attachment to an existing product.
func (c *Client) AttachImage(ctx context.Context, productID int64, img *ports.ImageUpload) (*domain.ProductImage, error) {
	req := map[string]any{
		"image": map[string]string{
			"attachment": base64.StdEncoding.EncodeToString(img.Attachment),
			"filename":   img.Filename,
			"alt":        img.Alt,
		},
	}

	var resp struct {
		Image domain.ProductImage `json:"image"`
	}
	path := fmt.Sprintf("products/%d/images.json", productID)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("attach image: %w", err)
	}
	return &resp.Image, nil
}

// CreateTheme creates a theme from a publicly reachable archive URL.
func (c *Client) CreateTheme(ctx context.Context, name, src, role string) (*domain.Theme, error) {
	req := map[string]any{
		"theme": map[string]string{
			"name": name,
			"src":  src,
			"role": role,
		},
	}

	var resp struct {
		Theme domain.Theme `json:"theme"`
	}
	if err := c.do(ctx, http.MethodPost, "themes.json", req, &resp); err != nil {
		return nil, fmt.Errorf("create theme: %w", err)
	}
	return &resp.Theme, nil
}

// UpdateThemeRole changes a theme's role, e.g. to "main" to publish it.
func (c *Client) UpdateThemeRole(ctx context.Context, themeID int64, role string) (*domain.Theme, error) {
	req := map[string]any{
		"theme": map[string]any{
			"id":   themeID,
			"role": role,
		},
	}

	var resp struct {
		Theme domain.Theme `json:"theme"`
	}
	path := fmt.Sprintf("themes/%d.json", themeID)
	if err := c.do(ctx, http.MethodPut, path, req, &resp); err != nil {
		return nil, fmt.Errorf("update theme: %w", err)
	}
	return &resp.Theme, nil
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL, c.apiVersion, path)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		var errResp struct {
			Errors json.RawMessage `json:"errors"`
		}
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Errors = errResp.Errors
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("User-Agent", "threadsketch/1.0")
}
