// Package client talks to the tidyflow HTTP API and drives a job from
// upload to a terminal status.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.StatusCode)
}

// Transient reports whether the same request may succeed if repeated.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client is an HTTP client for the tidyflow API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL. apiKey may be empty when
// the server runs without authentication.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload sends a dataset as multipart field "file" and returns the new job id.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (*models.UploadResponse, error) {
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	part, err := mpw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mpw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var out models.UploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/jobs/upload", &buf, mpw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start triggers the pipeline for a queued job.
func (c *Client) Start(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := c.doJSON(ctx, http.MethodPost, "/jobs/"+id.String()+"/profile", nil, "", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Status reads the current job snapshot.
func (c *Client) Status(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+id.String(), nil, "", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Resubmit creates a new job from the input of a failed one.
func (c *Client) Resubmit(ctx context.Context, id uuid.UUID) (*models.UploadResponse, error) {
	var out models.UploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/jobs/"+id.String()+"/resubmit", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download returns the cleaned CSV of a completed job.
func (c *Client) Download(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return c.doRaw(ctx, "/jobs/"+id.String()+"/download")
}

// Report returns the markdown report of a completed job.
func (c *Client) Report(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return c.doRaw(ctx, "/jobs/"+id.String()+"/report")
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := c.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	return apiErr
}

// IsTransient reports whether err is worth retrying: transport failures,
// 5xx and 429 responses. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return true
}
