// Package ai is the HTTP client for the document OCR and Q&A service. It
// covers file management, OCR processing and both the one-shot and the
// streaming question-answering calls.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotConfigured means no API key was supplied and upstream calls
// cannot be made.
var ErrNotConfigured = errors.New("ai: api key not configured")

// Config carries the upstream connection settings.
type Config struct {
	APIKey   string
	BaseURL  string
	QAModel  string
	OCRModel string
	Timeout  time.Duration
}

// Client talks to the upstream service. All methods require a configured
// API key and honour the caller's context.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient validates the configuration and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// File is the upstream metadata record for an uploaded document.
type File struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
	Deleted   bool   `json:"deleted"`
}

// OCRPage holds the recognized markdown for a single page.
type OCRPage struct {
	Index       int    `json:"index"`
	Markdown    string `json:"markdown"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// UploadFile sends a PDF to the upstream file store for OCR processing.
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader) (File, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := form.WriteField("purpose", "ocr"); err != nil {
		return File{}, fmt.Errorf("build upload form: %w", err)
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return File{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return File{}, fmt.Errorf("copy upload content: %w", err)
	}
	if err := form.Close(); err != nil {
		return File{}, fmt.Errorf("finish upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/files", &body)
	if err != nil {
		return File{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var file File
	if err := c.do(req, &file); err != nil {
		return File{}, err
	}
	return file, nil
}

// ListFiles returns metadata for every uploaded document.
func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/files", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []File `json:"data"`
	}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// RetrieveFile fetches metadata for one document.
func (c *Client) RetrieveFile(ctx context.Context, fileID string) (File, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return File{}, err
	}

	var file File
	if err := c.do(req, &file); err != nil {
		return File{}, err
	}
	return file, nil
}

// DeleteFile removes a document from the upstream store.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// GetSignedURL resolves a short-lived URL for reading a document.
// expiryHours of zero leaves the upstream default in place.
func (c *Client) GetSignedURL(ctx context.Context, fileID string, expiryHours int) (string, error) {
	path := "/v1/files/" + url.PathEscape(fileID) + "/url"
	if expiryHours > 0 {
		path += "?expiry=" + strconv.Itoa(expiryHours)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &payload); err != nil {
		return "", err
	}
	return payload.URL, nil
}

// ProcessOCR runs OCR over the document behind documentURL and returns the
// recognized pages.
func (c *Client) ProcessOCR(ctx context.Context, documentURL string, includeImages bool) ([]OCRPage, error) {
	body := map[string]any{
		"model": c.cfg.OCRModel,
		"document": map[string]string{
			"type":         "document_url",
			"document_url": documentURL,
		},
		"include_image_base64": includeImages,
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/v1/ocr", body)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Pages []OCRPage `json:"pages"`
	}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return payload.Pages, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := c.newRequest(ctx, method, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeUpstreamError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

func decodeUpstreamError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return fmt.Errorf("upstream %d: %s", resp.StatusCode, payload.Error)
		}
		if payload.Message != "" {
			return fmt.Errorf("upstream %d: %s", resp.StatusCode, payload.Message)
		}
	}
	return fmt.Errorf("upstream %d: %s", resp.StatusCode, bytes.TrimSpace(data))
}
