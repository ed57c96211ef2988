package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetrievePath is appended to the base URL for retrieval requests.
const RetrievePath = "/api/download"

// maxErrorBody bounds how much of an error response is decoded.
const maxErrorBody = 64 * 1024

// Common errors.
var (
	ErrNotFound              = errors.New("http: resource not found")
	ErrForbidden             = errors.New("http: access forbidden")
	ErrUnauthorized          = errors.New("http: unauthorized")
	ErrRateLimited           = errors.New("http: rate limited")
	ErrServerError           = errors.New("http: server error")
	ErrMissingDecryptionKeys = errors.New("http: missing decryption keys")
)

// Options configures the HTTP client.
type Options struct {
	// BaseURL of the catalog API, e.g. http://localhost:8000.
	BaseURL string

	// Token is sent unchanged as a bearer credential.
	Token string

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout for a whole request including the body. Zero means no limit,
	// which suits long package streams.
	Timeout time.Duration

	// UserAgent header value.
	// Default: "packfetch"
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:             "http://localhost:8000",
		MaxIdleConnsPerHost: 16,
		UserAgent:           "packfetch",
	}
}

// Client talks to the catalog API.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 16
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "packfetch"
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // Content-Length must describe the bytes we count
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// retrieveRequest is the JSON body of a retrieval request.
type retrieveRequest struct {
	ItemID         string `json:"item_id"`
	ProcessContent bool   `json:"process_content"`
}

// Response is a successful retrieval whose body has not been read yet.
type Response struct {
	Body       io.ReadCloser
	StatusCode int
	Metadata   Metadata
}

// Retrieve requests the package for itemID. On success the caller owns
// resp.Body. Non-success statuses are returned as *APIError.
func (c *Client) Retrieve(ctx context.Context, itemID string) (*Response, error) {
	payload, err := json.Marshal(retrieveRequest{ItemID: itemID, ProcessContent: true})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(c.opts.BaseURL, "/") + RetrievePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", itemID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newAPIError(resp)
	}

	return &Response{
		Body:       resp.Body,
		StatusCode: resp.StatusCode,
		Metadata:   ParseMetadata(resp.Header, resp.ContentLength),
	}, nil
}

// Metadata describes the package being streamed.
type Metadata struct {
	// ContentLength is the declared size, 0 when unknown.
	ContentLength      int64
	ContentDisposition string
	ContentTypes       string
	HasMultipleTypes   bool
	TotalFiles         string
	Processed          bool
}

// Defaults for optional metadata headers.
const (
	DefaultContentTypes = "Content Pack"
	DefaultTotalFiles   = "1"
)

// ParseMetadata reads package metadata from response headers. contentLength
// is the transport's view of Content-Length (-1 when absent).
func ParseMetadata(h http.Header, contentLength int64) Metadata {
	m := Metadata{
		ContentLength:      contentLength,
		ContentDisposition: h.Get("Content-Disposition"),
		ContentTypes:       h.Get("X-Content-Types"),
		HasMultipleTypes:   h.Get("X-Has-Multiple-Types") == "true",
		TotalFiles:         h.Get("X-Total-Files"),
		Processed:          h.Get("X-Processed") == "true",
	}

	if m.ContentLength < 0 {
		m.ContentLength = 0
		if v := h.Get("Content-Length"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				m.ContentLength = n
			}
		}
	}
	if m.ContentTypes == "" {
		m.ContentTypes = DefaultContentTypes
	}
	if m.TotalFiles == "" {
		m.TotalFiles = DefaultTotalFiles
	}
	return m
}

// DisplayContentTypes returns the content types label, marked when the server
// post-processed the package.
func (m Metadata) DisplayContentTypes() string {
	if m.Processed {
		return m.ContentTypes + " (Processed)"
	}
	return m.ContentTypes
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return ErrServerError
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
