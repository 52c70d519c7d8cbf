// Package api uploads finished session exports to the results server.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ImmersiveDrive/simclient/pkg/core"
)

const (
	// UploadPath is the results server endpoint for session files.
	UploadPath = "/api/v1/sessions/add"
	// HealthPath answers 200 while the server accepts uploads.
	HealthPath = "/healthcheck"

	defaultTimeout = 30 * time.Second
	defaultRetries = 2
	retryDelay     = 2 * time.Second
)

// StatusError is a non-200 answer from the results server.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s returned status %d", e.Op, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retries int
	delay   time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets how often a failed upload is repeated and the pause
// before each repeat. Only transport errors and 5xx/429 answers are retried.
func WithRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = max(n, 0)
		c.delay = delay
	}
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		retries: defaultRetries,
		delay:   retryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Healthcheck checks if the results server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return fmt.Errorf("healthcheck request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus("healthcheck", resp)
}

// Upload posts a session export as a multipart form. Transient failures are
// retried; the file is read again for each attempt.
func (c *Client) Upload(ctx context.Context, path string, meta core.UploadMetadata) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("upload: open file: %w", err)
	}

	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(c.delay):
			}
		}
		err = c.uploadOnce(ctx, path, meta)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("upload failed after %d attempts: %w", c.retries+1, err)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	// Everything else here is a transport failure, unless the file went away.
	return !errors.Is(err, os.ErrNotExist) && !errors.Is(err, context.Canceled)
}

func (c *Client) uploadOnce(ctx context.Context, path string, meta core.UploadMetadata) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("upload: open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	written := make(chan error, 1)
	go func() {
		err := c.writeForm(form, file, meta)
		pw.CloseWithError(err)
		written <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+UploadPath, pr)
	if err != nil {
		pr.Close()
		<-written
		return fmt.Errorf("upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		pr.Close()
		<-written
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if err := <-written; err != nil {
		return err
	}
	return checkStatus("upload", resp)
}

// writeForm streams the metadata fields and then the file.
func (c *Client) writeForm(form *multipart.Writer, file *os.File, meta core.UploadMetadata) error {
	name := filepath.Base(file.Name())
	fields := []struct{ key, value string }{
		{"secret", c.apiKey},
		{"filename", name},
		{"sessionId", meta.SessionID},
		{"mapName", meta.MapName},
		{"vehicle", meta.VehicleBlueprint},
		{"duration", strconv.FormatFloat(meta.Duration, 'f', 6, 64)},
		{"tag", meta.Tag},
	}
	for _, f := range fields {
		if err := form.WriteField(f.key, f.value); err != nil {
			return fmt.Errorf("upload field %s: %w", f.key, err)
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("upload form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("upload copy file: %w", err)
	}
	return form.Close()
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
