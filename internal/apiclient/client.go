// Package apiclient is an HTTP client for the catalog REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/amillerrr/lms-catalog/internal/uploadqueue"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

// DefaultTimeout bounds a single request, uploads included.
const DefaultTimeout = 2 * time.Hour

// ErrNotAuthenticated is returned by calls that need a token before Login.
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the model error taxonomy.
func (e *APIError) Is(target error) bool {
	switch target {
	case models.ErrValidation:
		return e.StatusCode == http.StatusBadRequest
	case models.ErrInvalidCredentials:
		return e.StatusCode == http.StatusUnauthorized
	case models.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// envelope is the response body of every API call.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Client calls the catalog API.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithToken sets the bearer token used for authenticated calls.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client for the API at baseURL. Requests are traced.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges admin credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(req, &out); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if out.Token == "" {
		return errors.New("login response carried no token")
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return nil
}

// ListCourses returns every course visible to the current token.
func (c *Client) ListCourses(ctx context.Context) ([]models.Course, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/courses", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	var courses []models.Course
	if err := c.do(req, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// UploadVideo streams a video as a multipart request to the upload
// endpoint. progress receives the percentage of file bytes sent, and 100
// once the whole request body has been handed to the transport.
func (c *Client) UploadVideo(ctx context.Context, up uploadqueue.UploadRequest, progress func(int)) (*models.Video, error) {
	token := c.Token()
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	if progress == nil {
		progress = func(int) {}
	}

	src, err := up.File.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", up.File.Name, err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/videos/upload", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := writeUpload(mw, up, &progressReader{r: src, total: up.File.Size, report: progress})
		if err == nil {
			err = mw.Close()
		}
		if err == nil {
			progress(100)
		}
		pw.CloseWithError(err)
	}()

	var video models.Video
	err = c.do(req, &video)

	// unblock the writer if the request ended early, then wait for it
	pr.Close()
	<-done

	if err != nil {
		return nil, err
	}
	return &video, nil
}

func writeUpload(mw *multipart.Writer, up uploadqueue.UploadRequest, body io.Reader) error {
	fields := [][2]string{
		{"courseId", up.CourseID},
		{"title", up.Title},
		{"description", up.Description},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	contentType := up.File.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename="%s"`, escapeQuotes(up.File.Name)))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, body)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// progressReader reports read progress as a percentage of total, capped at
// 99 until the caller reports completion.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		pct := min(int(p.read*100/p.total), 99)
		if pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}

func (c *Client) authorize(req *http.Request) {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// do sends req and decodes the envelope data into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
