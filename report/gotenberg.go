package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	convertHTMLPath = "/forms/chromium/convert/html"
	maxErrorBody    = 512
)

// PageOptions maps onto the Chromium page properties Gotenberg accepts.
// Sizes are in inches; zero values keep the Gotenberg defaults.
type PageOptions struct {
	PaperWidth   float64
	PaperHeight  float64
	MarginTop    float64
	MarginBottom float64
	MarginLeft   float64
	MarginRight  float64
}

func (p PageOptions) fields() map[string]string {
	out := map[string]string{"printBackground": "true"}
	for name, v := range map[string]float64{
		"paperWidth":   p.PaperWidth,
		"paperHeight":  p.PaperHeight,
		"marginTop":    p.MarginTop,
		"marginBottom": p.MarginBottom,
		"marginLeft":   p.MarginLeft,
		"marginRight":  p.MarginRight,
	} {
		if v > 0 {
			out[name] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return out
}

// StatusError is returned when Gotenberg answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gotenberg: status %d", e.Status)
	}
	return fmt.Sprintf("gotenberg: status %d: %s", e.Status, e.Body)
}

// Client talks to a Gotenberg instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client. A non-positive timeout means 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ping checks that Gotenberg reports itself healthy.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// RenderHTML converts raw HTML into a PDF with Gotenberg's default page.
func (c *Client) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	return c.RenderHTMLPage(ctx, html, PageOptions{})
}

// RenderHTMLPage converts raw HTML into a PDF using the given page layout.
func (c *Client) RenderHTMLPage(ctx context.Context, html string, page PageOptions) ([]byte, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, err
	}
	for name, value := range page.fields() {
		if err := form.WriteField(name, value); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+convertHTMLPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	pdf, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return pdf, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusBadRequest {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	return io.ReadAll(resp.Body)
}
