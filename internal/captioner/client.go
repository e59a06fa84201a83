// Package captioner is a client for the meme captioning service. It supports
// the two endpoints the workflow needs:
//
//   - POST /generate-captions: upload an image, receive captions, hashtags
//     and a description
//   - POST /finalize-meme: upload the image with a chosen caption and filter,
//     receive the rendered meme as base64 JPEG
//
// Both requests are multipart/form-data. Every failure, whether transport,
// HTTP status or an undecodable body, wraps meme.ErrNetworkFailure.
package captioner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/meme-studio/internal/meme"
	"github.com/fpang/meme-studio/internal/metrics"
)

const (
	// DefaultBaseURL is the hosted captioning service.
	DefaultBaseURL = "https://meme-generator-backend-production-fd5e.up.railway.app/api"

	// DefaultTimeout bounds each request; the service itself sets no deadline.
	DefaultTimeout = 60 * time.Second

	generateCaptionsPath = "/generate-captions"
	finalizeMemePath     = "/finalize-meme"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 32 << 20
)

// Client talks to the captioning service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for baseURL (e.g. "http://localhost:8000/api").
// A zero timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the service root the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RequestError describes a failed service call.
type RequestError struct {
	Op         string // "generate-captions" or "finalize-meme"
	StatusCode int    // 0 when no response was received
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	msg := e.Op + ": " + e.Message
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the underlying cause and the network failure kind.
func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{meme.ErrNetworkFailure}
	}
	return []error{meme.ErrNetworkFailure, e.Err}
}

// --- Wire types ---

type captionsResponse struct {
	Captions    []string `json:"captions"`
	Hashtags    []string `json:"hashtags"`
	Description string   `json:"description"`
}

type finalizeResponse struct {
	ImageBase64 string `json:"image_base64"`
}

// GenerateCaptions uploads img and returns the generated caption set.
// Missing response fields default to empty values.
func (c *Client) GenerateCaptions(ctx context.Context, img meme.Upload) (meme.CaptionSet, error) {
	const op = "generate-captions"

	body, contentType, err := buildMultipart(img, nil)
	if err != nil {
		return meme.CaptionSet{}, &RequestError{Op: op, Message: "build request", Err: err}
	}

	var resp captionsResponse
	if err := c.post(ctx, op, generateCaptionsPath, body, contentType, &resp); err != nil {
		return meme.CaptionSet{}, err
	}

	cs := meme.NewCaptionSet(resp.Captions, resp.Hashtags, resp.Description)
	log.Info().
		Int("captions", len(cs.Captions)).
		Int("hashtags", len(cs.Hashtags)).
		Msg("Captions generated")
	return cs, nil
}

// FinalizeMeme uploads the image with caption text, placement and filter and
// returns the rendered meme.
func (c *Client) FinalizeMeme(ctx context.Context, req meme.FinalizeRequest) (meme.FinalizedImage, error) {
	const op = "finalize-meme"

	position := req.Position
	if position == "" {
		position = meme.PositionBottom
	}
	fields := [][2]string{
		{"text", req.Text},
		{"position", position},
		{"filter", req.Filter.WireValue()},
	}

	body, contentType, err := buildMultipart(req.Image, fields)
	if err != nil {
		return meme.FinalizedImage{}, &RequestError{Op: op, Message: "build request", Err: err}
	}

	var resp finalizeResponse
	if err := c.post(ctx, op, finalizeMemePath, body, contentType, &resp); err != nil {
		return meme.FinalizedImage{}, err
	}

	if resp.ImageBase64 == "" {
		return meme.FinalizedImage{}, &RequestError{Op: op, StatusCode: http.StatusOK, Message: "response has no image_base64"}
	}
	if _, err := base64.StdEncoding.DecodeString(resp.ImageBase64); err != nil {
		return meme.FinalizedImage{}, &RequestError{Op: op, StatusCode: http.StatusOK, Message: "image_base64 is not valid base64", Err: err}
	}

	log.Info().
		Str("filter", req.Filter.String()).
		Int("encoded_size", len(resp.ImageBase64)).
		Msg("Meme finalized")
	return meme.FinalizedImage{Base64: resp.ImageBase64}, nil
}

// --- Internal helpers ---

// buildMultipart writes the image part first, then the plain fields in order.
func buildMultipart(img meme.Upload, fields [][2]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := img.Name
	if name == "" {
		name = "image"
	}
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(name)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// post sends a multipart body and decodes a JSON response into out.
func (c *Client) post(ctx context.Context, op, path string, body io.Reader, contentType string, out interface{}) error {
	start := time.Now()
	result := "success"
	defer func() {
		metrics.New(metrics.Namespace).
			Dimension("Operation", op).
			Dimension("Result", result).
			Duration("LatencyMs", time.Since(start)).
			Count("RequestCount").
			Flush()
	}()

	log.Debug().Str("method", http.MethodPost).Str("path", path).Msg("Captioner request")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		result = "build_error"
		return &RequestError{Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		result = "unreachable"
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Captioner response")
		return &RequestError{Op: op, Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Captioner response")

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		result = "read_error"
		return &RequestError{Op: op, StatusCode: httpResp.StatusCode, Message: "read response", Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		result = "http_error"
		log.Warn().
			Str("op", op).
			Int("statusCode", httpResp.StatusCode).
			Str("body", truncate(string(data), 200)).
			Msg("Captioner rejected request")
		return &RequestError{Op: op, StatusCode: httpResp.StatusCode, Message: "service rejected request"}
	}

	if err := json.Unmarshal(data, out); err != nil {
		result = "parse_error"
		return &RequestError{
			Op:         op,
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("parse response (body: %s)", truncate(string(data), 200)),
			Err:        err,
		}
	}
	return nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// truncate returns the first n bytes of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
