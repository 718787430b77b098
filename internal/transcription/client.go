// Package transcription talks to the remote lip-reading service.
//
// A request uploads one normalized clip as multipart form data and reads a
// JSON body carrying the recognised text. Transport failures and non-2xx
// responses are errors tagged services.ErrTranscribeFailed. A 2xx response
// whose body cannot be decoded is not an error: the result is marked
// Malformed and the caller decides what an empty answer means.
package transcription

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_client.go -package=mocks lipstalk/internal/transcription Client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lipstalk/internal/config"
	"lipstalk/internal/logging"
	"lipstalk/internal/media"
	"lipstalk/internal/services"
)

const userAgent = "LipsTalk-Go/0.1.0"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Result is the outcome of a successful request.
type Result struct {
	Text string
	// Malformed reports a 2xx response whose body carried no usable text.
	Malformed bool
}

// Empty reports whether the result carries no text.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// Client submits a normalized clip and returns its transcript.
type Client interface {
	Transcribe(ctx context.Context, clip media.ClipRef) (Result, error)
}

// HTTPClient is the production Client.
type HTTPClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPClient builds a client from configuration. Request deadlines come
// from the caller's context; the http.Client itself carries no timeout.
func NewHTTPClient(cfg *config.Config, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimSpace(cfg.Transcription.Endpoint),
		apiKey:   strings.TrimSpace(cfg.Transcription.APIKey),
		model:    strings.TrimSpace(cfg.Transcription.Model),
		client:   &http.Client{},
		logger:   logging.NewComponentLogger(logger, "transcription"),
	}
}

type response struct {
	Text          *string `json:"text"`
	Transcription *string `json:"transcription"`
}

func (r response) value() (string, bool) {
	switch {
	case r.Text != nil:
		return *r.Text, true
	case r.Transcription != nil:
		return *r.Transcription, true
	default:
		return "", false
	}
}

// Transcribe uploads clip and waits for the service's answer.
func (c *HTTPClient) Transcribe(ctx context.Context, clip media.ClipRef) (Result, error) {
	if !clip.Usable() {
		return Result{}, services.Wrap(services.ErrTranscribeFailed, "transcribe", "input", fmt.Sprintf("clip %s is not usable", clip), nil)
	}

	body, contentType, err := c.buildBody(clip.Path)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTranscribeFailed, "transcribe", "encode", "build upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTranscribeFailed, "transcribe", "request", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTranscribeFailed, "transcribe", "send", "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, services.Wrap(services.ErrTranscribeFailed, "transcribe", "read", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(payload))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return Result{}, services.Wrap(services.ErrTranscribeFailed, "transcribe", "status", fmt.Sprintf("service returned %d: %s", resp.StatusCode, snippet), nil)
	}

	var decoded response
	text, ok := "", false
	if err := json.Unmarshal(payload, &decoded); err == nil {
		text, ok = decoded.value()
	}
	result := Result{Text: strings.TrimSpace(text), Malformed: !ok}

	logger := logging.WithContext(ctx, c.logger)
	if result.Malformed {
		logging.WarnWithContext(logger, "transcription response missing text", "transcription_malformed",
			logging.Int("status", resp.StatusCode),
			logging.Duration("duration", time.Since(started)),
			logging.String(logging.FieldImpact, "transcript treated as empty"),
		)
	} else {
		logger.Debug("transcription received",
			logging.Int("status", resp.StatusCode),
			logging.Duration("duration", time.Since(started)),
			logging.Int("chars", len(result.Text)),
			logging.String(logging.FieldEventType, "transcription_received"),
		)
	}
	return result, nil
}

func (c *HTTPClient) buildBody(path string) (io.Reader, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", err
	}
	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
