// Package client provides the HTTP transport for the de-identification backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/vamos-go/internal/config"
	"github.com/raphaelgruber/vamos-go/internal/metrics"
	"github.com/raphaelgruber/vamos-go/internal/models"
)

// maxResponseBytes caps how much of a JSON response body is read.
const maxResponseBytes = 1 << 20

// Client issues requests against the backend. It keeps no per-job state.
type Client struct {
	base           *url.URL
	httpClient     *http.Client
	requestTimeout time.Duration
	uploadTimeout  time.Duration
	maxUploadBytes int64
	extensions     []string
	logger         *slog.Logger
	metrics        *metrics.Collector
}

// New creates a client for cfg.APIURL. httpClient may be nil, in which case a
// logging client from NewHTTPClient is used.
func New(cfg config.Config, httpClient *http.Client, logger *slog.Logger, collector *metrics.Collector) (*Client, error) {
	base, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(logger)
	}
	return &Client{
		base:           base,
		httpClient:     httpClient,
		requestTimeout: cfg.RequestTimeout,
		uploadTimeout:  cfg.UploadTimeout,
		maxUploadBytes: cfg.MaxUploadBytes,
		extensions:     cfg.AllowedExtensions,
		logger:         logger,
		metrics:        collector,
	}, nil
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// HTTPClient returns the underlying HTTP client so the progress stream shares its transport.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) endpoint(elems ...string) string {
	return c.base.JoinPath(elems...).String()
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateFile checks a local video before upload and returns its size.
// Failures wrap models.ErrInvalidFile.
func (c *Client) ValidateFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrInvalidFile, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", models.ErrInvalidFile, path)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: %s is empty", models.ErrInvalidFile, path)
	}
	if c.maxUploadBytes > 0 && info.Size() > c.maxUploadBytes {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit is %d", models.ErrInvalidFile, path, info.Size(), c.maxUploadBytes)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if len(c.extensions) > 0 && !slices.Contains(c.extensions, ext) {
		return 0, fmt.Errorf("%w: extension %q not in %v", models.ErrInvalidFile, ext, c.extensions)
	}
	return info.Size(), nil
}

// =============================================================================
// UPLOAD
// =============================================================================

// ProgressFunc reports upload progress in bytes.
type ProgressFunc func(sent, total int64)

// Upload streams the file as multipart field "file" and returns the backend job ID.
// It is never retried: a timeout leaves the outcome unknown and a retry could duplicate the job.
func (c *Client) Upload(ctx context.Context, path string, onProgress ProgressFunc) (string, error) {
	start := time.Now()
	id, sent, err := c.upload(ctx, path, onProgress)
	c.metrics.RecordTiming(metrics.OpUpload, time.Since(start), err)
	c.metrics.AddBytes(metrics.OpUpload, sent)
	if err == nil {
		c.logger.Info("upload accepted", "job_id", id, "bytes", sent, "duration", time.Since(start).Round(time.Millisecond))
	}
	return id, err
}

func (c *Client) upload(ctx context.Context, path string, onProgress ProgressFunc) (string, int64, error) {
	const op = "upload"

	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", models.ErrInvalidFile, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return "", 0, fmt.Errorf("%w: %w", models.ErrInvalidFile, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	counter := &countingReader{r: f, total: info.Size(), onProgress: onProgress}

	go func() {
		defer f.Close()
		part, err := mw.CreatePart(filePartHeader(filepath.Base(path)))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, counter); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("upload"), pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return "", counter.sent.Load(), transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return "", counter.sent.Load(), transportError(ctx, op, err)
	}
	if !isSuccess(resp.StatusCode) {
		return "", counter.sent.Load(), statusError(op, resp, body)
	}

	var payload struct {
		FileID string `json:"file_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", counter.sent.Load(), &models.Error{Kind: models.KindProtocol, Reason: models.ReasonMalformed, Op: op, Msg: "response is not JSON", Err: err}
	}
	if strings.TrimSpace(payload.FileID) == "" {
		return "", counter.sent.Load(), &models.Error{Kind: models.KindProtocol, Reason: models.ReasonMalformed, Op: op, Msg: "response has no file_id"}
	}
	return payload.FileID, counter.sent.Load(), nil
}

func filePartHeader(name string) textproto.MIMEHeader {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": name,
	}))
	h.Set("Content-Type", contentType)
	return h
}

// countingReader reports bytes read through onProgress.
type countingReader struct {
	r          io.Reader
	sent       atomic.Int64
	total      int64
	onProgress ProgressFunc
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		sent := cr.sent.Add(int64(n))
		if cr.onProgress != nil {
			cr.onProgress(sent, cr.total)
		}
	}
	return n, err
}

// =============================================================================
// ANALYSIS
// =============================================================================

// TriggerAnalysis asks the backend to start processing an uploaded video and
// returns the masked frame images the backend reports, if any.
// The request is idempotent, so callers may retry it once on a transient failure.
func (c *Client) TriggerAnalysis(ctx context.Context, jobID string) ([]string, error) {
	const op = "analyze"
	start := time.Now()

	frames, err := func() ([]string, error) {
		ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("analyze", jobID), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, transportError(ctx, op, err)
		}
		defer resp.Body.Close()

		body, err := readBody(resp)
		if err != nil {
			return nil, transportError(ctx, op, err)
		}
		if !isSuccess(resp.StatusCode) {
			return nil, statusError(op, resp, body)
		}

		// Any 2xx is accepted, including empty or non-JSON bodies from async backends.
		var payload struct {
			Error    string `json:"error"`
			Analysis struct {
				ImageURLs []string `json:"image_urls"`
			} `json:"analysis"`
		}
		if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &payload) != nil {
			return nil, nil
		}
		if payload.Error != "" {
			return nil, &models.Error{Kind: models.KindProtocol, Reason: models.ReasonRejected, Op: op, Msg: payload.Error}
		}

		var frames []string
		for _, ref := range payload.Analysis.ImageURLs {
			if ref = strings.TrimSpace(ref); ref != "" {
				frames = append(frames, c.resolve(ref))
			}
		}
		return frames, nil
	}()

	c.metrics.RecordTiming(metrics.OpTriggerAnalysis, time.Since(start), err)
	return frames, err
}

// =============================================================================
// RESULT
// =============================================================================

// FetchResult returns the media references of a completed job.
// Unknown or unfinished jobs yield a models.KindNotFound error.
func (c *Client) FetchResult(ctx context.Context, jobID string) (models.ResultRefs, error) {
	const op = "result"
	start := time.Now()

	refs, err := func() (models.ResultRefs, error) {
		ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("result", jobID), nil)
		if err != nil {
			return models.ResultRefs{}, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return models.ResultRefs{}, transportError(ctx, op, err)
		}
		defer resp.Body.Close()

		body, err := readBody(resp)
		if err != nil {
			return models.ResultRefs{}, transportError(ctx, op, err)
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict {
			return models.ResultRefs{}, &models.Error{Kind: models.KindNotFound, Op: op, Status: resp.StatusCode, Msg: "job " + jobID}
		}
		if !isSuccess(resp.StatusCode) {
			return models.ResultRefs{}, statusError(op, resp, body)
		}

		var payload struct {
			models.ResultRefs
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return models.ResultRefs{}, &models.Error{Kind: models.KindProtocol, Reason: models.ReasonMalformed, Op: op, Msg: "response is not JSON", Err: err}
		}
		if payload.Error != "" {
			return models.ResultRefs{}, &models.Error{Kind: models.KindNotFound, Op: op, Msg: payload.Error}
		}
		if payload.MaskedURL == "" {
			return models.ResultRefs{}, &models.Error{Kind: models.KindProtocol, Reason: models.ReasonMalformed, Op: op, Msg: "response has no masked_url"}
		}
		return models.ResultRefs{
			OriginalURL: c.resolve(payload.OriginalURL),
			MaskedURL:   c.resolve(payload.MaskedURL),
		}, nil
	}()

	c.metrics.RecordTiming(metrics.OpFetchResult, time.Since(start), err)
	return refs, err
}

// DerivedResult returns the statically served masked video for jobID.
// The backend does not serve the original, so callers fill it in from the
// uploaded file.
func (c *Client) DerivedResult(jobID string) models.ResultRefs {
	return models.ResultRefs{
		MaskedURL: c.endpoint("result_video", jobID+"_final.mp4"),
	}
}

// resolve makes backend-relative references absolute.
func (c *Client) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

// =============================================================================
// HELPERS
// =============================================================================

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func statusError(op string, resp *http.Response, body []byte) error {
	return &models.Error{
		Kind:   models.KindTransport,
		Reason: models.ReasonStatus,
		Op:     op,
		Status: resp.StatusCode,
		Msg:    truncate(strings.TrimSpace(string(body)), maxBodyLogLen),
	}
}

// transportError classifies a failed round trip. ctx is the request's own
// bounded context, so its deadline marks a timeout.
func transportError(ctx context.Context, op string, err error) error {
	reason := models.ReasonNetwork
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		reason = models.ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		reason = models.ReasonTimeout
	}
	return &models.Error{Kind: models.KindTransport, Reason: reason, Op: op, Err: err}
}
