// Package api implements the upload collaborator: a thin HTTP client
// that sends one staged file at a time to the host backend and returns
// the server-assigned path. It satisfies gallery.Uploader; retry and
// backoff policy belong to the caller.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/alexjbarnes/media-stage/gallery"
	apperrors "github.com/alexjbarnes/media-stage/internal/errors"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller may retry the commit.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// uploadTimeout is the per-file timeout for the default HTTP
	// client when no custom client is provided.
	uploadTimeout = 2 * time.Minute

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024
)

// Client uploads staged files to the host backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	uploadPath string
	token      string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the bearer token
// from leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an upload client. token may be empty for backends
// that authenticate elsewhere. If httpClient is nil, a client with a
// two-minute timeout and same-host redirect policy is created.
func NewClient(baseURL, uploadPath, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       uploadTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		uploadPath: uploadPath,
		token:      token,
	}
}

// Upload sends one file as multipart form data together with the extra
// fields and returns the server-assigned remote path. Network errors
// and retryable statuses come back wrapped in TransientError.
func (c *Client) Upload(ctx context.Context, src gallery.Source, fields map[string]string) (gallery.UploadResult, error) {
	body, contentType, err := buildMultipart(src, fields)
	if err != nil {
		return gallery.UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.uploadPath, body)
	if err != nil {
		return gallery.UploadResult{}, fmt.Errorf("creating upload request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return gallery.UploadResult{}, &TransientError{Err: fmt.Errorf("uploading %s: %w", src.Filename(), err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return gallery.UploadResult{}, fmt.Errorf("reading upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%w: status %d: %s", apperrors.ErrUploadRejected, resp.StatusCode, sanitizeResponseBody(respBody))
		if isTransientStatus(resp.StatusCode) {
			return gallery.UploadResult{}, &TransientError{Err: err}
		}

		return gallery.UploadResult{}, err
	}

	// Some backends report failure as 200 with an error field.
	if msg := gjson.GetBytes(respBody, "error").Str; msg != "" {
		return gallery.UploadResult{}, fmt.Errorf("%w: %s", apperrors.ErrUploadRejected, msg)
	}

	remotePath := gjson.GetBytes(respBody, "remote_path").Str
	if remotePath == "" {
		remotePath = gjson.GetBytes(respBody, "data.remote_path").Str
	}

	if remotePath == "" {
		return gallery.UploadResult{}, fmt.Errorf("%w: %s", apperrors.ErrMissingRemotePath, sanitizeResponseBody(respBody))
	}

	return gallery.UploadResult{RemotePath: remotePath}, nil
}

// buildMultipart renders the file and extra fields into a multipart
// body. Fields are written in sorted order so request bodies are
// reproducible in tests.
func buildMultipart(src gallery.Source, fields map[string]string) (*bytes.Buffer, string, error) {
	f, err := src.Open()
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", src.Filename(), err)
	}
	defer f.Close()

	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}

	part, err := w.CreateFormFile("file", src.Filename())
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}

	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copying %s into request: %w", src.Filename(), err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalizing multipart body: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
