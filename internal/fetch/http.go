package fetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/econfeed/internal/resilience"
)

// HTTPOptions configures the shared HTTP transport.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
}

// HTTPClient is the single-attempt HTTP downloader shared by the HTTP-based
// providers. Retries are the remediation engine's job; a failed call here
// feeds the circuit breaker as-is.
type HTTPClient struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPClient creates a client with connection pooling tuned for a small
// set of provider hosts.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "econfeed/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPClient{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts: opts,
	}
}

// Download fetches the URL and returns the response body. Non-2xx statuses
// come back as TransportError so the caller can classify them.
func (c *HTTPClient) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransportError(eris.Wrap(err, "fetch: http request"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, resilience.NewTransportError(
			eris.Errorf("fetch: unexpected status %d from %s", resp.StatusCode, rawURL),
			resp.StatusCode,
		)
	}

	return resp.Body, nil
}

// DownloadToFile fetches the URL into a temp file and returns its path. Used
// by formats whose parsers need random access. The caller removes the file.
func (c *HTTPClient) DownloadToFile(ctx context.Context, rawURL, pattern string) (string, error) {
	body, err := c.Download(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", eris.Wrap(err, "fetch: create temp file")
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(file, body); err != nil {
		_ = os.Remove(file.Name())
		return "", eris.Wrap(err, "fetch: write temp file")
	}
	return file.Name(), nil
}
