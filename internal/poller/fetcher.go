package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

type FetchResult struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration
}

// FetchError reports a failed or non-2xx call to the polled API.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// NewHTTPClient builds the client shared by every poll of one process.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

type Fetcher struct {
	client *http.Client
	url    string
}

func NewFetcher(client *http.Client, url string) *Fetcher {
	return &Fetcher{client: client, url: url}
}

// Fetch issues one GET. The result is non-nil whenever a response arrived;
// the error is a *FetchError for transport failures and non-2xx statuses.
func (f *Fetcher) Fetch(ctx context.Context) (*FetchResult, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return &FetchResult{Latency: time.Since(start)}, &FetchError{URL: f.url, Err: err}
	}
	req.Header.Set("User-Agent", "apilogger/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return &FetchResult{Latency: time.Since(start)}, &FetchError{URL: f.url, Err: err}
	}
	defer resp.Body.Close()

	result := &FetchResult{StatusCode: resp.StatusCode}
	if !IsSuccess(resp.StatusCode) {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		result.Latency = time.Since(start)
		return result, &FetchError{URL: f.url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	result.Latency = time.Since(start)
	if err != nil {
		return result, &FetchError{URL: f.url, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	result.Body = body
	return result, nil
}
