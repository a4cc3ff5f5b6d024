package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const (
	// The maximum size of an HTTP response body to read.
	maxHTTPBodySize = 100 * 1024 * 1024
)

// HTTPStatusError is returned when the server answers with a non-200 status.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

// Performs an HTTP GET request and returns the response body, limited to the specified maximum size.
// If the response body exceeds the maximum size, an error is returned.
// If the maximum size is 0 or greater than maxHTTPBodySize, maxHTTPBodySize is used instead.
// A nil client means http.DefaultClient.
func HTTPLimitedGet(ctx context.Context, client *http.Client, url string, maxSize int64) ([]byte, error) {
	if maxSize == 0 || maxSize > maxHTTPBodySize {
		maxSize = maxHTTPBodySize
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}
	reader := io.LimitReader(resp.Body, maxSize+1)
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(body) > int(maxSize) {
		return nil, fmt.Errorf("response body exceeded maximum size of %d bytes", maxSize)
	}
	return body, nil
}
