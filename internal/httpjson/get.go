package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxBodyBytes = 1 << 20

// StatusError is returned when the upstream answers outside the 2xx range.
// Only the host is kept since some APIs carry credentials in the path.
type StatusError struct {
	Host   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status=%d body=%s", e.Host, e.Status, e.Body)
}

// DefaultClient is used when callers pass a nil client.
var DefaultClient = &http.Client{Timeout: 10 * time.Second}

// Get fetches rawURL and decodes its JSON body into out.
func Get(ctx context.Context, client *http.Client, rawURL string, out any) error {
	if client == nil {
		client = DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, so keep only its cause.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("request to %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Host: req.URL.Host, Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
