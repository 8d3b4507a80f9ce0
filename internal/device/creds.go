// Package device implements the outbound leg of the pipeline: for every
// created event it fetches per-device SSH credentials and issues the
// upload command on the faulting device.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Credentials fetch outcomes, used as metrics labels.
const (
	FetchOK           = "ok"
	FetchHTTPError    = "http_error"
	FetchNetworkError = "network_error"
	FetchDecodeError  = "decode_error"
)

// Credentials is the JSON document served by the credentials service for
// one device.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredsError is a failed credentials fetch, classified for metrics.
type CredsError struct {
	// Kind is one of the Fetch* outcome labels.
	Kind string

	// StatusCode is the HTTP status, when one was received.
	StatusCode int

	Message string
}

// Error implements the error interface.
func (e *CredsError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("credentials fetch: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("credentials fetch: %s", e.Message)
}

// CredsClient queries the plant credentials service for per-device SSH
// credentials as <base-url>?ip=<device-ip>.
type CredsClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCredsClient creates a credentials client. timeout bounds one fetch
// end to end.
func NewCredsClient(baseURL string, timeout time.Duration) *CredsClient {
	return &CredsClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch requests credentials for the given device address. Failures are
// reported as *CredsError so callers can label the outcome.
func (c *CredsClient) Fetch(ctx context.Context, deviceIP string) (Credentials, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return Credentials{}, &CredsError{Kind: FetchNetworkError, Message: err.Error()}
	}
	q := u.Query()
	q.Set("ip", deviceIP)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Credentials{}, &CredsError{Kind: FetchNetworkError, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credentials{}, &CredsError{Kind: FetchNetworkError, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, &CredsError{Kind: FetchNetworkError, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return Credentials{}, &CredsError{
			Kind:       FetchHTTPError,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status for %s", deviceIP),
		}
	}

	var creds Credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return Credentials{}, &CredsError{
			Kind:       FetchDecodeError,
			StatusCode: resp.StatusCode,
			Message:    err.Error(),
		}
	}
	if creds.Username == "" {
		return Credentials{}, &CredsError{
			Kind:       FetchDecodeError,
			StatusCode: resp.StatusCode,
			Message:    "response carries no username",
		}
	}
	return creds, nil
}
