package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v3"
)

// Client is the black-box GET/PUT facade the reconciliation engine consumes.
// Its only job is performing authenticated REST calls and retrying
// transport-level errors; it does not decide what to write — that is the
// reconcilers' job. Implemented here concretely (rather than left as a pure
// interface) because this module still has to run end to end.
type Client interface {
	Get(ctx context.Context, resourceID string) (json.RawMessage, error)
	Put(ctx context.Context, resourceID string, body interface{}) (json.RawMessage, error)
}

// GetJSON fetches resourceID and decodes it into a new T.
func GetJSON[T any](ctx context.Context, c Client, resourceID string) (*T, error) {
	raw, err := c.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding %T from %s: %w", v, resourceID, err)
	}
	return &v, nil
}

// GetList fetches the ARM `{"value": [...]}` envelope at resourceID.
func GetList[T any](ctx context.Context, c Client, resourceID string) ([]T, error) {
	raw, err := c.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return decodeList[T](raw)
}

// PutJSON PUTs body and decodes the response into a new T.
func PutJSON[T any](ctx context.Context, c Client, resourceID string, body interface{}) (*T, error) {
	raw, err := c.Put(ctx, resourceID, body)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding %T from %s: %w", v, resourceID, err)
	}
	return &v, nil
}

// Credentials authenticates the client against the cloud control plane.
type Credentials struct {
	Username string
	Password string
}

// Options configures a new HTTPClient.
type Options struct {
	Credentials    Credentials
	Environment    string
	Proxy          string
	BaseURL        string // e.g. "https://management.azure.com"
	IsStackProfile bool   // selects the stack-ha API version table
	MaxTime        time.Duration
	Retries        uint
}

// HTTPClient is the concrete Client implementation: plain net/http plus
// avast/retry-go transport-error retries. Retry/backoff for transport
// errors is this component's job, not the reconciliation engine's (§1
// Non-goals) — it is delegated here, not to the caller.
type HTTPClient struct {
	opts       Options
	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient from opts.
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.MaxTime <= 0 {
		opts.MaxTime = 20 * time.Second
	}
	if opts.Retries == 0 {
		opts.Retries = 3
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://management.azure.com"
	}

	transport := http.DefaultTransport
	if opts.Proxy != "" {
		if proxyURL, err := url.Parse(opts.Proxy); err == nil {
			if proxyTransport, ok := http.DefaultTransport.(*http.Transport); ok {
				clone := proxyTransport.Clone()
				clone.Proxy = http.ProxyURL(proxyURL)
				transport = clone
			}
		}
	}

	return &HTTPClient{
		opts: opts,
		httpClient: &http.Client{
			Timeout:   opts.MaxTime,
			Transport: transport,
		},
	}
}

func (c *HTTPClient) Get(ctx context.Context, resourceID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, resourceID, nil)
}

func (c *HTTPClient) Put(ctx context.Context, resourceID string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, resourceID, body)
}

func (c *HTTPClient) do(ctx context.Context, method, resourceID string, body interface{}) (json.RawMessage, error) {
	url := c.opts.BaseURL + WithAPIVersion(resourceID, c.opts.IsStackProfile)

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	var respBody []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.SetBasicAuth(c.opts.Credentials.Username, c.opts.Credentials.Password)
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err // transport error: retried
			}
			defer resp.Body.Close()

			respBody, err = io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}

			// Any non-2xx status (4xx request-shape/authorization errors
			// included) is an HTTP response, not a transport error: surface
			// it immediately instead of retrying.
			return retry.Unrecoverable(&RequestError{Code: resp.StatusCode, Message: string(respBody)})
		},
		retry.Attempts(c.opts.Retries),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return respBody, nil
}
