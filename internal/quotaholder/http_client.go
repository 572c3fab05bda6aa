package quotaholder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pithos/pkg/quotaholder"
)

// TokenHeader carries the service token on every request.
const TokenHeader = "X-Auth-Token"

// HTTPClient talks JSON to a remote quotaholder service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ quotaholder.Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type issueRequest struct {
	Holder     string           `json:"holder"`
	Source     string           `json:"source"`
	Provisions map[string]int64 `json:"provisions"`
	Name       string           `json:"name"`
}

type issueResponse struct {
	Serial int64 `json:"serial"`
}

type resolveRequest struct {
	Accept []int64 `json:"accept"`
	Reject []int64 `json:"reject"`
}

type pendingResponse struct {
	Serials []int64 `json:"serials"`
}

type setQuotaRequest struct {
	Limit int64 `json:"limit"`
}

// do sends payload (when not nil) and decodes the response into out (when
// not nil).
func (c *HTTPClient) do(ctx context.Context, method string, path string, token string, payload any, out any) error {
	requestURL := c.baseURL + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(TokenHeader, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s %s: %w", method, requestURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s", quotaholder.ErrQuotaExceeded, strings.TrimSpace(string(bodyBytes)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %s %s failed: %d %s", method, requestURL, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) IssueOneCommission(ctx context.Context, token string, holder string, source string, provisions map[string]int64, name string) (int64, error) {
	var resp issueResponse
	err := c.do(ctx, http.MethodPost, "/commissions", token, issueRequest{
		Holder:     holder,
		Source:     source,
		Provisions: provisions,
		Name:       name,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Serial, nil
}

func (c *HTTPClient) ResolveCommissions(ctx context.Context, token string, accept []int64, reject []int64) (quotaholder.Resolution, error) {
	var resolution quotaholder.Resolution
	err := c.do(ctx, http.MethodPost, "/commissions/action", token, resolveRequest{Accept: accept, Reject: reject}, &resolution)
	return resolution, err
}

func (c *HTTPClient) GetPendingCommissions(ctx context.Context, token string) ([]int64, error) {
	var resp pendingResponse
	if err := c.do(ctx, http.MethodGet, "/commissions", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Serials, nil
}

func (c *HTTPClient) GetQuota(ctx context.Context, token string, holder string) (quotaholder.Quota, error) {
	var quota quotaholder.Quota
	err := c.do(ctx, http.MethodGet, "/quotas/"+url.PathEscape(holder), token, nil, &quota)
	return quota, err
}

func (c *HTTPClient) SetQuota(ctx context.Context, token string, holder string, limit int64) error {
	return c.do(ctx, http.MethodPut, "/quotas/"+url.PathEscape(holder), token, setQuotaRequest{Limit: limit}, nil)
}
