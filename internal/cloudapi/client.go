package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/micro-ha/minirack-dashboard/internal/model"
	"github.com/micro-ha/minirack-dashboard/internal/retry"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "MiniRack-Dashboard/dev"
	tokenHeader      = "X-User-Token"
	maxBodyBytes     = 8 << 20
	maxErrorBody     = 256
)

// TokenSource resolves the verified token for a network.
type TokenSource interface {
	TokenFor(networkID string) (string, bool)
}

// Client talks to the cloud network-controller API.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger

	mu        sync.RWMutex
	baseURL   string
	userAgent string
	policy    retry.Policy
}

func New(baseURL string, tokens TokenSource, logger *slog.Logger) *Client {
	return NewWithHTTPClient(&http.Client{Timeout: defaultTimeout}, baseURL, tokens, logger)
}

func NewWithHTTPClient(httpClient *http.Client, baseURL string, tokens TokenSource, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = model.DefaultConfig().BaseURL()
	}
	policy := retry.Default()
	policy.Retryable = isRetryableError
	return &Client{
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userAgent:  defaultUserAgent,
		policy:     policy,
	}
}

// SetBaseURL switches the API root, e.g. after api_url changed in config.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimSuffix(baseURL, "/")
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func (c *Client) SetUserAgent(userAgent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(userAgent) != "" {
		c.userAgent = userAgent
	}
}

// SetRetryPolicy replaces the retry policy. The retryable predicate is kept
// so that HTTP error responses are never retried.
func (c *Client) SetRetryPolicy(policy retry.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	policy.Retryable = isRetryableError
	c.policy = policy
}

// ListDevices returns every device record of a network. A body without a
// data envelope yields an empty list.
func (c *Client) ListDevices(ctx context.Context, networkID string) ([]RawDevice, error) {
	token, err := c.tokenFor(networkID)
	if err != nil {
		return nil, err
	}
	body, err := c.send(ctx, request{
		method: http.MethodGet,
		path:   "/networks/" + url.PathEscape(networkID) + "/devices",
		token:  token,
	})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			c.logger.Warn("device list rejected by upstream", "network_id", networkID, "status", statusErr.StatusCode, "body", statusErr.Body)
		}
		return nil, fmt.Errorf("list devices for network %s: %w", networkID, err)
	}
	devices, err := decodeDevices(body)
	if err != nil {
		return nil, fmt.Errorf("list devices for network %s: %w", networkID, err)
	}
	return devices, nil
}

// GetNetworkInfo fetches the metadata of a single network.
func (c *Client) GetNetworkInfo(ctx context.Context, networkID string) (NetworkInfo, error) {
	token, err := c.tokenFor(networkID)
	if err != nil {
		return NetworkInfo{}, err
	}
	body, err := c.send(ctx, request{
		method: http.MethodGet,
		path:   "/networks/" + url.PathEscape(networkID),
		token:  token,
	})
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("network info for %s: %w", networkID, err)
	}

	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return NetworkInfo{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	info := NetworkInfo{ID: networkID, Raw: env.Data}
	if name, ok := env.Data["name"].(string); ok {
		info.Name = name
	}
	if status, ok := env.Data["status"].(string); ok {
		info.Status = status
	}
	return info, nil
}

// RequestLogin asks the upstream to email a verification code and returns
// the unverified token bound to it.
func (c *Client) RequestLogin(ctx context.Context, email string) (string, error) {
	payload, err := json.Marshal(map[string]string{"login": email})
	if err != nil {
		return "", err
	}
	body, err := c.send(ctx, request{
		method:      http.MethodPost,
		path:        "/pro/login",
		contentType: "application/json",
		body:        payload,
	})
	if err != nil {
		return "", fmt.Errorf("request login: %w", err)
	}

	var env struct {
		Data struct {
			UserToken string `json:"user_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	token := strings.TrimSpace(env.Data.UserToken)
	if token == "" {
		return "", fmt.Errorf("%w: missing user_token", ErrMalformedResponse)
	}
	return token, nil
}

func (c *Client) tokenFor(networkID string) (string, error) {
	if c.tokens == nil {
		return "", fmt.Errorf("%w: %s", ErrNoToken, networkID)
	}
	token, ok := c.tokens.TokenFor(networkID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoToken, networkID)
	}
	return token, nil
}

type request struct {
	method      string
	path        string
	token       string
	contentType string
	body        []byte
}

func (c *Client) send(ctx context.Context, req request) ([]byte, error) {
	c.mu.RLock()
	policy := c.policy
	c.mu.RUnlock()

	policy.OnRetry = func(err error, attempt int, wait time.Duration) {
		c.logger.Warn("upstream request failed; retrying", "path", req.path, "attempt", attempt, "wait", wait.String(), "err", err)
	}
	return retry.Value(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return c.sendOnce(ctx, req)
	})
}

func (c *Client) sendOnce(ctx context.Context, req request) ([]byte, error) {
	c.mu.RLock()
	endpoint := c.baseURL + req.path
	userAgent := c.userAgent
	c.mu.RUnlock()

	var reader io.Reader
	if len(req.body) > 0 {
		reader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.token != "" {
		httpReq.Header.Set(tokenHeader, req.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     req.method,
			Path:       req.path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
