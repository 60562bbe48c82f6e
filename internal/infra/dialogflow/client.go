// Package dialogflow talks to the intent proxy that fronts a Dialogflow agent.
package dialogflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"smart-control/internal/domain"
	"smart-control/internal/infra"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      infra.RetryConfig
	logger     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client, e.g. in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithRetry(cfg infra.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      infra.DefaultRetryConfig(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSocksHTTPClient returns an HTTP client that dials through a SOCKS5 proxy.
func NewSocksHTTPClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("creating socks5 dialer: %w", err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

type request struct {
	Text string `json:"text"`
}

type response struct {
	Intent *struct {
		DisplayName string `json:"displayName"`
	} `json:"intent"`
	Parameters map[string]any `json:"parameters"`
}

// Resolve never fails. Any transport or decoding problem yields the unknown
// fallback with Unavailable set.
func (c *Client) Resolve(ctx context.Context, text string) domain.IntentResult {
	result, err := c.detect(ctx, text)
	if err != nil {
		c.logger.Error("intent detection failed", "error", err)
		fallback := domain.UnknownIntent()
		fallback.Unavailable = true
		return fallback
	}
	return result
}

func (c *Client) detect(ctx context.Context, text string) (domain.IntentResult, error) {
	bodyBytes, err := json.Marshal(request{Text: text})
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	var resp response
	retryErr := infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect-intent", bytes.NewReader(bodyBytes))
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
			apiErr := fmt.Errorf("intent proxy error %d: %s", httpResp.StatusCode, strings.TrimSpace(string(respBody)))
			if infra.IsRetryableHTTPStatus(httpResp.StatusCode) {
				return apiErr
			}
			return infra.Permanent(apiErr)
		}

		resp = response{}
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return infra.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
	if retryErr != nil {
		return domain.IntentResult{}, retryErr
	}

	result := domain.IntentResult{Parameters: make(map[string]string, len(resp.Parameters))}
	if resp.Intent != nil {
		result.IntentName = resp.Intent.DisplayName
	}
	for k, v := range resp.Parameters {
		if s, ok := stringify(v); ok {
			result.Parameters[k] = s
		}
	}

	c.logger.Debug("intent detected", "text", text, "intent", result.IntentName, "parameters", result.Parameters)
	return result, nil
}

func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool, float64:
		return fmt.Sprint(val), true
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
