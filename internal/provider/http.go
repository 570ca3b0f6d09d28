package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
)

const (
	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 4096
)

// HTTPClient talks to the sandbox provider over its HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a provider client for the given base URL and token.
func NewHTTPClient(baseURL, token string, timeout time.Duration) (*HTTPClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("provider base URL required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: trimmed,
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

var _ Client = (*HTTPClient)(nil)

// Create asks the provider to provision one sandbox.
func (c *HTTPClient) Create(ctx context.Context, spec domain.RuntimeSpec, limits domain.SandboxLimits) (Sandbox, error) {
	body := map[string]any{
		"spec":   spec,
		"limits": limits,
	}
	var sandbox Sandbox
	if err := c.do(ctx, http.MethodPost, "/sandboxes", body, &sandbox); err != nil {
		return Sandbox{}, err
	}
	if sandbox.Handle == "" {
		return Sandbox{}, &Error{Kind: KindInvalidSpec, Msg: "provider returned no sandbox handle"}
	}
	return sandbox, nil
}

// Destroy releases a sandbox.
func (c *HTTPClient) Destroy(ctx context.Context, handle string) error {
	return c.do(ctx, http.MethodDelete, "/sandboxes/"+handle, nil, nil)
}

// Probe asks the provider to check one endpoint path inside the sandbox.
func (c *HTTPClient) Probe(ctx context.Context, handle, path string) (ProbeResult, error) {
	var payload struct {
		Healthy bool `json:"healthy"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sandboxes/%s/probe?path=%s", handle, path), nil, &payload)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && pe.Kind == KindTimeout {
			return ProbeTimeout, nil
		}
		return ProbeUnhealthy, err
	}
	if payload.Healthy {
		return ProbeHealthy, nil
	}
	return ProbeUnhealthy, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindInvalidSpec, Err: err}
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindInvalidSpec, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Provider-Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.mapStatus(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindNetwork, Msg: "malformed provider response", Err: err}
	}
	return nil
}

func (c *HTTPClient) mapStatus(resp *http.Response) error {
	msg := readErrorBody(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindAuth, Msg: msg}
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Msg: msg}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Msg: msg}
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return &Error{Kind: KindInvalidSpec, Msg: msg}
	case resp.StatusCode == http.StatusInsufficientStorage || resp.StatusCode == http.StatusConflict:
		return &Error{Kind: KindInsufficientResources, Msg: msg}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindUnavailable, Msg: msg}
	default:
		return &Error{Kind: KindNetwork, Msg: fmt.Sprintf("unexpected status %s", resp.Status)}
	}
}

func readErrorBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	return errors.As(err, &t) && t.Timeout()
}
