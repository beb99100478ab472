package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// CodeOrganizationAccessDenied is the structured error code the admin API returns when the
// caller is not a member of the selected organization.
const CodeOrganizationAccessDenied = "organization_access_denied"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is returned for every non-2xx response.
type APIError struct {
	Status     int
	StatusText string
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%d %s", e.Status, e.StatusText)
}

// OrganizationDenied reports whether the error rejects the selected organization. The
// structured code wins; the message match covers APIs that only send text.
func (e *APIError) OrganizationDenied() bool {
	if e.Status != http.StatusForbidden {
		return false
	}
	if e.Code == CodeOrganizationAccessDenied {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "organization")
}

// Client calls the admin REST API. Every request carries the selected organization, and a
// 403 rejecting that organization clears it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	selection  *tenant.Selection
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
	retry      *RetryPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records upstream request counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRetryPolicy sets the policy applied to GET requests.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *Client) {
		if p != nil {
			c.retry = p
		}
	}
}

// New creates a client for cfg.BaseURL. sel may be nil, in which case no organization
// header is sent.
func New(cfg config.APIConfig, sel *tenant.Selection, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		selection: sel,
		logger:    logrus.StandardLogger(),
		retry:     NewRetryPolicy(DefaultRetryConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends a JSON request and decodes a JSON response into out when out is non-nil.
// GET requests are retried according to the retry policy.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	policy := c.retry
	if method != http.MethodGet {
		policy = NoRetry()
	}

	for attempt := 1; ; attempt++ {
		err := c.send(ctx, method, path, payload, out)
		if !policy.ShouldRetry(attempt, err) {
			return err
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempt,
		}).Debug("Retrying admin API request")
		if werr := policy.wait(ctx, attempt); werr != nil {
			return err
		}
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setOrganization(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstream(method, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		if apiErr.OrganizationDenied() {
			c.clearOrganization(ctx)
		}
		return apiErr
	}

	if resp.StatusCode == http.StatusNoContent || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) setOrganization(req *http.Request) {
	if c.selection == nil {
		return
	}
	id, err := c.selection.Get(req.Context())
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read selected organization, sending request without it")
		return
	}
	if id != "" {
		req.Header.Set(tenant.HeaderName, id)
	}
}

func (c *Client) clearOrganization(ctx context.Context) {
	if c.selection == nil {
		return
	}
	if err := c.selection.Clear(ctx, tenant.ReasonAccessDenied); err != nil {
		c.logger.WithError(err).Error("Failed to clear rejected organization")
		return
	}
	c.logger.Info("Admin API rejected the selected organization, selection cleared")
}

// errorBody covers the error shapes the admin API and gatehouse itself produce.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
	}

	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err != nil {
		return apiErr
	}
	apiErr.Code = body.Code
	apiErr.Message = detailMessage(body.Detail)
	if apiErr.Message == "" {
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = body.Error
	}
	return apiErr
}

// detailMessage flattens a detail field that is either a string or a list of validation
// issues ({"loc": [...], "msg": "..."}).
func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var issues []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &issues); err != nil {
		return ""
	}
	msgs := make([]string, 0, len(issues))
	for _, i := range issues {
		if i.Msg != "" {
			msgs = append(msgs, i.Msg)
		}
	}
	return strings.Join(msgs, "; ")
}
