package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat-widget/internal/dto"
	internaljwt "chat-widget/internal/jwt"
	"chat-widget/internal/model"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Client talks to the support backend on behalf of one widget.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      zerolog.Logger
	registerer  prometheus.Registerer
	timeout     time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics registers request collectors on reg and instruments the transport.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func NewClient(baseURL, accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := http.DefaultTransport
	if c.httpClient != nil && c.httpClient.Transport != nil {
		base = c.httpClient.Transport
	}
	var m *metrics
	if c.registerer != nil {
		m = newMetrics(c.registerer, c.baseURL)
	}

	hc := &http.Client{Timeout: c.timeout}
	if c.httpClient != nil {
		copied := *c.httpClient
		hc = &copied
		if c.timeout > 0 {
			hc.Timeout = c.timeout
		}
	}
	hc.Transport = &transport{next: base, metrics: m, logger: c.logger}
	c.httpClient = hc

	if exp, ok := internaljwt.Expiry(accessToken); ok && time.Now().After(exp) {
		c.logger.Warn().Time("expired_at", exp).Msg("access token looks expired")
	}
	return c
}

// RegisterCustomer registers (or re-registers) the visitor and returns the
// canonical customer session id.
func (c *Client) RegisterCustomer(ctx context.Context, req dto.RegisterCustomerRequest) (string, error) {
	var res dto.RegisterCustomerResponse
	path := "/" + url.PathEscape(c.accessToken) + "/company_customer"
	if err := c.do(ctx, http.MethodPost, path, "", req, &res); err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Session) == "" {
		return "", fmt.Errorf("api register customer: response without session")
	}
	return res.Session, nil
}

// RequestSupport pages a human agent for the customer session.
func (c *Client) RequestSupport(ctx context.Context, customerSessionID string) error {
	path := "/" + url.PathEscape(c.accessToken) + "/company_customer/request_support"
	return c.do(ctx, http.MethodPost, path, customerSessionID, nil, nil)
}

// History returns the messages of a chat session, oldest first.
func (c *Client) History(ctx context.Context, customerSessionID string, chatSessionID int64) ([]model.Message, error) {
	var res dto.ListMessagesResponse
	if err := c.do(ctx, http.MethodGet, messagePath(chatSessionID, ""), customerSessionID, nil, &res); err != nil {
		return nil, err
	}
	out := make([]model.Message, len(res.Messages))
	for i, msg := range res.Messages {
		out[i] = msg.Normalize()
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, customerSessionID string, chatSessionID int64, body model.MessageBody) error {
	req := dto.SendMessageRequest{Message: body}
	return c.do(ctx, http.MethodPost, messagePath(chatSessionID, "send_message"), customerSessionID, req, nil)
}

func (c *Client) SendBulk(ctx context.Context, customerSessionID string, chatSessionID int64, messages []model.Message) error {
	req := dto.SendBulkMessagesRequest{Messages: messages}
	return c.do(ctx, http.MethodPost, messagePath(chatSessionID, "send_bulk_messages"), customerSessionID, req, nil)
}

func messagePath(chatSessionID int64, action string) string {
	p := "/message/" + strconv.FormatInt(chatSessionID, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api %s %s: marshal body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api %s %s: build request: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		return &RequestError{
			StatusCode: res.StatusCode,
			Status:     statusText(res),
			Method:     method,
			Path:       path,
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("api %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func statusText(res *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
	if text == "" {
		text = http.StatusText(res.StatusCode)
	}
	return text
}
