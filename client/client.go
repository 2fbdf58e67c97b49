package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/navigatorvzhang/web-chatbot/codec"
	"go.uber.org/zap"
)

// Config is the static client configuration. It is copied into the Client and never changes afterwards.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:3000",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
}

// Client wraps every call with a per-attempt deadline and an immediate, bounded retry
// of timeouts and connection failures. Everything else fails on the first attempt.
type Client struct {
	Logger *zap.SugaredLogger

	cfg         Config
	transport   http.RoundTripper
	retryClient *retryablehttp.Client
}

type ClientOption func(c *Client)

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("client").Sugar()
	}
}

func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.transport = rt
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func NewClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		Logger: zap.NewNop().Sugar(),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg.BaseURL = strings.TrimSuffix(c.cfg.BaseURL, "/")

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{
		Transport: c.transport,
		// applies to each attempt separately
		Timeout: cfg.Timeout,
	}
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 0
	}
	retryClient.CheckRetry = c.checkRetry
	retryClient.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		kind := classify(err)
		if !kind.retryable() {
			return nil, err
		}
		return nil, &CallError{Kind: kind, Attempts: numTries, Err: err}
	}
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}
	c.retryClient = retryClient

	return c
}

func (c *Client) Config() Config { return c.cfg }

func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		// any response, even a non-2xx one, is a deterministic answer
		return false, nil
	}
	kind := classify(err)
	c.Logger.Debugw("call failed", "Kind", kind, "Error", err)
	return kind.retryable(), nil
}

// Call sends body (nil for no body) to endpoint and decodes a JSON response into out.
func (c *Client) Call(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.retryClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.Logger.Debugw("server responded", "Endpoint", endpoint, "Status", resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(b)}
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return ErrInvalidContentType
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorMessage pulls a human-readable message out of either error shape the server uses.
func errorMessage(b []byte) string {
	var body struct {
		Message string           `json:"message"`
		Error   *codec.ErrorBody `json:"error"`
	}
	if json.Unmarshal(b, &body) != nil {
		return ""
	}
	if body.Error != nil {
		return body.Error.Message
	}
	return body.Message
}

func (c *Client) Init(ctx context.Context) (*codec.InitResponse, error) {
	var resp codec.InitResponse
	err := c.Call(ctx, http.MethodGet, "/init", nil, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != codec.StatusSuccess {
		return nil, &codec.ApplicationError{Body: codec.ErrorBody{Message: resp.Message}}
	}
	return &resp, nil
}

// Chat sends one chat turn. convCtx is written into the request body exactly as given.
func (c *Client) Chat(ctx context.Context, message string, convCtx json.RawMessage) (*codec.ChatReply, error) {
	body, err := chatBody(message, convCtx)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	err = c.Call(ctx, http.MethodPost, "/chat", body, &raw)
	if err != nil {
		return nil, err
	}
	var reply codec.ChatReply
	err = codec.UnmarshalChatReply(raw, &reply)
	if err != nil {
		c.Logger.Debugw("malformed chat reply", "Body", codec.Sample(string(raw)), "Error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := reply.AppError(); err != nil {
		return nil, err
	}
	return &reply, nil
}

func chatBody(message string, convCtx json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"message":`)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(message); err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	// Encode terminates with a newline
	buf.Truncate(buf.Len() - 1)
	if len(convCtx) == 0 {
		convCtx = json.RawMessage("null")
	}
	buf.WriteString(`,"context":`)
	buf.Write(convCtx)
	buf.WriteString(`}`)
	return buf.Bytes(), nil
}
