package acs

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotConfigured    = errors.New("acs email is not configured")
	ErrInvalidConnStr   = errors.New("invalid acs connection string")
	ErrOperationFailed  = errors.New("acs email operation failed")
	ErrOperationPending = errors.New("acs email operation still running")
)

const (
	defaultAPIVersion    = "2023-03-31"
	defaultTimeout       = 30 * time.Second
	defaultPollInterval  = time.Second
	maxResponseSizeBytes = 1 << 20
)

type Config struct {
	ConnectionString string        `split_words:"true"`
	Sender           string        `split_words:"true"`
	APIVersion       string        `split_words:"true" default:"2023-03-31"`
	Timeout          time.Duration `split_words:"true" default:"30s"`
	PollInterval     time.Duration `split_words:"true" default:"1s"`
	MaxPolls         int           `split_words:"true" default:"30"`
}

// Configured reports whether both the connection string and sender are set.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.ConnectionString) != "" && strings.TrimSpace(c.Sender) != ""
}

// Option customizes Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client sends mail through the Azure Communication Services Email REST API.
type Client struct {
	endpoint     *url.URL
	accessKey    []byte
	sender       string
	apiVersion   string
	pollInterval time.Duration
	maxPolls     int
	httpClient   *http.Client
	now          func() time.Time
}

type Address struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName,omitempty"`
}

type Recipients struct {
	To []Address `json:"to"`
}

type Content struct {
	Subject   string `json:"subject"`
	PlainText string `json:"plainText,omitempty"`
	HTML      string `json:"html,omitempty"`
}

type Message struct {
	SenderAddress string     `json:"senderAddress"`
	Recipients    Recipients `json:"recipients"`
	Content       Content    `json:"content"`
}

type operationStatus struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Error  *operationError `json:"error,omitempty"`
}

type operationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *operationError `json:"error"`
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}

	endpoint, accessKey, err := ParseConnectionString(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if cfg.MaxPolls < 0 {
		return nil, errors.New("max polls must be >= 0")
	}

	client := &Client{
		endpoint:     endpoint,
		accessKey:    accessKey,
		sender:       strings.TrimSpace(cfg.Sender),
		apiVersion:   apiVersion,
		pollInterval: pollInterval,
		maxPolls:     cfg.MaxPolls,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// ParseConnectionString splits "endpoint=https://...;accesskey=..." into the
// endpoint URL and the decoded HMAC key.
func ParseConnectionString(raw string) (*url.URL, []byte, error) {
	var endpoint, accessKey string
	for _, part := range strings.Split(strings.TrimSpace(raw), ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			endpoint = strings.TrimSpace(value)
		case "accesskey":
			// base64 keys may end in '=' which Cut leaves in value
			accessKey = strings.TrimSpace(value)
		}
	}
	if endpoint == "" || accessKey == "" {
		return nil, nil, fmt.Errorf("%w: endpoint and accesskey are required", ErrInvalidConnStr)
	}

	u, err := url.ParseRequestURI(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidConnStr, err)
	}
	key, err := base64.StdEncoding.DecodeString(accessKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: access key is not base64: %v", ErrInvalidConnStr, err)
	}
	return u, key, nil
}

// Send submits one email and waits for the send operation to finish.
// It returns the operation id.
func (c *Client) Send(ctx context.Context, to string, content Content) (string, error) {
	if c == nil {
		return "", errors.New("nil acs client")
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return "", errors.New("recipient address is required")
	}

	payload, err := json.Marshal(Message{
		SenderAddress: c.sender,
		Recipients:    Recipients{To: []Address{{Address: to}}},
		Content:       content,
	})
	if err != nil {
		return "", fmt.Errorf("marshal acs message: %w", err)
	}

	resp, raw, err := c.do(ctx, http.MethodPost, c.sendURL(), payload)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", statusError(resp.StatusCode, raw)
	}

	var op operationStatus
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &op); err != nil {
			return "", fmt.Errorf("decode acs send response: %w", err)
		}
	}
	if done, err := op.resolve(); done {
		return op.ID, err
	}

	location := strings.TrimSpace(resp.Header.Get("Operation-Location"))
	if location == "" || c.maxPolls == 0 {
		return op.ID, nil
	}
	return c.poll(ctx, location, op.ID, retryAfter(resp.Header, c.pollInterval))
}

func (c *Client) poll(ctx context.Context, location string, id string, wait time.Duration) (string, error) {
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return id, ctx.Err()
		case <-timer.C:
		}

		resp, raw, err := c.do(ctx, http.MethodGet, location, nil)
		if err != nil {
			return id, err
		}
		if resp.StatusCode != http.StatusOK {
			return id, statusError(resp.StatusCode, raw)
		}

		var op operationStatus
		if err := json.Unmarshal(raw, &op); err != nil {
			return id, fmt.Errorf("decode acs operation status: %w", err)
		}
		if op.ID != "" {
			id = op.ID
		}
		if done, err := op.resolve(); done {
			return id, err
		}
		wait = retryAfter(resp.Header, c.pollInterval)
	}
	return id, fmt.Errorf("%w: id=%s after %d polls", ErrOperationPending, id, c.maxPolls)
}

func (op operationStatus) resolve() (bool, error) {
	switch strings.ToLower(op.Status) {
	case "succeeded":
		return true, nil
	case "failed", "canceled":
		msg := op.Status
		if op.Error != nil {
			msg = fmt.Sprintf("%s code=%s message=%s", op.Status, op.Error.Code, op.Error.Message)
		}
		return true, fmt.Errorf("%w: %s", ErrOperationFailed, msg)
	default:
		return false, nil
	}
}

func (c *Client) sendURL() string {
	u := *c.endpoint
	u.Path = strings.TrimRight(u.Path, "/") + "/emails:send"
	u.RawQuery = url.Values{"api-version": []string{c.apiVersion}}.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method string, target string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build acs request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.sign(req, body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute acs request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read acs response: %w", err)
	}
	return resp, raw, nil
}

// sign applies the HMAC-SHA256 request signature ACS expects.
func (c *Client) sign(req *http.Request, body []byte) {
	date := c.now().UTC().Format(http.TimeFormat)
	sum := sha256.Sum256(body)
	contentHash := base64.StdEncoding.EncodeToString(sum[:])

	stringToSign := req.Method + "\n" + req.URL.RequestURI() + "\n" + date + ";" + req.URL.Host + ";" + contentHash
	mac := hmac.New(sha256.New, c.accessKey)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("x-ms-date", date)
	req.Header.Set("x-ms-content-sha256", contentHash)
	req.Header.Set("Authorization", "HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature="+signature)
}

func statusError(status int, raw []byte) error {
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil {
		return fmt.Errorf("acs http status=%d code=%s message=%s", status, parsed.Error.Code, parsed.Error.Message)
	}
	return fmt.Errorf("acs http status=%d body=%s", status, string(raw))
}

func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
