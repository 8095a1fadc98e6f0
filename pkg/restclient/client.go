// Package restclient implements search fetch functions over the chat
// backend's REST API.
package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/search"
	"github.com/dd0wney/cluso-chatlink/pkg/validation"
)

// Default API paths, relative to Config.BaseURL
const (
	DefaultContactSearchPath = "/search/contact"
	DefaultMessageSearchPath = "/search/message"
	DefaultContactsPath      = "/contacts"
)

// Config holds REST client settings
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	ContactSearchPath string
	MessageSearchPath string
	ContactsPath      string
}

// ApplyDefaults applies default values to zero-valued fields
func (c *Config) ApplyDefaults() {
	c.Timeout = validation.DefaultOrDuration(c.Timeout, 10*time.Second)
	c.ContactSearchPath = validation.DefaultOr(c.ContactSearchPath, DefaultContactSearchPath)
	c.MessageSearchPath = validation.DefaultOr(c.MessageSearchPath, DefaultMessageSearchPath)
	c.ContactsPath = validation.DefaultOr(c.ContactsPath, DefaultContactsPath)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return validation.NewConfigValidator("restclient.Config").
		URL("BaseURL", c.BaseURL, "http", "https").
		MinDuration("Timeout", c.Timeout, time.Millisecond).
		Validate()
}

// APIError is a non-2xx response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api error: %d %s", e.Status, e.Message)
}

// TokenSource returns the current bearer token, "" for none
type TokenSource func() string

// StaticToken always returns token
func StaticToken(token string) TokenSource {
	return func() string { return token }
}

// Client calls the REST API
type Client struct {
	cfg        Config
	base       *url.URL
	httpClient *http.Client
	token      TokenSource
	logger     logging.Logger
}

// Option configures a Client
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithToken sets the bearer token source, read on every request
func WithToken(ts TokenSource) Option {
	return func(cl *Client) { cl.token = ts }
}

func WithLogger(logger logging.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// NewClient creates a new REST client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		base:       base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		token:      StaticToken(""),
		logger:     logging.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.Component("restclient"))
	return c, nil
}

// envelope is the backend's response shape. Searches return rows under
// data; the contact listing returns them under message, which carries an
// error string on failure.
type envelope struct {
	Status  any             `json:"status,omitempty"`
	Data    []search.Item   `json:"data"`
	Message json.RawMessage `json:"message"`
}

func (e *envelope) messageItems() []search.Item {
	var items []search.Item
	if len(e.Message) == 0 || json.Unmarshal(e.Message, &items) != nil {
		return nil
	}
	return items
}

func (e *envelope) messageText() string {
	var s string
	if json.Unmarshal(e.Message, &s) != nil {
		return ""
	}
	return s
}

// SearchContacts implements search.FetchFunc for the contact search endpoint
func (c *Client) SearchContacts(ctx context.Context, req search.FetchRequest) (search.Page, error) {
	q := url.Values{}
	q.Set("search_query", strings.TrimSpace(req.Query))

	env, err := c.get(ctx, c.cfg.ContactSearchPath, q)
	if err != nil {
		return search.Page{}, err
	}
	return pageOf(env.Data, req.PageSize), nil
}

// MessageSearch returns a search.FetchFunc for the message search endpoint.
// The engine's filter is sent as the action; statusDate may be empty.
func (c *Client) MessageSearch(statusDate string) search.FetchFunc {
	return func(ctx context.Context, req search.FetchRequest) (search.Page, error) {
		q := url.Values{}
		q.Set("search_query", strings.TrimSpace(req.Query))
		q.Set("action", req.Filter)
		q.Set("status_date", statusDate)

		env, err := c.get(ctx, c.cfg.MessageSearchPath, q)
		if err != nil {
			return search.Page{}, err
		}
		return pageOf(env.Data, req.PageSize), nil
	}
}

// ListContacts implements search.FetchFunc for the paged contact listing.
// It ignores the query and sends the filter as the category.
func (c *Client) ListContacts(ctx context.Context, req search.FetchRequest) (search.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("limit", strconv.Itoa(req.PageSize))
	q.Set("category", req.Filter)

	env, err := c.get(ctx, c.cfg.ContactsPath, q)
	if err != nil {
		return search.Page{}, err
	}
	return pageOf(env.messageItems(), req.PageSize), nil
}

// pageOf treats a full page as a sign that more rows exist; the API does
// not report totals
func pageOf(items []search.Item, limit int) search.Page {
	if items == nil {
		items = []search.Item{}
	}
	return search.Page{
		Results: items,
		HasMore: limit > 0 && len(items) == limit,
		Total:   len(items),
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (*envelope, error) {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if token := c.token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		logging.String("path", path),
		logging.Int("status", resp.StatusCode),
		logging.Latency(time.Since(start)))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Message = env.messageText()
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	return &env, nil
}
