// Package graph wraps the Messenger Platform Graph API for PagePipe.
//
// It covers the Send API, the Conversations API used to rebuild chat history,
// user profiles, app events and the page/app setup endpoints.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/BTreeMap/PagePipe/internal/models"
)

// Default configuration constants
const (
	// DefaultBaseURL is the Graph API host.
	DefaultBaseURL = "https://graph.facebook.com"
	// DefaultVersion is the Graph API version used when none is configured.
	DefaultVersion = "v19.0"
	// DefaultTimeout bounds every Graph API call.
	DefaultTimeout = 15 * time.Second
)

// ErrMissingToken is returned when no page access token is configured.
var ErrMissingToken = errors.New("page access token not set")

// APIError is returned for non-2xx Graph API responses.
type APIError struct {
	Status  int
	Code    int
	Type    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("graph api error: status %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("graph api error: status %d: %s", e.Status, e.Body)
}

type errorEnvelope struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// Opts holds configuration options for the Graph API client.
type Opts struct {
	BaseURL         string
	Version         string
	PageAccessToken string
	PageID          string
	AppID           string
	AppSecret       string
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// Option defines a configuration option for the Graph API client.
type Option func(*Opts)

// WithBaseURL overrides the Graph API host (tests point this at httptest).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithVersion sets the Graph API version, e.g. "v19.0".
func WithVersion(v string) Option {
	return func(o *Opts) { o.Version = v }
}

// WithPageAccessToken sets the page access token used for page-scoped calls.
func WithPageAccessToken(token string) Option {
	return func(o *Opts) { o.PageAccessToken = token }
}

// WithPageID sets the page id.
func WithPageID(id string) Option {
	return func(o *Opts) { o.PageID = id }
}

// WithApp sets the app id and secret used for app-scoped calls.
func WithApp(id, secret string) Option {
	return func(o *Opts) {
		o.AppID = id
		o.AppSecret = secret
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is a Graph API client.
type Client struct {
	rc   *resty.Client
	opts Opts
}

// NewClient creates a Graph API client. A page access token is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultBaseURL, Version: DefaultVersion, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("graph.NewClient invoked", "base_url", cfg.BaseURL, "version", cfg.Version,
		"token_set", cfg.PageAccessToken != "", "page_id", cfg.PageID, "app_id", cfg.AppID)

	if cfg.PageAccessToken == "" {
		return nil, ErrMissingToken
	}

	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.Trim(cfg.Version, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetError(&errorEnvelope{})

	return &Client{rc: rc, opts: cfg}, nil
}

// PageID returns the configured page id.
func (c *Client) PageID() string { return c.opts.PageID }

// AppID returns the configured app id.
func (c *Client) AppID() string { return c.opts.AppID }

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rc.R().SetContext(ctx).SetQueryParam("access_token", c.opts.PageAccessToken)
}

// appAccessToken is the "{app-id}|{app-secret}" token used for app-level calls.
func (c *Client) appAccessToken() string {
	return c.opts.AppID + "|" + c.opts.AppSecret
}

// check converts transport failures and error responses into errors.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode(), Body: resp.String()}
	if env, ok := resp.Error().(*errorEnvelope); ok && env != nil {
		apiErr.Code = env.Error.Code
		apiErr.Type = env.Error.Type
		apiErr.Message = env.Error.Message
	}
	return fmt.Errorf("%s: %w", op, apiErr)
}

// SendResult is the Send API response.
type SendResult struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// SendMessage calls the Send API.
func (c *Client) SendMessage(ctx context.Context, req models.SendRequest) (*SendResult, error) {
	if req.Recipient.IsZero() {
		return nil, models.ErrEmptyRecipient
	}
	var result SendResult
	resp, err := c.request(ctx).SetBody(req).SetResult(&result).Post("/me/messages")
	if err := check("graph.SendMessage", resp, err); err != nil {
		slog.Error("graph.SendMessage failed", "error", err, "recipient", req.Recipient)
		return nil, err
	}
	slog.Debug("graph.SendMessage succeeded", "recipient_id", result.RecipientID, "message_id", result.MessageID)
	return &result, nil
}

// SendAction sends a sender action (typing_on, mark_seen) to a recipient.
func (c *Client) SendAction(ctx context.Context, recipient models.Recipient, action string) error {
	_, err := c.SendMessage(ctx, models.SendRequest{Recipient: recipient, SenderAction: action})
	return err
}

// UserProfile is the subset of the user profile the bot uses.
type UserProfile struct {
	ID        string  `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Locale    string  `json:"locale"`
	Timezone  float64 `json:"timezone"`
	Gender    string  `json:"gender"`
}

// GetUserProfile fetches the profile of a page-scoped user.
func (c *Client) GetUserProfile(ctx context.Context, psid string) (*UserProfile, error) {
	var profile UserProfile
	resp, err := c.request(ctx).
		SetQueryParam("fields", "first_name,last_name,gender,locale,timezone").
		SetResult(&profile).
		Get("/" + psid)
	if err := check("graph.GetUserProfile", resp, err); err != nil {
		return nil, err
	}
	return &profile, nil
}
