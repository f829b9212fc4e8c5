package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PagePipe/internal/models"
)

// ErrMissingApp is returned by app-scoped calls when no app id/secret is configured.
var ErrMissingApp = errors.New("app id and secret must be configured")

// DefaultPageFields are the webhook fields the page subscribes the app to.
var DefaultPageFields = []string{
	"messages",
	"messaging_postbacks",
	"messaging_optins",
	"messaging_referrals",
	"messaging_handovers",
	"message_deliveries",
	"message_reads",
	"feed",
}

// GetStarted is the payload sent when the Get Started button is tapped.
type GetStarted struct {
	Payload string `json:"payload"`
}

// Greeting is the localized greeting shown before a thread starts.
type Greeting struct {
	Locale string `json:"locale"`
	Text   string `json:"text"`
}

// PersistentMenu is a localized persistent menu.
type PersistentMenu struct {
	Locale                string          `json:"locale"`
	ComposerInputDisabled bool            `json:"composer_input_disabled"`
	CallToActions         []models.Button `json:"call_to_actions"`
}

// MessengerProfile holds the profile properties; nil/empty fields are left unchanged.
type MessengerProfile struct {
	GetStarted         *GetStarted      `json:"get_started,omitempty"`
	Greeting           []Greeting       `json:"greeting,omitempty"`
	PersistentMenu     []PersistentMenu `json:"persistent_menu,omitempty"`
	WhitelistedDomains []string         `json:"whitelisted_domains,omitempty"`
}

// SetMessengerProfile updates the page's Messenger profile.
func (c *Client) SetMessengerProfile(ctx context.Context, profile MessengerProfile) error {
	resp, err := c.request(ctx).SetBody(profile).Post("/me/messenger_profile")
	if err := check("graph.SetMessengerProfile", resp, err); err != nil {
		return err
	}
	slog.Info("graph.SetMessengerProfile succeeded",
		"get_started", profile.GetStarted != nil,
		"greetings", len(profile.Greeting),
		"menus", len(profile.PersistentMenu),
		"domains", len(profile.WhitelistedDomains))
	return nil
}

// SetPageSubscriptions subscribes the app to the page's webhook fields.
func (c *Client) SetPageSubscriptions(ctx context.Context, fields []string) error {
	if c.opts.PageID == "" {
		return fmt.Errorf("graph.SetPageSubscriptions: page id not set")
	}
	if len(fields) == 0 {
		fields = DefaultPageFields
	}
	resp, err := c.request(ctx).
		SetQueryParam("subscribed_fields", strings.Join(fields, ",")).
		Post("/" + c.opts.PageID + "/subscribed_apps")
	if err := check("graph.SetPageSubscriptions", resp, err); err != nil {
		return err
	}
	slog.Info("graph.SetPageSubscriptions succeeded", "page_id", c.opts.PageID, "fields", fields)
	return nil
}

// SetWebhookSubscription registers the app's webhook callback for page events.
func (c *Client) SetWebhookSubscription(ctx context.Context, callbackURL, verifyToken string, fields []string) error {
	if c.opts.AppID == "" || c.opts.AppSecret == "" {
		return ErrMissingApp
	}
	if len(fields) == 0 {
		fields = DefaultPageFields
	}
	resp, err := c.rc.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_token":   c.appAccessToken(),
			"object":         models.ObjectPage,
			"callback_url":   callbackURL,
			"verify_token":   verifyToken,
			"fields":         strings.Join(fields, ","),
			"include_values": "true",
		}).
		Post("/" + c.opts.AppID + "/subscriptions")
	if err := check("graph.SetWebhookSubscription", resp, err); err != nil {
		return err
	}
	slog.Info("graph.SetWebhookSubscription succeeded", "app_id", c.opts.AppID, "callback_url", callbackURL)
	return nil
}

// AppEvent is a custom app event logged against a page-scoped user.
type AppEvent struct {
	EventName        string
	PageScopedUserID string
}

// PostAppEvent logs a custom app event (e.g. lead_submitted) for analytics.
func (c *Client) PostAppEvent(ctx context.Context, event AppEvent) error {
	if c.opts.AppID == "" {
		return ErrMissingApp
	}
	customEvents, err := json.Marshal([]map[string]string{{"_eventName": event.EventName}})
	if err != nil {
		return fmt.Errorf("graph.PostAppEvent: marshal custom events: %w", err)
	}
	body := map[string]interface{}{
		"event":                        "CUSTOM_APP_EVENTS",
		"custom_events":                string(customEvents),
		"advertiser_tracking_enabled":  1,
		"application_tracking_enabled": 1,
		"extinfo":                      `["mb1"]`,
		"page_id":                      c.opts.PageID,
		"page_scoped_user_id":          event.PageScopedUserID,
		"logging_source":               "messenger_bot",
		"logging_target":               "page",
	}
	resp, err := c.request(ctx).SetBody(body).Post("/" + c.opts.AppID + "/activities")
	if err := check("graph.PostAppEvent", resp, err); err != nil {
		return err
	}
	slog.Debug("graph.PostAppEvent succeeded", "event", event.EventName, "psid", event.PageScopedUserID)
	return nil
}
