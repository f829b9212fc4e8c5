// Package flow maps postback, quick reply and referral payloads to the bot's
// templated responses.
//
// Dispatch is keyword based and order sensitive: a payload is matched against
// each handler family in turn and the first match wins.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/i18n"
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/response"
)

// Payloads that start a new user experience.
const (
	PayloadGetStarted = "GET_STARTED"
	PayloadDevDocs    = "DEVDOCS"
	PayloadGitHub     = "GITHUB"
	PayloadRNWeekly   = "RN_WEEKLY"
)

// User is the profile of the person the bot is talking to.
type User struct {
	PSID      string
	FirstName string
	LastName  string
	Locale    string
	Timezone  float64
	Guest     bool
}

// EventReporter logs analytics app events.
type EventReporter interface {
	PostAppEvent(ctx context.Context, event graph.AppEvent) error
}

// Opts holds configuration for a Router.
type Opts struct {
	ShopName  string
	ShopURL   string
	AppURL    string
	AgentName string
	Timezone  string
	Reporter  EventReporter
	Pick      func(n int) int
}

// Option defines a configuration option for the Router.
type Option func(*Opts)

// WithShop sets the shop name and storefront URL used in templates.
func WithShop(name, url string) Option {
	return func(o *Opts) {
		o.ShopName = name
		o.ShopURL = url
	}
}

// WithAppURL sets the public URL of this app; images are served under it.
func WithAppURL(url string) Option {
	return func(o *Opts) { o.AppURL = url }
}

// WithAgentName sets the name used when handing over to a person.
func WithAgentName(name string) Option {
	return func(o *Opts) { o.AgentName = name }
}

// WithTimezone sets the timezone sent with recurring notification optins.
func WithTimezone(tz string) Option {
	return func(o *Opts) { o.Timezone = tz }
}

// WithReporter sets the app event reporter used for lead events.
func WithReporter(r EventReporter) Option {
	return func(o *Opts) { o.Reporter = r }
}

// WithPicker overrides the random choice used to pick products.
func WithPicker(pick func(n int) int) Option {
	return func(o *Opts) { o.Pick = pick }
}

// Router dispatches payloads to handler families.
type Router struct {
	cat  *i18n.Catalog
	opts Opts
}

// NewRouter creates a Router over the given string catalog.
func NewRouter(cat *i18n.Catalog, opts ...Option) *Router {
	cfg := Opts{ShopName: "Icy Threads", AgentName: "Riley", Timezone: "UTC", Pick: rand.IntN}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Pick == nil {
		cfg.Pick = rand.IntN
	}
	return &Router{cat: cat, opts: cfg}
}

// t renders a string in the user's locale.
func (r *Router) t(u User, key string, args ...map[string]string) string {
	return r.cat.T(u.Locale, key, args...)
}

func (r *Router) imageURL(name string) string {
	return strings.TrimRight(r.opts.AppURL, "/") + "/styles/" + name
}

// Route returns the responses for payload. The payload is matched as given;
// callers uppercase postback payloads before routing.
func (r *Router) Route(ctx context.Context, u User, payload string) []models.Message {
	slog.Debug("Router.Route: received payload", "payload", payload, "psid", u.PSID)

	switch {
	case payload == PayloadGetStarted || payload == PayloadDevDocs || payload == PayloadGitHub:
		return r.Nux(u)
	case strings.Contains(payload, "CURATION") || strings.Contains(payload, "COUPON") || strings.Contains(payload, "PRODUCT_LAUNCH"):
		return r.curation(u, payload)
	case strings.Contains(payload, "CARE"):
		return r.care(u, payload)
	case strings.Contains(payload, "ORDER"):
		return r.order(u, payload)
	case strings.Contains(payload, "CSAT"):
		return r.survey(u, payload)
	case strings.Contains(payload, "CHAT-PLUGIN"):
		return []models.Message{
			response.Text(r.t(u, "chat_plugin.prompt")),
			response.Text(r.t(u, "get_started.guidance")),
			response.QuickReply(r.t(u, "get_started.help"), r.careTopicOptions(u)),
		}
	case strings.Contains(payload, "BOOK_APPOINTMENT"):
		return []models.Message{
			response.Text(r.t(u, "care.appointment")),
			response.Text(r.t(u, "care.end")),
		}
	case payload == PayloadRNWeekly:
		return []models.Message{response.Text(r.t(u, "notifications.weekly"))}
	case strings.Contains(payload, "WHOLESALE_LEAD"):
		return r.lead(ctx, u, payload)
	default:
		return []models.Message{response.Text(fmt.Sprintf("This is a default postback message for payload: %s!", payload))}
	}
}

// Nux is the new user experience: welcome, guidance and the main menu.
func (r *Router) Nux(u User) []models.Message {
	return []models.Message{
		response.Text(r.welcome(u)),
		response.Text(r.t(u, "get_started.guidance")),
		response.QuickReply(r.t(u, "get_started.help"), r.mainMenu(u)),
	}
}

// PrivateReply is the single message sent in reply to a page post or comment.
func (r *Router) PrivateReply(u User) models.Message {
	text := r.welcome(u) + " " + r.t(u, "get_started.guidance") + ". " + r.t(u, "get_started.help")
	return response.QuickReply(text, r.mainMenu(u))
}

// AttachmentFallback answers messages that only carry attachments.
func (r *Router) AttachmentFallback(u User) models.Message {
	return response.QuickReply(r.t(u, "fallback.attachment"), []response.Option{
		{Title: r.t(u, "menu.help"), Payload: "CARE_HELP"},
		{Title: r.t(u, "menu.start_over"), Payload: PayloadGetStarted},
	})
}

// HandlerError is the apology sent when a handler fails.
func (r *Router) HandlerError(u User, err error) models.Message {
	return response.Text(r.t(u, "errors.handler", map[string]string{"error": err.Error()}))
}

func (r *Router) welcome(u User) string {
	name := u.FirstName
	if name == "" {
		name = r.t(u, "get_started.guest")
	}
	return r.t(u, "get_started.welcome", map[string]string{"userFirstName": name, "shopName": r.opts.ShopName})
}

func (r *Router) mainMenu(u User) []response.Option {
	return []response.Option{
		{Title: r.t(u, "menu.suggestion"), Payload: "CURATION"},
		{Title: r.t(u, "menu.help"), Payload: "CARE_HELP"},
		{Title: r.t(u, "menu.product_launch"), Payload: "PRODUCT_LAUNCH"},
	}
}

// Fallback answers input the bot could not interpret.
func (r *Router) Fallback(u User) models.Message {
	return response.QuickReply(r.t(u, "fallback.any"), r.mainMenu(u))
}

// Apology is sent when a conversational reply could not be generated.
func (r *Router) Apology(u User) models.Message {
	return response.Text(r.t(u, "errors.llm"))
}
