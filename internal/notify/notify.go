// Package notify alerts shop staff about confirmed orders by SMS via Twilio.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Notifier announces orders to staff.
type Notifier interface {
	NotifyOrder(ctx context.Context, order models.Order) error
}

// Opts holds configuration options for the Twilio notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
}

// Option defines a configuration option for the Twilio notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithRecipients sets the staff numbers notified of each order.
func WithRecipients(to ...string) Option {
	return func(o *Opts) {
		for _, n := range to {
			if n = strings.TrimSpace(n); n != "" {
				o.To = append(o.To, n)
			}
		}
	}
}

// messageCreator is the subset of the Twilio API service used to send SMS.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioNotifier sends order summaries by SMS.
type TwilioNotifier struct {
	api  messageCreator
	from string
	to   []string
}

// NewTwilioNotifier creates a notifier backed by the Twilio REST API.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewTwilioNotifier: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"recipients", len(cfg.To))

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("at least one recipient must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioNotifier{api: client.Api, from: cfg.From, to: cfg.To}, nil
}

// NotifyOrder texts the order summary to every recipient. All recipients are
// attempted; failures are joined into the returned error.
func (n *TwilioNotifier) NotifyOrder(ctx context.Context, order models.Order) error {
	body := FormatOrder(order)
	var errs []error
	for _, to := range n.to {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(n.from)
		params.SetBody(body)

		if _, err := n.api.CreateMessage(params); err != nil {
			slog.Error("TwilioNotifier.NotifyOrder: send failed", "to", to, "orderID", order.ID, "error", err)
			errs = append(errs, fmt.Errorf("failed to notify %s: %w", to, err))
			continue
		}
		slog.Debug("TwilioNotifier.NotifyOrder: sent", "to", to, "orderID", order.ID)
	}
	return errors.Join(errs...)
}

// FormatOrder renders an order as a short SMS body.
func FormatOrder(order models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s order %s from %s", order.Status, order.ID, order.PSID)
	if len(order.Details) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, order.Details); err == nil {
			b.WriteString(": ")
			b.Write(compact.Bytes())
		}
	}
	return b.String()
}

// Noop discards notifications. It is used when Twilio is not configured.
type Noop struct{}

// NotifyOrder logs the order and does nothing else.
func (Noop) NotifyOrder(ctx context.Context, order models.Order) error {
	slog.Info("Noop.NotifyOrder: order notification skipped", "orderID", order.ID, "status", order.Status)
	return nil
}

// MockNotifier records notified orders.
type MockNotifier struct {
	mu     sync.Mutex
	Orders []models.Order
	Err    error
}

// NotifyOrder records order and returns m.Err.
func (m *MockNotifier) NotifyOrder(ctx context.Context, order models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders = append(m.Orders, order)
	return m.Err
}

// Notified returns a copy of the recorded orders.
func (m *MockNotifier) Notified() []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Order(nil), m.Orders...)
}
