package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PagePipe/internal/flow"
	"github.com/BTreeMap/PagePipe/internal/metrics"
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/notify"
	"github.com/BTreeMap/PagePipe/internal/response"
)

// ReceiverOpts holds configuration for a Receiver.
type ReceiverOpts struct {
	AppID      string
	OptinDelay time.Duration
	Replier    Replier
	Orders     OrderStore
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
}

// ReceiverOption defines a configuration option for the Receiver.
type ReceiverOption func(*ReceiverOpts)

// WithAppID sets this app's id, used to interpret thread handovers.
func WithAppID(id string) ReceiverOption {
	return func(o *ReceiverOpts) { o.AppID = id }
}

// WithOptinDelay sets how long after an optin the recurring message is sent.
func WithOptinDelay(d time.Duration) ReceiverOption {
	return func(o *ReceiverOpts) { o.OptinDelay = d }
}

// WithReplier sets the conversational replier for free text.
func WithReplier(r Replier) ReceiverOption {
	return func(o *ReceiverOpts) { o.Replier = r }
}

// WithOrders sets where orders captured from replies are stored.
func WithOrders(s OrderStore) ReceiverOption {
	return func(o *ReceiverOpts) { o.Orders = s }
}

// WithNotifier sets who is told about confirmed orders.
func WithNotifier(n notify.Notifier) ReceiverOption {
	return func(o *ReceiverOpts) { o.Notifier = n }
}

// WithReceiverMetrics records LLM latency and order counts.
func WithReceiverMetrics(m *metrics.Metrics) ReceiverOption {
	return func(o *ReceiverOpts) { o.Metrics = m }
}

// Receiver turns webhook events into responses.
type Receiver struct {
	router   *flow.Router
	sender   *Sender
	profiles *ProfileCache
	opts     ReceiverOpts
}

// NewReceiver creates a Receiver.
func NewReceiver(router *flow.Router, sender *Sender, profiles *ProfileCache, opts ...ReceiverOption) *Receiver {
	cfg := ReceiverOpts{OptinDelay: DefaultOptinDelay, Notifier: notify.Noop{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Noop{}
	}
	return &Receiver{router: router, sender: sender, profiles: profiles, opts: cfg}
}

// Handle processes one messaging event and sends its responses. A failing
// handler is answered with an apology naming the error.
func (r *Receiver) Handle(ctx context.Context, event models.WebhookEvent) {
	user := r.profiles.Get(ctx, event.Sender)
	recipient := recipientFor(event.Sender)

	msgs, err := r.dispatch(ctx, user, recipient, event)
	if err != nil {
		slog.Error("Receiver.Handle: handler failed", "psid", user.PSID, "error", err)
		msgs = []models.Message{r.router.HandlerError(user, err)}
	}
	if len(msgs) == 0 {
		return
	}
	if err := r.sender.Send(recipient, msgs...); err != nil {
		slog.Error("Receiver.Handle: send failed", "psid", user.PSID, "error", err)
	}
}

func (r *Receiver) dispatch(ctx context.Context, user flow.User, recipient models.Recipient, event models.WebhookEvent) (msgs []models.Message, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v", p)
		}
	}()

	switch {
	case event.Message != nil:
		return r.handleMessage(ctx, user, recipient, event.Message)
	case event.Postback != nil:
		return r.handlePostback(ctx, user, event.Postback), nil
	case event.Referral != nil:
		return r.handleReferral(ctx, user, event.Referral), nil
	case event.Optin != nil:
		return r.handleOptin(ctx, user, event.Optin), nil
	case event.PassThreadControl != nil:
		return r.handleHandover(user, event.PassThreadControl), nil
	default:
		slog.Debug("Receiver.dispatch: ignoring event without a handled field", "psid", user.PSID)
		return nil, nil
	}
}

func (r *Receiver) handleMessage(ctx context.Context, user flow.User, recipient models.Recipient, m *models.InboundMessage) ([]models.Message, error) {
	switch {
	case m.QuickReply != nil:
		return r.route(ctx, user, m.QuickReply.Payload), nil
	case len(m.Attachments) > 0:
		slog.Info("Receiver.handleMessage: received attachment", "psid", user.PSID, "type", m.Attachments[0].Type)
		return []models.Message{r.router.AttachmentFallback(user)}, nil
	case strings.TrimSpace(m.Text) != "":
		return r.handleText(ctx, user, recipient, m.Text), nil
	default:
		return nil, nil
	}
}

func (r *Receiver) handleText(ctx context.Context, user flow.User, recipient models.Recipient, text string) []models.Message {
	utterance := strings.ToLower(strings.TrimSpace(text))
	slog.Info("Receiver.handleText: received text", "psid", user.PSID)

	if r.opts.Replier == nil {
		return []models.Message{r.router.Fallback(user)}
	}

	r.sender.Action(ctx, recipient, models.SenderActionTypingOn)
	start := time.Now()
	answer, err := r.opts.Replier.Reply(ctx, user.PSID, utterance)
	r.opts.Metrics.ObserveLLM(time.Since(start), err)
	if err != nil {
		slog.Error("Receiver.handleText: reply failed", "psid", user.PSID, "error", err)
		return []models.Message{r.router.Apology(user)}
	}

	r.recordOrder(ctx, user, answer.Status, answer.Order)

	reply := truncate(strings.TrimSpace(answer.Text), models.MaxTextLength)
	if reply == "" {
		return []models.Message{r.router.Apology(user)}
	}
	return []models.Message{response.Text(reply)}
}

func (r *Receiver) handlePostback(ctx context.Context, user flow.User, pb *models.Postback) []models.Message {
	payload := pb.Payload
	if pb.Referral != nil && pb.Referral.Type == models.ReferralOpenThread {
		payload = pb.Referral.Ref
	}
	if strings.TrimSpace(payload) == "" {
		slog.Info("Receiver.handlePostback: ignoring postback with empty payload", "psid", user.PSID)
		return nil
	}
	return r.route(ctx, user, strings.ToUpper(payload))
}

func (r *Receiver) handleReferral(ctx context.Context, user flow.User, ref *models.Referral) []models.Message {
	switch ref.Type {
	case models.ReferralLeadComplete, models.ReferralLeadIncomplete:
		return r.router.LeadReferral(ctx, user, ref.Type)
	case models.ReferralOpenThread:
		payload := strings.ToUpper(strings.TrimSpace(ref.Ref))
		if payload == "" {
			slog.Info("Receiver.handleReferral: ignoring referral with empty payload", "psid", user.PSID)
			return nil
		}
		return r.route(ctx, user, payload)
	default:
		slog.Info("Receiver.handleReferral: ignoring referral of unhandled type", "type", ref.Type)
		return nil
	}
}

func (r *Receiver) handleOptin(ctx context.Context, user flow.User, optin *models.Optin) []models.Message {
	if optin.Type != models.OptinNotificationMessages {
		return nil
	}
	r.sendRecurring(ctx, user, optin.NotificationMessagesToken)
	return r.route(ctx, user, "RN_"+strings.ToUpper(optin.NotificationMessagesFrequency))
}

// sendRecurring sends the sample recurring notification to token after the optin delay.
func (r *Receiver) sendRecurring(ctx context.Context, user flow.User, token string) {
	if token == "" {
		slog.Warn("Receiver.sendRecurring: optin without notification token", "psid", user.PSID)
		return
	}
	msgs := r.router.Route(ctx, user, flow.RecurringCurationPayload)
	for i := range msgs {
		msgs[i].Delay = r.opts.OptinDelay + time.Duration(i)*r.sender.Interval()
	}
	if err := r.sender.Send(models.Recipient{NotificationMessagesToken: token}, msgs...); err != nil {
		slog.Error("Receiver.sendRecurring: send failed", "psid", user.PSID, "error", err)
	}
}

func (r *Receiver) handleHandover(user flow.User, ptc *models.PassThreadControl) []models.Message {
	if r.opts.AppID != "" && ptc.NewOwnerAppID != "" && string(ptc.NewOwnerAppID) != r.opts.AppID {
		slog.Info("Receiver.handleHandover: handover is not for this app", "newOwner", ptc.NewOwnerAppID)
		return nil
	}
	if string(ptc.PreviousOwnerAppID) == LeadAdsAppID {
		slog.Info("Receiver.handleHandover: handover from lead ads, waiting for referral")
		return nil
	}
	return r.router.Nux(user)
}

// HandleChange sends a private reply to a new post or comment on the page feed.
func (r *Receiver) HandleChange(ctx context.Context, change models.Change) {
	if change.Field != "feed" || change.Value.Verb != "add" {
		return
	}
	var recipient models.Recipient
	switch change.Value.Item {
	case "post":
		recipient.PostID = change.Value.PostID
	case "comment":
		recipient.CommentID = change.Value.CommentID
	}
	if recipient.IsZero() {
		return
	}

	guest := flow.User{Locale: DefaultLocale, Guest: true}
	if err := r.sender.Send(recipient, r.router.PrivateReply(guest)); err != nil {
		slog.Error("Receiver.HandleChange: private reply failed", "item", change.Value.Item, "error", err)
	}
}

func (r *Receiver) route(ctx context.Context, user flow.User, payload string) []models.Message {
	slog.Info("Receiver.route: received payload", "payload", payload, "psid", user.PSID)
	return r.router.Route(ctx, user, payload)
}

func recipientFor(p models.Participant) models.Recipient {
	if p.UserRef != "" {
		return models.Recipient{UserRef: p.UserRef}
	}
	return models.Recipient{ID: p.ID}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
