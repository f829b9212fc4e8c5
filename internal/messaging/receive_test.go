package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/PagePipe/internal/flow"
	"github.com/BTreeMap/PagePipe/internal/genai"
	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/i18n"
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/notify"
	"github.com/BTreeMap/PagePipe/internal/store"
	"github.com/BTreeMap/PagePipe/internal/testutil"
)

type fakeReplier struct {
	answers []genai.Answer
	err     error
	got     []string
	panics  bool
}

func (f *fakeReplier) Reply(ctx context.Context, psid, utterance string) (genai.Answer, error) {
	if f.panics {
		panic("replier exploded")
	}
	f.got = append(f.got, utterance)
	if f.err != nil {
		return genai.Answer{Text: genai.Apology}, f.err
	}
	a := f.answers[0]
	if len(f.answers) > 1 {
		f.answers = f.answers[1:]
	}
	return a, nil
}

type harness struct {
	fg       *testutil.FakeGraph
	sender   *Sender
	receiver *Receiver
	store    *store.InMemoryStore
	notifier *notify.MockNotifier
}

func newHarness(t *testing.T, opts ...ReceiverOption) *harness {
	t.Helper()
	fg := testutil.NewFakeGraph()
	fg.Profiles["42"] = graph.UserProfile{ID: "42", FirstName: "Ana", Locale: "en_US"}

	router := flow.NewRouter(i18n.MustLoad(),
		flow.WithShop("Icy Threads", "https://shop.example"),
		flow.WithAppURL("https://bot.example"),
		flow.WithReporter(fg),
		flow.WithPicker(func(int) int { return 0 }),
	)
	h := &harness{
		fg:       fg,
		sender:   NewSender(fg, WithInterval(time.Millisecond)),
		store:    store.NewInMemoryStore(),
		notifier: &notify.MockNotifier{},
	}
	base := []ReceiverOption{
		WithAppID("2002"),
		WithOptinDelay(time.Millisecond),
		WithOrders(h.store),
		WithNotifier(h.notifier),
	}
	h.receiver = NewReceiver(router, h.sender, NewProfileCache(fg), append(base, opts...)...)
	return h
}

// flush waits for every scheduled message and returns the message requests.
func (h *harness) flush(t *testing.T) []models.SendRequest {
	t.Helper()
	if err := h.sender.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	return h.fg.Messages()
}

func from(id string) models.Participant { return models.Participant{ID: id} }

func TestHandle_Postback(t *testing.T) {
	h := newHarness(t)
	h.receiver.Handle(context.Background(), models.WebhookEvent{
		Sender:   from("42"),
		Postback: &models.Postback{Payload: "get_started"},
	})

	msgs := h.flush(t)
	if len(msgs) != 3 {
		t.Fatalf("expected NUX of 3 messages, got %d", len(msgs))
	}
	if msgs[0].Message.Text != "Hi Ana! Welcome to Icy Threads." {
		t.Errorf("welcome = %q", msgs[0].Message.Text)
	}
	if msgs[0].Recipient.ID != "42" {
		t.Errorf("recipient = %+v", msgs[0].Recipient)
	}
}

func TestHandle_PostbackReferralOverridesPayload(t *testing.T) {
	h := newHarness(t)
	h.receiver.Handle(context.Background(), models.WebhookEvent{
		Sender: from("42"),
		Postback: &models.Postback{
			Payload:  "GET_STARTED",
			Referral: &models.Referral{Type: models.ReferralOpenThread, Ref: "care_help"},
		},
	})
	msgs := h.flush(t)
	if len(msgs) != 1 || len(msgs[0].Message.QuickReplies) != 3 || msgs[0].Message.QuickReplies[0].Payload != "CARE_ORDER" {
		t.Errorf("expected care menu, got %+v", msgs)
	}
}

func TestHandle_EmptyPayloadIgnored(t *testing.T) {
	h := newHarness(t)
	h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), Postback: &models.Postback{Payload: "  "}})
	h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), Referral: &models.Referral{Type: models.ReferralOpenThread}})
	h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), Referral: &models.Referral{Type: "ADS"}})
	if msgs := h.flush(t); len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestHandle_QuickReplyAndAttachment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.receiver.Handle(ctx, models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{
		MID: "m1", Text: "Billing", QuickReply: &models.QuickReply{Payload: "CSAT_GOOD"},
	}})
	h.receiver.Handle(ctx, models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{
		MID: "m2", Attachments: []models.Attachment{{Type: "image"}},
	}})

	msgs := h.flush(t)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	texts := msgs[0].Message.Text + "|" + msgs[1].Message.Text
	if !strings.Contains(texts, "Thanks for your feedback!") || !strings.Contains(texts, "nice attachment") {
		t.Errorf("unexpected messages %q", texts)
	}
}

func TestHandle_TextUsesReplier(t *testing.T) {
	rep := &fakeReplier{answers: []genai.Answer{{Text: "What size?"}}}
	h := newHarness(t, WithReplier(rep))
	h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{MID: "m1", Text: "  One LATTE "}})

	reqs := h.fg.WaitForMessages(1, time.Second)
	h.flush(t)
	if len(rep.got) != 1 || rep.got[0] != "one latte" {
		t.Errorf("replier got %q", rep.got)
	}
	if len(reqs) != 1 || reqs[0].Message.Text != "What size?" {
		t.Errorf("unexpected reply %+v", reqs)
	}

	actions := 0
	for _, r := range h.fg.Requests() {
		if r.SenderAction == models.SenderActionTypingOn {
			actions++
		}
	}
	if actions != 1 {
		t.Errorf("expected one typing indicator, got %d", actions)
	}
}

func TestHandle_TextReplierErrorApologizes(t *testing.T) {
	h := newHarness(t, WithReplier(&fakeReplier{err: errors.New("rate limited")}))
	h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{Text: "hi"}})
	msgs := h.flush(t)
	if len(msgs) != 1 || msgs[0].Message.Text != "An error occurred while processing your message." {
		t.Errorf("unexpected apology %+v", msgs)
	}
}

func TestHandle_TextWithoutReplierFallsBack(t *testing.T) {
	h := newHarness(t)
	h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{Text: "hi"}})
	msgs := h.flush(t)
	if len(msgs) != 1 || len(msgs[0].Message.QuickReplies) != 3 {
		t.Errorf("expected fallback menu, got %+v", msgs)
	}
}

func TestHandle_PanicBecomesHandlerError(t *testing.T) {
	h := newHarness(t, WithReplier(&fakeReplier{panics: true}))
	h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{Text: "hi"}})
	msgs := h.flush(t)
	want := "An error has occured: 'replier exploded'. We have been notified and will fix the issue shortly!"
	if len(msgs) != 1 || msgs[0].Message.Text != want {
		t.Errorf("unexpected handler error %+v", msgs)
	}
}

func TestHandle_OrderLifecycle(t *testing.T) {
	rep := &fakeReplier{answers: []genai.Answer{
		{Text: "Confirm two lattes?", Status: models.OrderStatusDraft, Order: json.RawMessage(`{"items":{"latte":2}}`)},
		{Text: "Thanks! Your order is in.", Status: models.OrderStatusConfirmed},
	}}
	h := newHarness(t, WithReplier(rep))
	ctx := context.Background()

	h.receiver.Handle(ctx, models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{Text: "two lattes"}})
	draft, err := h.store.LatestOrder("42")
	if err != nil || draft.Status != models.OrderStatusDraft {
		t.Fatalf("expected draft order, got %+v, %v", draft, err)
	}

	h.receiver.Handle(ctx, models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{Text: "yes"}})
	h.flush(t)

	orders, _ := h.store.ListOrders()
	if len(orders) != 1 {
		t.Fatalf("expected the draft to be confirmed in place, got %d orders", len(orders))
	}
	if orders[0].ID != draft.ID || orders[0].Status != models.OrderStatusConfirmed || string(orders[0].Details) != `{"items":{"latte":2}}` {
		t.Errorf("unexpected order %+v", orders[0])
	}
	if n := h.notifier.Notified(); len(n) != 1 || n[0].ID != draft.ID {
		t.Errorf("expected staff notification for %s, got %+v", draft.ID, n)
	}
}

func TestHandle_RepeatedConfirmationNotifiesOnce(t *testing.T) {
	rep := &fakeReplier{answers: []genai.Answer{
		{Text: "Confirm two lattes?", Status: models.OrderStatusDraft, Order: json.RawMessage(`{"items":{"latte":2}}`)},
		{Text: "Thanks! Your order is in.", Status: models.OrderStatusConfirmed},
		{Text: "Your order is already in.", Status: models.OrderStatusConfirmed},
	}}
	h := newHarness(t, WithReplier(rep))
	ctx := context.Background()

	for _, text := range []string{"two lattes", "yes", "yes please"} {
		h.receiver.Handle(ctx, models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{Text: text}})
	}
	h.flush(t)

	orders, _ := h.store.ListOrders()
	if len(orders) != 1 {
		t.Fatalf("expected a single order, got %+v", orders)
	}
	if orders[0].Status != models.OrderStatusConfirmed || string(orders[0].Details) != `{"items":{"latte":2}}` {
		t.Errorf("unexpected order %+v", orders[0])
	}
	if n := h.notifier.Notified(); len(n) != 1 {
		t.Errorf("expected staff to be notified once, got %d notifications", len(n))
	}
}

func TestHandle_ConfirmationWithoutDraftIsIgnored(t *testing.T) {
	rep := &fakeReplier{answers: []genai.Answer{{Text: "Done.", Status: models.OrderStatusConfirmed}}}
	h := newHarness(t, WithReplier(rep))
	h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{Text: "yes"}})
	h.flush(t)
	if orders, _ := h.store.ListOrders(); len(orders) != 0 {
		t.Errorf("expected no orders, got %+v", orders)
	}
	if n := h.notifier.Notified(); len(n) != 0 {
		t.Errorf("expected no notification, got %+v", n)
	}
}

func TestHandle_NotConfirmedWithoutDraftIsIgnored(t *testing.T) {
	rep := &fakeReplier{answers: []genai.Answer{{Text: "No problem.", Status: models.OrderStatusNotConfirmed}}}
	h := newHarness(t, WithReplier(rep))
	h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), Message: &models.InboundMessage{Text: "no"}})
	h.flush(t)
	if orders, _ := h.store.ListOrders(); len(orders) != 0 {
		t.Errorf("expected no orders, got %+v", orders)
	}
}

func TestHandle_LeadReferral(t *testing.T) {
	h := newHarness(t)
	h.receiver.Handle(context.Background(), models.WebhookEvent{
		Sender:   from("42"),
		Referral: &models.Referral{Type: models.ReferralLeadComplete},
	})
	msgs := h.flush(t)
	if len(msgs) != 1 {
		t.Errorf("expected 1 message, got %d", len(msgs))
	}
	if ev := h.fg.Events(); len(ev) != 1 || ev[0].EventName != flow.LeadSubmittedEvent {
		t.Errorf("expected lead_submitted event, got %+v", ev)
	}
}

func TestHandle_OptinSendsRecurringMessage(t *testing.T) {
	h := newHarness(t)
	h.receiver.Handle(context.Background(), models.WebhookEvent{
		Sender: from("42"),
		Optin: &models.Optin{
			Type:                          models.OptinNotificationMessages,
			NotificationMessagesToken:     "tok-1",
			NotificationMessagesFrequency: "weekly",
		},
	})
	msgs := h.flush(t)

	var toUser, toToken int
	for _, m := range msgs {
		switch {
		case m.Recipient.ID == "42":
			toUser++
			if !strings.HasPrefix(m.Message.Text, "[INFO]") {
				t.Errorf("unexpected RN_WEEKLY text %q", m.Message.Text)
			}
		case m.Recipient.NotificationMessagesToken == "tok-1":
			toToken++
		}
	}
	if toUser != 1 || toToken != 2 {
		t.Errorf("expected 1 user message and 2 token messages, got %d and %d", toUser, toToken)
	}
}

func TestHandle_Handover(t *testing.T) {
	tests := []struct {
		name     string
		ptc      models.PassThreadControl
		expected int
	}{
		{"for this app", models.PassThreadControl{NewOwnerAppID: "2002", PreviousOwnerAppID: "999"}, 3},
		{"for another app", models.PassThreadControl{NewOwnerAppID: "3003"}, 0},
		{"from lead ads", models.PassThreadControl{NewOwnerAppID: "2002", PreviousOwnerAppID: LeadAdsAppID}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ptc := tt.ptc
			h.receiver.Handle(context.Background(), models.WebhookEvent{Sender: from("42"), PassThreadControl: &ptc})
			if got := len(h.flush(t)); got != tt.expected {
				t.Errorf("expected %d messages, got %d", tt.expected, got)
			}
		})
	}
}

func TestHandle_ChatPluginGuest(t *testing.T) {
	h := newHarness(t)
	h.receiver.Handle(context.Background(), models.WebhookEvent{
		Sender:   models.Participant{UserRef: "ref-9"},
		Postback: &models.Postback{Payload: "GET_STARTED"},
	})
	msgs := h.flush(t)
	if len(msgs) != 3 || msgs[0].Recipient.UserRef != "ref-9" || msgs[0].Recipient.ID != "" {
		t.Fatalf("expected user_ref addressed messages, got %+v", msgs)
	}
	if msgs[0].Message.Text != "Hi there! Welcome to Icy Threads." {
		t.Errorf("guest welcome = %q", msgs[0].Message.Text)
	}
	if h.fg.ProfileCalls() != 0 {
		t.Error("guest profiles should not be fetched")
	}
}

func TestHandleChange_PrivateReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.receiver.HandleChange(ctx, models.Change{Field: "feed", Value: models.ChangeValue{Item: "comment", Verb: "add", CommentID: "c1"}})
	h.receiver.HandleChange(ctx, models.Change{Field: "feed", Value: models.ChangeValue{Item: "post", Verb: "add", PostID: "p1"}})
	h.receiver.HandleChange(ctx, models.Change{Field: "feed", Value: models.ChangeValue{Item: "comment", Verb: "remove", CommentID: "c2"}})

	msgs := h.flush(t)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 private replies, got %d", len(msgs))
	}
	got := map[string]bool{msgs[0].Recipient.CommentID + msgs[0].Recipient.PostID: true, msgs[1].Recipient.CommentID + msgs[1].Recipient.PostID: true}
	if !got["c1"] || !got["p1"] {
		t.Errorf("unexpected recipients %+v", got)
	}
}

func TestProfileCache(t *testing.T) {
	fg := testutil.NewFakeGraph()
	fg.Profiles["42"] = graph.UserProfile{ID: "42", FirstName: "Ana"}
	c := NewProfileCache(fg)
	ctx := context.Background()

	u := c.Get(ctx, from("42"))
	c.Get(ctx, from("42"))
	if u.FirstName != "Ana" || u.Locale != DefaultLocale || u.Guest {
		t.Errorf("unexpected user %+v", u)
	}
	if fg.ProfileCalls() != 1 {
		t.Errorf("expected profile to be fetched once, got %d", fg.ProfileCalls())
	}

	if g := c.Get(ctx, from("7")); !g.Guest || g.PSID != "7" {
		t.Errorf("expected guest on failure, got %+v", g)
	}
	if c.Len() != 1 {
		t.Errorf("failed lookups should not be cached, Len = %d", c.Len())
	}
}

func TestProfileCache_EvictsLeastRecentlyUsed(t *testing.T) {
	fg := testutil.NewFakeGraph()
	for _, id := range []string{"1", "2", "3"} {
		fg.Profiles[id] = graph.UserProfile{ID: id, FirstName: "User " + id}
	}
	c := NewProfileCache(fg, WithProfileCacheSize(2))
	ctx := context.Background()

	c.Get(ctx, from("1"))
	c.Get(ctx, from("2"))
	c.Get(ctx, from("1"))
	c.Get(ctx, from("3"))
	if c.Len() != 2 {
		t.Fatalf("expected cache to stay at 2 entries, got %d", c.Len())
	}

	calls := fg.ProfileCalls()
	c.Get(ctx, from("1"))
	if fg.ProfileCalls() != calls {
		t.Error("recently used profile should still be cached")
	}
	c.Get(ctx, from("2"))
	if fg.ProfileCalls() != calls+1 {
		t.Error("least recently used profile should have been evicted")
	}
}

func TestProfileCache_ExpiresAfterTTL(t *testing.T) {
	fg := testutil.NewFakeGraph()
	fg.Profiles["42"] = graph.UserProfile{ID: "42", FirstName: "Ana"}
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewProfileCache(fg, WithProfileTTL(time.Hour), withClock(func() time.Time { return now }))
	ctx := context.Background()

	c.Get(ctx, from("42"))
	now = now.Add(59 * time.Minute)
	c.Get(ctx, from("42"))
	if fg.ProfileCalls() != 1 {
		t.Fatalf("expected cached profile within TTL, got %d fetches", fg.ProfileCalls())
	}
	now = now.Add(time.Minute)
	if u := c.Get(ctx, from("42")); u.FirstName != "Ana" {
		t.Errorf("unexpected user %+v", u)
	}
	if fg.ProfileCalls() != 2 {
		t.Errorf("expected refetch after TTL, got %d fetches", fg.ProfileCalls())
	}
}
