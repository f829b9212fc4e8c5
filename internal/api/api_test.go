package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/metrics"
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/store"
	"github.com/BTreeMap/PagePipe/internal/testutil"
)

type recordingHandler struct {
	mu      sync.Mutex
	events  []models.WebhookEvent
	changes []models.Change
}

func (h *recordingHandler) Handle(ctx context.Context, e models.WebhookEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) HandleChange(ctx context.Context, c models.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, c)
}

func (h *recordingHandler) snapshot() ([]models.WebhookEvent, []models.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.WebhookEvent(nil), h.events...), append([]models.Change(nil), h.changes...)
}

type fakeConfigurer struct {
	calls   []string
	profile graph.MessengerProfile
	err     error
}

func (f *fakeConfigurer) SetWebhookSubscription(ctx context.Context, callbackURL, verifyToken string, fields []string) error {
	f.calls = append(f.calls, "webhook:"+callbackURL)
	return f.err
}

func (f *fakeConfigurer) SetPageSubscriptions(ctx context.Context, fields []string) error {
	f.calls = append(f.calls, "page")
	return f.err
}

func (f *fakeConfigurer) SetMessengerProfile(ctx context.Context, p graph.MessengerProfile) error {
	f.calls = append(f.calls, "profile")
	f.profile = p
	return f.err
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *recordingHandler, *store.InMemoryStore) {
	t.Helper()
	h := &recordingHandler{}
	st := store.NewInMemoryStore()
	base := []Option{WithVerifyToken("vt"), WithAppURL("https://bot.example/")}
	s := NewServer(h, st, append(base, opts...)...)
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, h, st
}

// drain stops the worker so every queued event has been handled.
func drain(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func post(t *testing.T, s *Server, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

const textEvent = `{"object":"page","entry":[{"id":"1001","time":1,"messaging":[
	{"sender":{"id":"42"},"recipient":{"id":"1001"},"timestamp":1709370000000,"message":{"mid":"m1","text":"two lattes"}}
]}]}`

func TestVerifyWebhook(t *testing.T) {
	s, _, _ := newTestServer(t)
	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=vt&hub.challenge=123", http.StatusOK, "123"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=123", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=vt&hub.challenge=123", http.StatusForbidden, ""},
		{"empty token", "hub.mode=subscribe&hub.verify_token=&hub.challenge=123", http.StatusForbidden, ""},
		{"token prefix", "hub.mode=subscribe&hub.verify_token=v&hub.challenge=123", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil))
			testutil.AssertHTTPStatus(t, tt.status, rr.Code, tt.name)
			if rr.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.body)
			}
		})
	}
}

func TestReceiveWebhook_QueuesAndStoresResponse(t *testing.T) {
	s, h, st := newTestServer(t)
	rr := post(t, s, textEvent, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	if rr.Body.String() != "EVENT_RECEIVED" {
		t.Errorf("body = %q", rr.Body.String())
	}
	drain(t, s)

	events, _ := h.snapshot()
	if len(events) != 1 || events[0].Message.Text != "two lattes" {
		t.Fatalf("unexpected events %+v", events)
	}
	testutil.AssertResponseCount(t, st, 1, "after text message")
	responses, _ := st.GetResponses()
	if responses[0].From != "42" || responses[0].Time != 1709370000 {
		t.Errorf("unexpected response %+v", responses[0])
	}
}

func TestReceiveWebhook_DropsDuplicates(t *testing.T) {
	s, h, _ := newTestServer(t)
	post(t, s, textEvent, nil)
	post(t, s, textEvent, nil)
	drain(t, s)

	if events, _ := h.snapshot(); len(events) != 1 {
		t.Errorf("expected duplicate to be dropped, got %d events", len(events))
	}
}

func TestReceiveWebhook_EchoesAndReceipts(t *testing.T) {
	s, h, st := newTestServer(t)
	body := `{"object":"page","entry":[{"id":"1001","time":1,"messaging":[
		{"sender":{"id":"1001"},"recipient":{"id":"42"},"message":{"mid":"e1","text":"hi","is_echo":true}},
		{"sender":{"id":"42"},"recipient":{"id":"1001"},"delivery":{"mids":["a","b"],"watermark":1}},
		{"sender":{"id":"42"},"recipient":{"id":"1001"},"read":{"watermark":1}}
	],"changes":[{"field":"feed","value":{"item":"comment","verb":"add","comment_id":"c1"}}]}]}`
	post(t, s, body, nil)
	drain(t, s)

	events, changes := h.snapshot()
	if len(events) != 0 {
		t.Errorf("echo and receipts should not reach the handler, got %+v", events)
	}
	if len(changes) != 1 || changes[0].Value.CommentID != "c1" {
		t.Errorf("unexpected changes %+v", changes)
	}
	receipts, _ := st.GetReceipts()
	var delivered, read int
	for _, r := range receipts {
		switch r.Status {
		case models.MessageStatusDelivered:
			delivered++
		case models.MessageStatusRead:
			read++
		}
	}
	if delivered != 2 || read != 1 {
		t.Errorf("expected 2 delivered and 1 read receipts, got %d and %d", delivered, read)
	}
}

func TestReceiveWebhook_Signature(t *testing.T) {
	m := metrics.New()
	s, h, _ := newTestServer(t, WithAppSecret("shh"), WithMetrics(m))

	rr := post(t, s, textEvent, http.Header{signatureHeader: {"sha256=deadbeef"}})
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "bad signature")
	rr = post(t, s, textEvent, nil)
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "missing signature")

	rr = post(t, s, textEvent, http.Header{signatureHeader: {Sign("shh", []byte(textEvent))}})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "good signature")
	drain(t, s)

	if events, _ := h.snapshot(); len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
	scrape := httptest.NewRecorder()
	s.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), "pagepipe_webhook_signature_failures_total 2") {
		t.Errorf("expected 2 signature failures:\n%s", scrape.Body.String())
	}
}

func TestReceiveWebhook_Rejects(t *testing.T) {
	s, _, _ := newTestServer(t)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, post(t, s, `{"object":"user","entry":[]}`, nil).Code, "non-page object")
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, post(t, s, `{not json`, nil).Code, "invalid json")

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/webhook", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "delete")
}

func TestReceiveWebhook_BodyTooLarge(t *testing.T) {
	big := `{"object":"page","entry":[],"pad":"` + strings.Repeat("x", maxWebhookBody) + `"}`
	for name, opts := range map[string][]Option{
		"unsigned": nil,
		"signed":   {WithAppSecret("shh")},
	} {
		t.Run(name, func(t *testing.T) {
			s, h, _ := newTestServer(t, opts...)
			rr := post(t, s, big, http.Header{signatureHeader: {Sign("shh", []byte(big))}})
			testutil.AssertHTTPStatus(t, http.StatusRequestEntityTooLarge, rr.Code, "oversized body")
			drain(t, s)
			if events, _ := h.snapshot(); len(events) != 0 {
				t.Errorf("expected no events, got %d", len(events))
			}
		})
	}
}

func TestTokenMatches(t *testing.T) {
	tests := []struct {
		got, want string
		match     bool
	}{
		{"vt", "vt", true},
		{"vt", "", false},
		{"", "", false},
		{"v", "vt", false},
		{"vtx", "vt", false},
	}
	for _, tt := range tests {
		if got := tokenMatches(tt.got, tt.want); got != tt.match {
			t.Errorf("tokenMatches(%q, %q) = %v, want %v", tt.got, tt.want, got, tt.match)
		}
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	s, _, _ := newTestServer(t)
	drain(t, s)
	if err := s.enqueue(context.Background(), job{}); !errors.Is(err, ErrServerStopped) {
		t.Errorf("expected ErrServerStopped, got %v", err)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "health while stopping")
}

func TestProfileHandler(t *testing.T) {
	profile := graph.MessengerProfile{
		GetStarted:         &graph.GetStarted{Payload: "GET_STARTED"},
		WhitelistedDomains: []string{"https://bot.example"},
	}
	fc := &fakeConfigurer{}
	s, _, _ := newTestServer(t, WithPageConfigurer(fc, profile))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/profile?mode=all&verify_token=vt", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "profile all")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if steps, _ := resp["result"].([]interface{}); len(steps) != 4 {
		t.Errorf("expected 4 steps, got %v", resp["result"])
	}
	want := []string{"webhook:https://bot.example/webhook", "page", "profile", "profile"}
	if strings.Join(fc.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", fc.calls, want)
	}
	if fc.profile.GetStarted != nil || len(fc.profile.WhitelistedDomains) != 1 {
		t.Errorf("domains step should only send domains, got %+v", fc.profile)
	}
}

func TestProfileHandler_Errors(t *testing.T) {
	fc := &fakeConfigurer{}
	s, _, _ := newTestServer(t, WithPageConfigurer(fc, graph.MessengerProfile{}))

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"bad token", "mode=all&verify_token=nope", http.StatusForbidden},
		{"unknown mode", "mode=personas&verify_token=vt", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/profile?"+tt.query, nil))
		testutil.AssertHTTPStatus(t, tt.status, rr.Code, tt.name)
	}

	fc.err = errors.New("graph down")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/profile?mode=page&verify_token=vt", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "graph failure")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestReadEndpoints(t *testing.T) {
	s, _, st := newTestServer(t)
	testutil.SeedTestData(t, st)
	st.SaveOrder(models.Order{ID: "o1", PSID: "42", Status: models.OrderStatusConfirmed, CreatedAt: time.Now()})
	st.SaveOrder(models.Order{ID: "o2", PSID: "43", Status: models.OrderStatusDraft, CreatedAt: time.Now()})

	tests := []struct {
		path  string
		count int
	}{
		{"/receipts", 2},
		{"/responses", 2},
		{"/orders", 2},
		{"/orders?status=confirmed", 1},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodGet, tt.path, nil))
			testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, tt.path)
			resp := testutil.AssertJSONResponse(t, rr, "ok")
			if items, _ := resp["result"].([]interface{}); len(items) != tt.count {
				t.Errorf("%s: expected %d items, got %v", tt.path, tt.count, resp["result"])
			}
		})
	}

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/receipts", bytes.NewReader(nil)))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "POST /receipts")
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.New()
	s, _, _ := newTestServer(t, WithMetrics(m))
	post(t, s, textEvent, nil)
	drain(t, s)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	if !strings.Contains(rr.Body.String(), `pagepipe_webhook_events_total{kind="message"} 1`) {
		t.Errorf("metrics missing webhook counter:\n%s", rr.Body.String())
	}
}

func TestConsumeReceipts(t *testing.T) {
	ch := make(chan models.Receipt, 2)
	s, _, st := newTestServer(t, WithReceipts(ch))
	ch <- models.Receipt{To: "42", Status: models.MessageStatusSent, Time: 1}
	ch <- models.Receipt{To: "42", Status: models.MessageStatusFailed, Time: 2}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.FlushReceipts(ctx); err != nil {
		t.Fatalf("FlushReceipts failed: %v", err)
	}
	if receipts, _ := st.GetReceipts(); len(receipts) != 2 {
		t.Errorf("expected 2 stored receipts, got %d", len(receipts))
	}
}
