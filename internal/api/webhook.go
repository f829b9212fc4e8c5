package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/util"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxWebhookBody  = 1 << 20
)

// webhookHandler serves GET (verification) and POST (event delivery) on /webhook.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")
	if mode != "subscribe" || !tokenMatches(token, s.opts.VerifyToken) {
		slog.Warn("Server.verifyWebhook: verification failed", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	slog.Info("Server.verifyWebhook: webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		slog.Warn("Server.receiveWebhook: body too large", "limit", tooLarge.Limit)
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
		return
	}
	if err != nil {
		slog.Warn("Server.receiveWebhook: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read body"))
		return
	}

	if s.opts.AppSecret != "" && !validSignature(s.opts.AppSecret, body, r.Header.Get(signatureHeader)) {
		s.opts.Metrics.SignatureFailure()
		slog.Warn("Server.receiveWebhook: invalid signature")
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
		return
	}

	var payload models.WebhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("Server.receiveWebhook: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if payload.Object != models.ObjectPage {
		slog.Warn("Server.receiveWebhook: unexpected object", "object", payload.Object)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	batch := util.GenerateBatchID()
	queued := 0
	for _, entry := range payload.Entry {
		for i := range entry.Messaging {
			if s.enqueue(r.Context(), job{batch: batch, event: &entry.Messaging[i]}) == nil {
				queued++
			}
		}
		for i := range entry.Changes {
			if s.enqueue(r.Context(), job{batch: batch, change: &entry.Changes[i]}) == nil {
				queued++
			}
		}
		if len(entry.Standby) > 0 {
			slog.Debug("Server.receiveWebhook: ignoring standby events", "count", len(entry.Standby))
		}
	}
	slog.Debug("Server.receiveWebhook: events queued", "batch", batch, "count", queued)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "EVENT_RECEIVED")
}

// tokenMatches compares a caller-supplied verify token in constant time. An
// unset expected token never matches.
func tokenMatches(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// validSignature checks header, of the form sha256=<hex>, against body.
func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// work handles queued events one at a time until the queue is closed.
func (s *Server) work(ctx context.Context) {
	defer s.wg.Done()
	ctx = context.WithoutCancel(ctx)
	for j := range s.queue {
		switch {
		case j.event != nil:
			s.process(ctx, j.batch, *j.event)
		case j.change != nil:
			s.opts.Metrics.WebhookEvent("change")
			s.handler.HandleChange(ctx, *j.change)
		}
	}
	slog.Debug("Server.work: queue closed")
}

func (s *Server) process(ctx context.Context, batch string, event models.WebhookEvent) {
	kind := eventKind(event)
	s.opts.Metrics.WebhookEvent(kind)
	psid := event.Sender.Key()

	switch kind {
	case "echo":
		return
	case "delivery":
		for range event.Delivery.MIDs {
			s.record(models.Receipt{To: psid, Status: models.MessageStatusDelivered, Time: eventTime(event)})
		}
		if len(event.Delivery.MIDs) == 0 {
			s.record(models.Receipt{To: psid, Status: models.MessageStatusDelivered, Time: eventTime(event)})
		}
		return
	case "read":
		s.record(models.Receipt{To: psid, Status: models.MessageStatusRead, Time: eventTime(event)})
		return
	}

	mid := eventMID(event)
	if mid != "" {
		fresh, err := s.st.RecordInbound(mid, psid)
		if err != nil {
			slog.Error("Server.process: dedup check failed", "mid", mid, "error", err)
		} else if !fresh {
			slog.Info("Server.process: dropping duplicate event", "mid", mid, "psid", psid)
			return
		}
	}

	if event.Message != nil && event.Message.QuickReply == nil && event.Message.Text != "" {
		resp := models.Response{From: psid, Body: event.Message.Text, Time: eventTime(event)}
		if err := s.st.AddResponse(resp); err != nil {
			slog.Error("Server.process: failed to store response", "psid", psid, "error", err)
		}
	}

	slog.Debug("Server.process: handling event", "batch", batch, "kind", kind, "psid", psid)
	s.handler.Handle(ctx, event)

	if mid != "" {
		if err := s.st.MarkProcessed(mid); err != nil {
			slog.Warn("Server.process: failed to mark processed", "mid", mid, "error", err)
		}
	}
}

func (s *Server) record(r models.Receipt) {
	if err := s.st.AddReceipt(r); err != nil {
		slog.Error("Server.record: failed to store receipt", "to", r.To, "status", r.Status, "error", err)
	}
}

func eventKind(e models.WebhookEvent) string {
	switch {
	case e.Message != nil && e.Message.IsEcho:
		return "echo"
	case e.Message != nil:
		return "message"
	case e.Postback != nil:
		return "postback"
	case e.Referral != nil:
		return "referral"
	case e.Optin != nil:
		return "optin"
	case e.PassThreadControl != nil:
		return "handover"
	case e.Delivery != nil:
		return "delivery"
	case e.Read != nil:
		return "read"
	default:
		return "other"
	}
}

func eventMID(e models.WebhookEvent) string {
	switch {
	case e.Message != nil:
		return e.Message.MID
	case e.Postback != nil:
		return e.Postback.MID
	default:
		return ""
	}
}

// eventTime returns the event timestamp in Unix seconds, or now when unset.
func eventTime(e models.WebhookEvent) int64 {
	if e.Timestamp > 0 {
		return e.Timestamp / 1000
	}
	return time.Now().Unix()
}
