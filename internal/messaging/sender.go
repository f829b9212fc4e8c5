package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PagePipe/internal/metrics"
	"github.com/BTreeMap/PagePipe/internal/models"
)

// SenderOpts holds configuration for a Sender.
type SenderOpts struct {
	Interval time.Duration
	Metrics  *metrics.Metrics
}

// SenderOption defines a configuration option for the Sender.
type SenderOption func(*SenderOpts)

// WithInterval sets the spacing between successive messages.
func WithInterval(d time.Duration) SenderOption {
	return func(o *SenderOpts) { o.Interval = d }
}

// WithSenderMetrics records Send API outcomes.
func WithSenderMetrics(m *metrics.Metrics) SenderOption {
	return func(o *SenderOpts) { o.Metrics = m }
}

// Sender relays messages to the Send API. Every message is delivered by its
// own goroutine after its delay; Stop waits for pending deliveries.
type Sender struct {
	api      SendAPI
	opts     SenderOpts
	receipts chan models.Receipt

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewSender creates a Sender over api.
func NewSender(api SendAPI, opts ...SenderOption) *Sender {
	cfg := SenderOpts{Interval: DefaultMessageInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		api:      api,
		opts:     cfg,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Interval returns the spacing between successive messages.
func (s *Sender) Interval() time.Duration { return s.opts.Interval }

// Receipts returns the channel of sent and failed receipts. It is closed by Stop.
func (s *Sender) Receipts() <-chan models.Receipt { return s.receipts }

// Send schedules msgs for recipient. Message i is sent after i*Interval
// unless it carries its own Delay. Persona ids are never forwarded.
func (s *Sender) Send(recipient models.Recipient, msgs ...models.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("Sender.Send: dropping messages, sender stopped", "count", len(msgs))
		return ErrServiceStopped
	}
	if recipient.IsZero() {
		return models.ErrEmptyRecipient
	}

	for i, m := range msgs {
		delay := time.Duration(i) * s.opts.Interval
		if m.Delay > 0 {
			delay = m.Delay
		}
		msg := m
		msg.Delay = 0
		msg.PersonaID = ""
		if err := msg.Validate(); err != nil {
			slog.Error("Sender.Send: skipping invalid message", "error", err, "index", i)
			continue
		}
		s.schedule(delay, models.SendRequest{Recipient: recipient, Message: &msg})
	}
	return nil
}

// Action sends a sender action such as typing_on. Errors are logged only.
func (s *Sender) Action(ctx context.Context, recipient models.Recipient, action string) {
	if _, err := s.api.SendMessage(ctx, models.SendRequest{Recipient: recipient, SenderAction: action}); err != nil {
		slog.Warn("Sender.Action: failed", "action", action, "error", err)
	}
}

// schedule must be called with s.mu held for reading.
func (s *Sender) schedule(delay time.Duration, req models.SendRequest) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-s.ctx.Done():
				t.Stop()
				slog.Warn("Sender.schedule: pending message cancelled", "recipient", recipientKey(req.Recipient))
				return
			}
		}
		s.deliver(req)
	}()
}

func (s *Sender) deliver(req models.SendRequest) {
	to := recipientKey(req.Recipient)
	status := models.MessageStatusSent

	res, err := s.api.SendMessage(s.ctx, req)
	s.opts.Metrics.MessageSent(err)
	if err != nil {
		status = models.MessageStatusFailed
		slog.Error("Sender.deliver: Send API call failed", "recipient", to, "error", err)
	} else {
		slog.Debug("Sender.deliver: message sent", "recipient", to, "messageID", res.MessageID)
	}
	s.safeEmitReceipt(models.Receipt{To: to, Status: status, Time: time.Now().Unix()})
}

func (s *Sender) safeEmitReceipt(receipt models.Receipt) {
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("Sender.safeEmitReceipt: receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

// Stop refuses new messages and waits for pending ones. When ctx expires
// first, pending messages are cancelled and ctx's error is returned.
func (s *Sender) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.cancel()
		<-done
	}
	s.cancel()
	close(s.receipts)
	return err
}

func recipientKey(r models.Recipient) string {
	switch {
	case r.ID != "":
		return r.ID
	case r.UserRef != "":
		return r.UserRef
	case r.PostID != "":
		return r.PostID
	case r.CommentID != "":
		return r.CommentID
	default:
		return r.NotificationMessagesToken
	}
}
