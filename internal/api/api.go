// Package api serves the Messenger webhook and the bot's operational endpoints.
//
// Webhook deliveries are acknowledged immediately and queued to a single
// worker, so events are processed one at a time in arrival order.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/metrics"
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/store"
)

// Defaults.
const (
	DefaultAddr            = ":8080"
	DefaultQueueSize       = 256
	DefaultShutdownTimeout = 10 * time.Second
)

// ErrServerStopped is returned when events are queued after Stop.
var ErrServerStopped = errors.New("api: server stopped")

// EventHandler answers webhook events.
type EventHandler interface {
	Handle(ctx context.Context, event models.WebhookEvent)
	HandleChange(ctx context.Context, change models.Change)
}

// PageConfigurer performs the one-off Graph API setup calls behind /profile.
type PageConfigurer interface {
	SetWebhookSubscription(ctx context.Context, callbackURL, verifyToken string, fields []string) error
	SetPageSubscriptions(ctx context.Context, fields []string) error
	SetMessengerProfile(ctx context.Context, profile graph.MessengerProfile) error
}

// Opts holds configuration for the Server.
type Opts struct {
	Addr        string
	VerifyToken string
	AppSecret   string
	AppURL      string
	QueueSize   int
	Configurer  PageConfigurer
	Profile     graph.MessengerProfile
	Receipts    <-chan models.Receipt
	Metrics     *metrics.Metrics
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the token expected by webhook verification and /profile.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithAppSecret enables X-Hub-Signature-256 verification of webhook deliveries.
func WithAppSecret(secret string) Option {
	return func(o *Opts) { o.AppSecret = secret }
}

// WithAppURL sets the public URL the webhook is registered under.
func WithAppURL(url string) Option {
	return func(o *Opts) { o.AppURL = url }
}

// WithQueueSize sets how many webhook events may wait for the worker.
func WithQueueSize(n int) Option {
	return func(o *Opts) { o.QueueSize = n }
}

// WithPageConfigurer enables /profile with the given Messenger profile.
func WithPageConfigurer(c PageConfigurer, profile graph.MessengerProfile) Option {
	return func(o *Opts) {
		o.Configurer = c
		o.Profile = profile
	}
}

// WithReceipts persists the receipts published on ch.
func WithReceipts(ch <-chan models.Receipt) Option {
	return func(o *Opts) { o.Receipts = ch }
}

// WithMetrics counts webhook events and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// job is one unit of work for the webhook worker.
type job struct {
	batch  string
	event  *models.WebhookEvent
	change *models.Change
}

// Server is the HTTP front of the bot.
type Server struct {
	handler EventHandler
	st      store.Store
	opts    Opts
	started time.Time

	mu       sync.RWMutex
	stopped  bool
	queue    chan job
	wg       sync.WaitGroup
	receipts sync.WaitGroup
	once     sync.Once
}

// NewServer creates a Server. Call Start before serving requests.
func NewServer(handler EventHandler, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, QueueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Server{
		handler: handler,
		st:      st,
		opts:    cfg,
		started: time.Now(),
		queue:   make(chan job, cfg.QueueSize),
	}
}

// Handler returns the routes served by the Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/profile", s.profileHandler)
	mux.HandleFunc("/receipts", s.receiptsHandler)
	mux.HandleFunc("/responses", s.responsesHandler)
	mux.HandleFunc("/orders", s.ordersHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics.Handler())
	}
	return mux
}

// Start launches the webhook worker and the receipt consumer.
func (s *Server) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.work(ctx)
	if s.opts.Receipts != nil {
		s.receipts.Add(1)
		go s.consumeReceipts(s.opts.Receipts)
	}
}

func (s *Server) closeQueue() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.queue)
		s.mu.Unlock()
	})
}

// Stop refuses new events and waits for queued events to be handled.
func (s *Server) Stop(ctx context.Context) error {
	s.closeQueue()
	return wait(ctx, &s.wg)
}

// FlushReceipts waits until the receipt channel is closed and drained.
func (s *Server) FlushReceipts(ctx context.Context) error {
	return wait(ctx, &s.receipts)
}

func wait(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves HTTP until ctx is cancelled, then shuts down the listener and
// drains queued events.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.closeQueue()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: HTTP shutdown failed", "error", err)
	}
	if err := s.Stop(shutdownCtx); err != nil {
		slog.Warn("Server.Run: queued events not drained", "error", err)
	}
	return nil
}

// enqueue hands j to the worker, waiting while the queue is full.
func (s *Server) enqueue(ctx context.Context, j job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServerStopped
	}
	select {
	case s.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) consumeReceipts(ch <-chan models.Receipt) {
	defer s.receipts.Done()
	for r := range ch {
		if err := s.st.AddReceipt(r); err != nil {
			slog.Error("Server.consumeReceipts: failed to store receipt", "to", r.To, "status", r.Status, "error", err)
		}
	}
	slog.Debug("Server.consumeReceipts: receipt channel closed")
}
