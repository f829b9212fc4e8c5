// Package store provides storage backends for PagePipe.
//
// It includes an in-memory store and SQLite and PostgreSQL backed stores for
// receipts, responses, orders and inbound message deduplication.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/PagePipe/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence surface used by the bot.
type Store interface {
	DedupRepo

	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	AddResponse(r models.Response) error
	GetResponses() ([]models.Response, error)

	// SaveOrder inserts or replaces an order by ID.
	SaveOrder(o models.Order) error
	// LatestOrder returns the most recent order for psid, or ErrNotFound.
	LatestOrder(psid string) (*models.Order, error)
	// ListOrders returns all orders, newest first.
	ListOrders() ([]models.Order, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") && (strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=")) {
		return "postgres"
	}
	return "sqlite3"
}

// Compile-time checks that every backend implements Store.
var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// InMemoryStore is a simple in-memory store, used in tests and when no
// database is configured.
type InMemoryStore struct {
	mu        sync.RWMutex
	receipts  []models.Receipt
	responses []models.Response
	orders    map[string]models.Order
	dedup     map[string]DedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders: make(map[string]models.Order),
		dedup:  make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Receipt(nil), s.receipts...), nil
}

func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Response(nil), s.responses...), nil
}

func (s *InMemoryStore) SaveOrder(o models.Order) error {
	if o.ID == "" {
		return errors.New("order id is required")
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *InMemoryStore) LatestOrder(psid string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Order
	for _, o := range s.orders {
		if o.PSID != psid {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			o := o
			latest = &o
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *InMemoryStore) ListOrders() ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) RecordInbound(messageID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, ParticipantID: participantID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
