package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/PagePipe/internal/models"
)

// dialect is the placeholder style of a database/sql driver.
type dialect int

const (
	// dialectQuestion keeps "?" placeholders (SQLite).
	dialectQuestion dialect = iota
	// dialectDollar numbers placeholders as $1, $2, ... (PostgreSQL).
	dialectDollar
)

// rebind rewrites the "?" placeholders of query for d.
func (d dialect) rebind(query string) string {
	if d != dialectDollar || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// sqlStore implements Store over any driver whose schema matches the
// embedded migrations. The SQLite and Postgres stores embed it.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	backend string
}

func (s *sqlStore) exec(query string, args ...interface{}) (sql.Result, error) {
	return s.db.Exec(s.dialect.rebind(query), args...)
}

func (s *sqlStore) query(query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.Query(s.dialect.rebind(query), args...)
}

func (s *sqlStore) AddReceipt(r models.Receipt) error {
	if _, err := s.exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, string(r.Status), r.Time); err != nil {
		slog.Error("SQLStore.AddReceipt: insert failed", "backend", s.backend, "to", r.To, "error", err)
		return fmt.Errorf("insert receipt for %s: %w", r.To, err)
	}
	return nil
}

// GetReceipts returns receipts in insertion order.
func (s *sqlStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.query(`SELECT recipient, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("SQLStore.GetReceipts: query failed", "backend", s.backend, "error", err)
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var status string
		if err := rows.Scan(&r.To, &status, &r.Time); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.Status = models.MessageStatus(status)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, nil
}

func (s *sqlStore) AddResponse(r models.Response) error {
	if _, err := s.exec(`INSERT INTO responses (sender, body, time) VALUES (?, ?, ?)`, r.From, r.Body, r.Time); err != nil {
		slog.Error("SQLStore.AddResponse: insert failed", "backend", s.backend, "from", r.From, "error", err)
		return fmt.Errorf("insert response from %s: %w", r.From, err)
	}
	return nil
}

// GetResponses returns the inbound message log in insertion order.
func (s *sqlStore) GetResponses() ([]models.Response, error) {
	rows, err := s.query(`SELECT sender, body, time FROM responses ORDER BY id`)
	if err != nil {
		slog.Error("SQLStore.GetResponses: query failed", "backend", s.backend, "error", err)
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return responses, nil
}

// SaveOrder inserts o, or updates the status and details of the order with
// the same ID. created_at is kept from the first save.
func (s *sqlStore) SaveOrder(o models.Order) error {
	if o.ID == "" {
		return errors.New("order id is required")
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := s.exec(`INSERT INTO orders (id, psid, status, details, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, details = excluded.details`,
		o.ID, o.PSID, string(o.Status), nilIfEmpty(string(o.Details)), o.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLStore.SaveOrder: upsert failed", "backend", s.backend, "orderID", o.ID, "psid", o.PSID, "error", err)
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	slog.Debug("SQLStore.SaveOrder: saved", "backend", s.backend, "orderID", o.ID, "status", o.Status)
	return nil
}

func (s *sqlStore) LatestOrder(psid string) (*models.Order, error) {
	row := s.db.QueryRow(s.dialect.rebind(`SELECT id, psid, status, details, created_at FROM orders
		WHERE psid = ? ORDER BY created_at DESC LIMIT 1`), psid)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLStore.LatestOrder: query failed", "backend", s.backend, "psid", psid, "error", err)
		return nil, fmt.Errorf("load latest order for %s: %w", psid, err)
	}
	return &o, nil
}

func (s *sqlStore) ListOrders() ([]models.Order, error) {
	rows, err := s.query(`SELECT id, psid, status, details, created_at FROM orders ORDER BY created_at DESC`)
	if err != nil {
		slog.Error("SQLStore.ListOrders: query failed", "backend", s.backend, "error", err)
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *sqlStore) RecordInbound(messageID, participantID string) (bool, error) {
	res, err := s.exec(`INSERT INTO inbound_dedup (message_id, participant_id, received_at) VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`,
		messageID, participantID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record inbound %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound %s: rows affected: %w", messageID, err)
	}
	return n == 1, nil
}

func (s *sqlStore) MarkProcessed(messageID string) error {
	res, err := s.exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", messageID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database handle.
func (s *sqlStore) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("SQLStore.Close: close failed", "backend", s.backend, "error", err)
		return err
	}
	slog.Debug("SQLStore.Close: closed", "backend", s.backend)
	return nil
}

// migrate applies the schema and wraps db. The db is closed on failure.
func migrate(db *sql.DB, schema string, d dialect, backend string) (*sqlStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", backend, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", backend, err)
	}
	slog.Debug("SQLStore.migrate: schema applied", "backend", backend)
	return &sqlStore{db: db, dialect: d, backend: backend}, nil
}
