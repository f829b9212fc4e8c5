package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/PagePipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanOrder scans an Order from a single row.
func scanOrder(row rowScanner) (models.Order, error) {
	var o models.Order
	var status string
	var details sql.NullString
	if err := row.Scan(&o.ID, &o.PSID, &status, &details, &o.CreatedAt); err != nil {
		return o, err
	}
	o.Status = models.OrderStatus(status)
	if details.Valid && details.String != "" {
		o.Details = json.RawMessage(details.String)
	}
	return o, nil
}

// scanOrders scans every row of rows into orders.
func scanOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order rows: %w", err)
	}
	return orders, nil
}
