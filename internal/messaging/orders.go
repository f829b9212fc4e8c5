package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/PagePipe/internal/flow"
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/store"
	"github.com/google/uuid"
)

// DefaultNotifyTimeout bounds the staff notification of a confirmed order.
const DefaultNotifyTimeout = 15 * time.Second

var errNoOrderStore = errors.New("no order store configured")

// recordOrder tracks the order carried by a cashier reply. Drafts update the
// user's open order; a confirmation closes it and notifies staff. Staff are
// notified once per order: a repeated confirmation finds no open draft.
func (r *Receiver) recordOrder(ctx context.Context, user flow.User, status models.OrderStatus, details json.RawMessage) {
	if status == models.OrderStatusNone {
		return
	}
	if r.opts.Orders == nil {
		slog.Warn("Receiver.recordOrder: dropping order", "psid", user.PSID, "status", status, "error", errNoOrderStore)
		return
	}

	order := models.Order{ID: uuid.NewString(), PSID: user.PSID, CreatedAt: time.Now().UTC()}
	open, err := r.opts.Orders.LatestOrder(user.PSID)
	switch {
	case err == nil && open.Status == models.OrderStatusDraft:
		order = *open
	case err != nil && !errors.Is(err, store.ErrNotFound):
		slog.Error("Receiver.recordOrder: failed to load open order", "psid", user.PSID, "error", err)
	}

	if status == models.OrderStatusDraft {
		order.Details = details
	} else if order.Status != models.OrderStatusDraft {
		// Confirmations and refusals only close an open draft.
		slog.Debug("Receiver.recordOrder: no open draft", "psid", user.PSID, "status", status)
		return
	}
	order.Status = status

	if err := r.opts.Orders.SaveOrder(order); err != nil {
		slog.Error("Receiver.recordOrder: failed to save order", "psid", user.PSID, "orderID", order.ID, "error", err)
		return
	}
	r.opts.Metrics.Order(string(status))
	slog.Info("Receiver.recordOrder: order saved", "psid", user.PSID, "orderID", order.ID, "status", status)

	if status == models.OrderStatusConfirmed {
		nctx, cancel := context.WithTimeout(ctx, DefaultNotifyTimeout)
		defer cancel()
		if err := r.opts.Notifier.NotifyOrder(nctx, order); err != nil {
			slog.Error("Receiver.recordOrder: staff notification failed", "orderID", order.ID, "error", err)
		}
	}
}
