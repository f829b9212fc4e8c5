package genai

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/BTreeMap/PagePipe/internal/models"
)

// Answer is a parsed model reply.
type Answer struct {
	// Text is what the user sees.
	Text string
	// Order is the order object while it is being drafted.
	Order json.RawMessage
	// Status classifies the order field; empty when the reply carried none.
	Status models.OrderStatus
	// Raw is the reply exactly as returned by the model.
	Raw string
}

type cashierReply struct {
	Cashier string          `json:"cashier"`
	Order   json.RawMessage `json:"order"`
}

// ParseAnswer interprets a {cashier, order} JSON reply. Replies that are not
// JSON, or carry no cashier text, are passed through verbatim.
func ParseAnswer(raw string) Answer {
	a := Answer{Text: raw, Raw: raw}

	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var reply cashierReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return a
	}
	if strings.TrimSpace(reply.Cashier) != "" {
		a.Text = reply.Cashier
	}
	a.Status, a.Order = classifyOrder(reply.Order)
	return a
}

func classifyOrder(order json.RawMessage) (models.OrderStatus, json.RawMessage) {
	order = bytes.TrimSpace(order)
	if len(order) == 0 || bytes.Equal(order, []byte("null")) {
		return models.OrderStatusNone, nil
	}
	var s string
	if err := json.Unmarshal(order, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "confirmed":
			return models.OrderStatusConfirmed, nil
		case "not confirmed", "not_confirmed", "unconfirmed":
			return models.OrderStatusNotConfirmed, nil
		default:
			return models.OrderStatusNone, nil
		}
	}
	if order[0] == '{' {
		return models.OrderStatusDraft, order
	}
	return models.OrderStatusNone, nil
}
