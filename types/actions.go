package types

import (
	"encoding/json"
	"time"
)

// ActionType identifies the kind of write a MutationAction carries.
// The set is closed: only the constants below are accepted by the queue.
type ActionType string

const (
	CreateOrder       ActionType = "CREATE_ORDER"
	UpdateOrder       ActionType = "UPDATE_ORDER"
	CancelOrder       ActionType = "CANCEL_ORDER"
	AddItem           ActionType = "ADD_ITEM"
	UpdateItem        ActionType = "UPDATE_ITEM"
	RemoveItem        ActionType = "REMOVE_ITEM"
	CreatePayment     ActionType = "CREATE_PAYMENT"
	UpdateTableStatus ActionType = "UPDATE_TABLE_STATUS"
	AdjustStock       ActionType = "ADJUST_STOCK"
	UpdateQueueStatus ActionType = "UPDATE_QUEUE_STATUS"
)

var actionTypes = []ActionType{
	CreateOrder,
	UpdateOrder,
	CancelOrder,
	AddItem,
	UpdateItem,
	RemoveItem,
	CreatePayment,
	UpdateTableStatus,
	AdjustStock,
	UpdateQueueStatus,
}

// ActionTypes returns every known action type.
func ActionTypes() []ActionType {
	out := make([]ActionType, len(actionTypes))
	copy(out, actionTypes)
	return out
}

// Valid reports whether t belongs to the closed action set.
func (t ActionType) Valid() bool {
	for _, known := range actionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MutationAction is a pending client-initiated write not yet confirmed by
// the remote store.
type MutationAction struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// Decode unmarshals the action payload into v.
func (a MutationAction) Decode(v any) error {
	if len(a.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(a.Payload, v)
}

// CreateOrderPayload is the payload of a CREATE_ORDER action.
type CreateOrderPayload struct {
	OrderID string `json:"order_id"`
	TableID string `json:"table_id,omitempty"`
	Type    string `json:"type,omitempty"`
	Note    string `json:"note,omitempty"`
}

// UpdateOrderPayload is the payload of an UPDATE_ORDER action.
type UpdateOrderPayload struct {
	OrderID string         `json:"order_id"`
	Fields  map[string]any `json:"fields"`
}

// CancelOrderPayload is the payload of a CANCEL_ORDER action.
type CancelOrderPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// ItemPayload is shared by ADD_ITEM, UPDATE_ITEM and REMOVE_ITEM.
// ItemID is empty for ADD_ITEM.
type ItemPayload struct {
	OrderID   string `json:"order_id"`
	ItemID    string `json:"item_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Note      string `json:"note,omitempty"`
}

// PaymentPayload is the payload of a CREATE_PAYMENT action.
type PaymentPayload struct {
	OrderID string `json:"order_id"`
	Method  string `json:"method"`
	Amount  int64  `json:"amount"`
}

// TableStatusPayload is the payload of an UPDATE_TABLE_STATUS action.
type TableStatusPayload struct {
	TableID string `json:"table_id"`
	Status  string `json:"status"`
}

// StockPayload is the payload of an ADJUST_STOCK action.
type StockPayload struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason,omitempty"`
}

// QueueStatusPayload is the payload of an UPDATE_QUEUE_STATUS action.
type QueueStatusPayload struct {
	QueueID string      `json:"queue_id"`
	Status  QueueStatus `json:"status"`
}
