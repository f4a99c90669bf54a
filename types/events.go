package types

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Topic groups realtime events by the entity they describe.
type Topic string

const (
	TopicOrder       Topic = "order"
	TopicPayment     Topic = "payment"
	TopicOrderItem   Topic = "order-item"
	TopicOrderDetail Topic = "order-detail"
	TopicOrderQueue  Topic = "order-queue"
	TopicProduct     Topic = "product"
	TopicStock       Topic = "stock"
	TopicTable       Topic = "table"
)

// Event names pushed by the backend. Names are "<topic>:<verb>".
const (
	OrderCreated       = "order:created"
	OrderUpdated       = "order:updated"
	OrderDeleted       = "order:deleted"
	OrderStatusChanged = "order:status-changed"

	PaymentCreated = "payment:created"
	PaymentUpdated = "payment:updated"

	OrderItemAdded   = "order-item:added"
	OrderItemUpdated = "order-item:updated"
	OrderItemRemoved = "order-item:removed"

	OrderDetailUpdated = "order-detail:updated"

	QueueAdded     = "order-queue:added"
	QueueUpdated   = "order-queue:updated"
	QueueRemoved   = "order-queue:removed"
	QueueReordered = "order-queue:reordered"

	ProductCreated = "product:created"
	ProductUpdated = "product:updated"
	ProductDeleted = "product:deleted"

	StockUpdated = "stock:updated"
	TableUpdated = "table:updated"
)

// topicEvents lists the events each consumer topic listens for. Some names
// appear under more than one topic; EventNames removes the duplicates.
var topicEvents = map[Topic][]string{
	TopicOrder:       {OrderCreated, OrderUpdated, OrderDeleted, OrderStatusChanged, PaymentCreated},
	TopicPayment:     {PaymentCreated, PaymentUpdated, OrderUpdated},
	TopicOrderItem:   {OrderItemAdded, OrderItemUpdated, OrderItemRemoved, OrderUpdated},
	TopicOrderDetail: {OrderDetailUpdated, OrderItemAdded, OrderItemUpdated, OrderItemRemoved, PaymentCreated},
	TopicOrderQueue:  {QueueAdded, QueueUpdated, QueueRemoved, QueueReordered, OrderStatusChanged},
	TopicProduct:     {ProductCreated, ProductUpdated, ProductDeleted, StockUpdated},
	TopicStock:       {StockUpdated},
	TopicTable:       {TableUpdated, OrderCreated, OrderDeleted},
}

// Topics returns all topics in a stable order.
func Topics() []Topic {
	out := make([]Topic, 0, len(topicEvents))
	for t := range topicEvents {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EventNames returns the deduplicated, sorted set of event names across all
// topics. A connection subscribes to exactly this set once.
func EventNames() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, names := range topicEvents {
		for _, n := range names {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Listeners returns the topics that listen for the named event, sorted.
func Listeners(name string) []Topic {
	var out []Topic
	for t, names := range topicEvents {
		for _, n := range names {
			if n == name {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TopicOf returns the topic prefix of an event name.
func TopicOf(name string) Topic {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return Topic(name[:i])
	}
	return Topic(name)
}

// RealtimeEvent is one message received from the push channel.
type RealtimeEvent struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"data,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	At      time.Time       `json:"at,omitempty"`
}

// Topic returns the topic the event belongs to.
func (e RealtimeEvent) Topic() Topic { return TopicOf(e.Name) }

// Decode unmarshals the event payload into v.
func (e RealtimeEvent) Decode(v any) error {
	if len(e.Payload) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(e.Payload, v)
}

// DeletedPayload carries the identity of a removed element.
type DeletedPayload struct {
	ID string `json:"id"`
}

// QueueFields is the positional state of one queue item in a reorder.
type QueueFields struct {
	Position int      `json:"position"`
	Priority Priority `json:"priority,omitempty"`
}

// ReorderPayload is the data of an order-queue:reordered event. Updates may
// be nil or cover only a subset of Affected.
type ReorderPayload struct {
	Updates  map[string]QueueFields `json:"updates,omitempty"`
	Affected []string               `json:"affected,omitempty"`
}
