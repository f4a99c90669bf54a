package types

// QueueStatus is the lifecycle state of a kitchen queue item.
type QueueStatus string

const (
	StatusPending    QueueStatus = "PENDING"
	StatusProcessing QueueStatus = "PROCESSING"
	StatusCompleted  QueueStatus = "COMPLETED"
	StatusCancelled  QueueStatus = "CANCELLED"
)

// Priority orders queue items; higher rank is served first.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank maps a priority to its sort weight. Unknown priorities rank as
// Normal so a malformed push never floats above real urgent work.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

// QueueItem is one entry of the kitchen/order queue.
type QueueItem struct {
	ID       string      `json:"id"`
	OrderID  string      `json:"order_id"`
	Status   QueueStatus `json:"status"`
	Priority Priority    `json:"priority"`
	Position int         `json:"position"`
}

// ElementID implements cache.Element.
func (q QueueItem) ElementID() string { return q.ID }

// Attr implements cache.Element.
func (q QueueItem) Attr(name string) (string, bool) {
	switch name {
	case "status":
		return string(q.Status), true
	case "priority":
		return string(q.Priority), true
	case "order_id":
		return q.OrderID, true
	}
	return "", false
}
