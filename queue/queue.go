// Package queue implements the durable offline mutation queue.
//
// Every user-initiated write is enqueued first, online or not. The whole
// list is persisted synchronously under one key of a storage.KV, so it
// survives a restart. Writers sharing the same KV (several terminals on one
// Redis, or two processes on one log file) are last-write-wins on the list.
//
// When the KV is unavailable every operation degrades to a no-op that
// returns empty results; failures are reported through Options.OnError and
// never returned to the caller.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/huykn/pos-sync/storage"
	"github.com/huykn/pos-sync/types"
)

// DefaultStorageKey is the KV key holding the persisted list.
const DefaultStorageKey = "pos:offline-queue"

// Options configures a Queue.
type Options struct {
	// StorageKey is the KV key holding the action list.
	StorageKey string

	// Policy bounds retries and action age.
	Policy Policy

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger types.Logger

	// Serializer encodes the persisted list. Defaults to JSON.
	Serializer storage.Serializer

	// OnError is called when persistence fails.
	OnError func(error)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default queue options.
func DefaultOptions() Options {
	return Options{
		StorageKey: DefaultStorageKey,
		Policy:     DefaultPolicy(),
	}
}

// Queue is the persisted FIFO list of pending mutation actions.
type Queue struct {
	mu   sync.Mutex
	kv   storage.KV
	opts Options
}

// New creates a queue over kv. A nil kv behaves as storage.Unavailable.
func New(kv storage.KV, opts Options) (*Queue, error) {
	if kv == nil {
		kv = storage.Unavailable{}
	}
	if opts.StorageKey == "" {
		opts.StorageKey = DefaultStorageKey
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = types.NewNoOpLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Serializer == nil {
		opts.Serializer = storage.NewJSONSerializer()
	}
	return &Queue{kv: kv, opts: opts}, nil
}

// Policy returns the queue's retry policy.
func (q *Queue) Policy() Policy { return q.opts.Policy }

// Persistent reports whether enqueued actions survive a restart.
func (q *Queue) Persistent() bool { return q.kv.Available() }

// Enqueue appends a new action and persists the list before returning.
// payload is marshalled to JSON unless it already is a json.RawMessage.
func (q *Queue) Enqueue(t types.ActionType, payload any) (types.MutationAction, error) {
	if !t.Valid() {
		return types.MutationAction{}, fmt.Errorf("%w: %q", ErrUnknownAction, t)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return types.MutationAction{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	now := q.opts.Now()
	action := types.MutationAction{
		ID:        ulid.Make().String(),
		Type:      t,
		Payload:   raw,
		CreatedAt: now,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.load()
	list = append(list, action)
	q.save(list)

	q.opts.Logger.Debug("queue: enqueued", "id", action.ID, "type", t, "depth", len(list))
	return action, nil
}

// List returns the pending actions in enqueue order.
func (q *Queue) List() []types.MutationAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	return len(q.List())
}

// Remove deletes the action with id. It reports whether it was present.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.load()
	out := make([]types.MutationAction, 0, len(list))
	found := false
	for _, a := range list {
		if a.ID == id {
			found = true
			continue
		}
		out = append(out, a)
	}
	if found {
		q.save(out)
	}
	return found
}

// IncrementRetry bumps the retry count of id and records cause. It returns
// the updated action and whether it was present.
func (q *Queue) IncrementRetry(id string, cause error) (types.MutationAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.load()
	for i := range list {
		if list[i].ID != id {
			continue
		}
		list[i].RetryCount++
		if cause != nil {
			list[i].LastError = cause.Error()
		}
		q.save(list)
		return list[i], true
	}
	return types.MutationAction{}, false
}

// PruneExpired removes actions older than the policy's MaxAge regardless of
// their retry count, and returns how many were removed.
func (q *Queue) PruneExpired() int {
	now := q.opts.Now()
	return q.prune("expired", func(a types.MutationAction) bool {
		return q.opts.Policy.Expired(a, now)
	})
}

// PruneExceeded removes actions whose retry count is above MaxRetry, and
// returns how many were removed.
func (q *Queue) PruneExceeded() int {
	return q.prune("exceeded", q.opts.Policy.Exceeded)
}

func (q *Queue) prune(reason string, drop func(types.MutationAction) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.load()
	out := make([]types.MutationAction, 0, len(list))
	for _, a := range list {
		if drop(a) {
			q.opts.Logger.Info("queue: pruned action", "id", a.ID, "type", a.Type, "reason", reason, "retries", a.RetryCount)
			continue
		}
		out = append(out, a)
	}
	removed := len(list) - len(out)
	if removed > 0 {
		q.save(out)
	}
	return removed
}

func (q *Queue) load() []types.MutationAction {
	data, err := q.kv.Get(q.opts.StorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			q.fail(fmt.Errorf("%w: %w", ErrLoad, err))
		}
		return nil
	}
	var list []types.MutationAction
	if err := q.opts.Serializer.Unmarshal(data, &list); err != nil {
		q.fail(fmt.Errorf("%w: %w", ErrLoad, err))
		return nil
	}
	return list
}

func (q *Queue) save(list []types.MutationAction) {
	if list == nil {
		list = []types.MutationAction{}
	}
	data, err := q.opts.Serializer.Marshal(list)
	if err != nil {
		q.fail(fmt.Errorf("%w: %w", ErrSave, err))
		return
	}
	if err := q.kv.Set(q.opts.StorageKey, data); err != nil {
		q.fail(fmt.Errorf("%w: %w", ErrSave, err))
	}
}

func (q *Queue) fail(err error) {
	if errors.Is(err, storage.ErrUnavailable) {
		q.opts.Logger.Debug("queue: storage unavailable", "error", err)
		return
	}
	q.opts.Logger.Warn("queue: persistence failed", "error", err)
	if q.opts.OnError != nil {
		q.opts.OnError(err)
	}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}
