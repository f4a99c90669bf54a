package possync

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/metrics"
	"github.com/huykn/pos-sync/offline"
	"github.com/huykn/pos-sync/queue"
	"github.com/huykn/pos-sync/realtime"
	"github.com/huykn/pos-sync/storage"
	pushsync "github.com/huykn/pos-sync/sync"
)

// Client wires the offline queue, the drain loop, the query cache and the
// realtime router of one terminal.
type Client struct {
	cfg     Config
	redis   *redis.Client
	kv      storage.KV
	queue   *queue.Queue
	syncer  *offline.Syncer
	store   *cache.Store
	channel pushsync.Channel
	router  *realtime.Router
	metrics *metrics.Collector

	mu      sync.Mutex
	cancels []func()
	closed  bool
}

// ClientID returns the terminal id.
func (c *Client) ClientID() string { return c.cfg.ClientID }

// Queue returns the offline queue.
func (c *Client) Queue() *queue.Queue { return c.queue }

// Syncer returns the drain loop.
func (c *Client) Syncer() *offline.Syncer { return c.syncer }

// Store returns the query cache.
func (c *Client) Store() *cache.Store { return c.store }

// Channel returns the push channel, or nil when realtime is disabled.
func (c *Client) Channel() pushsync.Channel { return c.channel }

// Start subscribes to realtime events. With the websocket transport the
// connection state is the connectivity signal: a connect reports the client
// online, which drains the queue, and a lost connection reports it offline.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.router == nil {
		return nil
	}
	if c.cfg.Channel == nil && c.cfg.Transport == TransportWebSocket {
		c.cancels = append(c.cancels,
			c.channel.OnConnect(func() { c.syncer.SetOnline(true) }),
			c.channel.OnDisconnect(func() { c.syncer.SetOnline(false) }),
		)
	}
	return c.router.Start(ctx)
}

// Submit records a user write. It is always queued first and dispatched by
// the next drain.
func (c *Client) Submit(t ActionType, payload any) (MutationAction, error) {
	return c.syncer.Submit(t, payload)
}

// SetOnline reports connectivity.
func (c *Client) SetOnline(online bool) { c.syncer.SetOnline(online) }

// Online reports the last known connectivity.
func (c *Client) Online() bool { return c.syncer.Online() }

// Pending returns the number of queued actions.
func (c *Client) Pending() int { return c.syncer.Pending() }

// Drain runs one drain pass now.
func (c *Client) Drain(ctx context.Context) (Result, error) {
	return c.syncer.Drain(ctx)
}

// Query returns the cached result for key, fetching it when missing or
// stale.
func (c *Client) Query(ctx context.Context, key Key, fetch Fetcher) (Entry, error) {
	return c.store.Query(ctx, key, fetch)
}

// Subscribe keeps key's entry cached until release is called.
func (c *Client) Subscribe(key Key) (release func()) {
	return c.store.Subscribe(key)
}

// Stats returns cache statistics.
func (c *Client) Stats() cache.Stats { return c.store.Stats() }

// Close tears the client down in reverse order of construction. It is safe
// to call on a partially built client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	var errs []error
	if c.router != nil {
		errs = append(errs, c.router.Close())
	}
	if c.channel != nil && c.cfg.Channel == nil {
		errs = append(errs, c.channel.Close())
	}
	if c.syncer != nil {
		errs = append(errs, c.syncer.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.kv != nil {
		errs = append(errs, c.kv.Close())
	}
	// RedisStore closes the shared client itself.
	if _, ok := c.kv.(*storage.RedisStore); c.redis != nil && !ok {
		errs = append(errs, c.redis.Close())
	}
	return errors.Join(errs...)
}
