package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/pos-sync/types"
)

// PubSubOptions configures a PubSubChannel.
type PubSubOptions struct {
	// Prefix is prepended to every event name to form the Redis channel.
	Prefix string

	// Sender identifies this client. Events published with the same sender
	// are not delivered back to it.
	Sender string

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger types.Logger
}

// DefaultPubSubOptions returns default pub/sub options.
func DefaultPubSubOptions() PubSubOptions {
	return PubSubOptions{Prefix: "pos:events:"}
}

// PubSubChannel delivers realtime events over Redis Pub/Sub, one Redis
// channel per event name.
type PubSubChannel struct {
	client   *redis.Client
	opts     PubSubOptions
	pubsub   *redis.PubSub
	channels int
	events   hooks[types.RealtimeEvent]
	connects hooks[struct{}]
	drops    hooks[struct{}]
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
}

// NewPubSubChannel creates a new Pub/Sub channel.
func NewPubSubChannel(client *redis.Client, opts PubSubOptions) *PubSubChannel {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPubSubOptions().Prefix
	}
	if opts.Logger == nil {
		opts.Logger = types.NewNoOpLogger()
	}
	return &PubSubChannel{client: client, opts: opts}
}

// Subscribe starts listening for the named events.
func (ps *PubSubChannel) Subscribe(ctx context.Context, names []string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return ErrClosed
	}
	if ps.pubsub != nil {
		return ErrAlreadySubscribed
	}

	channels := make([]string, len(names))
	for i, n := range names {
		channels[i] = ps.opts.Prefix + n
	}
	ps.pubsub = ps.client.Subscribe(ctx, channels...)
	ps.channels = len(channels)

	listenCtx, cancel := context.WithCancel(context.Background())
	ps.cancel = cancel
	ps.wg.Add(1)
	go ps.listen(listenCtx)
	return nil
}

// Publish publishes an event. The sender defaults to this channel's.
func (ps *PubSubChannel) Publish(ctx context.Context, event types.RealtimeEvent) error {
	if event.Sender == "" {
		event.Sender = ps.opts.Sender
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return ps.client.Publish(ctx, ps.opts.Prefix+event.Name, data).Err()
}

// OnEvent registers a callback for received events.
func (ps *PubSubChannel) OnEvent(fn func(types.RealtimeEvent)) func() {
	return ps.events.add(fn)
}

// OnConnect registers a callback for every (re)subscription confirmed by
// Redis.
func (ps *PubSubChannel) OnConnect(fn func()) func() {
	return ps.connects.add(func(struct{}) { fn() })
}

// OnDisconnect registers a callback for every receive failure that follows
// a confirmed subscription.
func (ps *PubSubChannel) OnDisconnect(fn func()) func() {
	return ps.drops.add(func(struct{}) { fn() })
}

// Close closes the channel.
func (ps *PubSubChannel) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	cancel := ps.cancel
	pubsub := ps.pubsub
	ps.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	ps.wg.Wait()
	ps.events.clear()
	ps.connects.clear()
	ps.drops.clear()
	return err
}

// listen reads the subscription directly rather than through
// PubSub.Channel so that resubscriptions after a reconnect are visible.
func (ps *PubSubChannel) listen(ctx context.Context) {
	defer ps.wg.Done()

	connected := false
	for {
		msg, err := ps.pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ps.opts.Logger.Debug("pubsub: receive failed", "error", err)
			if connected {
				connected = false
				ps.drops.emit(struct{}{})
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			// Redis confirms each channel separately; the last one marks
			// the connection as ready.
			if m.Kind == "subscribe" && m.Count == ps.channels {
				connected = true
				ps.connects.emit(struct{}{})
			}
		case *redis.Message:
			var event types.RealtimeEvent
			if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
				ps.opts.Logger.Warn("pubsub: malformed event", "channel", m.Channel, "error", err)
				continue
			}
			if event.Sender != "" && event.Sender == ps.opts.Sender {
				continue
			}
			ps.events.emit(event)
		}
	}
}
