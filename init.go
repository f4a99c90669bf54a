// Package possync is the offline-first sync client of a point-of-sale
// front end. It queues every write durably, drains the queue to the backend
// when online, and keeps a query cache reconciled with realtime events.
package possync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/dispatch"
	"github.com/huykn/pos-sync/metrics"
	"github.com/huykn/pos-sync/offline"
	"github.com/huykn/pos-sync/queue"
	"github.com/huykn/pos-sync/realtime"
	"github.com/huykn/pos-sync/storage"
	pushsync "github.com/huykn/pos-sync/sync"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageNone   = "none"
)

// Push transports.
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportNone      = "none"
)

// Config configures a sync client.
type Config struct {
	// ClientID identifies this terminal. Used to drop its own events on
	// shared transports. Generated when empty.
	ClientID string

	// Storage selects the queue backend: "memory", "file", "redis" or
	// "none". With "none" the queue is a no-op.
	Storage string

	// LogPath is the queue log file for the "file" backend.
	LogPath string

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// QueueFormat is the encoding of the persisted queue ("json" or "cbor").
	QueueFormat string

	// StorageKey is the key holding the queue list.
	StorageKey string

	// Policy bounds retries and action age.
	Policy Policy

	// BaseURL is the backend root the dispatcher talks to.
	BaseURL string

	// Transport selects the push channel: "websocket", "redis" or "none".
	Transport string

	// WebSocketURL is the push endpoint for the websocket transport.
	WebSocketURL string

	// WebSocketHeader is sent with the websocket upgrade request.
	WebSocketHeader http.Header

	// ReconnectTimeout is the minimum time between two websocket connection
	// attempts. Zero uses the channel default.
	ReconnectTimeout time.Duration

	// EventPrefix prefixes Redis channel names for the redis transport.
	EventPrefix string

	// Debounce is the quiet window of bulk invalidation.
	Debounce time.Duration

	// LocalCacheConfig configures the pool of unsubscribed cache entries.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to LRU.
	LocalCacheFactory LocalCacheFactory

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// EnableMetrics registers prometheus collectors with Registerer.
	EnableMetrics bool

	// Registerer receives the collectors. Defaults to the global registry.
	Registerer prometheus.Registerer

	// OnError is called when an error occurs in background operations.
	OnError func(error)

	// Notifier surfaces drain results and the offline notice.
	// If nil, results are logged.
	Notifier offline.Notifier

	// Dispatcher overrides the HTTP dispatcher built from BaseURL.
	Dispatcher offline.Dispatcher

	// Channel overrides the push channel built from Transport.
	Channel pushsync.Channel
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		Storage:          StorageFile,
		LogPath:          "possync-queue.log",
		RedisAddr:        "localhost:6379",
		QueueFormat:      "json",
		StorageKey:       queue.DefaultStorageKey,
		Policy:           queue.DefaultPolicy(),
		Transport:        TransportWebSocket,
		EventPrefix:      pushsync.DefaultPubSubOptions().Prefix,
		Debounce:         realtime.DefaultDebounce,
		LocalCacheConfig: DefaultLocalCacheConfig(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageNone:
	case StorageFile:
		if c.LogPath == "" {
			return fmt.Errorf("%w: file storage needs a log path", ErrInvalidConfig)
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis storage needs an address", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	}

	if c.Channel == nil {
		switch c.Transport {
		case TransportNone:
		case TransportWebSocket:
			if c.WebSocketURL == "" {
				return fmt.Errorf("%w: websocket transport needs a url", ErrInvalidConfig)
			}
		case TransportRedis:
			if c.RedisAddr == "" {
				return fmt.Errorf("%w: redis transport needs an address", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
		}
	}

	if c.Dispatcher == nil && c.BaseURL == "" {
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}
	if c.QueueFormat != "" && c.QueueFormat != "json" && c.QueueFormat != "cbor" {
		return fmt.Errorf("%w: unknown queue format %q", ErrInvalidConfig, c.QueueFormat)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("%w: negative debounce", ErrInvalidConfig)
	}
	return nil
}

// New creates a sync client. Call Start to begin receiving realtime events
// and SetOnline to report connectivity.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = NewNoOpLogger()
	}

	c := &Client{cfg: cfg}
	if err := c.build(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) build() error {
	cfg := c.cfg

	if cfg.EnableMetrics {
		m, err := metrics.New(cfg.Registerer)
		if err != nil {
			return err
		}
		c.metrics = m
	}

	if cfg.Storage == StorageRedis || (cfg.Channel == nil && cfg.Transport == TransportRedis) {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			client.Close()
			return fmt.Errorf("%w: %w", ErrRedisConnection, err)
		}
		c.redis = client
	}

	kv, err := c.openStorage()
	if err != nil {
		return err
	}
	c.kv = kv

	serializer, err := storage.GetSerializer(orDefault(cfg.QueueFormat, "json"))
	if err != nil {
		return err
	}
	c.queue, err = queue.New(kv, queue.Options{
		StorageKey: cfg.StorageKey,
		Policy:     cfg.Policy,
		Serializer: serializer,
		Logger:     cfg.Logger,
		OnError:    cfg.OnError,
	})
	if err != nil {
		return err
	}

	d := cfg.Dispatcher
	if d == nil {
		hd, err := dispatch.New(dispatch.Options{BaseURL: cfg.BaseURL, Logger: cfg.Logger})
		if err != nil {
			return err
		}
		d = hd
	}
	c.syncer = offline.NewSyncer(c.queue, d, offline.Options{
		Notifier:  cfg.Notifier,
		Logger:    cfg.Logger,
		DebugMode: cfg.DebugMode,
		Metrics:   c.metrics,
		OnError:   cfg.OnError,
	})

	c.store, err = cache.NewStore(cache.Options{
		LocalCacheConfig:  cfg.LocalCacheConfig,
		LocalCacheFactory: cfg.LocalCacheFactory,
		Logger:            cfg.Logger,
		DebugMode:         cfg.DebugMode,
		OnError:           cfg.OnError,
	})
	if err != nil {
		return err
	}

	c.channel, err = c.openChannel()
	if err != nil {
		return err
	}
	if c.channel != nil {
		c.router = realtime.NewRouter(c.channel, c.store, realtime.Options{
			Debounce:  cfg.Debounce,
			Logger:    cfg.Logger,
			DebugMode: cfg.DebugMode,
			Metrics:   c.metrics,
			OnError:   cfg.OnError,
		})
	}
	return nil
}

func (c *Client) openStorage() (storage.KV, error) {
	switch c.cfg.Storage {
	case StorageMemory:
		return storage.NewMemoryStore(), nil
	case StorageFile:
		opts := storage.DefaultLogOptions()
		opts.OnCompactError = func(err error) {
			c.cfg.Logger.Warn("storage: log compaction failed", "path", c.cfg.LogPath, "error", err)
			if c.cfg.OnError != nil {
				c.cfg.OnError(err)
			}
		}
		return storage.OpenLogStore(c.cfg.LogPath, opts)
	case StorageRedis:
		return storage.NewRedisStoreFromClient(c.redis), nil
	default:
		return storage.Unavailable{}, nil
	}
}

func (c *Client) openChannel() (pushsync.Channel, error) {
	if c.cfg.Channel != nil {
		return c.cfg.Channel, nil
	}
	switch c.cfg.Transport {
	case TransportWebSocket:
		opts := pushsync.DefaultWebSocketOptions()
		opts.URL = c.cfg.WebSocketURL
		opts.Header = c.cfg.WebSocketHeader
		if c.cfg.ReconnectTimeout > 0 {
			opts.ReconnectTimeout = c.cfg.ReconnectTimeout
		}
		opts.Logger = c.cfg.Logger
		return pushsync.NewWebSocketChannel(opts)
	case TransportRedis:
		return pushsync.NewPubSubChannel(c.redis, pushsync.PubSubOptions{
			Prefix: c.cfg.EventPrefix,
			Sender: c.cfg.ClientID,
			Logger: c.cfg.Logger,
		}), nil
	}
	return nil, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
