package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	possync "github.com/huykn/pos-sync"
)

// fileConfig is the YAML layout of the config file. Every value can be
// overridden by a POSSYNC_* environment variable and then by a flag.
type fileConfig struct {
	ClientID string `yaml:"client_id"`

	Storage struct {
		Backend string `yaml:"backend"` // memory | file | redis | none
		LogPath string `yaml:"log_path"`
		Format  string `yaml:"format"` // json | cbor
		Key     string `yaml:"key"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Backend struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"backend"`

	Realtime struct {
		Transport string            `yaml:"transport"` // websocket | redis | none
		URL       string            `yaml:"url"`
		Headers   map[string]string `yaml:"headers"`
		Prefix    string            `yaml:"prefix"`
		Debounce  time.Duration     `yaml:"debounce"`
	} `yaml:"realtime"`

	Retry struct {
		MaxRetry  int           `yaml:"max_retry"`
		MaxAge    time.Duration `yaml:"max_age"`
		BaseDelay time.Duration `yaml:"base_delay"`
		MaxDelay  time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`

	Cache struct {
		MaxSize int    `yaml:"max_size"`
		Policy  string `yaml:"policy"` // lru | lfu
	} `yaml:"cache"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
		Debug bool   `yaml:"debug"`
	} `yaml:"log"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

func defaultFileConfig() fileConfig {
	def := possync.DefaultConfig()

	var c fileConfig
	c.Storage.Backend = def.Storage
	c.Storage.LogPath = def.LogPath
	c.Storage.Format = def.QueueFormat
	c.Storage.Key = def.StorageKey
	c.Redis.Addr = def.RedisAddr
	c.Realtime.Transport = def.Transport
	c.Realtime.Prefix = def.EventPrefix
	c.Realtime.Debounce = def.Debounce
	c.Retry.MaxRetry = def.Policy.MaxRetry
	c.Retry.MaxAge = def.Policy.MaxAge
	c.Retry.BaseDelay = def.Policy.BaseDelay
	c.Retry.MaxDelay = def.Policy.MaxDelay
	c.Cache.MaxSize = def.LocalCacheConfig.MaxSize
	c.Cache.Policy = "lru"
	c.Log.Level = "info"
	return c
}

// loadConfig reads path over the defaults and applies env overrides. An
// empty path skips the file.
func loadConfig(path string) (fileConfig, error) {
	c := defaultFileConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	return c, nil
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func getEnvBool(key string) (bool, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}

func getEnvDur(key string) (time.Duration, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	return d, err == nil
}

func (c *fileConfig) applyEnvOverrides() {
	if v, ok := getEnvStr("POSSYNC_CLIENT_ID"); ok {
		c.ClientID = v
	}
	if v, ok := getEnvStr("POSSYNC_STORAGE"); ok {
		c.Storage.Backend = v
	}
	if v, ok := getEnvStr("POSSYNC_LOG_PATH"); ok {
		c.Storage.LogPath = v
	}
	if v, ok := getEnvStr("POSSYNC_QUEUE_FORMAT"); ok {
		c.Storage.Format = v
	}
	if v, ok := getEnvStr("POSSYNC_REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvStr("POSSYNC_REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvInt("POSSYNC_REDIS_DB"); ok {
		c.Redis.DB = v
	}
	if v, ok := getEnvStr("POSSYNC_BASE_URL"); ok {
		c.Backend.BaseURL = v
	}
	if v, ok := getEnvStr("POSSYNC_TRANSPORT"); ok {
		c.Realtime.Transport = v
	}
	if v, ok := getEnvStr("POSSYNC_WS_URL"); ok {
		c.Realtime.URL = v
	}
	if v, ok := getEnvStr("POSSYNC_WS_TOKEN"); ok {
		if c.Realtime.Headers == nil {
			c.Realtime.Headers = map[string]string{}
		}
		c.Realtime.Headers["Authorization"] = "Bearer " + v
	}
	if v, ok := getEnvDur("POSSYNC_DEBOUNCE"); ok {
		c.Realtime.Debounce = v
	}
	if v, ok := getEnvInt("POSSYNC_MAX_RETRY"); ok {
		c.Retry.MaxRetry = v
	}
	if v, ok := getEnvDur("POSSYNC_MAX_AGE"); ok {
		c.Retry.MaxAge = v
	}
	if v, ok := getEnvStr("POSSYNC_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvBool("POSSYNC_LOG_JSON"); ok {
		c.Log.JSON = v
	}
	if v, ok := getEnvBool("POSSYNC_DEBUG"); ok {
		c.Log.Debug = v
	}
	if v, ok := getEnvStr("POSSYNC_METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
}

// clientConfig maps the file layout onto the client configuration.
func (c fileConfig) clientConfig(logger possync.Logger) (possync.Config, error) {
	cfg := possync.DefaultConfig()
	cfg.ClientID = c.ClientID
	cfg.Storage = c.Storage.Backend
	cfg.LogPath = c.Storage.LogPath
	cfg.QueueFormat = c.Storage.Format
	if c.Storage.Key != "" {
		cfg.StorageKey = c.Storage.Key
	}
	cfg.RedisAddr = c.Redis.Addr
	cfg.RedisPassword = c.Redis.Password
	cfg.RedisDB = c.Redis.DB
	cfg.BaseURL = c.Backend.BaseURL
	cfg.Transport = c.Realtime.Transport
	cfg.WebSocketURL = c.Realtime.URL
	for k, v := range c.Realtime.Headers {
		if cfg.WebSocketHeader == nil {
			cfg.WebSocketHeader = http.Header{}
		}
		cfg.WebSocketHeader.Set(k, v)
	}
	if c.Realtime.Prefix != "" {
		cfg.EventPrefix = c.Realtime.Prefix
	}
	cfg.Debounce = c.Realtime.Debounce
	cfg.Policy = possync.Policy{
		MaxRetry:  c.Retry.MaxRetry,
		MaxAge:    c.Retry.MaxAge,
		BaseDelay: c.Retry.BaseDelay,
		MaxDelay:  c.Retry.MaxDelay,
	}

	if c.Cache.MaxSize > 0 {
		cfg.LocalCacheConfig.MaxSize = c.Cache.MaxSize
		cfg.LocalCacheConfig.MaxCost = int64(c.Cache.MaxSize)
		cfg.LocalCacheConfig.NumCounters = 10 * int64(c.Cache.MaxSize)
	}
	switch strings.ToLower(c.Cache.Policy) {
	case "", "lru":
	case "lfu":
		cfg.LocalCacheFactory = possync.NewLFUCacheFactory(cfg.LocalCacheConfig)
	default:
		return cfg, fmt.Errorf("%w: unknown cache policy %q", possync.ErrInvalidConfig, c.Cache.Policy)
	}

	cfg.Logger = logger
	cfg.DebugMode = c.Log.Debug
	return cfg, nil
}
