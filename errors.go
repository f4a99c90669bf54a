package possync

import "errors"

// ErrInvalidConfig is returned when the client configuration is invalid.
var ErrInvalidConfig = errors.New("invalid client configuration")

// ErrRedisConnection is returned when Redis connection fails.
var ErrRedisConnection = errors.New("redis connection failed")

// ErrClientClosed is returned when operations are performed on a closed client.
var ErrClientClosed = errors.New("client is closed")
