package types

import "errors"

// ErrEmptyPayload is returned when decoding an event without data.
var ErrEmptyPayload = errors.New("event has no payload")
