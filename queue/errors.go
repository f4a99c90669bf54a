package queue

import "errors"

// ErrUnknownAction is returned when enqueueing a type outside the closed set.
var ErrUnknownAction = errors.New("unknown action type")

// ErrInvalidPayload is returned when a payload cannot be encoded.
var ErrInvalidPayload = errors.New("invalid action payload")

// ErrInvalidPolicy is returned when the retry policy is invalid.
var ErrInvalidPolicy = errors.New("invalid queue policy")

// ErrLoad is reported when the persisted list cannot be read.
var ErrLoad = errors.New("queue load failed")

// ErrSave is reported when the list cannot be persisted.
var ErrSave = errors.New("queue save failed")
