package cache

import (
	"encoding/json"

	"github.com/huykn/pos-sync/types"
)

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return types.NewNoOpLogger()
}

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(prefix string) Logger {
	return types.NewConsoleLogger(prefix)
}

// JSONMarshaller is a marshaller that uses the standard JSON library.
type JSONMarshaller struct{}

// Marshal serializes a value to JSON.
func (jm *JSONMarshaller) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (jm *JSONMarshaller) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewJSONMarshaller creates a new JSON marshaller.
func NewJSONMarshaller() Marshaller {
	return &JSONMarshaller{}
}
