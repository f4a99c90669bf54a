package storage

import (
	"encoding/json"
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// Serializer defines the interface for serialization.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer implements Serializer using JSON.
type JSONSerializer struct{}

// Marshal serializes a value to JSON.
func (js *JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (js *JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// CBORSerializer implements Serializer using deterministic CBOR.
type CBORSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORSerializer creates a new CBOR serializer. Times keep nanosecond
// precision.
func NewCBORSerializer() (*CBORSerializer, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &CBORSerializer{enc: enc, dec: dec}, nil
}

// Marshal serializes a value to CBOR.
func (cs *CBORSerializer) Marshal(v any) ([]byte, error) {
	return cs.enc.Marshal(v)
}

// Unmarshal deserializes a value from CBOR.
func (cs *CBORSerializer) Unmarshal(data []byte, v any) error {
	return cs.dec.Unmarshal(data, v)
}

// GetSerializer returns a serializer for the given format.
func GetSerializer(format string) (Serializer, error) {
	switch format {
	case "json":
		return NewJSONSerializer(), nil
	case "cbor":
		return NewCBORSerializer()
	default:
		return nil, errors.New("unsupported serialization format: " + format)
	}
}
