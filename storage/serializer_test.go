package storage

import (
	"testing"
)

func TestGetSerializer(t *testing.T) {
	tests := []struct {
		format string
		valid  bool
	}{
		{"json", true},
		{"cbor", true},
		{"invalid", false},
	}

	for _, test := range tests {
		serializer, err := GetSerializer(test.format)
		if test.valid && err != nil {
			t.Fatalf("Failed to get serializer for format %s: %v", test.format, err)
		}
		if !test.valid && err == nil {
			t.Fatalf("Should return error for invalid format %s", test.format)
		}
		if test.valid && serializer == nil {
			t.Fatalf("Serializer should not be nil for format %s", test.format)
		}
	}
}

func TestSerializersWithStruct(t *testing.T) {
	type Action struct {
		ID    string `json:"id" cbor:"id"`
		Retry int    `json:"retry" cbor:"retry"`
	}

	for _, format := range []string{"json", "cbor"} {
		serializer, err := GetSerializer(format)
		if err != nil {
			t.Fatalf("GetSerializer(%s): %v", format, err)
		}
		in := Action{ID: "01J", Retry: 3}

		data, err := serializer.Marshal(in)
		if err != nil {
			t.Fatalf("%s: failed to marshal: %v", format, err)
		}

		var out Action
		if err := serializer.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s: failed to unmarshal: %v", format, err)
		}
		if out != in {
			t.Fatalf("%s: unmarshaled data doesn't match original: %+v", format, out)
		}
	}
}
