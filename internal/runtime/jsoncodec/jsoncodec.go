// Package jsoncodec is the single JSON entry point of the module. Payloads,
// status documents and CLI input all go through sonic with the standard
// library compatible configuration so field names and escaping match
// encoding/json.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Encode writes v followed by a newline.
func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

// DecodeStrict reads a single JSON value from r and rejects unknown fields.
func DecodeStrict(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}
