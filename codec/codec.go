// Package codec provides the default value encoders the cache uses to
// turn arbitrary Go values into bytes for the disk tier.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
)

// GobCodec encodes values with encoding/gob. It is the default: cheap,
// stdlib-only, and tolerant of the struct-shaped values this cache
// mostly stores. Values must be gob-registerable (exported fields, and
// concrete types registered with gob.Register if stored behind an
// interface).
type GobCodec struct{}

// Encode gob-encodes value.
func (GobCodec) Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes data into out, which must be a pointer.
func (GobCodec) Decode(data []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(out)
}

// JSONCodec encodes values with encoding/json, for callers who need
// cross-language sidecar files or want to inspect cached payloads by
// hand.
type JSONCodec struct{}

// Encode JSON-encodes value.
func (JSONCodec) Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

// Decode JSON-decodes data into out.
func (JSONCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
