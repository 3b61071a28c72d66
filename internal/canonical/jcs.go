package canonical

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

var ErrNotCanonicalizable = errors.New("value cannot be canonicalized")

// JCSBytes returns the RFC 8785 canonical form of a raw JSON document.
// Absent sub-objects are represented as "{}" so that every signature
// input has a stable shape.
func JCSBytes(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCanonicalizable, err)
	}
	return out, nil
}

// JCSMarshal serializes any Go value to its RFC 8785 canonical form.
func JCSMarshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCanonicalizable, err)
	}
	return JCSBytes(raw)
}
