// SPDX-License-Identifier: MIT

package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonical serializes v as JSON with object keys sorted lexicographically
// at every nesting level. Webhook signatures are computed over exactly these
// bytes, so the ordering is contractual: consumers re-serialize the received
// body by the same rule when verifying.
//
// The value is first flattened to generic maps so struct field order cannot
// leak into the output; encoding/json then emits map keys in sorted order.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep numbers byte-identical across the round trip
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical: remarshal: %w", err)
	}
	return out, nil
}
