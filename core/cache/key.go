// Package cache is the content-addressed response cache: a fast ristretto
// memory tier over a durable compressed disk tier. A hit bypasses the
// provider entirely; a cache failure is logged and never fails a generation.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Key derives the content address for a generation: blake2b-256 over the
// template id, the rendered prompt, and the canonical form of the model
// parameters. json.Marshal sorts map keys, so identical params always
// serialize identically regardless of insertion order or process restart.
func Key(templateID, prompt string, params map[string]any) (string, error) {
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("canonicalizing params: %w", err)
	}

	h, _ := blake2b.New256(nil)
	h.Write([]byte(templateID))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}
