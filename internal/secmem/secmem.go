// Package secmem holds key material that must not end up in logs and should
// be wiped when the process stops using it.
package secmem

import (
	"encoding/json"
	"fmt"
	"sync"
)

const redacted = "[REDACTED]"

// Key wraps raw key bytes. Every fmt verb and text/JSON encoding prints
// [REDACTED]. Zeroing is best effort: the GC may already have copied the
// backing array.
type Key struct {
	mu   sync.Mutex
	data []byte
}

// NewKey takes ownership of b.
func NewKey(b []byte) *Key {
	return &Key{data: b}
}

// Bytes returns the live backing slice, not a copy, so that Zero also wipes
// the key held by whoever received it. Returns nil after Zero.
func (k *Key) Bytes() []byte {
	if k == nil {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.data
}

// Len is the key length in bytes, or 0 after Zero.
func (k *Key) Len() int {
	return len(k.Bytes())
}

// Zero overwrites the key in place and drops the reference.
func (k *Key) Zero() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	clear(k.data)
	k.data = nil
}

func (k *Key) String() string   { return redacted }
func (k *Key) GoString() string { return redacted }

func (k *Key) Format(f fmt.State, _ rune) {
	fmt.Fprint(f, redacted)
}

func (k *Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (k *Key) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

func (k *Key) UnmarshalJSON([]byte) error {
	return fmt.Errorf("secmem: refusing to decode key material")
}
