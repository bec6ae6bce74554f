// Package cache stores candidate predictions so repeated verifications
// against remote models do not re-query identical probes.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// keyPrefix versions the key space; bump it when the cached value format changes
const keyPrefix = "markface:v1:"

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives a cache key from its parts, e.g. Key(candidate, probeText).
// Parts are length-prefixed so ("ab","c") and ("a","bc") never collide.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write(binary.BigEndian.AppendUint32(nil, uint32(len(p))))
		_, _ = h.Write([]byte(p))
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Noop is a Cache that never stores anything
type Noop struct{}

func (Noop) Get(string) ([]byte, bool)                { return nil, false }
func (Noop) Set(string, []byte, time.Duration) error { return nil }
func (Noop) Delete(string) error                      { return nil }
func (Noop) Clear() error                             { return nil }
