package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for the evidence cache layers
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key generates a cache key from a normalized URL
func Key(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "evident:v1:" + hex.EncodeToString(hash[:])
}

// nopCache satisfies Cache without storing anything, for cache-disabled runs
type nopCache struct{}

// NewNop returns a cache that never hits
func NewNop() Cache {
	return nopCache{}
}

func (nopCache) Get(string) ([]byte, bool)               { return nil, false }
func (nopCache) Set(string, []byte, time.Duration) error { return nil }
func (nopCache) Delete(string) error                     { return nil }
func (nopCache) Clear() error                            { return nil }
