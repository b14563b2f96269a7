package signature

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultNonceCapacity bounds the replay cache; oldest nonces are evicted
// first, which is acceptable because they age out of the timestamp
// tolerance window anyway.
const defaultNonceCapacity = 65536

// NonceCache tracks previously seen nonces for replay protection. It is
// safe for concurrent use.
type NonceCache struct {
	seen *lru.Cache[string, struct{}]
}

// NewNonceCache creates a bounded nonce cache. capacity <= 0 uses the
// default.
func NewNonceCache(capacity int) *NonceCache {
	if capacity <= 0 {
		capacity = defaultNonceCapacity
	}
	c, err := lru.New[string, struct{}](capacity)
	if err != nil {
		// lru.New only fails on non-positive capacity, guarded above.
		panic(err)
	}
	return &NonceCache{seen: c}
}

// Seen reports whether nonce was previously recorded. Empty nonces are
// never considered seen.
func (n *NonceCache) Seen(nonce string) bool {
	if nonce == "" {
		return false
	}
	_, ok := n.seen.Get(nonce)
	return ok
}

// Add records a nonce.
func (n *NonceCache) Add(nonce string) {
	if nonce == "" {
		return
	}
	n.seen.Add(nonce, struct{}{})
}
