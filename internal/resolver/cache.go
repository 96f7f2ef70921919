package resolver

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// FingerprintRef computes the stable content-addressed key used to look up
// a reference in the cache *before* it has been resolved (§3.7: "key:
// content-hash"; §4.9 step 3 checks the cache before calling resolve).
func FingerprintRef(ref string) string {
	sum := blake2b.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:])
}

// cacheEntry is the on-disk (cbor-encoded) shape of one ImmutableCache slot.
type cacheEntry struct {
	Content    string            `cbor:"content"`
	Metadata   Metadata          `cbor:"metadata"`
	StoredAt   int64             `cbor:"storedAt"`
	TTLSeconds int64             `cbor:"ttlSeconds"` // 0 = no expiry
}

// entry is the decoded, in-memory view returned to callers.
type entry struct {
	Content  string
	Metadata Metadata
}

// ImmutableCache is a content-addressed store of resolver results. Entries
// are cbor-encoded before being held, matching the durable on-disk shape a
// real deployment would persist; concurrency safety is single-flight per key
// (§5: "only one resolve runs at a time; other waiters block on the
// result").
type ImmutableCache struct {
	mu      sync.Mutex
	entries map[string][]byte // cbor-encoded cacheEntry, keyed by fingerprint
	inFlight map[string]*flightGroup
}

type flightGroup struct {
	done   chan struct{}
	result Result
	err    error
}

// NewImmutableCache creates an empty cache.
func NewImmutableCache() *ImmutableCache {
	return &ImmutableCache{
		entries:  make(map[string][]byte),
		inFlight: make(map[string]*flightGroup),
	}
}

// Get returns the cached entry for key if present and not expired.
func (c *ImmutableCache) Get(key string) (entry, bool) {
	c.mu.Lock()
	raw, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return entry{}, false
	}
	var e cacheEntry
	if err := cbor.Unmarshal(raw, &e); err != nil {
		return entry{}, false
	}
	if e.TTLSeconds > 0 && time.Now().Unix()-e.StoredAt > e.TTLSeconds {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return entry{}, false
	}
	return entry{Content: e.Content, Metadata: e.Metadata}, true
}

// Put stores a resolved Result under key with an optional TTL in seconds
// (0 = never expires; DNS resolvers use a 1-hour TTL per §4.9).
func (c *ImmutableCache) Put(key string, result Result, ttlSeconds int64) {
	e := cacheEntry{
		Content:    result.Content,
		Metadata:   result.Metadata,
		StoredAt:   nowUnix(),
		TTLSeconds: ttlSeconds,
	}
	raw, err := cbor.Marshal(e)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = raw
	c.mu.Unlock()
}

// SingleFlight ensures only one resolve call is in flight per key at a time;
// concurrent callers for the same key block on the first caller's result.
func (c *ImmutableCache) SingleFlight(key string, fn func() (Result, error)) (Result, error) {
	c.mu.Lock()
	if fg, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		<-fg.done
		return fg.result, fg.err
	}
	fg := &flightGroup{done: make(chan struct{})}
	c.inFlight[key] = fg
	c.mu.Unlock()

	fg.result, fg.err = fn()
	close(fg.done)

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()

	return fg.result, fg.err
}

// nowUnix is a seam so StoredAt can be deterministic in tests that don't
// care about wall-clock freshness; production callers get real time.
var nowUnix = func() int64 { return time.Now().Unix() }
