package scriptengine

import (
	"sync"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// DefaultCacheSize bounds the number of remembered verification results
// when a node doesn't configure its own limit.
const DefaultCacheSize = 200_000

// resultCache is the content-addressed, bounded result cache behind the
// engine. On a full store, eviction is random: Go's map iteration order is
// randomized per run, so taking the first key encountered is as good as
// drawing one uniformly, without a separate RNG or LRU bookkeeping.
type resultCache struct {
	mu    sync.Mutex
	limit int
	seen  map[types.Hash]struct{}
}

func newResultCache(limit int) *resultCache {
	if limit <= 0 {
		limit = DefaultCacheSize
	}
	return &resultCache{limit: limit, seen: make(map[types.Hash]struct{})}
}

// has reports a cache hit; a hit skips verification entirely, since only
// successful verifications are ever inserted.
func (c *resultCache) has(key types.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[key]
	return ok
}

// insert records a result after a successful verification.
func (c *resultCache) insert(key types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return
	}
	if len(c.seen) >= c.limit {
		for k := range c.seen {
			delete(c.seen, k)
			break
		}
	}
	c.seen[key] = struct{}{}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
