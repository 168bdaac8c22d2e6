package scriptengine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Engine is a single, shared script-check instance per node: a bounded
// worker pool plus the content-addressed cache every Queue's
// checks are validated against. Workers do not take the chain lock; they
// operate purely on the Check values handed to them.
type Engine struct {
	workers int
	cache   *resultCache
	nonce   types.Hash
}

// New creates an Engine. workers==0 runs every check inline on the
// caller's goroutine. cacheSize<=0 uses DefaultCacheSize.
func New(workers, cacheSize int) *Engine {
	if workers < 0 {
		workers = 0
	}
	var seed [8]byte
	now := time.Now().UnixNano()
	for i := range seed {
		seed[i] = byte(now >> (8 * i))
	}
	eng := &Engine{
		workers: workers,
		cache:   newResultCache(cacheSize),
		nonce:   crypto.Hash(seed[:]),
	}
	log.ScriptEngine.Debug().Int("workers", workers).Msg("Script check engine ready")
	return eng
}

// Workers reports the configured worker count (0 meaning inline).
func (e *Engine) Workers() int { return e.workers }

// CacheLen reports how many results the cache currently remembers; used by
// tests and diagnostics.
func (e *Engine) CacheLen() int { return e.cache.len() }

// verifyCached runs a single check against the cache, verifying and
// inserting on a miss.
func (e *Engine) verifyCached(c *Check) bool {
	key := c.cacheKey(e.nonce)
	if e.cache.has(key) {
		return true
	}
	if err := c.Verify(); err != nil {
		return false
	}
	e.cache.insert(key)
	return true
}

// NewQueue starts a fresh push_batch/wait() session: one per block
// connection or mempool acceptance, so the "any failure" flag from one
// caller never bleeds into another's.
func (e *Engine) NewQueue() *Queue {
	return &Queue{eng: e}
}

// Queue accumulates Checks across one or more PushBatch calls and verifies
// them all on Wait.
type Queue struct {
	eng   *Engine
	mu    sync.Mutex
	tasks []*Check
	// failed is set once a check fails; later pushes keep accumulating
	// (workers still drain them) but Wait always reports failure once any
	// one has.
	failed atomic.Bool
}

// PushBatch appends tasks; nothing runs until Wait is called.
func (q *Queue) PushBatch(checks []*Check) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, checks...)
}

// Wait blocks until every pushed task has been verified (or skipped via
// cache hit) and reports whether every one succeeded. On the first
// failure, the flag is set and all other results are still computed but
// folded into a single false return — remaining tasks run to completion
// so worker goroutines aren't left holding state, but their results are
// otherwise irrelevant.
func (q *Queue) Wait() bool {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	if len(tasks) == 0 {
		return !q.failed.Load()
	}

	workers := q.eng.workers
	if workers == 0 {
		for _, t := range tasks {
			if !q.eng.verifyCached(t) {
				q.failed.Store(true)
			}
		}
		return !q.failed.Load()
	}

	taskCh := make(chan *Check)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				if !q.eng.verifyCached(t) {
					q.failed.Store(true)
				}
			}
		}()
	}
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)
	wg.Wait()

	return !q.failed.Load()
}

// Failed reports whether any task pushed to this queue has failed so far,
// without blocking on completion. Used by callers that want to abandon a
// batch early (e.g. ConnectBlock aborting on the first invalid input).
func (q *Queue) Failed() bool { return q.failed.Load() }
