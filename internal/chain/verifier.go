package chain

import (
	"sync"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/integrity"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// VerifyResult is C6's summary of one verify_chain call.
type VerifyResult struct {
	Success       bool
	VerifiedCount int
	CachedCount   int
	DurationMs    int64
	FailedAt      *FailedLink
}

type FailedLink struct {
	Index        int
	ToolID       string
	ComputedHash string
	StoredHash   string
}

// Verifier holds the positive and negative hash caches (C6), each guarded
// by its own lock; entries persist until ClearCache.
type Verifier struct {
	positiveMu sync.RWMutex
	positive   map[string]struct{} // key: toolID@version:hash

	negativeMu sync.RWMutex
	negative   map[string]struct{}
}

func NewVerifier() *Verifier {
	return &Verifier{
		positive: make(map[string]struct{}),
		negative: make(map[string]struct{}),
	}
}

func cacheKey(link types.ChainLink) string {
	return link.ToolID + "@" + link.Version + ":" + link.ContentHash
}

// VerifyChain iterates links in order, recomputing the canonical hash
// (C1) for each and comparing it to the stored (embedded signature)
// hash. It short-circuits on the first mismatch and fails fast on a link
// whose stored hash is already known-bad.
func (v *Verifier) VerifyChain(chainLinks []types.ChainLink) VerifyResult {
	timer := logging.StartTimer(logging.CategoryChain, "verify_chain")
	start := time.Now()
	result := VerifyResult{Success: true}

	for i, link := range chainLinks {
		key := cacheKey(link)

		v.negativeMu.RLock()
		_, knownBad := v.negative[key]
		v.negativeMu.RUnlock()
		if knownBad {
			result.Success = false
			result.FailedAt = &FailedLink{Index: i, ToolID: link.ToolID, ComputedHash: "", StoredHash: link.ContentHash}
			break
		}

		v.positiveMu.RLock()
		_, cached := v.positive[key]
		v.positiveMu.RUnlock()
		if cached {
			result.CachedCount++
			result.VerifiedCount++
			continue
		}

		computed, err := integrity.ComputeToolIntegrity(link.ToolID, link.Version, link.Manifest, link.Files)
		if err != nil {
			result.Success = false
			result.FailedAt = &FailedLink{Index: i, ToolID: link.ToolID}
			break
		}

		if computed != link.ContentHash {
			v.negativeMu.Lock()
			v.negative[key] = struct{}{}
			v.negativeMu.Unlock()
			result.Success = false
			result.FailedAt = &FailedLink{Index: i, ToolID: link.ToolID, ComputedHash: computed, StoredHash: link.ContentHash}
			break
		}

		v.positiveMu.Lock()
		v.positive[key] = struct{}{}
		v.positiveMu.Unlock()
		result.VerifiedCount++
	}

	result.DurationMs = time.Since(start).Milliseconds()
	timer.Stop()
	return result
}

// ClearCache drops both the positive and negative caches entirely.
func (v *Verifier) ClearCache() {
	v.positiveMu.Lock()
	v.positive = make(map[string]struct{})
	v.positiveMu.Unlock()

	v.negativeMu.Lock()
	v.negative = make(map[string]struct{})
	v.negativeMu.Unlock()
}

// AsError converts a failed VerifyResult into a kiwierr.Error.
func (r VerifyResult) AsError() error {
	if r.Success || r.FailedAt == nil {
		return nil
	}
	return kiwierr.Newf(kiwierr.KindIntegrity, "integrity mismatch for %s at index %d: computed %s, stored %s",
		r.FailedAt.ToolID, r.FailedAt.Index, integrity.ShortHash(r.FailedAt.ComputedHash), integrity.ShortHash(r.FailedAt.StoredHash))
}
