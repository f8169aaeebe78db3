package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/covenantql/covenant/pkg/types"
)

// PlanCache holds LLM plans keyed by normalized query text and model
// selection, with TTL eviction. The cache is the only structure shared
// across concurrent query calls; the underlying LRU is safe for
// concurrent use. Rule-based plans are never cached, they are cheaper to
// recompute than to look up.
type PlanCache struct {
	lru *expirable.LRU[string, *types.StrategyPlan]
}

// NewPlanCache builds a cache with the given capacity and TTL.
func NewPlanCache(size int, ttl time.Duration) *PlanCache {
	return &PlanCache{
		lru: expirable.NewLRU[string, *types.StrategyPlan](size, nil, ttl),
	}
}

// cacheKey hashes the normalized query text together with the model
// selection so dual-model comparisons never collide.
func cacheKey(queryText string, model types.ModelSelection) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(queryText)), " ")
	h := sha256.Sum256([]byte(normalized + "\x00" + string(model)))
	return hex.EncodeToString(h[:])
}

// Get returns the cached plan for the query/model pair, if present.
func (c *PlanCache) Get(queryText string, model types.ModelSelection) (*types.StrategyPlan, bool) {
	return c.lru.Get(cacheKey(queryText, model))
}

// Put stores a plan. Callers must only store plans that executed
// successfully; partial results are discarded, not cached.
func (c *PlanCache) Put(queryText string, model types.ModelSelection, plan *types.StrategyPlan) {
	c.lru.Add(cacheKey(queryText, model), plan)
}

// Len reports the number of live entries.
func (c *PlanCache) Len() int {
	return c.lru.Len()
}
