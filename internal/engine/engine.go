package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uma-engine/go-core/internal/cache"
	"github.com/uma-engine/go-core/internal/cel"
	"github.com/uma-engine/go-core/internal/metrics"
	"github.com/uma-engine/go-core/internal/policy"
	"github.com/uma-engine/go-core/pkg/types"
)

// Engine evaluates resource permissions against the policy store. It is a
// pure function of (policies, context): no method mutates shared state, so
// independent permissions are evaluated concurrently.
type Engine struct {
	store    policy.Store
	registry *Registry
	cache    cache.Cache
	pool     *evalPool
	metrics  metrics.Metrics
	logger   *zap.Logger
	config   Config
}

// Config configures the evaluation engine
type Config struct {
	// CacheEnabled enables caching of per-permission results
	CacheEnabled bool
	// CacheSize is the maximum number of cached entries
	CacheSize int
	// CacheTTL is the time-to-live for cached entries
	CacheTTL time.Duration
	// ParallelWorkers is the number of workers for permission evaluation
	ParallelWorkers int
	// Cache overrides the built-in LRU (e.g. with a Redis cache)
	Cache cache.Cache
	// Metrics receives evaluation observations; nil means no-op
	Metrics metrics.Metrics
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		CacheEnabled:    true,
		CacheSize:       100000,
		CacheTTL:        5 * time.Minute,
		ParallelWorkers: 16,
	}
}

// New creates a new evaluation engine
func New(cfg Config, store policy.Store, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	celEngine, err := cel.NewEngine()
	if err != nil {
		return nil, err
	}

	var c cache.Cache
	if cfg.Cache != nil {
		c = cfg.Cache
	} else if cfg.CacheEnabled {
		c = cache.NewLRU(cfg.CacheSize, cfg.CacheTTL)
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	return &Engine{
		store:    store,
		registry: DefaultRegistry(celEngine),
		cache:    c,
		pool:     newEvalPool(cfg.ParallelWorkers),
		metrics:  m,
		logger:   logger,
		config:   cfg,
	}, nil
}

// Registry exposes the evaluator registry for custom policy types
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluate evaluates each resource permission against its applicable
// policies and returns one Result per permission, in input order.
// Evaluation errors abort the whole call; no partial result list is
// returned.
func (e *Engine) Evaluate(ctx context.Context, permissions []*types.ResourcePermission, evalCtx *types.EvaluationContext) ([]*types.Result, error) {
	if evalCtx == nil || evalCtx.Identity == nil {
		return nil, &types.ValidationError{Field: "identity", Message: "evaluation context requires an identity"}
	}
	if evalCtx.Now.IsZero() {
		evalCtx.Now = time.Now()
	}

	results := make([]*types.Result, len(permissions))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, perm := range permissions {
		wg.Add(1)
		i, perm := i, perm
		e.pool.Go(func() {
			defer wg.Done()

			result, err := e.evaluatePermission(perm, evalCtx)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			results[i] = result
		})
	}
	wg.Wait()

	if firstErr != nil {
		e.metrics.RecordEvaluationError(errorType(firstErr))
		return nil, firstErr
	}
	return results, nil
}

// cachedDecision is the cache representation of a Result. The permission
// is not stored; a hit re-attaches it from the request, so entries stay
// valid through the in-process LRU and the Redis JSON round trip alike.
type cachedDecision struct {
	Effect        types.Effect          `json:"effect"`
	PolicyResults []*types.PolicyResult `json:"policyResults,omitempty"`
	PolicyScopes  map[string][]string   `json:"policyScopes,omitempty"`
}

func (d *cachedDecision) toResult(perm *types.ResourcePermission) *types.Result {
	return &types.Result{
		Permission:    perm,
		PolicyResults: d.PolicyResults,
		Effect:        d.Effect,
		PolicyScopes:  d.PolicyScopes,
	}
}

// intoGetter is implemented by caches that serialize values and must
// deserialize into a typed destination (the Redis cache)
type intoGetter interface {
	GetInto(key string, dst interface{}) bool
}

func (e *Engine) lookupCached(key string) (*cachedDecision, bool) {
	if g, ok := e.cache.(intoGetter); ok {
		var d cachedDecision
		if g.GetInto(key, &d) {
			return &d, true
		}
		return nil, false
	}
	if v, ok := e.cache.Get(key); ok {
		if d, ok := v.(*cachedDecision); ok {
			return d, true
		}
	}
	return nil, false
}

// evaluatePermission evaluates a single resource permission
func (e *Engine) evaluatePermission(perm *types.ResourcePermission, evalCtx *types.EvaluationContext) (*types.Result, error) {
	start := time.Now()

	var cacheKey string
	if e.cache != nil {
		// Embed the store generation so policy changes invalidate entries
		cacheKey = fmt.Sprintf("%s:%d", perm.CacheKey(evalCtx), e.store.Generation())
		if cached, ok := e.lookupCached(cacheKey); ok {
			e.metrics.RecordCacheHit()
			return cached.toResult(perm), nil
		}
		e.metrics.RecordCacheMiss()
	}

	applicable := e.applicablePolicies(perm)

	policyResults := make([]*types.PolicyResult, 0, len(applicable))
	policyScopes := make(map[string][]string, len(applicable))
	for _, p := range applicable {
		visited := make(map[string]bool)
		pr, err := e.evaluatePolicy(p, perm, evalCtx, visited)
		if err != nil {
			return nil, err
		}
		policyResults = append(policyResults, pr)
		if len(p.ScopeIDs) > 0 {
			policyScopes[p.ID] = p.ScopeIDs
		}
	}

	result := &types.Result{
		Permission:    perm,
		PolicyResults: policyResults,
		Effect:        types.EffectDeny,
		PolicyScopes:  policyScopes,
	}
	// Default deny: a permission with zero applicable policies denies
	if result.AnyPermit() {
		result.Effect = types.EffectPermit
	}

	if e.cache != nil {
		e.cache.Set(cacheKey, &cachedDecision{
			Effect:        result.Effect,
			PolicyResults: result.PolicyResults,
			PolicyScopes:  result.PolicyScopes,
		})
	}

	e.metrics.RecordEvaluation(string(result.Effect), time.Since(start))
	return result, nil
}

// applicablePolicies resolves the policies applicable to a permission.
// Resolution order: explicit resource ID, then resource type, then
// scope-only policies for the requested scopes.
func (e *Engine) applicablePolicies(perm *types.ResourcePermission) []*types.Policy {
	var resourcePolicies []*types.Policy

	if perm.Resource != nil {
		resourcePolicies = e.store.FindByResource(perm.Resource.ID)
		if len(resourcePolicies) == 0 && perm.Resource.Type != "" {
			resourcePolicies = e.store.FindByResourceType(perm.Resource.Type)
		}
	}

	scopePolicies := e.store.FindByScope(perm.ScopeIDs())

	seen := make(map[string]bool, len(resourcePolicies))
	applicable := make([]*types.Policy, 0, len(resourcePolicies)+len(scopePolicies))
	for _, p := range resourcePolicies {
		if !seen[p.ID] {
			seen[p.ID] = true
			applicable = append(applicable, p)
		}
	}
	for _, p := range scopePolicies {
		if !seen[p.ID] {
			seen[p.ID] = true
			applicable = append(applicable, p)
		}
	}
	return applicable
}

// evaluatePolicy evaluates one policy, recursing into aggregates. The
// visited set tracks the current evaluation chain: a revisit means the
// associated-policy graph has a cycle, which is a configuration error,
// never an infinite loop.
func (e *Engine) evaluatePolicy(p *types.Policy, perm *types.ResourcePermission, evalCtx *types.EvaluationContext, visited map[string]bool) (*types.PolicyResult, error) {
	if visited[p.ID] {
		return nil, &types.ConfigurationError{
			Detail: fmt.Sprintf("policy cycle detected at %q", p.ID),
		}
	}
	visited[p.ID] = true
	defer delete(visited, p.ID)

	if p.Type == types.PolicyTypeAggregate {
		children := make([]*types.PolicyResult, 0, len(p.AssociatedPolicies))
		for _, childID := range p.AssociatedPolicies {
			child, err := e.store.Get(childID)
			if err != nil {
				return nil, &types.ConfigurationError{
					Detail: fmt.Sprintf("aggregate policy %q references missing policy %q", p.ID, childID),
				}
			}
			cr, err := e.evaluatePolicy(child, perm, evalCtx, visited)
			if err != nil {
				return nil, err
			}
			children = append(children, cr)
		}

		raw := Fold(p.EffectiveStrategy(), children)
		return &types.PolicyResult{
			PolicyID:   p.ID,
			PolicyName: p.Name,
			Effect:     p.EffectiveLogic().Apply(raw),
			Children:   children,
		}, nil
	}

	evaluator, err := e.registry.Resolve(p.Type)
	if err != nil {
		return nil, err
	}

	raw, err := evaluator.Evaluate(evalCtx, perm, p.Config)
	if err != nil {
		return nil, err
	}

	return &types.PolicyResult{
		PolicyID:   p.ID,
		PolicyName: p.Name,
		Effect:     p.EffectiveLogic().Apply(types.EffectFromBool(raw)),
	}, nil
}

// CacheStats returns decision cache statistics, nil when caching is off
func (e *Engine) CacheStats() *cache.Stats {
	if e.cache == nil {
		return nil
	}
	stats := e.cache.Stats()
	return &stats
}

// ClearCache clears the decision cache
func (e *Engine) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// Shutdown waits for in-flight evaluations to drain
func (e *Engine) Shutdown(ctx context.Context) error {
	e.pool.Close()
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, types.ErrConfiguration):
		return "configuration"
	case errors.Is(err, types.ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
