// Package engine provides the core UMA policy evaluation engine
package engine

import (
	"fmt"
	"sync"

	"github.com/uma-engine/go-core/pkg/types"
)

// Evaluator computes the raw boolean decision of a leaf policy type from
// its config and the evaluation context. Implementations must be pure and
// safe for concurrent use.
type Evaluator interface {
	Evaluate(evalCtx *types.EvaluationContext, perm *types.ResourcePermission, config map[string]string) (bool, error)
}

// Registry maps policy type tags to evaluators. The aggregate type is
// handled by the engine itself, never by a registered evaluator.
type Registry struct {
	evaluators map[string]Evaluator
	mu         sync.RWMutex
}

// NewRegistry creates an empty evaluator registry
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Register adds an evaluator for a policy type tag
func (r *Registry) Register(policyType string, ev Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[policyType] = ev
}

// Resolve returns the evaluator for a type tag. An unresolvable type is a
// configuration error, never a silent deny.
func (r *Registry) Resolve(policyType string) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.evaluators[policyType]
	if !ok {
		return nil, &types.ConfigurationError{
			Detail: fmt.Sprintf("unresolvable policy type %q", policyType),
		}
	}
	return ev, nil
}

// Types returns the registered type tags
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.evaluators))
	for t := range r.evaluators {
		tags = append(tags, t)
	}
	return tags
}
