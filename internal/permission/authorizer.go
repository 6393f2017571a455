package permission

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/uma-engine/go-core/internal/audit"
	"github.com/uma-engine/go-core/pkg/types"
)

// Evaluator is the slice of the engine the authorizer needs
type Evaluator interface {
	Evaluate(ctx context.Context, permissions []*types.ResourcePermission, evalCtx *types.EvaluationContext) ([]*types.Result, error)
}

// Authorizer drives a full access decision: owner bypass first, then
// policy evaluation, then collection into final grants. Every final
// decision emits an audit event.
type Authorizer struct {
	engine   Evaluator
	auditLog audit.Logger
	logger   *zap.Logger
}

// NewAuthorizer creates an authorizer over an evaluation engine
func NewAuthorizer(engine Evaluator, auditLog audit.Logger, logger *zap.Logger) *Authorizer {
	if auditLog == nil {
		auditLog = audit.NewNoOpLogger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{engine: engine, auditLog: auditLog, logger: logger}
}

// Authorize returns one Permission per requested ResourcePermission, in
// input order. A requester who owns the resource is granted every
// requested scope without consulting the policy evaluator.
func (a *Authorizer) Authorize(ctx context.Context, permissions []*types.ResourcePermission, evalCtx *types.EvaluationContext) ([]*types.Permission, error) {
	if evalCtx == nil || evalCtx.Identity == nil {
		return nil, &types.ValidationError{Field: "identity", Message: "an identity is required"}
	}

	start := time.Now()
	out := make([]*types.Permission, len(permissions))

	var toEvaluate []*types.ResourcePermission
	var evalIndex []int
	for i, perm := range permissions {
		if ownerBypass(perm, evalCtx.Identity) {
			scopes := perm.ScopeIDs()
			sort.Strings(scopes)
			out[i] = &types.Permission{
				ResourceID:   perm.Resource.ID,
				ResourceName: perm.Resource.Name,
				ScopeIDs:     scopes,
				Granted:      true,
			}
			a.logger.Debug("Owner bypass",
				zap.String("resource", perm.Resource.ID),
				zap.String("identity", evalCtx.Identity.ID),
			)
			continue
		}
		toEvaluate = append(toEvaluate, perm)
		evalIndex = append(evalIndex, i)
	}

	if len(toEvaluate) > 0 {
		results, err := a.engine.Evaluate(ctx, toEvaluate, evalCtx)
		if err != nil {
			return nil, err
		}
		for j, p := range Collect(results) {
			out[evalIndex[j]] = p
		}
	}

	duration := time.Since(start)
	for i, p := range out {
		a.auditLog.LogDecision(ctx, &audit.DecisionEvent{
			Identity:   evalCtx.Identity.ID,
			Realm:      evalCtx.Realm,
			Resource:   p.ResourceID,
			Scopes:     p.ScopeIDs,
			Granted:    p.Granted,
			OwnerGrant: ownerBypass(permissions[i], evalCtx.Identity),
			Duration:   audit.Performance{DurationUs: duration.Microseconds()},
		})
	}

	return out, nil
}

// ownerBypass reports whether the identity owns the resource outright
func ownerBypass(perm *types.ResourcePermission, identity *types.Identity) bool {
	return perm.Resource != nil &&
		perm.Resource.Owner != "" &&
		perm.Resource.Owner == identity.ID
}
