package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffect_Invert(t *testing.T) {
	if EffectPermit.Invert() != EffectDeny {
		t.Errorf("Expected PERMIT to invert to DENY")
	}
	if EffectDeny.Invert() != EffectPermit {
		t.Errorf("Expected DENY to invert to PERMIT")
	}
}

func TestLogic_Apply(t *testing.T) {
	assert.Equal(t, EffectPermit, LogicPositive.Apply(EffectPermit))
	assert.Equal(t, EffectDeny, LogicNegative.Apply(EffectPermit))
	assert.Equal(t, EffectPermit, LogicNegative.Apply(EffectDeny))
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{
			name:   "valid role policy",
			policy: Policy{ID: "p1", Type: PolicyTypeRole},
		},
		{
			name:    "missing id",
			policy:  Policy{Type: PolicyTypeRole},
			wantErr: true,
		},
		{
			name:    "missing type",
			policy:  Policy{ID: "p1"},
			wantErr: true,
		},
		{
			name:    "bad strategy",
			policy:  Policy{ID: "p1", Type: PolicyTypeAggregate, DecisionStrategy: "MAJORITY"},
			wantErr: true,
		},
		{
			name:    "bad logic",
			policy:  Policy{ID: "p1", Type: PolicyTypeRole, Logic: "INVERTED"},
			wantErr: true,
		},
		{
			name:    "children on leaf policy",
			policy:  Policy{ID: "p1", Type: PolicyTypeRole, AssociatedPolicies: []string{"p2"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	var err error = &AuthorizationError{Subject: "user-1", Action: "update ticket"}
	assert.True(t, errors.Is(err, ErrAuthorization))
	assert.False(t, errors.Is(err, ErrNotFound))

	err = &ConflictError{Entity: "permission ticket", Detail: "doc1/read/user-2"}
	assert.True(t, errors.Is(err, ErrConflict))

	err = &NotFoundError{Entity: "resource", ID: "missing"}
	assert.True(t, errors.Is(err, ErrNotFound))

	err = &ConfigurationError{Detail: "policy cycle: a -> b -> a"}
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestResourcePermission_CacheKey(t *testing.T) {
	res := &Resource{ID: "doc1"}
	scopes := []*Scope{{ID: "read"}, {ID: "write"}}

	ctxA := &EvaluationContext{Identity: &Identity{ID: "u1", Roles: []string{"a", "b"}}}
	ctxB := &EvaluationContext{Identity: &Identity{ID: "u1", Roles: []string{"b", "a"}}}

	permA := &ResourcePermission{Resource: res, Scopes: scopes}
	permB := &ResourcePermission{Resource: res, Scopes: []*Scope{scopes[1], scopes[0]}}

	// Role and scope order must not change the key
	assert.Equal(t, permA.CacheKey(ctxA), permB.CacheKey(ctxB))

	ctxC := &EvaluationContext{Identity: &Identity{ID: "u2", Roles: []string{"a", "b"}}}
	assert.NotEqual(t, permA.CacheKey(ctxA), permA.CacheKey(ctxC))
}

func TestResourcePermission_CacheKeyCoversRuntimeInputs(t *testing.T) {
	perm := &ResourcePermission{Resource: &Resource{ID: "doc1"}, Scopes: []*Scope{{ID: "read"}}}
	base := &EvaluationContext{Identity: &Identity{ID: "u1"}}

	// Runtime attributes feed the key
	withDept := &EvaluationContext{
		Identity:   &Identity{ID: "u1"},
		Attributes: map[string][]string{"dept": {"eng"}},
	}
	otherDept := &EvaluationContext{
		Identity:   &Identity{ID: "u1"},
		Attributes: map[string][]string{"dept": {"sales"}},
	}
	assert.NotEqual(t, perm.CacheKey(base), perm.CacheKey(withDept))
	assert.NotEqual(t, perm.CacheKey(withDept), perm.CacheKey(otherDept))

	// So do identity attributes and groups
	withAttr := &EvaluationContext{
		Identity: &Identity{ID: "u1", Attributes: map[string][]string{"email": {"u1@corp"}}},
	}
	withGroup := &EvaluationContext{
		Identity: &Identity{ID: "u1", Groups: []string{"/staff"}},
	}
	assert.NotEqual(t, perm.CacheKey(base), perm.CacheKey(withAttr))
	assert.NotEqual(t, perm.CacheKey(base), perm.CacheKey(withGroup))

	// Attribute map iteration order must not change the key
	multiA := &EvaluationContext{
		Identity:   &Identity{ID: "u1"},
		Attributes: map[string][]string{"a": {"1"}, "b": {"2", "3"}},
	}
	multiB := &EvaluationContext{
		Identity:   &Identity{ID: "u1"},
		Attributes: map[string][]string{"b": {"3", "2"}, "a": {"1"}},
	}
	assert.Equal(t, perm.CacheKey(multiA), perm.CacheKey(multiB))
}

func TestResult_AnyPermit(t *testing.T) {
	r := &Result{PolicyResults: []*PolicyResult{
		{PolicyID: "p1", Effect: EffectDeny},
		{PolicyID: "p2", Effect: EffectPermit},
	}}
	assert.True(t, r.AnyPermit())

	r = &Result{PolicyResults: []*PolicyResult{{PolicyID: "p1", Effect: EffectDeny}}}
	assert.False(t, r.AnyPermit())

	r = &Result{}
	assert.False(t, r.AnyPermit())
}
