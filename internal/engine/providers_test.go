package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uma-engine/go-core/internal/cel"
	"github.com/uma-engine/go-core/pkg/types"
)

func identityCtx(id *types.Identity) *types.EvaluationContext {
	return &types.EvaluationContext{Identity: id}
}

func TestRoleEvaluator(t *testing.T) {
	e := &RoleEvaluator{}
	bob := identityCtx(&types.Identity{ID: "bob", Roles: []string{"viewer", "editor"}})

	cases := []struct {
		name   string
		config map[string]string
		want   bool
	}{
		{"any-of match", map[string]string{"roles": "admin, viewer"}, true},
		{"any-of miss", map[string]string{"roles": "admin"}, false},
		{"requireAll holds", map[string]string{"roles": "viewer,editor", "requireAll": "true"}, true},
		{"requireAll missing one", map[string]string{"roles": "viewer,admin", "requireAll": "true"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Evaluate(bob, nil, tc.config)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := e.Evaluate(bob, nil, map[string]string{})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestGroupEvaluatorWildcard(t *testing.T) {
	e := &GroupEvaluator{}
	carol := identityCtx(&types.Identity{ID: "carol", Groups: []string{"/staff/eng"}})

	got, err := e.Evaluate(carol, nil, map[string]string{"groups": "/staff/eng"})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(carol, nil, map[string]string{"groups": "/staff/*"})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(carol, nil, map[string]string{"groups": "/finance/*"})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestRuleEvaluatorCondition(t *testing.T) {
	celEngine, err := cel.NewEngine()
	require.NoError(t, err)
	e := &RuleEvaluator{cel: celEngine}

	dave := identityCtx(&types.Identity{
		ID:         "dave",
		Attributes: map[string][]string{"department": {"engineering"}},
	})
	perm := &types.ResourcePermission{
		Resource: &types.Resource{ID: "doc-1", Name: "spec-doc", Type: "document"},
	}

	got, err := e.Evaluate(dave, perm, map[string]string{
		"condition": `identity.attributes["department"][0] == "engineering"`,
	})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(dave, perm, map[string]string{
		"condition": `resource.type == "image"`,
	})
	require.NoError(t, err)
	assert.False(t, got)

	_, err = e.Evaluate(dave, perm, map[string]string{"condition": "not valid cel ((("})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestRegexEvaluatorAttributeMatch(t *testing.T) {
	e := &RegexEvaluator{}
	erin := identityCtx(&types.Identity{
		ID:         "erin",
		Attributes: map[string][]string{"email": {"erin@corp.example"}},
	})

	got, err := e.Evaluate(erin, nil, map[string]string{
		"targetAttribute": "email",
		"pattern":         `@corp\.example$`,
	})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(erin, nil, map[string]string{
		"targetAttribute": "email",
		"pattern":         `@other\.example$`,
	})
	require.NoError(t, err)
	assert.False(t, got)

	_, err = e.Evaluate(erin, nil, map[string]string{
		"targetAttribute": "email",
		"pattern":         "([",
	})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
