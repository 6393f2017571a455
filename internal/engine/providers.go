package engine

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/uma-engine/go-core/internal/cel"
	"github.com/uma-engine/go-core/pkg/types"
)

// DefaultRegistry builds a registry with the built-in leaf policy types.
func DefaultRegistry(celEngine *cel.Engine) *Registry {
	r := NewRegistry()
	r.Register(types.PolicyTypeRole, &RoleEvaluator{})
	r.Register(types.PolicyTypeGroup, &GroupEvaluator{})
	r.Register(types.PolicyTypeTime, &TimeEvaluator{})
	r.Register(types.PolicyTypeRule, &RuleEvaluator{cel: celEngine})
	r.Register(types.PolicyTypeRegex, &RegexEvaluator{})
	return r
}

// RoleEvaluator permits when the identity carries at least one of the
// configured roles (all of them with requireAll=true).
//
// Config keys: roles (comma-separated), requireAll (optional, "true").
type RoleEvaluator struct{}

func (e *RoleEvaluator) Evaluate(evalCtx *types.EvaluationContext, _ *types.ResourcePermission, config map[string]string) (bool, error) {
	roles := splitList(config["roles"])
	if len(roles) == 0 {
		return false, &types.ConfigurationError{Detail: "role policy has no roles configured"}
	}

	requireAll := config["requireAll"] == "true"
	matched := 0
	for _, role := range roles {
		if evalCtx.Identity.HasRole(role) {
			matched++
		}
	}
	if requireAll {
		return matched == len(roles), nil
	}
	return matched > 0, nil
}

// GroupEvaluator permits when the identity belongs to at least one of the
// configured group paths. A trailing wildcard segment matches any subgroup,
// so "/staff/*" covers "/staff/eng".
//
// Config keys: groups (comma-separated paths).
type GroupEvaluator struct{}

func (e *GroupEvaluator) Evaluate(evalCtx *types.EvaluationContext, _ *types.ResourcePermission, config map[string]string) (bool, error) {
	groups := splitList(config["groups"])
	if len(groups) == 0 {
		return false, &types.ConfigurationError{Detail: "group policy has no groups configured"}
	}

	for _, want := range groups {
		if strings.HasSuffix(want, "/*") {
			prefix := strings.TrimSuffix(want, "*")
			for _, g := range evalCtx.Identity.Groups {
				if strings.HasPrefix(g, prefix) {
					return true, nil
				}
			}
			continue
		}
		if evalCtx.Identity.InGroup(want) {
			return true, nil
		}
	}
	return false, nil
}

// TimeEvaluator permits when the evaluation instant falls inside the
// configured window. Both bounds are optional; an absent bound is open.
//
// Config keys: notBefore, notOnOrAfter (RFC 3339).
type TimeEvaluator struct{}

func (e *TimeEvaluator) Evaluate(evalCtx *types.EvaluationContext, _ *types.ResourcePermission, config map[string]string) (bool, error) {
	now := evalCtx.Time()

	if v := config["notBefore"]; v != "" {
		notBefore, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return false, &types.ConfigurationError{
				Detail: fmt.Sprintf("time policy notBefore %q: %v", v, err),
			}
		}
		if now.Before(notBefore) {
			return false, nil
		}
	}

	if v := config["notOnOrAfter"]; v != "" {
		notOnOrAfter, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return false, &types.ConfigurationError{
				Detail: fmt.Sprintf("time policy notOnOrAfter %q: %v", v, err),
			}
		}
		if !now.Before(notOnOrAfter) {
			return false, nil
		}
	}

	return true, nil
}

// RuleEvaluator permits when the configured CEL condition evaluates true
// against the identity, resource, and runtime context.
//
// Config keys: condition (CEL expression).
type RuleEvaluator struct {
	cel *cel.Engine
}

func (e *RuleEvaluator) Evaluate(evalCtx *types.EvaluationContext, perm *types.ResourcePermission, config map[string]string) (bool, error) {
	expr := config["condition"]
	if expr == "" {
		return false, &types.ConfigurationError{Detail: "rule policy has no condition configured"}
	}

	resourceMap := map[string]interface{}{}
	if perm != nil && perm.Resource != nil {
		resourceMap = perm.Resource.ToMap()
	}

	match, err := e.cel.EvaluateExpression(expr, &cel.EvalContext{
		Identity: evalCtx.Identity.ToMap(),
		Resource: resourceMap,
		Context:  evalCtx.ToMap(),
	})
	if err != nil {
		return false, &types.ConfigurationError{
			Detail: fmt.Sprintf("rule policy condition: %v", err),
		}
	}
	return match, nil
}

// RegexEvaluator permits when any value of the target attribute matches
// the configured pattern. Patterns compile once and are cached.
//
// Config keys: targetAttribute, pattern.
type RegexEvaluator struct {
	patterns sync.Map // map[string]*regexp.Regexp
}

func (e *RegexEvaluator) Evaluate(evalCtx *types.EvaluationContext, _ *types.ResourcePermission, config map[string]string) (bool, error) {
	attr := config["targetAttribute"]
	pattern := config["pattern"]
	if attr == "" || pattern == "" {
		return false, &types.ConfigurationError{Detail: "regex policy requires targetAttribute and pattern"}
	}

	re, err := e.compile(pattern)
	if err != nil {
		return false, &types.ConfigurationError{
			Detail: fmt.Sprintf("regex policy pattern %q: %v", pattern, err),
		}
	}

	for _, v := range evalCtx.Attribute(attr) {
		if re.MatchString(v) {
			return true, nil
		}
	}
	return false, nil
}

func (e *RegexEvaluator) compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := e.patterns.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.patterns.Store(pattern, re)
	return re, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
