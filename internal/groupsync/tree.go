// Package groupsync reconciles external group listings against the local
// group hierarchy in both directions.
package groupsync

import (
	"fmt"
	"sort"

	"github.com/uma-engine/go-core/pkg/types"
)

// DanglingPolicy decides what happens when a group declares a subgroup
// that the external listing does not contain.
type DanglingPolicy string

const (
	// DanglingFail aborts the whole sync on the first unresolvable reference
	DanglingFail DanglingPolicy = "FAIL"
	// DanglingSkip drops the unresolvable reference and keeps going
	DanglingSkip DanglingPolicy = "SKIP"
)

// ExternalGroup is one group as enumerated from the external directory
type ExternalGroup struct {
	Name          string
	Attributes    map[string][]string
	SubgroupNames []string
}

// TreeNode is one resolved node of the group forest
type TreeNode struct {
	Group    *ExternalGroup
	Children []*TreeNode
}

// BuildForest resolves (name, subgroupNames) pairs into a forest of
// root-to-leaf trees. A declared subgroup missing from the listing is
// handled per the dangling policy; a cycle or a group claimed by two
// parents aborts with a ConfigurationError.
func BuildForest(groups []*ExternalGroup, policy DanglingPolicy) ([]*TreeNode, error) {
	byName := make(map[string]*ExternalGroup, len(groups))
	for _, g := range groups {
		if _, dup := byName[g.Name]; dup {
			return nil, &types.ConfigurationError{
				Detail: fmt.Sprintf("group %q enumerated twice by the external source", g.Name),
			}
		}
		byName[g.Name] = g
	}

	// Resolve references and find each group's parent
	parentOf := make(map[string]string)
	resolved := make(map[string][]string, len(groups))
	for _, g := range groups {
		for _, child := range g.SubgroupNames {
			if _, ok := byName[child]; !ok {
				if policy == DanglingFail {
					return nil, &types.ConfigurationError{
						Detail: fmt.Sprintf("group %q references unknown subgroup %q", g.Name, child),
					}
				}
				continue
			}
			if parent, claimed := parentOf[child]; claimed {
				return nil, &types.ConfigurationError{
					Detail: fmt.Sprintf("group %q claimed as subgroup by both %q and %q", child, parent, g.Name),
				}
			}
			parentOf[child] = g.Name
			resolved[g.Name] = append(resolved[g.Name], child)
		}
	}

	// Roots are the groups nobody claims. Sorted for a stable walk order.
	var rootNames []string
	for _, g := range groups {
		if _, hasParent := parentOf[g.Name]; !hasParent {
			rootNames = append(rootNames, g.Name)
		}
	}
	sort.Strings(rootNames)

	visited := make(map[string]bool, len(groups))
	var build func(name string) *TreeNode
	build = func(name string) *TreeNode {
		visited[name] = true
		node := &TreeNode{Group: byName[name]}
		children := append([]string(nil), resolved[name]...)
		sort.Strings(children)
		for _, child := range children {
			node.Children = append(node.Children, build(child))
		}
		return node
	}

	forest := make([]*TreeNode, 0, len(rootNames))
	for _, name := range rootNames {
		forest = append(forest, build(name))
	}

	// With single parentage enforced above, any group left unvisited sits
	// on a cycle unreachable from a root.
	if len(visited) != len(groups) {
		var cyclic []string
		for _, g := range groups {
			if !visited[g.Name] {
				cyclic = append(cyclic, g.Name)
			}
		}
		sort.Strings(cyclic)
		return nil, &types.ConfigurationError{
			Detail: fmt.Sprintf("cycle detected among groups %v", cyclic),
		}
	}

	return forest, nil
}
