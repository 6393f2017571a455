package groupsync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

// fakeExternal is an in-memory external directory for reconciler tests
type fakeExternal struct {
	groups  map[string]map[string][]string // name -> attributes
	edges   map[string][]string            // parent name -> child names
	failOn  map[string]error               // group name -> injected upsert error
	listErr error
}

func newFakeExternal() *fakeExternal {
	return &fakeExternal{
		groups: make(map[string]map[string][]string),
		edges:  make(map[string][]string),
		failOn: make(map[string]error),
	}
}

func (f *fakeExternal) addGroup(name string, attrs map[string][]string, children ...string) {
	f.groups[name] = attrs
	f.edges[name] = children
}

func (f *fakeExternal) ListGroups(ctx context.Context) ([]*ExternalGroup, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var names []string
	for name := range f.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*ExternalGroup
	for _, name := range names {
		out = append(out, &ExternalGroup{Name: name, Attributes: f.groups[name]})
	}
	return out, nil
}

func (f *fakeExternal) GetSubgroupNames(ctx context.Context, name string) ([]string, error) {
	return append([]string(nil), f.edges[name]...), nil
}

func (f *fakeExternal) GroupExists(ctx context.Context, name string) (bool, error) {
	_, ok := f.groups[name]
	return ok, nil
}

func (f *fakeExternal) CreateGroup(ctx context.Context, name string, attributes map[string][]string) error {
	if err := f.failOn[name]; err != nil {
		return err
	}
	f.groups[name] = attributes
	return nil
}

func (f *fakeExternal) UpdateGroup(ctx context.Context, name string, attributes map[string][]string) error {
	if err := f.failOn[name]; err != nil {
		return err
	}
	f.groups[name] = attributes
	return nil
}

func (f *fakeExternal) RemoveGroup(ctx context.Context, name string) error {
	delete(f.groups, name)
	delete(f.edges, name)
	return nil
}

func (f *fakeExternal) AddMembership(ctx context.Context, parent, child string) error {
	if _, ok := f.groups[parent]; !ok {
		return fmt.Errorf("external group %s does not exist", parent)
	}
	f.edges[parent] = append(f.edges[parent], child)
	return nil
}

func (f *fakeExternal) RemoveMembership(ctx context.Context, parent, child string) error {
	kept := f.edges[parent][:0]
	for _, name := range f.edges[parent] {
		if name != child {
			kept = append(kept, name)
		}
	}
	f.edges[parent] = kept
	return nil
}

// fakeLocal is an in-memory local group hierarchy for reconciler tests
type fakeLocal struct {
	groups   map[string]*LocalGroup
	parents  map[string]string   // child id -> parent id
	children map[string][]string // parent id -> child ids, "" for top level
	nextID   int
	failOn   map[string]error // group name -> injected create error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{
		groups:   make(map[string]*LocalGroup),
		parents:  make(map[string]string),
		children: make(map[string][]string),
		failOn:   make(map[string]error),
	}
}

func (f *fakeLocal) add(name, parentID string, attrs map[string][]string) *LocalGroup {
	f.nextID++
	g := &LocalGroup{ID: "g" + strconv.Itoa(f.nextID), Name: name, Attributes: attrs}
	f.groups[g.ID] = g
	f.parents[g.ID] = parentID
	f.children[parentID] = append(f.children[parentID], g.ID)
	return g
}

func (f *fakeLocal) byName(name string) *LocalGroup {
	for _, g := range f.groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

func (f *fakeLocal) list(parentID string) []*LocalGroup {
	ids := append([]string(nil), f.children[parentID]...)
	sort.Strings(ids)
	var out []*LocalGroup
	for _, id := range ids {
		out = append(out, f.groups[id])
	}
	return out
}

func (f *fakeLocal) TopLevelGroups(ctx context.Context) ([]*LocalGroup, error) {
	return f.list(""), nil
}

func (f *fakeLocal) Subgroups(ctx context.Context, id string) ([]*LocalGroup, error) {
	return f.list(id), nil
}

func (f *fakeLocal) Parent(ctx context.Context, id string) (*LocalGroup, error) {
	parentID := f.parents[id]
	if parentID == "" {
		return nil, nil
	}
	return f.groups[parentID], nil
}

func (f *fakeLocal) CreateGroup(ctx context.Context, name, parentID string) (*LocalGroup, error) {
	if err := f.failOn[name]; err != nil {
		return nil, err
	}
	return f.add(name, parentID, nil), nil
}

func (f *fakeLocal) SetAttributes(ctx context.Context, id string, attributes map[string][]string) error {
	g, ok := f.groups[id]
	if !ok {
		return fmt.Errorf("group %s does not exist", id)
	}
	g.Attributes = attributes
	return nil
}

func (f *fakeLocal) MoveGroup(ctx context.Context, id, newParentID string) error {
	oldParent := f.parents[id]
	kept := f.children[oldParent][:0]
	for _, childID := range f.children[oldParent] {
		if childID != id {
			kept = append(kept, childID)
		}
	}
	f.children[oldParent] = kept
	f.parents[id] = newParentID
	f.children[newParentID] = append(f.children[newParentID], id)
	return nil
}

func (f *fakeLocal) RemoveGroup(ctx context.Context, id string) error {
	for _, childID := range append([]string(nil), f.children[id]...) {
		if err := f.RemoveGroup(ctx, childID); err != nil {
			return err
		}
	}
	parentID := f.parents[id]
	kept := f.children[parentID][:0]
	for _, childID := range f.children[parentID] {
		if childID != id {
			kept = append(kept, childID)
		}
	}
	f.children[parentID] = kept
	delete(f.groups, id)
	delete(f.parents, id)
	delete(f.children, id)
	return nil
}

// names of the direct subgroups, sorted
func (f *fakeLocal) childNames(parentID string) []string {
	var names []string
	for _, g := range f.list(parentID) {
		names = append(names, g.Name)
	}
	sort.Strings(names)
	return names
}
