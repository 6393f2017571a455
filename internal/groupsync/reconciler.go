package groupsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uma-engine/go-core/internal/audit"
	"github.com/uma-engine/go-core/internal/metrics"
)

// ExternalSource is the external directory's group surface. All lookups
// are by name; the external system has no notion of local IDs.
type ExternalSource interface {
	ListGroups(ctx context.Context) ([]*ExternalGroup, error)
	GetSubgroupNames(ctx context.Context, name string) ([]string, error)
	GroupExists(ctx context.Context, name string) (bool, error)
	CreateGroup(ctx context.Context, name string, attributes map[string][]string) error
	UpdateGroup(ctx context.Context, name string, attributes map[string][]string) error
	RemoveGroup(ctx context.Context, name string) error
	AddMembership(ctx context.Context, parent, child string) error
	RemoveMembership(ctx context.Context, parent, child string) error
}

// LocalGroup is one group of the local hierarchy
type LocalGroup struct {
	ID         string
	Name       string
	Attributes map[string][]string
}

// LocalHierarchy is the locally persisted group tree
type LocalHierarchy interface {
	TopLevelGroups(ctx context.Context) ([]*LocalGroup, error)
	Subgroups(ctx context.Context, id string) ([]*LocalGroup, error)
	Parent(ctx context.Context, id string) (*LocalGroup, error)

	// CreateGroup creates a group under the parent; empty parentID means
	// top level
	CreateGroup(ctx context.Context, name, parentID string) (*LocalGroup, error)
	SetAttributes(ctx context.Context, id string, attributes map[string][]string) error
	MoveGroup(ctx context.Context, id, newParentID string) error
	RemoveGroup(ctx context.Context, id string) error
}

// Config controls reconciliation behavior
type Config struct {
	// PreserveInheritance keeps parent/child structure; when false, all
	// external groups land at the local top level.
	PreserveInheritance bool

	// DropNonExisting deletes groups on the destination side that the
	// source side no longer has. Destructive, off by default.
	DropNonExisting bool

	// BatchSize bounds flat-mode batches. Defaults to 100.
	BatchSize int

	// Dangling decides how unresolvable subgroup references are handled.
	// Defaults to DanglingFail.
	Dangling DanglingPolicy
}

// DefaultConfig returns the default reconciliation configuration
func DefaultConfig() Config {
	return Config{
		PreserveInheritance: true,
		DropNonExisting:     false,
		BatchSize:           100,
		Dangling:            DanglingFail,
	}
}

// SyncResult summarizes one reconciliation run
type SyncResult struct {
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Removed int    `json:"removed"`
	Failed  int    `json:"failed"`
	Status  string `json:"status"`
}

func (r *SyncResult) String() string {
	return fmt.Sprintf("%d added, %d updated, %d removed, %d failed", r.Added, r.Updated, r.Removed, r.Failed)
}

// Reconciler synchronizes group trees between an external directory and
// the local hierarchy. Structural errors (cycles, dangling references
// under the fail policy) abort a run; per-group upsert errors are counted
// and logged without stopping siblings.
type Reconciler struct {
	source   ExternalSource
	local    LocalHierarchy
	config   Config
	metrics  metrics.Metrics
	auditLog audit.Logger
	logger   *zap.Logger
}

// NewReconciler creates a reconciler over an external source and the
// local hierarchy
func NewReconciler(source ExternalSource, local LocalHierarchy, config Config, m metrics.Metrics, auditLog audit.Logger, logger *zap.Logger) *Reconciler {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Dangling == "" {
		config.Dangling = DanglingFail
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if auditLog == nil {
		auditLog = audit.NewNoOpLogger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		source:   source,
		local:    local,
		config:   config,
		metrics:  m,
		auditLog: auditLog,
		logger:   logger,
	}
}

// ImportFromExternal pulls the external group listing into the local
// hierarchy
func (r *Reconciler) ImportFromExternal(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	groups, err := r.source.ListGroups(ctx)
	if err != nil {
		r.metrics.RecordSyncRun("import", "error", time.Since(start))
		return nil, fmt.Errorf("failed to list external groups: %w", err)
	}

	if r.config.PreserveInheritance {
		err = r.importHierarchical(ctx, groups, result)
	} else {
		err = r.importFlat(ctx, groups, result)
	}
	if err != nil {
		r.metrics.RecordSyncRun("import", "error", time.Since(start))
		return nil, err
	}

	result.Status = result.String()
	r.metrics.RecordSyncRun("import", "ok", time.Since(start))
	r.metrics.RecordSyncFailures("import", result.Failed)
	r.auditLog.LogSyncRun(ctx, &audit.SyncEvent{
		Direction: "import",
		Added:     result.Added,
		Updated:   result.Updated,
		Removed:   result.Removed,
		Failed:    result.Failed,
	})
	r.logger.Info("Group import sync finished",
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (r *Reconciler) importHierarchical(ctx context.Context, groups []*ExternalGroup, result *SyncResult) error {
	// One relationship query per group before tree resolution
	for _, g := range groups {
		names, err := r.source.GetSubgroupNames(ctx, g.Name)
		if err != nil {
			return fmt.Errorf("failed to read subgroups of %q: %w", g.Name, err)
		}
		g.SubgroupNames = names
	}

	forest, err := BuildForest(groups, r.config.Dangling)
	if err != nil {
		return err
	}

	visited := make(map[string]bool)
	for _, root := range forest {
		r.upsertTree(ctx, root, "", visited, result)
	}

	// Prune runs once, after every upsert, so a group about to be
	// re-attached as a child is never deleted mid-walk.
	if r.config.DropNonExisting {
		if err := r.pruneLocal(ctx, visited, result); err != nil {
			return err
		}
	}
	return nil
}

// upsertTree finds or creates the node under parentID, replaces its
// attributes, and recurses. Upsert errors are counted, not propagated.
func (r *Reconciler) upsertTree(ctx context.Context, node *TreeNode, parentID string, visited map[string]bool, result *SyncResult) {
	group, created, err := r.findOrCreateLocal(ctx, node.Group.Name, parentID)
	if err != nil {
		result.Failed++
		r.logger.Warn("Group upsert failed",
			zap.String("group", node.Group.Name),
			zap.Error(err),
		)
		return
	}
	visited[group.ID] = true

	if created {
		result.Added++
	} else {
		result.Updated++
	}

	// Full replace: attributes absent from the source are removed locally
	if err := r.local.SetAttributes(ctx, group.ID, node.Group.Attributes); err != nil {
		result.Failed++
		r.logger.Warn("Group attribute write failed",
			zap.String("group", node.Group.Name),
			zap.Error(err),
		)
	}

	for _, child := range node.Children {
		r.upsertTree(ctx, child, group.ID, visited, result)
	}
}

// findOrCreateLocal matches by name among the parent's direct subgroups
// (or the top level). A same-named top-level group left over from an
// earlier flat sync is moved under the parent instead of duplicated.
func (r *Reconciler) findOrCreateLocal(ctx context.Context, name, parentID string) (*LocalGroup, bool, error) {
	siblings, err := r.siblings(ctx, parentID)
	if err != nil {
		return nil, false, err
	}
	for _, g := range siblings {
		if g.Name == name {
			return g, false, nil
		}
	}

	if parentID != "" {
		top, err := r.local.TopLevelGroups(ctx)
		if err != nil {
			return nil, false, err
		}
		for _, g := range top {
			if g.Name == name {
				if err := r.local.MoveGroup(ctx, g.ID, parentID); err != nil {
					return nil, false, err
				}
				return g, false, nil
			}
		}
	}

	group, err := r.local.CreateGroup(ctx, name, parentID)
	if err != nil {
		return nil, false, err
	}
	return group, true, nil
}

func (r *Reconciler) siblings(ctx context.Context, parentID string) ([]*LocalGroup, error) {
	if parentID == "" {
		return r.local.TopLevelGroups(ctx)
	}
	return r.local.Subgroups(ctx, parentID)
}

// importFlat lands every external group at the local top level, in
// fixed-size batches that fail independently. The top-level index is
// re-read per batch so groups created by batch N are visible to batch
// N+1.
func (r *Reconciler) importFlat(ctx context.Context, groups []*ExternalGroup, result *SyncResult) error {
	visited := make(map[string]bool)

	for offset := 0; offset < len(groups); offset += r.config.BatchSize {
		end := offset + r.config.BatchSize
		if end > len(groups) {
			end = len(groups)
		}
		batch := groups[offset:end]

		index, err := r.local.TopLevelGroups(ctx)
		if err != nil {
			return fmt.Errorf("failed to read top-level groups: %w", err)
		}
		byName := make(map[string]*LocalGroup, len(index))
		for _, g := range index {
			byName[g.Name] = g
		}

		for _, external := range batch {
			local, ok := byName[external.Name]
			if !ok {
				local, err = r.local.CreateGroup(ctx, external.Name, "")
				if err != nil {
					result.Failed++
					r.logger.Warn("Group create failed",
						zap.String("group", external.Name),
						zap.Error(err),
					)
					continue
				}
				result.Added++
			} else {
				result.Updated++
			}

			if err := r.local.SetAttributes(ctx, local.ID, external.Attributes); err != nil {
				result.Failed++
				r.logger.Warn("Group attribute write failed",
					zap.String("group", external.Name),
					zap.Error(err),
				)
				continue
			}
			visited[local.ID] = true
		}
	}

	if r.config.DropNonExisting {
		return r.pruneLocal(ctx, visited, result)
	}
	return nil
}

// pruneLocal deletes local groups the walk never visited
func (r *Reconciler) pruneLocal(ctx context.Context, visited map[string]bool, result *SyncResult) error {
	top, err := r.local.TopLevelGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to read top-level groups for prune: %w", err)
	}

	var walk func(groups []*LocalGroup) error
	walk = func(groups []*LocalGroup) error {
		for _, g := range groups {
			if !visited[g.ID] {
				// Removing the parent removes the subtree with it
				if err := r.local.RemoveGroup(ctx, g.ID); err != nil {
					result.Failed++
					r.logger.Warn("Group prune failed",
						zap.String("group", g.Name),
						zap.Error(err),
					)
					continue
				}
				result.Removed++
				continue
			}
			children, err := r.local.Subgroups(ctx, g.ID)
			if err != nil {
				return err
			}
			if err := walk(children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(top)
}

// ExportToExternal pushes the local hierarchy into the external
// directory. Entities are written in a first pass and membership edges in
// a second, since an edge cannot reference an entity that does not exist
// yet.
func (r *Reconciler) ExportToExternal(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	existing, err := r.source.ListGroups(ctx)
	if err != nil {
		r.metrics.RecordSyncRun("export", "error", time.Since(start))
		return nil, fmt.Errorf("failed to list external groups: %w", err)
	}
	externalNames := make(map[string]bool, len(existing))
	for _, g := range existing {
		externalNames[g.Name] = true
	}

	top, err := r.local.TopLevelGroups(ctx)
	if err != nil {
		r.metrics.RecordSyncRun("export", "error", time.Since(start))
		return nil, fmt.Errorf("failed to read top-level groups: %w", err)
	}

	visited := make(map[string]bool)

	// First pass: entities
	var writeEntities func(groups []*LocalGroup) error
	writeEntities = func(groups []*LocalGroup) error {
		for _, g := range groups {
			if err := r.exportEntity(ctx, g, externalNames, visited, result); err != nil {
				result.Failed++
				r.logger.Warn("Group export failed",
					zap.String("group", g.Name),
					zap.Error(err),
				)
			}
			children, err := r.local.Subgroups(ctx, g.ID)
			if err != nil {
				return err
			}
			if err := writeEntities(children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := writeEntities(top); err != nil {
		r.metrics.RecordSyncRun("export", "error", time.Since(start))
		return nil, err
	}

	if r.config.DropNonExisting {
		for _, g := range existing {
			if visited[g.Name] {
				continue
			}
			if err := r.source.RemoveGroup(ctx, g.Name); err != nil {
				result.Failed++
				r.logger.Warn("External group removal failed",
					zap.String("group", g.Name),
					zap.Error(err),
				)
				continue
			}
			result.Removed++
		}
	}

	// Second pass: membership edges, diffed against a fresh external read
	// per parent
	if r.config.PreserveInheritance {
		if err := r.exportEdges(ctx, top, result); err != nil {
			r.metrics.RecordSyncRun("export", "error", time.Since(start))
			return nil, err
		}
	}

	result.Status = result.String()
	r.metrics.RecordSyncRun("export", "ok", time.Since(start))
	r.metrics.RecordSyncFailures("export", result.Failed)
	r.auditLog.LogSyncRun(ctx, &audit.SyncEvent{
		Direction: "export",
		Added:     result.Added,
		Updated:   result.Updated,
		Removed:   result.Removed,
		Failed:    result.Failed,
	})
	r.logger.Info("Group export sync finished",
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (r *Reconciler) exportEntity(ctx context.Context, g *LocalGroup, externalNames, visited map[string]bool, result *SyncResult) error {
	visited[g.Name] = true
	if externalNames[g.Name] {
		if err := r.source.UpdateGroup(ctx, g.Name, g.Attributes); err != nil {
			return err
		}
		result.Updated++
		return nil
	}
	if err := r.source.CreateGroup(ctx, g.Name, g.Attributes); err != nil {
		return err
	}
	externalNames[g.Name] = true
	result.Added++
	return nil
}

func (r *Reconciler) exportEdges(ctx context.Context, groups []*LocalGroup, result *SyncResult) error {
	for _, parent := range groups {
		children, err := r.local.Subgroups(ctx, parent.ID)
		if err != nil {
			return err
		}

		wanted := make(map[string]bool, len(children))
		for _, c := range children {
			wanted[c.Name] = true
		}

		// Fresh read right before diffing; a cached membership set could
		// miss edges added earlier in this run
		current, err := r.source.GetSubgroupNames(ctx, parent.Name)
		if err != nil {
			return fmt.Errorf("failed to read external subgroups of %q: %w", parent.Name, err)
		}
		currentSet := make(map[string]bool, len(current))
		for _, name := range current {
			currentSet[name] = true
		}

		for _, c := range children {
			if currentSet[c.Name] {
				continue
			}
			if err := r.source.AddMembership(ctx, parent.Name, c.Name); err != nil {
				result.Failed++
				r.logger.Warn("Membership add failed",
					zap.String("parent", parent.Name),
					zap.String("child", c.Name),
					zap.Error(err),
				)
			}
		}
		for _, name := range current {
			if wanted[name] {
				continue
			}
			if err := r.source.RemoveMembership(ctx, parent.Name, name); err != nil {
				result.Failed++
				r.logger.Warn("Membership removal failed",
					zap.String("parent", parent.Name),
					zap.String("child", name),
					zap.Error(err),
				)
			}
		}

		if err := r.exportEdges(ctx, children, result); err != nil {
			return err
		}
	}
	return nil
}

// EnsureMembership adds one external membership edge for an existing
// local parent/child pair, without a full export. When the parent is not
// present externally yet, the highest missing ancestor's subtree is
// exported first, then the edge add is retried.
func (r *Reconciler) EnsureMembership(ctx context.Context, parentID, childID string) error {
	parent, err := r.localByID(ctx, parentID)
	if err != nil {
		return err
	}
	child, err := r.localByID(ctx, childID)
	if err != nil {
		return err
	}

	exists, err := r.source.GroupExists(ctx, parent.Name)
	if err != nil {
		return fmt.Errorf("failed to probe external group %q: %w", parent.Name, err)
	}
	if !exists {
		ancestor, err := r.highestMissingAncestor(ctx, parent)
		if err != nil {
			return err
		}
		if err := r.exportSubtree(ctx, ancestor); err != nil {
			return err
		}
	}

	current, err := r.source.GetSubgroupNames(ctx, parent.Name)
	if err != nil {
		return fmt.Errorf("failed to read external subgroups of %q: %w", parent.Name, err)
	}
	for _, name := range current {
		if name == child.Name {
			return nil
		}
	}
	return r.source.AddMembership(ctx, parent.Name, child.Name)
}

// highestMissingAncestor walks upward from the group to the topmost
// ancestor that the external side does not have yet
func (r *Reconciler) highestMissingAncestor(ctx context.Context, group *LocalGroup) (*LocalGroup, error) {
	missing := group
	current := group
	for {
		parent, err := r.local.Parent(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return missing, nil
		}
		exists, err := r.source.GroupExists(ctx, parent.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to probe external group %q: %w", parent.Name, err)
		}
		if exists {
			return missing, nil
		}
		missing = parent
		current = parent
	}
}

// exportSubtree writes one local subtree externally, entities before
// edges
func (r *Reconciler) exportSubtree(ctx context.Context, root *LocalGroup) error {
	exists, err := r.source.GroupExists(ctx, root.Name)
	if err != nil {
		return fmt.Errorf("failed to probe external group %q: %w", root.Name, err)
	}
	if !exists {
		if err := r.source.CreateGroup(ctx, root.Name, root.Attributes); err != nil {
			return fmt.Errorf("failed to create external group %q: %w", root.Name, err)
		}
	}

	children, err := r.local.Subgroups(ctx, root.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := r.exportSubtree(ctx, child); err != nil {
			return err
		}
	}

	current, err := r.source.GetSubgroupNames(ctx, root.Name)
	if err != nil {
		return fmt.Errorf("failed to read external subgroups of %q: %w", root.Name, err)
	}
	currentSet := make(map[string]bool, len(current))
	for _, name := range current {
		currentSet[name] = true
	}
	for _, child := range children {
		if currentSet[child.Name] {
			continue
		}
		if err := r.source.AddMembership(ctx, root.Name, child.Name); err != nil {
			return fmt.Errorf("failed to add membership %q -> %q: %w", root.Name, child.Name, err)
		}
	}
	return nil
}

// localByID finds a local group anywhere in the hierarchy
func (r *Reconciler) localByID(ctx context.Context, id string) (*LocalGroup, error) {
	top, err := r.local.TopLevelGroups(ctx)
	if err != nil {
		return nil, err
	}

	var find func(groups []*LocalGroup) (*LocalGroup, error)
	find = func(groups []*LocalGroup) (*LocalGroup, error) {
		for _, g := range groups {
			if g.ID == id {
				return g, nil
			}
			children, err := r.local.Subgroups(ctx, g.ID)
			if err != nil {
				return nil, err
			}
			if found, err := find(children); err != nil || found != nil {
				return found, err
			}
		}
		return nil, nil
	}

	found, err := find(top)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("group %s not found in local hierarchy", id)
	}
	return found, nil
}
