// Package iteration decides when a namespace needs a new build-set
// snapshot and builds it: on the first iteration, whenever the namespace's
// origin set changes, or whenever the recomputed build-set graph itself
// differs from the previous iteration's.
package iteration

import (
	"time"

	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/buildset"
	"github.com/buildbtw/buildbtw/internal/depgraph"
	"github.com/buildbtw/buildbtw/internal/sourcerepo"
)

// buildSets builds and validates the per-architecture build-set graphs for
// namespace's current origin set, rejecting a namespace whose graph admits
// no valid build order (ErrGraphCycle) rather than attempting partial
// repair.
func buildSets(idx *sourcerepo.Index, namespace *buildbtw.Namespace) (map[buildbtw.ConcreteArchitecture]*buildset.Graph, error) {
	globalGraphs, err := depgraph.BuildAll(idx)
	if err != nil {
		return nil, err
	}
	packagesToBuild := make(map[buildbtw.ConcreteArchitecture]*buildset.Graph, len(buildbtw.AllConcreteArchitectures))
	for _, arch := range buildbtw.AllConcreteArchitectures {
		g := buildset.Build(namespace.Origin, globalGraphs[arch], idx, arch)
		if len(g.Nodes()) == 0 {
			continue
		}
		if !g.IsAcyclic() {
			return nil, xerrors.Errorf("iteration: namespace %s, arch %s: %w", namespace.ID, arch, buildset.ErrGraphCycle)
		}
		packagesToBuild[arch] = g
	}
	return packagesToBuild, nil
}

// ReasonKind categorizes why a new iteration was created.
type ReasonKind int

const (
	FirstIteration ReasonKind = iota
	OriginChangesetsChanged
	BuildSetGraphChanged
	CreatedByUser
)

func (k ReasonKind) String() string {
	switch k {
	case FirstIteration:
		return "first iteration"
	case OriginChangesetsChanged:
		return "origin changesets changed"
	case BuildSetGraphChanged:
		return "build set graph changed"
	case CreatedByUser:
		return "manually created by user"
	default:
		return "unknown"
	}
}

// Reason records why an iteration was created, including the graph diff
// when the reason is BuildSetGraphChanged.
type Reason struct {
	Kind ReasonKind
	Diff *AggregateDiff
}

// AggregateDiff is the cross-architecture diff between two iterations'
// build-set graphs.
type AggregateDiff struct {
	NewArchitectures     []buildbtw.ConcreteArchitecture
	RemovedArchitectures []buildbtw.ConcreteArchitecture
	ChangedArchitectures map[buildbtw.ConcreteArchitecture]buildset.Diff
}

// Empty reports whether the diff carries no changes at all.
func (d *AggregateDiff) Empty() bool {
	if d == nil {
		return true
	}
	if len(d.NewArchitectures) != 0 || len(d.RemovedArchitectures) != 0 {
		return false
	}
	for _, diff := range d.ChangedArchitectures {
		if !diff.Empty() {
			return false
		}
	}
	return true
}

func computeAggregateDiff(old, new map[buildbtw.ConcreteArchitecture]*buildset.Graph) *AggregateDiff {
	d := &AggregateDiff{ChangedArchitectures: map[buildbtw.ConcreteArchitecture]buildset.Diff{}}
	for _, arch := range buildbtw.AllConcreteArchitectures {
		_, hadOld := old[arch]
		newGraph, hasNew := new[arch]
		switch {
		case hadOld && !hasNew:
			d.RemovedArchitectures = append(d.RemovedArchitectures, arch)
		case !hadOld && hasNew:
			d.NewArchitectures = append(d.NewArchitectures, arch)
		case hadOld && hasNew:
			// A node is identified by (pkgbase, commit hash): status-only
			// changes are progress within an iteration, not a changed graph.
			diff := buildset.Compute(old[arch], newGraph)
			nodes := diff.Nodes[:0:0]
			for _, nd := range diff.Nodes {
				if nd.Kind != buildset.NodeStatusChanged {
					nodes = append(nodes, nd)
				}
			}
			diff.Nodes = nodes
			d.ChangedArchitectures[arch] = diff
		}
	}
	return d
}

// Iteration is one snapshot of a namespace's build set.
type Iteration struct {
	ID                string
	NamespaceID       string
	CreatedAt         time.Time
	OriginChangesets  []buildbtw.GitRepoRef
	PackagesToBeBuilt map[buildbtw.ConcreteArchitecture]*buildset.Graph
	Reason            Reason
}

// BuildNext decides whether namespace needs a new iteration given its
// current origin changesets and the most recent previous iteration (nil if
// none exists yet). For an active namespace the build set is recomputed on
// every call and compared against the previous snapshot; nil is returned
// when no new iteration is warranted.
func BuildNext(idx *sourcerepo.Index, namespace *buildbtw.Namespace, previous *Iteration) (*Iteration, error) {
	if namespace.Status == buildbtw.NamespaceCancelled {
		return nil, nil
	}

	packagesToBuild, err := buildSets(idx, namespace)
	if err != nil {
		return nil, err
	}

	if previous == nil {
		return &Iteration{
			NamespaceID:       namespace.ID,
			OriginChangesets:  namespace.Origin,
			PackagesToBeBuilt: packagesToBuild,
			Reason:            Reason{Kind: FirstIteration},
		}, nil
	}

	if !sameOrigin(previous.OriginChangesets, namespace.Origin) {
		return &Iteration{
			NamespaceID:       namespace.ID,
			OriginChangesets:  namespace.Origin,
			PackagesToBeBuilt: packagesToBuild,
			Reason:            Reason{Kind: OriginChangesetsChanged},
		}, nil
	}

	diff := computeAggregateDiff(previous.PackagesToBeBuilt, packagesToBuild)
	if !diff.Empty() {
		return &Iteration{
			NamespaceID:       namespace.ID,
			OriginChangesets:  namespace.Origin,
			PackagesToBeBuilt: packagesToBuild,
			Reason:            Reason{Kind: BuildSetGraphChanged, Diff: diff},
		}, nil
	}

	return nil, nil
}

// Force creates a new iteration regardless of whether the build set
// changed, the supplemented counterpart of a user clicking "rebuild now".
func Force(idx *sourcerepo.Index, namespace *buildbtw.Namespace) (*Iteration, error) {
	packagesToBuild, err := buildSets(idx, namespace)
	if err != nil {
		return nil, err
	}
	return &Iteration{
		NamespaceID:       namespace.ID,
		OriginChangesets:  namespace.Origin,
		PackagesToBeBuilt: packagesToBuild,
		Reason:            Reason{Kind: CreatedByUser},
	}, nil
}

func sameOrigin(a, b []buildbtw.GitRepoRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
