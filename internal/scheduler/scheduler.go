// Package scheduler picks the next pkgbase to build within one
// architecture's build-set graph: a breadth-first walk from every
// dependency-free root, skipping nodes whose own dependencies aren't all
// built yet, that reserves and returns the first node ready to build.
package scheduler

import (
	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/buildset"
)

// VerdictKind is the outcome of a single scheduling pass over a graph.
type VerdictKind int

const (
	// Scheduled means a node was reserved for building.
	Scheduled VerdictKind = iota
	// NoPendingPackages means no node is ready to build and at least one
	// is Scheduled or Building; the caller should wait for one to finish.
	NoPendingPackages
	// Finished means no node is ready to build and none is Scheduled or
	// Building: every node is Built or Failed, or stays Blocked behind a
	// dependency that failed.
	Finished
)

// BuildDescriptor is the information an executor needs to dispatch a build,
// together with the graph snapshot reflecting the node's new status.
type BuildDescriptor struct {
	NamespaceID  string
	IterationID  string
	Architecture buildbtw.ConcreteArchitecture
	Pkgbase      buildbtw.Pkgbase
	CommitHash   buildbtw.CommitHash
	BranchName   buildbtw.BranchName
	Pkgnames     []buildbtw.Pkgname
	UpdatedGraph *buildset.Graph
}

// Verdict is the result of a scheduling pass.
type Verdict struct {
	Kind  VerdictKind
	Build *BuildDescriptor
}

// Schedule walks g from each of its roots (nodes with no dependency within
// the build set) looking for the first node ready to build, and reserves it
// by setting its status to scheduleStatus on a cloned graph.
//
// The successors of every visited node that is not selected are enqueued
// whatever its status: a node already Built only stops its own selection,
// it never stops the walk from reaching further dependents, the
// same way a bare `continue` inside a petgraph Bfs iterator loop does not
// stop that iterator from having already queued the node's successors.
func Schedule(g *buildset.Graph, namespaceID, iterationID string, arch buildbtw.ConcreteArchitecture, scheduleStatus buildbtw.PackageBuildStatus) Verdict {
	fallback := Finished

	var roots []buildbtw.Pkgbase
	for _, n := range g.Nodes() {
		if len(g.Dependencies(n.Pkgbase)) == 0 {
			roots = append(roots, n.Pkgbase)
		}
	}

	updated := g.Clone()

	for _, root := range roots {
		visited := map[buildbtw.Pkgbase]bool{root: true}
		queue := []buildbtw.Pkgbase{root}

		for len(queue) > 0 {
			pkgbase := queue[0]
			queue = queue[1:]

			node, ok := g.Node(pkgbase)
			if !ok {
				continue
			}

			ready := false
			switch node.Status {
			case buildbtw.StatusBuilt, buildbtw.StatusFailed:
				// keep current fallback
			case buildbtw.StatusBlocked:
				if !stillBlocked(g, pkgbase) {
					ready = true
				}
			case buildbtw.StatusBuilding, buildbtw.StatusScheduled:
				fallback = NoPendingPackages
			case buildbtw.StatusPending:
				ready = true
			}

			if ready {
				updated.SetStatus(pkgbase, scheduleStatus)
				return Verdict{
					Kind: Scheduled,
					Build: &BuildDescriptor{
						NamespaceID:  namespaceID,
						IterationID:  iterationID,
						Architecture: arch,
						Pkgbase:      pkgbase,
						CommitHash:   node.CommitHash,
						BranchName:   node.BranchName,
						Pkgnames:     node.Pkgnames,
						UpdatedGraph: updated,
					},
				}
			}

			for _, dependent := range g.Dependents(pkgbase) {
				if !visited[dependent] {
					visited[dependent] = true
					queue = append(queue, dependent)
				}
			}
		}
	}

	return Verdict{Kind: fallback}
}

func stillBlocked(g *buildset.Graph, pkgbase buildbtw.Pkgbase) bool {
	for _, dep := range g.Dependencies(pkgbase) {
		depNode, ok := g.Node(dep)
		if !ok || depNode.Status != buildbtw.StatusBuilt {
			return true
		}
	}
	return false
}
