// Package buildset constructs, per architecture, the subgraph of pkgbases
// that must be rebuilt for a namespace: every origin pkgbase whose tracked
// branch changed, plus every pkgbase transitively depending on one of them,
// found by walking the global pkgname dependency graph forward from the
// origin packages. Unlike the global graph, a build-set graph is a plain
// ordered structure rather than a gonum graph, because callers need to look
// up and mutate a node by pkgbase and iterate it in a deterministic,
// insertion-preserving order (BFS scheduling tie-breaks depend on it).
package buildset

import (
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/depgraph"
	"github.com/buildbtw/buildbtw/internal/sourceinfo"
	"github.com/buildbtw/buildbtw/internal/sourcerepo"
)

// ErrGraphCycle is returned when a build-set graph's edges admit no valid
// build order. Per spec this is sticky until the underlying recipes change:
// callers should not attempt partial repair.
var ErrGraphCycle = xerrors.New("buildset: graph has cycles")

// Node is one pkgbase under consideration for a build.
type Node struct {
	Pkgbase    buildbtw.Pkgbase
	CommitHash buildbtw.CommitHash
	BranchName buildbtw.BranchName
	Status     buildbtw.PackageBuildStatus
	Pkgnames   []buildbtw.Pkgname
}

// Graph is the build set for one architecture: an edge from A to B means A
// is a dependency of B, so A must be built, or have already been built,
// before B can be.
type Graph struct {
	order []buildbtw.Pkgbase
	nodes map[buildbtw.Pkgbase]*Node
	// dependents[a] lists, in discovery order, the pkgbases that directly
	// depend on a.
	dependents map[buildbtw.Pkgbase][]buildbtw.Pkgbase
	// dependencies[a] lists the pkgbases that a directly depends on, the
	// reverse index of dependents, used by the scheduler to check whether
	// a node's own dependencies have all been built.
	dependencies map[buildbtw.Pkgbase][]buildbtw.Pkgbase
	// edgeSeen dedupes edge insertions.
	edgeSeen map[[2]buildbtw.Pkgbase]bool
}

func newGraph() *Graph {
	return &Graph{
		nodes:        map[buildbtw.Pkgbase]*Node{},
		dependents:   map[buildbtw.Pkgbase][]buildbtw.Pkgbase{},
		dependencies: map[buildbtw.Pkgbase][]buildbtw.Pkgbase{},
		edgeSeen:     map[[2]buildbtw.Pkgbase]bool{},
	}
}

func (g *Graph) ensureNode(idx *sourcerepo.Index, pkgbase buildbtw.Pkgbase) *Node {
	if n, ok := g.nodes[pkgbase]; ok {
		return n
	}
	meta := idx.ByPkgbase[pkgbase]
	n := &Node{
		Pkgbase: pkgbase,
		Status:  buildbtw.StatusBlocked,
	}
	if meta != nil {
		n.CommitHash = meta.Commit
		n.BranchName = meta.BranchName
	}
	g.nodes[pkgbase] = n
	g.order = append(g.order, pkgbase)
	return n
}

// addEdge records that dependency is a direct dependency of dependent.
func (g *Graph) addEdge(dependency, dependent buildbtw.Pkgbase) {
	if dependency == dependent {
		return // split packages from the same recipe can depend on each other
	}
	key := [2]buildbtw.Pkgbase{dependency, dependent}
	if g.edgeSeen[key] {
		return
	}
	g.edgeSeen[key] = true
	g.dependents[dependency] = append(g.dependents[dependency], dependent)
	g.dependencies[dependent] = append(g.dependencies[dependent], dependency)
}

// Node looks up a build-set node by pkgbase.
func (g *Graph) Node(pkgbase buildbtw.Pkgbase) (*Node, bool) {
	n, ok := g.nodes[pkgbase]
	return n, ok
}

// Nodes returns every node in the graph, in insertion (first-discovered)
// order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, pkgbase := range g.order {
		out = append(out, g.nodes[pkgbase])
	}
	return out
}

// Dependents returns the pkgbases that directly depend on pkgbase, in the
// order those edges were first discovered.
func (g *Graph) Dependents(pkgbase buildbtw.Pkgbase) []buildbtw.Pkgbase {
	return g.dependents[pkgbase]
}

// Dependencies returns the pkgbases that pkgbase directly depends on.
func (g *Graph) Dependencies(pkgbase buildbtw.Pkgbase) []buildbtw.Pkgbase {
	return g.dependencies[pkgbase]
}

// SetStatus sets the status of the node for pkgbase. It panics if the node
// does not exist, since callers are expected to have looked it up first.
func (g *Graph) SetStatus(pkgbase buildbtw.Pkgbase, status buildbtw.PackageBuildStatus) {
	n, ok := g.nodes[pkgbase]
	if !ok {
		panic("buildset: SetStatus on unknown pkgbase " + string(pkgbase))
	}
	n.Status = status
}

// Clone returns a deep copy, used so that mutating a scheduling decision on
// one iteration's graph never affects another iteration's snapshot.
func (g *Graph) Clone() *Graph {
	clone := newGraph()
	clone.order = append([]buildbtw.Pkgbase(nil), g.order...)
	for pkgbase, n := range g.nodes {
		nc := *n
		nc.Pkgnames = append([]buildbtw.Pkgname(nil), n.Pkgnames...)
		clone.nodes[pkgbase] = &nc
	}
	for from, tos := range g.dependents {
		clone.dependents[from] = append([]buildbtw.Pkgbase(nil), tos...)
	}
	for to, froms := range g.dependencies {
		clone.dependencies[to] = append([]buildbtw.Pkgbase(nil), froms...)
	}
	for k, v := range g.edgeSeen {
		clone.edgeSeen[k] = v
	}
	return clone
}

type gonumNode struct {
	id      int64
	pkgbase buildbtw.Pkgbase
}

func (n *gonumNode) ID() int64 { return n.id }

// IsAcyclic reports whether the graph has no cycles, rejecting the
// namespace's origin set if it does (a build set must admit at least one
// valid build order).
func (g *Graph) IsAcyclic() bool {
	dg := simple.NewDirectedGraph()
	byPkgbase := make(map[buildbtw.Pkgbase]*gonumNode, len(g.order))
	for i, pkgbase := range g.order {
		n := &gonumNode{id: int64(i), pkgbase: pkgbase}
		byPkgbase[pkgbase] = n
		dg.AddNode(n)
	}
	for from, tos := range g.dependents {
		for _, to := range tos {
			dg.SetEdge(dg.NewEdge(byPkgbase[from], byPkgbase[to]))
		}
	}
	_, err := topo.Sort(dg)
	return err == nil
}

// Build walks the global pkgname dependency graph forward from origins'
// produced packages, collapsing it to one node per pkgbase. A pkgname is
// only ever expanded once (tracked via a visited set keyed by pkgname),
// which tolerates cycles in the global graph without looping forever, while
// every edge between two already-discovered pkgbases is still recorded on
// each encounter.
func Build(origins []buildbtw.GitRepoRef, global *depgraph.Graph, idx *sourcerepo.Index, arch buildbtw.ConcreteArchitecture) *Graph {
	g := newGraph()
	visited := map[buildbtw.Pkgname]bool{}
	var queue []buildbtw.Pkgname

	enqueue := func(pkgname buildbtw.Pkgname) {
		if visited[pkgname] {
			return
		}
		visited[pkgname] = true
		queue = append(queue, pkgname)
	}

	for _, origin := range origins {
		meta, ok := idx.ByPkgbase[origin.Pkgbase]
		if !ok {
			continue
		}
		pkgs := sourceinfo.PackagesForArchitecture(meta.Recipe, arch)
		if len(pkgs) == 0 {
			// Origin pkgbase has no split packages for this architecture:
			// skipped, not an error, and never gets a node of its own.
			continue
		}
		node := g.ensureNode(idx, origin.Pkgbase)
		for _, pkg := range pkgs {
			node.Pkgnames = append(node.Pkgnames, pkg.Name)
			enqueue(pkg.Name)
		}
	}

	for len(queue) > 0 {
		pkgname := queue[0]
		queue = queue[1:]

		pkgbase, ok := idx.ProvidedBy[pkgname]
		if !ok {
			continue
		}
		node := g.ensureNode(idx, pkgbase)
		if !containsPkgname(node.Pkgnames, pkgname) {
			node.Pkgnames = append(node.Pkgnames, pkgname)
		}

		for _, dependent := range global.Dependents(pkgname) {
			dependentBase, ok := idx.ProvidedBy[dependent]
			if !ok {
				continue // dependent not produced by any tracked recipe
			}
			g.ensureNode(idx, dependentBase)
			g.addEdge(pkgbase, dependentBase)
			enqueue(dependent)
		}
	}

	return g
}

func containsPkgname(names []buildbtw.Pkgname, name buildbtw.Pkgname) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
