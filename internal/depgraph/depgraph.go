// Package depgraph builds, per architecture, the global graph of
// dependencies between every pkgname produced by the tracked recipes
// (the whole corpus in the index, not only the origins), the same way batch.go builds its single-architecture graph of
// build.textproto dependencies. An edge runs from a dependency to its
// dependent, so that walking the graph forward from a changed package
// finds everything that needs to be rebuilt because of that change.
package depgraph

import (
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/sourceinfo"
	"github.com/buildbtw/buildbtw/internal/sourcerepo"
)

func sourceInfoPackagesForArch(meta *sourcerepo.Metadata, arch buildbtw.ConcreteArchitecture) []sourceinfo.Package {
	return sourceinfo.PackagesForArchitecture(meta.Recipe, arch)
}

// Node is one pkgname in a dependency graph.
type Node struct {
	id      int64
	Pkgname buildbtw.Pkgname
	Pkgbase buildbtw.Pkgbase
}

func (n *Node) ID() int64 { return n.id }

// Graph is the global dependency graph for one architecture: an edge from A
// to B means A is a dependency of B, i.e. B must be rebuilt whenever A
// changes.
type Graph struct {
	g     *simple.DirectedGraph
	nodes map[buildbtw.Pkgname]*Node
}

func newGraph() *Graph {
	return &Graph{
		g:     simple.NewDirectedGraph(),
		nodes: map[buildbtw.Pkgname]*Node{},
	}
}

// Underlying exposes the gonum graph so other packages (the build-set
// builder, cycle detection) can run topo/traversal algorithms over it.
func (g *Graph) Underlying() graph.Directed { return g.g }

// Node looks up the node for pkgname, if the index produced it.
func (g *Graph) Node(pkgname buildbtw.Pkgname) (*Node, bool) {
	n, ok := g.nodes[pkgname]
	return n, ok
}

// Dependents returns the pkgnames that directly depend on pkgname, i.e.
// that must be rebuilt whenever pkgname changes.
func (g *Graph) Dependents(pkgname buildbtw.Pkgname) []buildbtw.Pkgname {
	n, ok := g.nodes[pkgname]
	if !ok {
		return nil
	}
	it := g.g.From(n.ID())
	var out []buildbtw.Pkgname
	for it.Next() {
		out = append(out, it.Node().(*Node).Pkgname)
	}
	return out
}

// Nodes returns every pkgname known to the graph.
func (g *Graph) Nodes() []buildbtw.Pkgname {
	out := make([]buildbtw.Pkgname, 0, len(g.nodes))
	for name := range g.nodes {
		out = append(out, name)
	}
	return out
}

func (g *Graph) addNode(pkgbase buildbtw.Pkgbase, pkgname buildbtw.Pkgname) *Node {
	if n, ok := g.nodes[pkgname]; ok {
		return n
	}
	n := &Node{id: int64(len(g.nodes)), Pkgname: pkgname, Pkgbase: pkgbase}
	g.nodes[pkgname] = n
	g.g.AddNode(n)
	return n
}

// BuildAll constructs the dependency graph for every concrete architecture
// from idx. A recipe's "any"-architecture packages are materialized into
// every architecture's graph.
func BuildAll(idx *sourcerepo.Index) (map[buildbtw.ConcreteArchitecture]*Graph, error) {
	graphs := make(map[buildbtw.ConcreteArchitecture]*Graph, len(buildbtw.AllConcreteArchitectures))
	for _, arch := range buildbtw.AllConcreteArchitectures {
		g, err := buildOne(idx, arch)
		if err != nil {
			return nil, xerrors.Errorf("depgraph: building %s graph: %w", arch, err)
		}
		graphs[arch] = g
	}
	return graphs, nil
}

func buildOne(idx *sourcerepo.Index, arch buildbtw.ConcreteArchitecture) (*Graph, error) {
	g := newGraph()

	for _, meta := range idx.ByPkgbase {
		for _, pkg := range sourceInfoPackagesForArch(meta, arch) {
			g.addNode(meta.Pkgbase, pkg.Name)
		}
	}

	for _, meta := range idx.ByPkgbase {
		for _, pkg := range sourceInfoPackagesForArch(meta, arch) {
			dependent, ok := g.Node(pkg.Name)
			if !ok {
				continue
			}
			for _, dep := range pkg.Dependencies {
				if dep.Soname {
					continue // soname relations are resolved by the package manager, not tracked here
				}
				name := dep.StrippedName()
				if name == pkg.Name {
					continue // skip self edges
				}
				dependency, ok := g.Node(name)
				if !ok {
					continue // dependency not produced by any tracked recipe; already built
				}
				g.g.SetEdge(g.g.NewEdge(dependency, dependent))
			}
		}
	}

	return g, nil
}
