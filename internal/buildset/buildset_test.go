package buildset

import (
	"testing"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/depgraph"
	"github.com/buildbtw/buildbtw/internal/sourceinfo"
	"github.com/buildbtw/buildbtw/internal/sourcerepo"
)

func mustParse(t *testing.T, data string) *sourceinfo.SourceInfo {
	t.Helper()
	si, err := sourceinfo.Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return si
}

func chainIndex(t *testing.T) *sourcerepo.Index {
	idx := &sourcerepo.Index{
		ByPkgbase:  map[buildbtw.Pkgbase]*sourcerepo.Metadata{},
		ProvidedBy: map[buildbtw.Pkgname]buildbtw.Pkgbase{},
	}
	add := func(pkgbase buildbtw.Pkgbase, commit buildbtw.CommitHash, dep buildbtw.Pkgname) {
		depLine := ""
		if dep != "" {
			depLine = "\tdepends = " + string(dep) + "\n"
		}
		data := "pkgbase = " + string(pkgbase) + "\n\tpkgver = 1\n\tpkgrel = 1\n\tarch = x86_64\n" + depLine + "\npkgname = " + string(pkgbase) + "\n"
		si := mustParse(t, data)
		idx.ByPkgbase[pkgbase] = &sourcerepo.Metadata{Pkgbase: pkgbase, Commit: commit, Recipe: si}
		idx.ProvidedBy[buildbtw.Pkgname(pkgbase)] = pkgbase
	}
	add("app", "c1", "libfoo")
	add("libfoo", "c2", "libbar")
	add("libbar", "c3", "")
	return idx
}

func TestBuildWalksTransitiveDependents(t *testing.T) {
	idx := chainIndex(t)
	globalGraphs, err := depgraph.BuildAll(idx)
	if err != nil {
		t.Fatal(err)
	}
	// libbar changed; libfoo depends on libbar, and app depends on libfoo,
	// so both must be rebuilt.
	origins := []buildbtw.GitRepoRef{{Pkgbase: "libbar", Ref: "main"}}
	g := Build(origins, globalGraphs[buildbtw.X86_64], idx, buildbtw.X86_64)

	if len(g.Nodes()) != 3 {
		t.Fatalf("nodes = %+v, want 3", g.Nodes())
	}
	if dependents := g.Dependents("libbar"); len(dependents) != 1 || dependents[0] != "libfoo" {
		t.Fatalf("libbar's dependents = %v, want [libfoo]", dependents)
	}
	if dependents := g.Dependents("libfoo"); len(dependents) != 1 || dependents[0] != "app" {
		t.Fatalf("libfoo's dependents = %v, want [app]", dependents)
	}
	if deps := g.Dependencies("app"); len(deps) != 1 || deps[0] != "libfoo" {
		t.Fatalf("app's dependencies = %v, want [libfoo]", deps)
	}
	if !g.IsAcyclic() {
		t.Fatal("expected acyclic graph")
	}
}

func TestBuildToleratesCycles(t *testing.T) {
	idx := &sourcerepo.Index{
		ByPkgbase:  map[buildbtw.Pkgbase]*sourcerepo.Metadata{},
		ProvidedBy: map[buildbtw.Pkgname]buildbtw.Pkgbase{},
	}
	a := mustParse(t, `pkgbase = a
	pkgver = 1
	pkgrel = 1
	arch = x86_64
	depends = b

pkgname = a
`)
	b := mustParse(t, `pkgbase = b
	pkgver = 1
	pkgrel = 1
	arch = x86_64
	depends = a

pkgname = b
`)
	idx.ByPkgbase["a"] = &sourcerepo.Metadata{Pkgbase: "a", Commit: "c1", Recipe: a}
	idx.ByPkgbase["b"] = &sourcerepo.Metadata{Pkgbase: "b", Commit: "c2", Recipe: b}
	idx.ProvidedBy["a"] = "a"
	idx.ProvidedBy["b"] = "b"

	globalGraphs, err := depgraph.BuildAll(idx)
	if err != nil {
		t.Fatal(err)
	}

	origins := []buildbtw.GitRepoRef{{Pkgbase: "a", Ref: "main"}}
	g := Build(origins, globalGraphs[buildbtw.X86_64], idx, buildbtw.X86_64)

	if len(g.Nodes()) != 2 {
		t.Fatalf("nodes = %+v, want 2", g.Nodes())
	}
	if g.IsAcyclic() {
		t.Fatal("expected cyclic graph to be rejected")
	}
}

func TestBuildSkipsOriginWithNoPackagesForArchitecture(t *testing.T) {
	idx := &sourcerepo.Index{
		ByPkgbase:  map[buildbtw.Pkgbase]*sourcerepo.Metadata{},
		ProvidedBy: map[buildbtw.Pkgname]buildbtw.Pkgbase{},
	}
	// armv7h-only recipe: has no packages at all for x86_64.
	armOnly := mustParse(t, `pkgbase = armtool
	pkgver = 1
	pkgrel = 1
	arch = armv7h

pkgname = armtool
`)
	idx.ByPkgbase["armtool"] = &sourcerepo.Metadata{Pkgbase: "armtool", Commit: "c1", Recipe: armOnly}
	idx.ProvidedBy["armtool"] = "armtool"

	globalGraphs, err := depgraph.BuildAll(idx)
	if err != nil {
		t.Fatal(err)
	}
	origins := []buildbtw.GitRepoRef{{Pkgbase: "armtool", Ref: "main"}}
	g := Build(origins, globalGraphs[buildbtw.X86_64], idx, buildbtw.X86_64)

	if len(g.Nodes()) != 0 {
		t.Fatalf("nodes = %+v, want none: an origin with no x86_64 packages must not get a phantom node", g.Nodes())
	}
}

func TestComputeDiffIsAntisymmetric(t *testing.T) {
	idx := chainIndex(t)
	globalGraphs, err := depgraph.BuildAll(idx)
	if err != nil {
		t.Fatal(err)
	}
	origins := []buildbtw.GitRepoRef{{Pkgbase: "libbar", Ref: "main"}}
	old := Build(origins, globalGraphs[buildbtw.X86_64], idx, buildbtw.X86_64)
	old.SetStatus("app", buildbtw.StatusBlocked)
	old.SetStatus("libfoo", buildbtw.StatusBlocked)
	old.SetStatus("libbar", buildbtw.StatusPending)

	newG := old.Clone()
	newG.SetStatus("libbar", buildbtw.StatusBuilt)
	newG.SetStatus("libfoo", buildbtw.StatusPending)

	forward := Compute(old, newG)
	backward := Compute(newG, old)

	if len(forward.Nodes) != 2 || len(backward.Nodes) != 2 {
		t.Fatalf("forward=%+v backward=%+v, want 2 status changes each", forward.Nodes, backward.Nodes)
	}
	for i, fwd := range forward.Nodes {
		bwd := backward.Nodes[i]
		if fwd.Pkgbase != bwd.Pkgbase {
			t.Fatalf("pkgbase order mismatch: %q vs %q", fwd.Pkgbase, bwd.Pkgbase)
		}
		if fwd.OldStatus != bwd.NewStatus || fwd.NewStatus != bwd.OldStatus {
			t.Fatalf("diff not antisymmetric for %s: fwd=%+v bwd=%+v", fwd.Pkgbase, fwd, bwd)
		}
	}
}

func TestComputeDiffDetectsCommitChangeWithUnchangedStatus(t *testing.T) {
	idx := chainIndex(t)
	globalGraphs, err := depgraph.BuildAll(idx)
	if err != nil {
		t.Fatal(err)
	}
	origins := []buildbtw.GitRepoRef{{Pkgbase: "libbar", Ref: "main"}}
	old := Build(origins, globalGraphs[buildbtw.X86_64], idx, buildbtw.X86_64)
	old.SetStatus("libbar", buildbtw.StatusBuilt)

	newG := old.Clone()
	node, _ := newG.Node("libbar")
	node.CommitHash = "c3-new"

	d := Compute(old, newG)
	if d.Empty() {
		t.Fatal("expected a non-empty diff when a node's tracked commit moves, even with status unchanged")
	}
	found := false
	for _, nd := range d.Nodes {
		if nd.Pkgbase == "libbar" {
			found = true
			if nd.Kind != NodeCommitChanged {
				t.Fatalf("kind = %v, want NodeCommitChanged", nd.Kind)
			}
			if nd.OldCommitHash != "c3" || nd.NewCommitHash != "c3-new" {
				t.Fatalf("commit hashes = %q -> %q", nd.OldCommitHash, nd.NewCommitHash)
			}
		}
	}
	if !found {
		t.Fatal("expected a diff entry for libbar")
	}
}

func TestComputeDiffEmpty(t *testing.T) {
	idx := chainIndex(t)
	globalGraphs, err := depgraph.BuildAll(idx)
	if err != nil {
		t.Fatal(err)
	}
	origins := []buildbtw.GitRepoRef{{Pkgbase: "libbar", Ref: "main"}}
	g := Build(origins, globalGraphs[buildbtw.X86_64], idx, buildbtw.X86_64)
	clone := g.Clone()
	if d := Compute(g, clone); !d.Empty() {
		t.Fatalf("expected empty diff, got %+v", d)
	}
}
