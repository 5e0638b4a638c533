package sourcerepo

import (
	"testing"

	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw"
)

// fakeRepository is an in-memory Repository backing fakeProvider's tests.
type fakeRepository struct {
	branches map[buildbtw.GitRef]buildbtw.CommitHash
	files    map[buildbtw.CommitHash]map[string][]byte
}

func (r *fakeRepository) ResolveRef(ref buildbtw.GitRef) (buildbtw.CommitHash, error) {
	c, ok := r.branches[ref]
	if !ok {
		return "", ErrNotFound
	}
	return c, nil
}

func (r *fakeRepository) ReadFile(commit buildbtw.CommitHash, path string) ([]byte, error) {
	byPath, ok := r.files[commit]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := byPath[path]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

type fakeProvider struct {
	repos map[buildbtw.Pkgbase]*fakeRepository
}

func (p *fakeProvider) Open(pkgbase buildbtw.Pkgbase) (Repository, error) {
	r, ok := p.repos[pkgbase]
	if !ok {
		return nil, xerrors.Errorf("fakeProvider: %s: %w", pkgbase, ErrNotFound)
	}
	return r, nil
}

func (p *fakeProvider) ListPkgbases() ([]buildbtw.Pkgbase, error) {
	out := make([]buildbtw.Pkgbase, 0, len(p.repos))
	for pkgbase := range p.repos {
		out = append(out, pkgbase)
	}
	return out, nil
}

const srcinfo = `pkgbase = %s
	pkgver = 1
	pkgrel = 1
	arch = x86_64

pkgname = %s
`

func repoOnMain(pkgbase buildbtw.Pkgbase, commit buildbtw.CommitHash) *fakeRepository {
	return &fakeRepository{
		branches: map[buildbtw.GitRef]buildbtw.CommitHash{"main": commit},
		files: map[buildbtw.CommitHash]map[string][]byte{
			commit: {RecipePath: []byte(sprintfSrcinfo(pkgbase))},
		},
	}
}

func sprintfSrcinfo(pkgbase buildbtw.Pkgbase) string {
	return "pkgbase = " + string(pkgbase) + "\n\tpkgver = 1\n\tpkgrel = 1\n\tarch = x86_64\n\npkgname = " + string(pkgbase) + "\n"
}

func TestGatherScansWholeCorpusNotJustOrigins(t *testing.T) {
	provider := &fakeProvider{repos: map[buildbtw.Pkgbase]*fakeRepository{
		"app":     repoOnMain("app", "c1"),
		"libfoo":  repoOnMain("libfoo", "c2"),
		"unrelated": repoOnMain("unrelated", "c3"),
	}}
	idx, err := Gather(provider, nil, []buildbtw.GitRepoRef{{Pkgbase: "app", Ref: "main"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.ByPkgbase) != 3 {
		t.Fatalf("ByPkgbase = %+v, want all 3 repos indexed", idx.ByPkgbase)
	}
}

func TestGatherUsesOriginBranchOverride(t *testing.T) {
	repo := &fakeRepository{
		branches: map[buildbtw.GitRef]buildbtw.CommitHash{
			"main":    "c1",
			"feature": "c2",
		},
		files: map[buildbtw.CommitHash]map[string][]byte{
			"c1": {RecipePath: []byte(sprintfSrcinfo("app"))},
			"c2": {RecipePath: []byte(sprintfSrcinfo("app"))},
		},
	}
	provider := &fakeProvider{repos: map[buildbtw.Pkgbase]*fakeRepository{"app": repo}}
	idx, err := Gather(provider, nil, []buildbtw.GitRepoRef{{Pkgbase: "app", Ref: "feature"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := idx.ByPkgbase["app"].Commit; got != "c2" {
		t.Fatalf("commit = %s, want c2 (feature branch override)", got)
	}
}

func TestGatherMissingOriginPkgbaseFails(t *testing.T) {
	provider := &fakeProvider{repos: map[buildbtw.Pkgbase]*fakeRepository{
		"app": repoOnMain("app", "c1"),
	}}
	_, err := Gather(provider, nil, []buildbtw.GitRepoRef{{Pkgbase: "ghost", Ref: "main"}})
	if !xerrors.Is(err, ErrMissingOriginPkgbase) {
		t.Fatalf("err = %v, want ErrMissingOriginPkgbase", err)
	}
}

func TestGatherSkipsRepoMissingTrackedBranch(t *testing.T) {
	provider := &fakeProvider{repos: map[buildbtw.Pkgbase]*fakeRepository{
		"app":     repoOnMain("app", "c1"),
		"nobranch": {branches: map[buildbtw.GitRef]buildbtw.CommitHash{}},
	}}
	idx, err := Gather(provider, nil, []buildbtw.GitRepoRef{{Pkgbase: "app", Ref: "main"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.ByPkgbase["nobranch"]; ok {
		t.Fatal("expected repo with no tracked branch to be skipped")
	}
}
