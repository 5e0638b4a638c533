package sourcerepo

import (
	"log"

	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/sourceinfo"
)

// DefaultBranch is the branch tracked for a pkgbase absent an origin set
// override.
const DefaultBranch buildbtw.BranchName = "main"

// ErrMissingOriginPkgbase is returned when an origin names a pkgbase the
// gather pass never found metadata for.
var ErrMissingOriginPkgbase = xerrors.New("sourcerepo: origin pkgbase has no metadata")

// Metadata is the resolved recipe state for a single pkgbase at a specific
// commit.
type Metadata struct {
	Pkgbase    buildbtw.Pkgbase
	Commit     buildbtw.CommitHash
	BranchName buildbtw.BranchName
	Recipe     *sourceinfo.SourceInfo
}

// Index is the set of resolved recipes backing one namespace's build.
type Index struct {
	ByPkgbase map[buildbtw.Pkgbase]*Metadata
	// ProvidedBy maps every pkgname produced by any recipe in the index
	// back to the pkgbase that produces it.
	ProvidedBy map[buildbtw.Pkgname]buildbtw.Pkgbase
}

// RecipeCache avoids re-reading and re-parsing a recipe blob already seen at
// the same commit, keyed by pkgbase and commit so that two namespaces
// tracking the same branch at the same tip share one parse.
type RecipeCache struct {
	entries map[buildbtw.Pkgbase]map[buildbtw.CommitHash]*sourceinfo.SourceInfo
}

func newRecipeCache() *RecipeCache {
	return &RecipeCache{entries: map[buildbtw.Pkgbase]map[buildbtw.CommitHash]*sourceinfo.SourceInfo{}}
}

func (c *RecipeCache) get(pkgbase buildbtw.Pkgbase, commit buildbtw.CommitHash) (*sourceinfo.SourceInfo, bool) {
	byCommit, ok := c.entries[pkgbase]
	if !ok {
		return nil, false
	}
	si, ok := byCommit[commit]
	return si, ok
}

func (c *RecipeCache) put(pkgbase buildbtw.Pkgbase, commit buildbtw.CommitHash, si *sourceinfo.SourceInfo) {
	byCommit, ok := c.entries[pkgbase]
	if !ok {
		byCommit = map[buildbtw.CommitHash]*sourceinfo.SourceInfo{}
		c.entries[pkgbase] = byCommit
	}
	byCommit[commit] = si
}

// Gather builds the metadata index over every pkgbase the provider knows
// about, not merely the namespace's origin set: the global dependency graph
// needs the full corpus to find a changed package's dependents. origins
// only override which branch is tracked for the named pkgbases (default
// DefaultBranch); an origin pkgbase the provider doesn't know about, or
// whose tracked branch or recipe is unreadable, makes Gather fail with
// ErrMissingOriginPkgbase, matching spec kind MetadataParse/MissingOriginPkgbase:
// any other repo's parse failure or missing branch is logged and skipped,
// it just never enters the index.
func Gather(provider RepositoryProvider, cache *RecipeCache, origins []buildbtw.GitRepoRef) (*Index, error) {
	if cache == nil {
		cache = newRecipeCache()
	}
	branchOverride := make(map[buildbtw.Pkgbase]buildbtw.BranchName, len(origins))
	for _, origin := range origins {
		branchOverride[origin.Pkgbase] = buildbtw.BranchName(origin.Ref)
	}

	pkgbases, err := provider.ListPkgbases()
	if err != nil {
		return nil, xerrors.Errorf("sourcerepo: listing tracked repos: %w", err)
	}

	idx := &Index{
		ByPkgbase:  map[buildbtw.Pkgbase]*Metadata{},
		ProvidedBy: map[buildbtw.Pkgname]buildbtw.Pkgbase{},
	}
	for _, pkgbase := range pkgbases {
		branch := DefaultBranch
		if b, ok := branchOverride[pkgbase]; ok {
			branch = b
		}

		repo, err := provider.Open(pkgbase)
		if err != nil {
			log.Printf("sourcerepo: skipping %s: %v", pkgbase, err)
			continue
		}
		commit, err := repo.ResolveRef(buildbtw.GitRef(branch))
		if err != nil {
			log.Printf("sourcerepo: skipping %s (no tracked branch %s): %v", pkgbase, branch, err)
			continue
		}
		si, ok := cache.get(pkgbase, commit)
		if !ok {
			data, err := repo.ReadFile(commit, RecipePath)
			if err != nil {
				log.Printf("sourcerepo: skipping %s@%s (no recipe): %v", pkgbase, commit, err)
				continue
			}
			si, err = sourceinfo.Parse(data)
			if err != nil {
				log.Printf("sourcerepo: skipping %s@%s (malformed recipe): %v", pkgbase, commit, err)
				continue
			}
			cache.put(pkgbase, commit, si)
		}
		idx.ByPkgbase[pkgbase] = &Metadata{
			Pkgbase:    pkgbase,
			Commit:     commit,
			BranchName: branch,
			Recipe:     si,
		}
		for _, pkg := range si.Packages {
			idx.ProvidedBy[pkg.Name] = pkgbase
		}
	}

	for _, origin := range origins {
		if _, ok := idx.ByPkgbase[origin.Pkgbase]; !ok {
			return nil, xerrors.Errorf("sourcerepo: origin %s@%s: %w", origin.Pkgbase, origin.Ref, ErrMissingOriginPkgbase)
		}
	}

	return idx, nil
}

// NewCache constructs an empty recipe cache, reused across ticks of the
// control loop so a pkgbase whose tracked commit hasn't moved is not
// re-fetched and re-parsed.
func NewCache() *RecipeCache {
	return newRecipeCache()
}
