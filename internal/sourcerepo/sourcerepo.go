// Package sourcerepo resolves origin git refs to commits and reads the
// .SRCINFO-equivalent recipe blob out of each resulting tree, the way
// autobuilder.go resolves a tracked branch tip before dispatching a build.
package sourcerepo

import (
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw"
)

// ErrNotFound is returned when a ref or path does not exist in a repository.
var ErrNotFound = xerrors.New("sourcerepo: not found")

// RecipePath is the path, relative to a recipe repository's root, of its
// machine-readable recipe file.
const RecipePath = ".SRCINFO"

// Repository is a single checked-out (bare or non-bare) git repository
// holding one pkgbase's recipe.
type Repository interface {
	// ResolveRef resolves ref to the commit it currently points at.
	// A name is looked up as an origin remote-tracking branch first, so
	// that "main" means refs/remotes/origin/main, matching how the control
	// loop tracks a remote branch tip rather than a local checkout; a local
	// branch and then a tag of that name are tried after it.
	ResolveRef(ref buildbtw.GitRef) (buildbtw.CommitHash, error)
	// ReadFile reads path as it exists in commit's tree.
	ReadFile(commit buildbtw.CommitHash, path string) ([]byte, error)
}

// RepositoryProvider opens the repository backing a pkgbase, and enumerates
// every pkgbase it knows about so the metadata index can be built over the
// whole tracked corpus rather than just a namespace's origin set (the
// global dependency graph needs every recipe's dependency list to find a
// changed package's dependents, not only the origins themselves).
type RepositoryProvider interface {
	Open(pkgbase buildbtw.Pkgbase) (Repository, error)
	// ListPkgbases returns every pkgbase tracked by the provider.
	ListPkgbases() ([]buildbtw.Pkgbase, error)
}

// DirProvider opens repositories laid out under a root directory, one
// subdirectory per pkgbase, named after the pkgbase.
type DirProvider struct {
	Root string
}

func NewDirProvider(root string) *DirProvider {
	return &DirProvider{Root: root}
}

func (p *DirProvider) Open(pkgbase buildbtw.Pkgbase) (Repository, error) {
	dir := filepath.Join(p.Root, string(pkgbase))
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, xerrors.Errorf("sourcerepo: opening %s: %w", dir, err)
	}
	return &gitRepository{repo: repo}, nil
}

// ListPkgbases lists every subdirectory of Root that looks like a git
// repository, skipping anything else (cache marker files, stray regular
// files, non-repository directories) rather than failing the batch.
func (p *DirProvider) ListPkgbases() ([]buildbtw.Pkgbase, error) {
	entries, err := os.ReadDir(p.Root)
	if err != nil {
		return nil, xerrors.Errorf("sourcerepo: listing %s: %w", p.Root, err)
	}
	var out []buildbtw.Pkgbase
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(p.Root, entry.Name())
		if _, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true}); err != nil {
			continue
		}
		out = append(out, buildbtw.Pkgbase(entry.Name()))
	}
	return out, nil
}

// RemoteURL returns the configured "origin" remote URL for pkgbase's
// repository, used by the remote-catalog poller to know what to poll
// without requiring a separate pkgbase-to-URL configuration surface.
func (p *DirProvider) RemoteURL(pkgbase buildbtw.Pkgbase) (string, bool) {
	dir := filepath.Join(p.Root, string(pkgbase))
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", false
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", false
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", false
	}
	return urls[0], true
}

// Fetch updates pkgbase's local repository from its origin remote, so a
// subsequent ResolveRef observes the remote's current tip. The remote-catalog
// poller calls this for every origin it finds has moved.
func (p *DirProvider) Fetch(pkgbase buildbtw.Pkgbase) error {
	dir := filepath.Join(p.Root, string(pkgbase))
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return xerrors.Errorf("sourcerepo: opening %s: %w", dir, err)
	}
	err = repo.Fetch(&git.FetchOptions{RemoteName: "origin"})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return xerrors.Errorf("sourcerepo: fetching %s: %w", dir, err)
	}
	return nil
}

type gitRepository struct {
	repo *git.Repository
}

func (r *gitRepository) ResolveRef(ref buildbtw.GitRef) (buildbtw.CommitHash, error) {
	// A 40-character hex string is treated as an already-resolved commit
	// hash.
	if h := plumbing.NewHash(string(ref)); !h.IsZero() && len(ref) == 40 {
		return buildbtw.CommitHash(h.String()), nil
	}

	candidates := []plumbing.ReferenceName{
		plumbing.NewRemoteReferenceName("origin", string(ref)),
		plumbing.NewBranchReferenceName(string(ref)),
		plumbing.NewTagReferenceName(string(ref)),
	}
	for _, name := range candidates {
		reference, err := r.repo.Reference(name, true)
		if err == plumbing.ErrReferenceNotFound {
			continue
		}
		if err != nil {
			return "", xerrors.Errorf("sourcerepo: resolving %s: %w", ref, err)
		}
		return buildbtw.CommitHash(reference.Hash().String()), nil
	}
	return "", xerrors.Errorf("sourcerepo: resolving %s: %w", ref, ErrNotFound)
}

func (r *gitRepository) ReadFile(commit buildbtw.CommitHash, path string) ([]byte, error) {
	hash := plumbing.NewHash(string(commit))
	commitObj, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, xerrors.Errorf("sourcerepo: loading commit %s: %w", commit, err)
	}
	tree, err := commitObj.Tree()
	if err != nil {
		return nil, xerrors.Errorf("sourcerepo: loading tree for %s: %w", commit, err)
	}
	file, err := tree.File(path)
	if err == object.ErrFileNotFound {
		return nil, xerrors.Errorf("sourcerepo: %s @ %s: %w", path, commit, ErrNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("sourcerepo: opening %s @ %s: %w", path, commit, err)
	}
	rd, err := file.Reader()
	if err != nil {
		return nil, xerrors.Errorf("sourcerepo: reading %s @ %s: %w", path, commit, err)
	}
	defer rd.Close()
	return io.ReadAll(rd)
}
