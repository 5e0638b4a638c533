// Package originpoll is the remote-catalog poller referenced in spec §5:
// an independent cooperative task that queries the GitHub API for the tip
// commit of every tracked origin ref, so the control loop's metadata-refresh
// task knows a local clone needs fetching before the next iteration is
// computed. It never touches a local git checkout itself; sourcerepo does
// that once a repo is known to have moved. Client construction mirrors
// autobuilder.go's oauth2.StaticTokenSource-backed github.Client and its
// ListCommits polling in (*autobuilder).run.
package originpoll

import (
	"context"
	"strings"
	"sync"

	"github.com/google/go-github/v45/github"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw"
)

// Poller periodically resolves the tip commit of a tracked GitHub repo/ref.
type Poller struct {
	client *github.Client

	mu   sync.Mutex
	tips map[buildbtw.GitRepoRef]buildbtw.CommitHash
}

// New builds a Poller authenticated with accessToken, the same
// oauth2.StaticTokenSource construction autobuilder.go uses before listing
// commits.
func New(ctx context.Context, accessToken string) *Poller {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	tc := oauth2.NewClient(ctx, ts)
	return &Poller{
		client: github.NewClient(tc),
		tips:   map[buildbtw.GitRepoRef]buildbtw.CommitHash{},
	}
}

// RepoURLFunc resolves a pkgbase to the GitHub repository URL tracking its
// recipe, injected by the caller since the core has no opinion on naming.
type RepoURLFunc func(pkgbase buildbtw.Pkgbase) (repoURL string, ok bool)

// Moved reports which of origins have a tip commit on GitHub different from
// the last observed tip, resolving repoURL via resolve. An origin whose
// repository URL cannot be resolved, or whose ref cannot be fetched from
// the GitHub API, is skipped rather than failing the whole poll: a
// transient GitHub outage must not block every other namespace's tick.
func (p *Poller) Moved(ctx context.Context, origins []buildbtw.GitRepoRef, resolve RepoURLFunc) ([]buildbtw.GitRepoRef, error) {
	var moved []buildbtw.GitRepoRef
	for _, origin := range origins {
		repoURL, ok := resolve(origin.Pkgbase)
		if !ok {
			continue
		}
		owner, repo, err := splitRepoURL(repoURL)
		if err != nil {
			continue
		}
		branch, _, err := p.client.Repositories.GetBranch(ctx, owner, repo, string(origin.Ref), false)
		if err != nil {
			continue
		}
		tip := buildbtw.CommitHash(branch.GetCommit().GetSHA())
		if tip == "" {
			continue
		}

		p.mu.Lock()
		prev, known := p.tips[origin]
		p.tips[origin] = tip
		p.mu.Unlock()

		if known && prev != tip {
			moved = append(moved, origin)
		}
	}
	return moved, nil
}

func splitRepoURL(repoURL string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimPrefix(repoURL, "https://github.com/"), "/")
	if len(parts) != 2 {
		return "", "", xerrors.Errorf("originpoll: malformed repo URL %q", repoURL)
	}
	return parts[0], parts[1], nil
}
