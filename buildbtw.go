// Package buildbtw holds the types shared across the rebuild orchestrator:
// the identifiers that name packages and commits, and the namespace that
// groups a chosen set of origin packages together with the iterations it
// has spawned.
package buildbtw

import "time"

// Pkgbase identifies a source recipe. One recipe produces one or more
// binary packages.
type Pkgbase string

// Pkgname identifies a produced binary package.
type Pkgname string

// GitRef is a branch name, tag, or commit hash understood by the source
// repository provider.
type GitRef string

// BranchName is the git branch tracked for a given origin pkgbase.
type BranchName string

// CommitHash is an unambiguous git commit hash.
type CommitHash string

// GitRepoRef names the root of a rebuild: a source repository and the ref
// whose tip should be tracked.
type GitRepoRef struct {
	Pkgbase Pkgbase
	Ref     GitRef
}

// NamespaceStatus is the lifecycle state of a Namespace.
type NamespaceStatus int

const (
	NamespaceActive NamespaceStatus = iota
	NamespaceCancelled
)

func (s NamespaceStatus) String() string {
	switch s {
	case NamespaceActive:
		return "active"
	case NamespaceCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Namespace is a user-facing grouping of a chosen origin set and the
// sequence of iterations it has spawned.
type Namespace struct {
	ID        string
	Name      string
	Origin    []GitRepoRef
	Status    NamespaceStatus
	CreatedAt time.Time
}

// PackageBuildStatus is the state of one node in a build-set graph.
type PackageBuildStatus int

const (
	// StatusBlocked means other unbuilt dependencies are blocking this node.
	StatusBlocked PackageBuildStatus = iota
	// StatusPending means this node is waiting to be scheduled.
	StatusPending
	// StatusScheduled means the scheduler reserved this node for dispatch.
	StatusScheduled
	// StatusBuilding means the executor has started building this node.
	StatusBuilding
	// StatusBuilt means the build succeeded.
	StatusBuilt
	// StatusFailed means the build failed.
	StatusFailed
)

func (s PackageBuildStatus) String() string {
	switch s {
	case StatusBlocked:
		return "blocked"
	case StatusPending:
		return "pending"
	case StatusScheduled:
		return "scheduled"
	case StatusBuilding:
		return "building"
	case StatusBuilt:
		return "built"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether status cannot leave this state within an
// iteration (invariant I5).
func (s PackageBuildStatus) Terminal() bool {
	return s == StatusBuilt || s == StatusFailed
}
