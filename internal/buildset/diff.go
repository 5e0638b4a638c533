package buildset

import "github.com/buildbtw/buildbtw"

// NodeDiffKind categorizes how a node differs between two build-set graphs.
type NodeDiffKind int

const (
	NodeAdded NodeDiffKind = iota
	NodeRemoved
	NodeStatusChanged
	// NodeCommitChanged means the pkgbase's tracked commit moved. Node
	// identity is (pkgbase, commit hash): this is reported distinctly from
	// NodeStatusChanged even when the status happens to also differ, since a
	// moved commit always means the inputs changed regardless of status.
	NodeCommitChanged
)

// NodeDiff describes one pkgbase's change between an old and a new graph.
type NodeDiff struct {
	Pkgbase       buildbtw.Pkgbase
	Kind          NodeDiffKind
	OldStatus     buildbtw.PackageBuildStatus
	NewStatus     buildbtw.PackageBuildStatus
	OldCommitHash buildbtw.CommitHash
	NewCommitHash buildbtw.CommitHash
}

// EdgeDiffKind categorizes how an edge differs between two build-set graphs.
type EdgeDiffKind int

const (
	EdgeAdded EdgeDiffKind = iota
	EdgeRemoved
)

// EdgeDiff describes one dependency edge's appearance or disappearance.
type EdgeDiff struct {
	From buildbtw.Pkgbase
	To   buildbtw.Pkgbase
	Kind EdgeDiffKind
}

// Diff is the full set of node and edge changes between two build-set
// graphs for the same architecture.
type Diff struct {
	Nodes []NodeDiff
	Edges []EdgeDiff
}

// Compute diffs old against new. Swapping old and new inverts every
// NodeAdded/NodeRemoved and EdgeAdded/EdgeRemoved entry it produces, and
// turns each NodeStatusChanged entry's Old/New pair around, so Compute(a, b)
// and Compute(b, a) carry the same information in opposite direction.
func Compute(old, new *Graph) Diff {
	var d Diff

	for _, pkgbase := range new.order {
		newNode := new.nodes[pkgbase]
		oldNode, existed := old.nodes[pkgbase]
		switch {
		case !existed:
			d.Nodes = append(d.Nodes, NodeDiff{Pkgbase: pkgbase, Kind: NodeAdded, NewStatus: newNode.Status})
		case oldNode.CommitHash != newNode.CommitHash:
			// Node identity is (pkgbase, commit hash): a moved commit is a
			// change even if the status on either side happens to match.
			d.Nodes = append(d.Nodes, NodeDiff{
				Pkgbase:       pkgbase,
				Kind:          NodeCommitChanged,
				OldStatus:     oldNode.Status,
				NewStatus:     newNode.Status,
				OldCommitHash: oldNode.CommitHash,
				NewCommitHash: newNode.CommitHash,
			})
		case oldNode.Status != newNode.Status:
			d.Nodes = append(d.Nodes, NodeDiff{
				Pkgbase:   pkgbase,
				Kind:      NodeStatusChanged,
				OldStatus: oldNode.Status,
				NewStatus: newNode.Status,
			})
		}
	}
	for _, pkgbase := range old.order {
		if _, stillPresent := new.nodes[pkgbase]; !stillPresent {
			d.Nodes = append(d.Nodes, NodeDiff{Pkgbase: pkgbase, Kind: NodeRemoved, OldStatus: old.nodes[pkgbase].Status})
		}
	}

	for _, from := range new.order {
		for _, to := range new.dependents[from] {
			if !old.edgeSeen[[2]buildbtw.Pkgbase{from, to}] {
				d.Edges = append(d.Edges, EdgeDiff{From: from, To: to, Kind: EdgeAdded})
			}
		}
	}
	for _, from := range old.order {
		for _, to := range old.dependents[from] {
			if !new.edgeSeen[[2]buildbtw.Pkgbase{from, to}] {
				d.Edges = append(d.Edges, EdgeDiff{From: from, To: to, Kind: EdgeRemoved})
			}
		}
	}

	return d
}

// Empty reports whether the diff carries no changes at all.
func (d Diff) Empty() bool {
	return len(d.Nodes) == 0 && len(d.Edges) == 0
}
