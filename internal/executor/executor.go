// Package executor dispatches a scheduled build to wherever it actually
// runs, and reports back the remote status so the control loop can fold it
// into a build-set graph's node status.
package executor

import (
	"context"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/scheduler"
)

// RemoteStatus is the state of a dispatched build as reported by whatever
// system actually ran it (a CI pipeline, a local worker process).
type RemoteStatus int

const (
	RemoteStatusUnknown RemoteStatus = iota
	RemoteStatusQueued
	RemoteStatusRunning
	RemoteStatusSucceeded
	RemoteStatusFailed
	RemoteStatusCancelled
)

func (s RemoteStatus) String() string {
	switch s {
	case RemoteStatusQueued:
		return "queued"
	case RemoteStatusRunning:
		return "running"
	case RemoteStatusSucceeded:
		return "succeeded"
	case RemoteStatusFailed:
		return "failed"
	case RemoteStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// BuildStatus maps a RemoteStatus to the PackageBuildStatus the control loop
// should fold into the build-set graph. Every status that is not a final
// outcome (queued, running, unknown) maps to Building, so the node keeps
// being polled. Cancelled is treated the same as Failed: the namespace's
// next tick will recompute and retry if the origin set still calls for it.
func (s RemoteStatus) BuildStatus() buildbtw.PackageBuildStatus {
	switch s {
	case RemoteStatusQueued, RemoteStatusRunning:
		return buildbtw.StatusBuilding
	case RemoteStatusSucceeded:
		return buildbtw.StatusBuilt
	case RemoteStatusFailed, RemoteStatusCancelled:
		return buildbtw.StatusFailed
	default:
		return buildbtw.StatusBuilding
	}
}

// PipelineRef identifies a dispatched build within whatever system is
// executing it, opaque to the scheduler.
type PipelineRef struct {
	// ID is the executor-specific identifier (a workflow run ID, a job
	// URL path, ...).
	ID string
	// URL is a human-facing link to the build's logs or status page.
	URL string
}

// Executor dispatches builds and reports on their progress.
type Executor interface {
	// Dispatch starts a build for the given descriptor and returns a
	// reference the control loop can later poll with Status.
	Dispatch(ctx context.Context, build *scheduler.BuildDescriptor) (PipelineRef, error)
	// Status polls the current state of a previously dispatched build.
	Status(ctx context.Context, ref PipelineRef) (RemoteStatus, error)
}
