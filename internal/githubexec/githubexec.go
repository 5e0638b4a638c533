// Package githubexec dispatches builds as GitHub Actions workflow runs and
// polls their status, the remote-build counterpart to executor.LocalExecutor
// for recipes whose build definition lives alongside a GitHub Actions
// workflow rather than running on a local worker. Client construction
// mirrors autobuilder.go's oauth2.StaticTokenSource-backed github.Client.
package githubexec

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/go-github/v45/github"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw/internal/executor"
	"github.com/buildbtw/buildbtw/internal/scheduler"
)

// Executor dispatches builds via the GitHub Actions
// workflow_dispatch API and polls run status through the Actions API.
type Executor struct {
	client     *github.Client
	owner      string
	repo       string
	workflowID string
}

// New builds a GitHub Actions executor for the given "owner/repo", using
// accessToken for both dispatching and polling.
func New(ctx context.Context, repoURL, workflowID, accessToken string) (*Executor, error) {
	owner, repo, err := splitRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	tc := oauth2.NewClient(ctx, ts)
	return &Executor{
		client:     github.NewClient(tc),
		owner:      owner,
		repo:       repo,
		workflowID: workflowID,
	}, nil
}

func splitRepoURL(repoURL string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimPrefix(repoURL, "https://github.com/"), "/")
	if len(parts) != 2 {
		return "", "", xerrors.Errorf("githubexec: malformed repo URL %q", repoURL)
	}
	return parts[0], parts[1], nil
}

func (e *Executor) Dispatch(ctx context.Context, build *scheduler.BuildDescriptor) (executor.PipelineRef, error) {
	event := github.CreateWorkflowDispatchEventRequest{
		Ref: string(build.BranchName),
		Inputs: map[string]interface{}{
			"pkgbase":      string(build.Pkgbase),
			"commit_hash":  string(build.CommitHash),
			"architecture": build.Architecture.String(),
			"namespace":    build.NamespaceID,
			"iteration":    build.IterationID,
		},
	}
	_, err := e.client.Actions.CreateWorkflowDispatchEventByFileName(ctx, e.owner, e.repo, e.workflowID, event)
	if err != nil {
		return executor.PipelineRef{}, xerrors.Errorf("githubexec: dispatching workflow for %s: %w", build.Pkgbase, err)
	}

	// workflow_dispatch does not return the created run's ID, so the most
	// recently queued run for this workflow on this ref is used as the
	// pipeline reference.
	runs, _, err := e.client.Actions.ListWorkflowRunsByFileName(ctx, e.owner, e.repo, e.workflowID, &github.ListWorkflowRunsOptions{
		Branch:      string(build.BranchName),
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return executor.PipelineRef{}, xerrors.Errorf("githubexec: listing workflow runs for %s: %w", build.Pkgbase, err)
	}
	if len(runs.WorkflowRuns) == 0 {
		return executor.PipelineRef{}, xerrors.Errorf("githubexec: no workflow run found after dispatch for %s", build.Pkgbase)
	}
	run := runs.WorkflowRuns[0]
	return executor.PipelineRef{
		ID:  strconv.FormatInt(run.GetID(), 10),
		URL: run.GetHTMLURL(),
	}, nil
}

func (e *Executor) Status(ctx context.Context, ref executor.PipelineRef) (executor.RemoteStatus, error) {
	runID, err := strconv.ParseInt(ref.ID, 10, 64)
	if err != nil {
		return executor.RemoteStatusUnknown, xerrors.Errorf("githubexec: malformed run id %q: %w", ref.ID, err)
	}
	run, _, err := e.client.Actions.GetWorkflowRunByID(ctx, e.owner, e.repo, runID)
	if err != nil {
		return executor.RemoteStatusUnknown, xerrors.Errorf("githubexec: fetching run %s: %w", ref.ID, err)
	}
	return mapStatus(run.GetStatus(), run.GetConclusion()), nil
}

func mapStatus(status, conclusion string) executor.RemoteStatus {
	switch status {
	case "queued":
		return executor.RemoteStatusQueued
	case "in_progress":
		return executor.RemoteStatusRunning
	case "completed":
		switch conclusion {
		case "success":
			return executor.RemoteStatusSucceeded
		case "cancelled":
			return executor.RemoteStatusCancelled
		default:
			return executor.RemoteStatusFailed
		}
	default:
		return executor.RemoteStatusUnknown
	}
}
