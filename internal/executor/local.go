package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw/internal/scheduler"
)

// LocalExecutor dispatches builds to a buildbtw-worker process over plain
// HTTP, the same fire-and-forget POST a local (non-CI) build takes in the
// original scheduler.
type LocalExecutor struct {
	// BaseURL is the worker's HTTP endpoint, e.g. "http://127.0.0.1:8090".
	BaseURL string
	Client  *http.Client
}

func NewLocalExecutor(baseURL string) *LocalExecutor {
	return &LocalExecutor{BaseURL: baseURL, Client: http.DefaultClient}
}

type scheduleRequest struct {
	Pkgbase      string   `json:"pkgbase"`
	CommitHash   string   `json:"commit_hash"`
	BranchName   string   `json:"branch_name"`
	Architecture string   `json:"architecture"`
	Pkgnames     []string `json:"pkgnames"`
}

type scheduleResponse struct {
	ID string `json:"id"`
}

func (e *LocalExecutor) Dispatch(ctx context.Context, build *scheduler.BuildDescriptor) (PipelineRef, error) {
	pkgnames := make([]string, len(build.Pkgnames))
	for i, n := range build.Pkgnames {
		pkgnames[i] = string(n)
	}
	reqBody, err := json.Marshal(scheduleRequest{
		Pkgbase:      string(build.Pkgbase),
		CommitHash:   string(build.CommitHash),
		BranchName:   string(build.BranchName),
		Architecture: build.Architecture.String(),
		Pkgnames:     pkgnames,
	})
	if err != nil {
		return PipelineRef{}, xerrors.Errorf("executor: encoding schedule request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/build/schedule", bytes.NewReader(reqBody))
	if err != nil {
		return PipelineRef{}, xerrors.Errorf("executor: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return PipelineRef{}, xerrors.Errorf("executor: dispatching to worker: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return PipelineRef{}, xerrors.Errorf("executor: worker returned %s", resp.Status)
	}

	var sresp scheduleResponse
	if err := json.NewDecoder(resp.Body).Decode(&sresp); err != nil {
		return PipelineRef{}, xerrors.Errorf("executor: decoding schedule response: %w", err)
	}
	return PipelineRef{ID: sresp.ID, URL: e.BaseURL + "/build/status/" + sresp.ID}, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

var remoteStatusByName = map[string]RemoteStatus{
	"queued":    RemoteStatusQueued,
	"running":   RemoteStatusRunning,
	"succeeded": RemoteStatusSucceeded,
	"failed":    RemoteStatusFailed,
	"cancelled": RemoteStatusCancelled,
}

func (e *LocalExecutor) Status(ctx context.Context, ref PipelineRef) (RemoteStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+"/build/status/"+ref.ID, nil)
	if err != nil {
		return RemoteStatusUnknown, xerrors.Errorf("executor: building status request: %w", err)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return RemoteStatusUnknown, xerrors.Errorf("executor: polling worker: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RemoteStatusUnknown, xerrors.Errorf("executor: reading status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return RemoteStatusUnknown, xerrors.Errorf("executor: worker returned %s: %s", resp.Status, body)
	}

	var sresp statusResponse
	if err := json.Unmarshal(body, &sresp); err != nil {
		return RemoteStatusUnknown, xerrors.Errorf("executor: decoding status response: %w", err)
	}
	status, ok := remoteStatusByName[sresp.Status]
	if !ok {
		return RemoteStatusUnknown, nil
	}
	return status, nil
}
