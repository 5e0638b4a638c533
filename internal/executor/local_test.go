package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/scheduler"
)

// fakeWorker is a minimal stand-in for cmd/buildbtw-worker's HTTP handlers,
// just enough to exercise LocalExecutor's request/response encoding without
// pulling in a command's main package.
type fakeWorker struct {
	gotSchedule scheduleRequest
	status      string
}

func (w *fakeWorker) handleSchedule(rw http.ResponseWriter, r *http.Request) {
	if err := json.NewDecoder(r.Body).Decode(&w.gotSchedule); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	json.NewEncoder(rw).Encode(scheduleResponse{ID: "42"})
}

func (w *fakeWorker) handleStatus(rw http.ResponseWriter, r *http.Request) {
	json.NewEncoder(rw).Encode(statusResponse{Status: w.status})
}

func newTestExecutor(t *testing.T, w *fakeWorker) *LocalExecutor {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/build/schedule", w.handleSchedule)
	mux.HandleFunc("/build/status/42", w.handleStatus)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewLocalExecutor(srv.URL)
}

func TestDispatchSendsBuildDescriptorAndReturnsStatusURL(t *testing.T) {
	w := &fakeWorker{}
	e := newTestExecutor(t, w)

	build := &scheduler.BuildDescriptor{
		Pkgbase:      "libfoo",
		CommitHash:   "deadbeef",
		BranchName:   "main",
		Architecture: buildbtw.X86_64,
		Pkgnames:     []buildbtw.Pkgname{"libfoo", "libfoo-dev"},
	}

	ref, err := e.Dispatch(context.Background(), build)
	if err != nil {
		t.Fatal(err)
	}
	if ref.ID != "42" {
		t.Fatalf("ID = %q, want 42", ref.ID)
	}
	if ref.URL != e.BaseURL+"/build/status/42" {
		t.Fatalf("URL = %q", ref.URL)
	}

	if w.gotSchedule.Pkgbase != "libfoo" || w.gotSchedule.CommitHash != "deadbeef" ||
		w.gotSchedule.BranchName != "main" || w.gotSchedule.Architecture != "x86_64" {
		t.Fatalf("worker received %+v", w.gotSchedule)
	}
	if len(w.gotSchedule.Pkgnames) != 2 || w.gotSchedule.Pkgnames[0] != "libfoo" || w.gotSchedule.Pkgnames[1] != "libfoo-dev" {
		t.Fatalf("pkgnames = %v", w.gotSchedule.Pkgnames)
	}
}

func TestStatusMapsEveryKnownWorkerStatusString(t *testing.T) {
	for name, want := range remoteStatusByName {
		w := &fakeWorker{status: name}
		e := newTestExecutor(t, w)

		got, err := e.Status(context.Background(), PipelineRef{ID: "42"})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s: status = %v, want %v", name, got, want)
		}
	}
}

func TestStatusReturnsUnknownForUnrecognizedWorkerStatusString(t *testing.T) {
	w := &fakeWorker{status: "bogus"}
	e := newTestExecutor(t, w)

	got, err := e.Status(context.Background(), PipelineRef{ID: "42"})
	if err != nil {
		t.Fatal(err)
	}
	if got != RemoteStatusUnknown {
		t.Fatalf("status = %v, want Unknown", got)
	}
}

func TestDispatchFailsOnNonSuccessStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/build/schedule", func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	e := NewLocalExecutor(srv.URL)

	_, err := e.Dispatch(context.Background(), &scheduler.BuildDescriptor{
		Pkgbase:      "libfoo",
		Architecture: buildbtw.X86_64,
	})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
