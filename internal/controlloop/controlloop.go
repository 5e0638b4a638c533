// Package controlloop drives namespaces forward: it is the "namespace
// control loop" of spec §4.6, a periodic task sharing the persistent store
// with the metadata-refresh and remote-catalog-poller tasks, grounded on
// the same tick-then-sleep shape as (*autobuilder).run in
// cmd/autobuilder/autobuilder.go, but iterating every active namespace
// instead of a single tracked repository. Per-namespace work inside one
// tick fans out over in-flight pipelines with errgroup, the same
// concurrency primitive internal/batch/batch.go uses to run builds.
package controlloop

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/buildset"
	"github.com/buildbtw/buildbtw/internal/executor"
	"github.com/buildbtw/buildbtw/internal/iteration"
	"github.com/buildbtw/buildbtw/internal/originpoll"
	"github.com/buildbtw/buildbtw/internal/scheduler"
	"github.com/buildbtw/buildbtw/internal/sourcerepo"
	"github.com/buildbtw/buildbtw/internal/store"
)

// IDGenerator produces fresh identifiers for iterations, injected so tests
// can supply deterministic ids instead of depending on a uuid library.
type IDGenerator func() string

// OriginPoller is the remote-catalog poller cooperative task named in spec
// §5, abstracted so tests can substitute a fake instead of a real GitHub
// client. *originpoll.Poller satisfies this.
type OriginPoller interface {
	Moved(ctx context.Context, origins []buildbtw.GitRepoRef, resolve originpoll.RepoURLFunc) ([]buildbtw.GitRepoRef, error)
}

// Fetcher is implemented by a RepositoryProvider that can pull new commits
// for a pkgbase from its remote, such as sourcerepo.DirProvider. Providers
// that don't need fetching (e.g. a fake in tests) simply don't implement it.
type Fetcher interface {
	Fetch(pkgbase buildbtw.Pkgbase) error
}

// Loop is the per-tick driver of spec §4.6. A zero Loop is not usable;
// construct one with New. Poller and RemoteURL are optional: leaving either
// unset disables the remote-catalog-poller task entirely, the same way a nil
// Executor disables dispatch.
type Loop struct {
	Store     *store.Store
	Provider  sourcerepo.RepositoryProvider
	Cache     *sourcerepo.RecipeCache
	Executor  executor.Executor
	Poller    OriginPoller
	RemoteURL originpoll.RepoURLFunc
	NewID     IDGenerator
	Log       *log.Logger
}

// New builds a Loop with a per-component-prefixed logger, the way
// autobuilder.go's runCommit builds one per commit.
func New(s *store.Store, provider sourcerepo.RepositoryProvider, exec executor.Executor, newID IDGenerator) *Loop {
	return &Loop{
		Store:    s,
		Provider: provider,
		Cache:    sourcerepo.NewCache(),
		Executor: exec,
		NewID:    newID,
		Log:      log.New(log.Writer(), "[controlloop] ", log.LstdFlags),
	}
}

// Run ticks every interval until ctx is canceled, matching autobuilder.go's
// main loop: each tick is caught and logged rather than stopping the
// process. Interval is the spec's fixed 10s cadence; exposed as a parameter
// so tests can run ticks synchronously.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	for {
		if err := l.Tick(ctx); err != nil {
			l.Log.Printf("tick: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Tick runs one pass of spec §4.6's three-step procedure over every active
// namespace. Only namespaces with status Active are listed, so a Cancelled
// namespace is not processed at all: its in-flight builds are no longer
// polled. A failure processing one namespace is logged and does not
// prevent the others from being processed (spec §4.6 concurrency note).
func (l *Loop) Tick(ctx context.Context) error {
	namespaces, err := l.Store.ListActiveNamespaces()
	if err != nil {
		return xerrors.Errorf("controlloop: listing namespaces: %w", err)
	}
	for _, ns := range namespaces {
		if err := l.tickNamespace(ctx, ns); err != nil {
			l.Log.Printf("namespace %s: %v", ns.ID, err)
		}
	}
	return nil
}

func (l *Loop) tickNamespace(ctx context.Context, ns *buildbtw.Namespace) error {
	l.pollOrigins(ctx, ns)

	if err := l.refreshIteration(ns); err != nil {
		return xerrors.Errorf("refreshing iteration: %w", err)
	}

	if l.Executor != nil {
		if err := l.pollInFlight(ctx, ns); err != nil {
			return xerrors.Errorf("polling in-flight builds: %w", err)
		}
	}

	// A Cancelled namespace passed in here has its in-flight builds polled
	// above but gets no new dispatch. Tick only passes Active namespaces,
	// so it never reaches this branch.
	if ns.Status == buildbtw.NamespaceCancelled {
		return nil
	}

	return l.dispatchNext(ctx, ns)
}

// pollOrigins runs the remote-catalog-poller task: it asks whether any of
// the namespace's tracked origins have a new tip commit on GitHub, and if
// so, fetches that pkgbase's local repository so the metadata-refresh step
// below observes the new commit instead of whatever was last cloned. A
// failure here is logged and never blocks refreshIteration, which still
// operates correctly (just possibly stale by one tick) against whatever the
// local checkout already has.
func (l *Loop) pollOrigins(ctx context.Context, ns *buildbtw.Namespace) {
	if l.Poller == nil || l.RemoteURL == nil {
		return
	}
	moved, err := l.Poller.Moved(ctx, ns.Origin, l.RemoteURL)
	if err != nil {
		l.Log.Printf("namespace %s: polling origins: %v", ns.ID, err)
		return
	}
	fetcher, ok := l.Provider.(Fetcher)
	if !ok {
		return
	}
	for _, origin := range moved {
		if err := fetcher.Fetch(origin.Pkgbase); err != nil {
			l.Log.Printf("namespace %s: fetching %s: %v", ns.ID, origin.Pkgbase, err)
		}
	}
}

// refreshIteration implements spec §4.6 step 1: gather the tracked corpus,
// ask the iteration manager whether a new snapshot is warranted, and
// persist it if so.
func (l *Loop) refreshIteration(ns *buildbtw.Namespace) error {
	idx, err := sourcerepo.Gather(l.Provider, l.Cache, ns.Origin)
	if err != nil {
		return xerrors.Errorf("gathering metadata: %w", err)
	}

	previous, err := l.Store.NewestIteration(ns.ID)
	if err != nil {
		return xerrors.Errorf("reading newest iteration: %w", err)
	}

	next, err := iteration.BuildNext(idx, ns, previous)
	if err != nil {
		return xerrors.Errorf("computing build set: %w", err)
	}
	if next == nil {
		return nil
	}
	next.ID = l.NewID()
	return l.Store.CreateIteration(next)
}

// pollInFlight implements spec §4.6 step 2: every node in status Building,
// in every iteration of the namespace (not just the newest — in-flight
// builds from a superseded iteration are not revoked), has its remote
// pipeline status queried and folded back into the graph. Queries for
// distinct iterations run concurrently in an errgroup, one goroutine per
// iteration with no concurrency limit.
func (l *Loop) pollInFlight(ctx context.Context, ns *buildbtw.Namespace) error {
	iterations, err := l.Store.ListIterations(ns.ID)
	if err != nil {
		return xerrors.Errorf("listing iterations: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, it := range iterations {
		it := it
		eg.Go(func() error {
			if err := l.pollIteration(ctx, it); err != nil {
				l.Log.Printf("namespace %s, iteration %s: %v", ns.ID, it.ID, err)
			}
			return nil // per-iteration errors are logged, not fatal to the group
		})
	}
	return eg.Wait()
}

func (l *Loop) pollIteration(ctx context.Context, it *iteration.Iteration) error {
	for arch, graph := range it.PackagesToBeBuilt {
		version, err := l.Store.IterationVersion(it.NamespaceID, it.ID)
		if err != nil {
			return err
		}
		updated := graph.Clone()
		changed := false
		for _, node := range graph.Nodes() {
			if node.Status != buildbtw.StatusBuilding {
				continue
			}
			pipeline, err := l.Store.GetPipeline(it.ID, node.Pkgbase, arch)
			if err != nil {
				continue // dispatched outside this control loop's knowledge; wait for the next tick
			}
			remote, err := l.Executor.Status(ctx, executor.PipelineRef{ID: pipeline.PipelineID, URL: pipeline.PipelineURL})
			if err != nil {
				l.Log.Printf("pipeline query failed for %s/%s: %v", node.Pkgbase, arch, err)
				continue // PipelineQueryFailed: leave node Building, retry next tick
			}
			if remote.BuildStatus() == buildbtw.StatusBuilding {
				continue // not finished yet
			}
			updated.SetStatus(node.Pkgbase, remote.BuildStatus())
			changed = true
		}
		if !changed {
			continue
		}
		graphs := cloneGraphMap(it.PackagesToBeBuilt)
		graphs[arch] = updated
		if err := l.Store.UpdateIterationGraphs(it.NamespaceID, it.ID, version, graphs); err != nil {
			return xerrors.Errorf("persisting status updates: %w", err)
		}
		it.PackagesToBeBuilt = graphs
	}
	return nil
}

// dispatchNext implements spec §4.6 step 3: read the newest iteration, run
// the scheduler for each architecture, and dispatch whatever it selects.
func (l *Loop) dispatchNext(ctx context.Context, ns *buildbtw.Namespace) error {
	newest, err := l.Store.NewestIteration(ns.ID)
	if err != nil {
		return xerrors.Errorf("reading newest iteration: %w", err)
	}
	if newest == nil {
		return nil
	}

	for arch, graph := range newest.PackagesToBeBuilt {
		verdict := scheduler.Schedule(graph, ns.ID, newest.ID, arch, buildbtw.StatusScheduled)
		if verdict.Kind != scheduler.Scheduled {
			continue
		}
		build := verdict.Build

		version, err := l.Store.IterationVersion(ns.ID, newest.ID)
		if err != nil {
			return err
		}

		if l.Executor == nil {
			// No executor configured: persist the Scheduled status so the
			// state machine still advances, but nothing is actually run.
			graphs := cloneGraphMap(newest.PackagesToBeBuilt)
			graphs[arch] = build.UpdatedGraph
			if err := l.Store.UpdateIterationGraphs(ns.ID, newest.ID, version, graphs); err != nil {
				l.Log.Printf("persisting scheduled status for %s/%s: %v", build.Pkgbase, arch, err)
			}
			continue
		}

		ref, err := l.Executor.Dispatch(ctx, build)
		if err != nil {
			// DispatchFailed: leave the node in Pending by not persisting
			// build.UpdatedGraph at all.
			l.Log.Printf("dispatch failed for %s/%s: %v", build.Pkgbase, arch, err)
			continue
		}
		// The executor accepting the dispatch is the state machine's
		// Scheduled -> Building transition (§4.5); pollInFlight only
		// watches nodes already in Building.
		build.UpdatedGraph.SetStatus(build.Pkgbase, buildbtw.StatusBuilding)

		if err := l.Store.CreatePipeline(&store.ExternalPipeline{
			IterationID: newest.ID,
			Pkgbase:     build.Pkgbase,
			Arch:        arch,
			PipelineID:  ref.ID,
			PipelineURL: ref.URL,
		}); err != nil {
			l.Log.Printf("recording pipeline for %s/%s: %v", build.Pkgbase, arch, err)
		}

		graphs := cloneGraphMap(newest.PackagesToBeBuilt)
		graphs[arch] = build.UpdatedGraph
		if err := l.Store.UpdateIterationGraphs(ns.ID, newest.ID, version, graphs); err != nil {
			l.Log.Printf("persisting scheduled status for %s/%s: %v", build.Pkgbase, arch, err)
		}
	}
	return nil
}

// cloneGraphMap shallow-copies the per-architecture map so replacing one
// architecture's graph never mutates the map a concurrent reader (e.g. the
// status page) might be holding.
func cloneGraphMap(m map[buildbtw.ConcreteArchitecture]*buildset.Graph) map[buildbtw.ConcreteArchitecture]*buildset.Graph {
	out := make(map[buildbtw.ConcreteArchitecture]*buildset.Graph, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
