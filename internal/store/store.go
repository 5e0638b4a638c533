// Package store implements the persistent store contract of spec §6 as a
// collection of JSON files under a root directory, one file per namespace
// and one per iteration, written atomically with renameio.WriteFile the
// same way cmd/distri/scaffold.go and cmd/distri/build.go persist generated
// artifacts: a reader never observes a half-written file.
//
// This stands in for the relational store spec.md treats as an external
// collaborator; it exists so the control loop and its tests have a real
// implementation of the CRUD contract to run against, not a mock.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/buildset"
	"github.com/buildbtw/buildbtw/internal/iteration"
)

// ErrConflict is returned when the caller's expected version of an
// iteration's graph map no longer matches the stored version (spec error
// kind StoreConflict). The caller is expected to re-read and retry once
// against the freshly read graph.
var ErrConflict = xerrors.New("store: optimistic concurrency conflict")

// ErrNotFound is returned when a namespace, iteration, or pipeline record
// does not exist.
var ErrNotFound = xerrors.New("store: not found")

type namespaceRecord struct {
	Namespace buildbtw.Namespace
}

// iterationRecord is the on-disk form of an Iteration, carrying a version
// counter bumped on every graph update so concurrent writers can detect a
// lost update.
type iterationRecord struct {
	Iteration *iteration.Iteration
	Version   int
}

type pipelineKey struct {
	IterationID string
	Pkgbase     buildbtw.Pkgbase
	Arch        buildbtw.ConcreteArchitecture
}

// ExternalPipeline is the persisted record of a dispatched build, per
// spec §3: it keeps both the opaque pipeline reference and a human-readable
// URL, the supplemented feature carried over from the original
// implementation's gitlab_url field.
type ExternalPipeline struct {
	IterationID string
	Pkgbase     buildbtw.Pkgbase
	Arch        buildbtw.ConcreteArchitecture
	PipelineID  string
	PipelineURL string
}

// Store is a file-backed implementation of the namespace/iteration/pipeline
// CRUD contract. In-memory state is guarded by one mutex; every mutation is
// also persisted to disk so a restarted control loop resumes where it left
// off.
type Store struct {
	root string

	mu         sync.Mutex
	namespaces map[string]*buildbtw.Namespace
	iterations map[string][]*iterationRecord // namespace id -> iterations
	pipelines  map[pipelineKey]*ExternalPipeline
}

// Open loads any existing namespace/iteration state found under root,
// creating root if it does not yet exist.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, xerrors.Errorf("store: creating root %s: %w", root, err)
	}
	s := &Store{
		root:       root,
		namespaces: map[string]*buildbtw.Namespace{},
		iterations: map[string][]*iterationRecord{},
		pipelines:  map[pipelineKey]*ExternalPipeline{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	nsDir := filepath.Join(s.root, "namespaces")
	entries, err := os.ReadDir(nsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Errorf("store: listing %s: %w", nsDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(nsDir, entry.Name()))
		if err != nil {
			return xerrors.Errorf("store: reading %s: %w", entry.Name(), err)
		}
		var rec namespaceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return xerrors.Errorf("store: decoding %s: %w", entry.Name(), err)
		}
		ns := rec.Namespace
		s.namespaces[ns.ID] = &ns

		iterDir := filepath.Join(s.root, "iterations", ns.ID)
		iterEntries, err := os.ReadDir(iterDir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return xerrors.Errorf("store: listing %s: %w", iterDir, err)
		}
		var recs []*iterationRecord
		for _, ie := range iterEntries {
			if ie.IsDir() || filepath.Ext(ie.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(iterDir, ie.Name()))
			if err != nil {
				return xerrors.Errorf("store: reading %s: %w", ie.Name(), err)
			}
			var irec iterationRecord
			if err := json.Unmarshal(data, &irec); err != nil {
				return xerrors.Errorf("store: decoding %s: %w", ie.Name(), err)
			}
			recs = append(recs, &irec)
		}
		sort.Slice(recs, func(i, j int) bool {
			return recs[i].Iteration.CreatedAt.Before(recs[j].Iteration.CreatedAt)
		})
		s.iterations[ns.ID] = recs
	}

	pipelineDir := filepath.Join(s.root, "pipelines")
	err = filepath.Walk(pipelineDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return xerrors.Errorf("store: reading %s: %w", path, err)
		}
		var p ExternalPipeline
		if err := json.Unmarshal(data, &p); err != nil {
			return xerrors.Errorf("store: decoding %s: %w", path, err)
		}
		s.pipelines[pipelineKey{IterationID: p.IterationID, Pkgbase: p.Pkgbase, Arch: p.Arch}] = &p
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) namespaceFile(id string) string {
	return filepath.Join(s.root, "namespaces", id+".json")
}

func (s *Store) iterationFile(namespaceID, iterationID string) string {
	return filepath.Join(s.root, "iterations", namespaceID, iterationID+".json")
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return xerrors.Errorf("store: creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return xerrors.Errorf("store: encoding %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return xerrors.Errorf("store: writing %s: %w", path, err)
	}
	return nil
}

// CreateNamespace persists a new namespace, assigning CreatedAt if unset.
func (s *Store) CreateNamespace(ns *buildbtw.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns.CreatedAt.IsZero() {
		ns.CreatedAt = time.Now()
	}
	clone := *ns
	s.namespaces[ns.ID] = &clone
	return writeJSON(s.namespaceFile(ns.ID), namespaceRecord{Namespace: clone})
}

// GetNamespace looks up a namespace by id.
func (s *Store) GetNamespace(id string) (*buildbtw.Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[id]
	if !ok {
		return nil, xerrors.Errorf("store: namespace %s: %w", id, ErrNotFound)
	}
	clone := *ns
	return &clone, nil
}

// ListActiveNamespaces returns every namespace with status Active, in a
// stable order, the set the control loop iterates each tick.
func (s *Store) ListActiveNamespaces() ([]*buildbtw.Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*buildbtw.Namespace
	for _, ns := range s.namespaces {
		if ns.Status == buildbtw.NamespaceActive {
			clone := *ns
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateNamespace persists changes to an existing namespace (status, origin
// set, name).
func (s *Store) UpdateNamespace(ns *buildbtw.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ns.ID]; !ok {
		return xerrors.Errorf("store: namespace %s: %w", ns.ID, ErrNotFound)
	}
	clone := *ns
	s.namespaces[ns.ID] = &clone
	return writeJSON(s.namespaceFile(ns.ID), namespaceRecord{Namespace: clone})
}

// CreateIteration appends a new, append-only iteration for a namespace.
func (s *Store) CreateIteration(it *iteration.Iteration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	rec := &iterationRecord{Iteration: it, Version: 0}
	s.iterations[it.NamespaceID] = append(s.iterations[it.NamespaceID], rec)
	return writeJSON(s.iterationFile(it.NamespaceID, it.ID), rec)
}

// NewestIteration returns the most recently created iteration for a
// namespace by CreatedAt (spec §5: "newest iteration" ordering), or nil if
// none exists.
func (s *Store) NewestIteration(namespaceID string) (*iteration.Iteration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.newestLocked(namespaceID)
	if rec == nil {
		return nil, nil
	}
	clone := *rec.Iteration
	return &clone, nil
}

func (s *Store) newestLocked(namespaceID string) *iterationRecord {
	recs := s.iterations[namespaceID]
	if len(recs) == 0 {
		return nil
	}
	newest := recs[0]
	for _, r := range recs[1:] {
		if r.Iteration.CreatedAt.After(newest.Iteration.CreatedAt) {
			newest = r
		}
	}
	return newest
}

// ListIterations returns every iteration recorded for a namespace, oldest
// first.
func (s *Store) ListIterations(namespaceID string) ([]*iteration.Iteration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.iterations[namespaceID]
	out := make([]*iteration.Iteration, len(recs))
	for i, r := range recs {
		clone := *r.Iteration
		out[i] = &clone
	}
	return out, nil
}

// IterationVersion returns the current version counter of an iteration, to
// be passed back into UpdateIterationGraphs.
func (s *Store) IterationVersion(namespaceID, iterationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.iterations[namespaceID] {
		if r.Iteration.ID == iterationID {
			return r.Version, nil
		}
	}
	return 0, xerrors.Errorf("store: iteration %s: %w", iterationID, ErrNotFound)
}

// UpdateIterationGraphs persists an updated per-architecture build-set
// graph map on an existing iteration — the only field invariant I6 allows
// to mutate after creation. expectedVersion must match the record's
// current version; a mismatch returns ErrConflict without writing
// anything, so the caller re-reads the latest graph and retries its
// read-modify-write rather than clobbering a concurrent scheduler or
// pipeline-status update.
func (s *Store) UpdateIterationGraphs(namespaceID, iterationID string, expectedVersion int, graphs map[buildbtw.ConcreteArchitecture]*buildset.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.iterations[namespaceID] {
		if r.Iteration.ID != iterationID {
			continue
		}
		if r.Version != expectedVersion {
			return ErrConflict
		}
		r.Iteration.PackagesToBeBuilt = graphs
		r.Version++
		return writeJSON(s.iterationFile(namespaceID, iterationID), r)
	}
	return xerrors.Errorf("store: iteration %s: %w", iterationID, ErrNotFound)
}

func pipelineFile(root, iterationID string, pkgbase buildbtw.Pkgbase, arch buildbtw.ConcreteArchitecture) string {
	return filepath.Join(root, "pipelines", iterationID, string(pkgbase)+"-"+arch.String()+".json")
}

// CreatePipeline records a dispatched build's pipeline reference, looked up
// later by (iteration, pkgbase, arch).
func (s *Store) CreatePipeline(p *ExternalPipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pipelineKey{IterationID: p.IterationID, Pkgbase: p.Pkgbase, Arch: p.Arch}
	clone := *p
	s.pipelines[key] = &clone
	return writeJSON(pipelineFile(s.root, p.IterationID, p.Pkgbase, p.Arch), clone)
}

// GetPipeline looks up a pipeline record by (iteration, pkgbase, arch).
func (s *Store) GetPipeline(iterationID string, pkgbase buildbtw.Pkgbase, arch buildbtw.ConcreteArchitecture) (*ExternalPipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pipelineKey{IterationID: iterationID, Pkgbase: pkgbase, Arch: arch}
	p, ok := s.pipelines[key]
	if !ok {
		return nil, xerrors.Errorf("store: pipeline %s/%s/%s: %w", iterationID, pkgbase, arch, ErrNotFound)
	}
	clone := *p
	return &clone, nil
}
