// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package ingest

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultRegistryHistory is how many terminal jobs the registry keeps in memory.
const DefaultRegistryHistory = 20

type registryEntry struct {
	// snapshot is replaced, never mutated in place.
	snapshot *BackfillJob
	cancel   atomic.Bool
	seq      uint64
}

// JobRegistry maps job IDs to job state. At most one job is running at a time.
//
// Only the goroutine running a job calls Update for it. Readers get clones of
// the latest snapshot.
type JobRegistry struct {
	mu       sync.RWMutex
	jobs     map[string]*registryEntry
	activeID string
	seq      uint64
	history  int
}

// NewJobRegistry creates a registry retaining up to history terminal jobs.
func NewJobRegistry(history int) *JobRegistry {
	if history <= 0 {
		history = DefaultRegistryHistory
	}
	return &JobRegistry{
		jobs:    make(map[string]*registryEntry),
		history: history,
	}
}

// Register adds a running job. Returns ErrBackfillRunning if another job is running.
func (r *JobRegistry) Register(job *BackfillJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job id is required", ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeID != "" {
		return fmt.Errorf("%w: job %s", ErrBackfillRunning, r.activeID)
	}
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("%w: duplicate job id %s", ErrInvalidRequest, job.ID)
	}

	snap := job.Clone()
	snap.Status = JobStatusRunning
	snap.Running = true
	r.seq++
	r.jobs[job.ID] = &registryEntry{snapshot: snap, seq: r.seq}
	r.activeID = job.ID
	return nil
}

// Update applies fn to a copy of the job's snapshot and publishes the copy.
// A terminal status releases the running slot. Returns the new snapshot.
func (r *JobRegistry) Update(id string, fn func(job *BackfillJob)) (*BackfillJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	next := entry.snapshot.Clone()
	fn(next)
	next.CancelRequested = next.CancelRequested || entry.cancel.Load()
	next.Running = next.Status == JobStatusRunning
	entry.snapshot = next

	if next.Status.Terminal() && r.activeID == id {
		r.activeID = ""
		r.prune()
	}
	return next.Clone(), nil
}

// Get returns a snapshot of the job.
func (r *JobRegistry) Get(id string) (*BackfillJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return entry.snapshot.Clone(), true
}

// Active returns the running job, if any.
func (r *JobRegistry) Active() (*BackfillJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID == "" {
		return nil, false
	}
	return r.jobs[r.activeID].snapshot.Clone(), true
}

// Latest returns the running job, or else the most recently registered job.
func (r *JobRegistry) Latest() (*BackfillJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID != "" {
		return r.jobs[r.activeID].snapshot.Clone(), true
	}
	var latest *registryEntry
	for _, e := range r.jobs {
		if latest == nil || e.seq > latest.seq {
			latest = e
		}
	}
	if latest == nil {
		return nil, false
	}
	return latest.snapshot.Clone(), true
}

// List returns every tracked job, newest first.
func (r *JobRegistry) List() []*BackfillJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*registryEntry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	out := make([]*BackfillJob, len(entries))
	for i, e := range entries {
		out[i] = e.snapshot.Clone()
	}
	return out
}

// RequestCancel flags a running job for cancellation at its next date boundary.
func (r *JobRegistry) RequestCancel(id string) (*BackfillJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if entry.snapshot.Status.Terminal() {
		return entry.snapshot.Clone(), nil
	}
	entry.cancel.Store(true)
	next := entry.snapshot.Clone()
	next.CancelRequested = true
	entry.snapshot = next
	return next.Clone(), nil
}

// CancelRequested reports whether Stop was called for the job.
func (r *JobRegistry) CancelRequested(id string) bool {
	r.mu.RLock()
	entry, ok := r.jobs[id]
	r.mu.RUnlock()
	return ok && entry.cancel.Load()
}

// prune drops the oldest terminal jobs beyond the history limit. Caller holds mu.
func (r *JobRegistry) prune() {
	var terminal []*registryEntry
	for _, e := range r.jobs {
		if e.snapshot.Status.Terminal() {
			terminal = append(terminal, e)
		}
	}
	if len(terminal) <= r.history {
		return
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].seq < terminal[j].seq })
	for _, e := range terminal[:len(terminal)-r.history] {
		delete(r.jobs, e.snapshot.ID)
	}
}
