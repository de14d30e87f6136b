// Package tenant implements the process-wide registry
// mapping an employer_id to its TaskQueue. The registry
// itself only tracks lifecycle; the actual list operations
// live in package taskqueue, and durability lives in package
// persist.
package tenant

import (
	"fmt"
	"log"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/byster-one/queued/persist"
	"github.com/byster-one/queued/qerr"
	"github.com/byster-one/queued/taskqueue"
)

// Registry is the process-wide employer_id -> TaskQueue
// mapping. All operations hold Registry's mutex only for
// the duration of the map update; the queue and persistence
// work they trigger happens outside that lock, so a slow
// queue operation for one tenant never blocks lookups for
// any other.
type Registry struct {
	store  *persist.Store
	logger *log.Logger

	mu       sync.Mutex
	queues   map[uint32]*taskqueue.Queue
	creating map[uint32]struct{}
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithLogger directs diagnostic output to l.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty Registry backed by store.
func NewRegistry(store *persist.Store, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		queues:   make(map[uint32]*taskqueue.Queue),
		creating: make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) logf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// Get returns the live queue for employer, or a NotFound
// qerr.Error with the exact message the wire protocol
// requires.
func (r *Registry) Get(employer uint32) (*taskqueue.Queue, error) {
	r.mu.Lock()
	q, ok := r.queues[employer]
	r.mu.Unlock()
	if !ok {
		return nil, qerr.NotFoundf("No queue for employer_id %d", employer)
	}
	return q, nil
}

// Create makes a new, empty queue for employer and
// registers it, seeding it from any persisted state found
// for that tenant. It fails with a Conflict qerr.Error if a
// queue for employer is already registered or is in the
// middle of being created by another call.
func (r *Registry) Create(employer uint32) (*taskqueue.Queue, error) {
	r.mu.Lock()
	_, exists := r.queues[employer]
	_, inFlight := r.creating[employer]
	if exists || inFlight {
		r.mu.Unlock()
		return nil, qerr.Conflictf("Queue for employer_id %d already exists", employer)
	}
	// reserve the slot in a set the registry never hands
	// back through Get, so a concurrent Get for employer
	// sees NotFound rather than a half-built queue while the
	// disk recovery below runs unlocked
	r.creating[employer] = struct{}{}
	r.mu.Unlock()

	q, err := r.load(employer)
	r.mu.Lock()
	delete(r.creating, employer)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.queues[employer] = q
	r.mu.Unlock()
	return q, nil
}

// load builds a Queue for employer, seeded from whatever
// persist.Store.Open returns for it (an empty list for a
// brand-new tenant, or the recovered task list for one
// that crashed and restarted).
func (r *Registry) load(employer uint32) (*taskqueue.Queue, error) {
	tasks, err := r.store.Open(employer)
	if err != nil {
		return nil, fmt.Errorf("tenant %d: %w", employer, err)
	}
	q := taskqueue.New()
	for _, task := range tasks {
		// tasks is already in persisted order, so
		// appending each one in turn reproduces that order
		if err := q.Add(task, nil); err != nil {
			// the persisted list is internally
			// inconsistent (duplicate IDs); skip the
			// offending entry rather than fail recovery
			// entirely
			r.logf("tenant %d: skipping malformed persisted task %d: %v", employer, task.ID, err)
		}
	}
	return q, nil
}

// Log appends a persistence record for employer's queue.
// It is a thin pass-through to the underlying store so
// callers that only hold a Registry never need a separate
// reference to persist.Store.
func (r *Registry) Log(employer uint32, rec persist.Record) error {
	return r.store.Log(employer, rec)
}

// Delete removes employer's in-memory queue and clears its
// persistent files. It fails with NotFound if no queue is
// registered for employer.
func (r *Registry) Delete(employer uint32) error {
	r.mu.Lock()
	_, ok := r.queues[employer]
	if ok {
		delete(r.queues, employer)
	}
	r.mu.Unlock()
	if !ok {
		return qerr.NotFoundf("No queue for employer_id %d", employer)
	}
	return r.store.Clear(employer)
}

// Clear drops every registered tenant from memory. It does
// not touch persisted files; it exists for tests and a
// clean shutdown that wants to forget live state without
// destroying what's on disk.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.queues = make(map[uint32]*taskqueue.Queue)
	r.mu.Unlock()
}

// RestoreAll seeds the registry with every tenant that has
// persisted state on disk, so a restarted server recovers
// its full tenant set before the first client connects
// rather than lazily on first reference.
func (r *Registry) RestoreAll() error {
	ids, err := r.store.Tenants()
	if err != nil {
		return err
	}
	slices.Sort(ids)
	for _, id := range ids {
		r.mu.Lock()
		_, ok := r.queues[id]
		r.mu.Unlock()
		if ok {
			continue
		}
		if _, err := r.Create(id); err != nil {
			r.logf("tenant %d: restoring at startup: %v", id, err)
		}
	}
	return nil
}
