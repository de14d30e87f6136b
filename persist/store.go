package persist

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/byster-one/queued/taskqueue"
)

// Store owns the on-disk layout for every tenant's
// persistence files and the background writers that keep
// them up to date. There is exactly one Store per process.
type Store struct {
	baseDir string
	logger  *log.Logger

	mu      sync.Mutex
	writers map[uint32]*tenantWriter
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger directs diagnostic output (writer failures,
// recovery notices) to l. If no logger is set, nothing is
// logged.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store rooted at baseDir, creating the
// directory if it does not already exist.
func NewStore(baseDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("persist: creating base dir: %w", err)
	}
	s := &Store{
		baseDir: baseDir,
		writers: make(map[uint32]*tenantWriter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Store) logPath(tenant uint32) string {
	return filepath.Join(s.baseDir, strconv.FormatUint(uint64(tenant), 10)+".log")
}

func (s *Store) snapshotPath(tenant uint32) string {
	return filepath.Join(s.baseDir, strconv.FormatUint(uint64(tenant), 10)+".bac")
}

func (s *Store) offsetPath(tenant uint32) string {
	return filepath.Join(s.baseDir, strconv.FormatUint(uint64(tenant), 10)+".offset")
}

// Tenants lists the tenant IDs that have persisted state on
// disk (any of the three files present), used at startup to
// seed the registry with every tenant that existed before
// the process restarted.
func (s *Store) Tenants() ([]uint32, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	seen := make(map[uint32]bool)
	var out []uint32
	for _, e := range entries {
		name := e.Name()
		dot := strings.LastIndexByte(name, '.')
		if dot <= 0 {
			continue
		}
		ext := name[dot+1:]
		if ext != "log" && ext != "bac" && ext != "offset" {
			continue
		}
		n, err := strconv.ParseUint(name[:dot], 10, 32)
		if err != nil {
			continue
		}
		id := uint32(n)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// Open performs crash recovery for tenant the first time it
// is called for that tenant in this process, then starts (or
// returns the already-running) background writer and hands
// back the reconciled task list for the caller to seed a live
// Queue with.
func (s *Store) Open(tenant uint32) ([]taskqueue.Task, error) {
	w, err := s.writerFor(tenant)
	if err != nil {
		return nil, err
	}
	return w.snapshot(), nil
}

// recover loads the snapshot, loads the offset, replays the
// log tail, and returns the reconciled list and the new
// offset (the snapshot and offset files themselves are
// rewritten by newTenantWriter when the writer is
// constructed).
func (s *Store) recover(tenant uint32) ([]taskqueue.Task, int, error) {
	list, err := readSnapshot(s.snapshotPath(tenant))
	if err != nil {
		return nil, 0, fmt.Errorf("persist: reading snapshot: %w", err)
	}
	offset := readOffset(s.offsetPath(tenant))

	lines, err := readLogLines(s.logPath(tenant))
	if err != nil {
		return nil, 0, fmt.Errorf("persist: reading log: %w", err)
	}
	if offset > len(lines) {
		// the offset file claims more records were folded
		// in than the log actually contains; treat it as
		// stale rather than panicking
		offset = 0
	}
	for _, line := range lines[offset:] {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// a malformed (likely torn) final line is
			// skipped, and the offset advances past it
			// so recovery never gets stuck on it
			offset++
			continue
		}
		list = apply(list, rec)
		offset++
	}
	return list, offset, nil
}

// Log appends op to tenant's write-ahead log and enqueues
// it for the background writer to fold into the snapshot.
// Log returns once the record is durably in the log file;
// it does not wait for the snapshot update. A persistence
// failure is logged internally rather than returned:
// durability problems must not fail the client's request.
func (s *Store) Log(tenant uint32, op Record) error {
	w, err := s.writerFor(tenant)
	if err != nil {
		s.logf("persist: tenant %d: could not start writer: %v", tenant, err)
		return nil
	}
	w.log(op)
	return nil
}

// writerFor ensures a writer exists for tenant, recovering
// it from disk first if this is the first reference to it
// in this process.
func (s *Store) writerFor(tenant uint32) (*tenantWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.writers[tenant]; ok {
		return w, nil
	}
	list, offset, err := s.recover(tenant)
	if err != nil {
		return nil, err
	}
	w, err := newTenantWriter(s, tenant, list, offset)
	if err != nil {
		return nil, err
	}
	s.writers[tenant] = w
	return w, nil
}

// Clear stops tenant's writer and deletes its three
// persistence files.
func (s *Store) Clear(tenant uint32) error {
	s.mu.Lock()
	w, ok := s.writers[tenant]
	delete(s.writers, tenant)
	s.mu.Unlock()
	if ok {
		w.stop()
	}
	var firstErr error
	for _, p := range []string{s.logPath(tenant), s.snapshotPath(tenant), s.offsetPath(tenant)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClearAll stops every writer and removes the persistence
// files of every tenant that has a writer in this process;
// files of tenants never opened by this Store are left in
// place. Used by tests and on a clean shutdown that wants a
// blank slate.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	ids := make([]uint32, 0, len(s.writers))
	for id := range s.writers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	var firstErr error
	for _, id := range ids {
		if err := s.Clear(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// atomicWrite writes data to path by writing to a uniquely
// named temporary file in the same directory and renaming
// it into place, so that a crash mid-write never leaves a
// torn file at path: a concurrent reader always sees either
// the old contents or the new ones.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, filepath.Base(path)+".tmp."+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
