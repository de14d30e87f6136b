package persist

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"

	"github.com/byster-one/queued/taskqueue"
)

// writerQueueDepth bounds the number of records buffered
// between a Log call returning and the background writer
// having folded them into the snapshot.
const writerQueueDepth = 4096

type writeMsg struct {
	rec  Record
	stop bool
}

// tenantWriter is a single-producer/single-consumer pipe:
// Log appends synchronously to the log file and hands the
// record to ch; the goroutine started by newTenantWriter
// drains ch in order, replays each record into its private
// copy of the task list, and persists the result.
type tenantWriter struct {
	store  *Store
	tenant uint32

	logMu   sync.Mutex
	logFile *os.File

	ch   chan writeMsg
	done chan struct{}

	listMu sync.Mutex
	list   []taskqueue.Task
	offset int

	failed int32 // atomic bool: set once persistence is abandoned
}

func newTenantWriter(store *Store, tenant uint32, initial []taskqueue.Task, offset int) (*tenantWriter, error) {
	f, err := os.OpenFile(store.logPath(tenant), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	// reconcile the on-disk snapshot/offset with what
	// recovery just computed
	if err := writeSnapshot(store.snapshotPath(tenant), initial); err != nil {
		store.logf("persist: tenant %d: writing reconciled snapshot: %v", tenant, err)
	}
	if err := writeOffset(store.offsetPath(tenant), offset); err != nil {
		store.logf("persist: tenant %d: writing reconciled offset: %v", tenant, err)
	}

	w := &tenantWriter{
		store:   store,
		tenant:  tenant,
		logFile: f,
		ch:      make(chan writeMsg, writerQueueDepth),
		done:    make(chan struct{}),
		list:    append([]taskqueue.Task(nil), initial...),
		offset:  offset,
	}
	go w.run()
	return w, nil
}

func (w *tenantWriter) isFailed() bool {
	return atomic.LoadInt32(&w.failed) != 0
}

// fail marks the writer as permanently degraded: it logs
// the cause once and lets run exit, but it never panics and
// never prevents further in-memory queue operations from
// succeeding.
func (w *tenantWriter) fail(err error) {
	if atomic.CompareAndSwapInt32(&w.failed, 0, 1) {
		w.store.logf("persist: tenant %d: writer failed, durability disabled: %v", w.tenant, err)
	}
}

// log appends op to the log file and queues it for the
// background writer. A failure here is logged and
// degrades this tenant to best-effort durability; it is
// never returned as an error to the caller, since a
// persistence failure must not fail the client's request.
func (w *tenantWriter) log(op Record) {
	if w.isFailed() {
		return
	}
	line, err := json.Marshal(op)
	if err != nil {
		w.fail(err)
		return
	}
	line = append(line, '\n')

	w.logMu.Lock()
	_, err = w.logFile.Write(line)
	w.logMu.Unlock()
	if err != nil {
		w.fail(err)
		return
	}

	select {
	case w.ch <- writeMsg{rec: op}:
	case <-w.done:
	}
}

func (w *tenantWriter) run() {
	defer close(w.done)
	for msg := range w.ch {
		if msg.stop {
			w.logFile.Close()
			return
		}
		w.applyAndPersist(msg.rec)
		if w.isFailed() {
			w.logFile.Close()
			return
		}
	}
}

func (w *tenantWriter) applyAndPersist(rec Record) {
	w.listMu.Lock()
	w.list = apply(w.list, rec)
	snap := append([]taskqueue.Task(nil), w.list...)
	w.offset++
	offset := w.offset
	w.listMu.Unlock()

	if err := writeSnapshot(w.store.snapshotPath(w.tenant), snap); err != nil {
		w.fail(err)
		return
	}
	if err := writeOffset(w.store.offsetPath(w.tenant), offset); err != nil {
		w.fail(err)
		return
	}
}

// snapshot returns a copy of the writer's current in-memory
// task list, used when Open is called again for a tenant
// whose writer is already running.
func (w *tenantWriter) snapshot() []taskqueue.Task {
	w.listMu.Lock()
	defer w.listMu.Unlock()
	return append([]taskqueue.Task(nil), w.list...)
}

// stop asks the writer goroutine to exit and waits for it
// to do so. It is safe to call even if the writer already
// exited on its own due to a persistence failure.
func (w *tenantWriter) stop() {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.ch <- writeMsg{stop: true}:
	case <-w.done:
		return
	}
	<-w.done
}
