package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/byster-one/queued/taskqueue"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func waitForOffset(t *testing.T, s *Store, tenant uint32, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if readOffset(s.offsetPath(tenant)) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("offset for tenant %d never reached %d (got %d)", tenant, want, readOffset(s.offsetPath(tenant)))
}

func TestLogThenRecoveryReplaysTail(t *testing.T) {
	s := newTestStore(t)
	const tenant = 7

	if _, err := s.Open(tenant); err != nil {
		t.Fatal(err)
	}
	if err := s.Log(tenant, Record{Action: ActionAdd, Task: taskqueue.Task{ID: 1, Duration: 60, DoneDate: 162030}}); err != nil {
		t.Fatal(err)
	}
	waitForOffset(t, s, tenant, 1)

	// simulate a crash before the writer folded the record in:
	// only the log survives, so recovery has to replay it as
	// the tail, and a fresh Store sees the same base dir
	for _, p := range []string{s.snapshotPath(tenant), s.offsetPath(tenant)} {
		if err := os.Remove(p); err != nil {
			t.Fatal(err)
		}
	}
	s2, err := NewStore(s.baseDir)
	if err != nil {
		t.Fatal(err)
	}
	list, err := s2.Open(tenant)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != 1 || list[0].Duration != 60 {
		t.Fatalf("recovered list = %+v", list)
	}
	if got := readOffset(s2.offsetPath(tenant)); got != 1 {
		t.Fatalf("offset = %d, want 1", got)
	}
}

func TestRecoveryToleratesTornLastLine(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "9.log")
	rec, _ := json.Marshal(Record{Action: ActionAdd, Task: taskqueue.Task{ID: 1}})
	content := string(rec) + "\n{\"action\":\"add\",\"task\":{\"id\":2" // torn final line, no closing brace
	if err := os.WriteFile(logPath, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	list, err := s.Open(9)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != 1 {
		t.Fatalf("list = %+v", list)
	}
}

func TestClearRemovesFiles(t *testing.T) {
	s := newTestStore(t)
	const tenant = 3
	if _, err := s.Open(tenant); err != nil {
		t.Fatal(err)
	}
	if err := s.Log(tenant, Record{Action: ActionAdd, Task: taskqueue.Task{ID: 1}}); err != nil {
		t.Fatal(err)
	}
	waitForOffset(t, s, tenant, 1)

	if err := s.Clear(tenant); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{s.logPath(tenant), s.snapshotPath(tenant), s.offsetPath(tenant)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be gone, err = %v", p, err)
		}
	}
}

func TestApplyMoveToleratesConcurrentDelete(t *testing.T) {
	list := []taskqueue.Task{{ID: 1}, {ID: 2}, {ID: 3}}
	// task 2 was deleted before this move record was replayed
	list = apply(list, Record{Action: ActionDelete, TaskID: 2})
	prev := uint32(1)
	list = apply(list, Record{Action: ActionMove, TaskID: 2, Prev: &prev})
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 3 {
		t.Fatalf("list = %+v", list)
	}
}
