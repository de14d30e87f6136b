package server

import (
	"net"
	"testing"
	"time"

	"github.com/byster-one/queued/auth"
	"github.com/byster-one/queued/persist"
	"github.com/byster-one/queued/tenant"
	"github.com/byster-one/queued/wire"
)

const testPassword = "correct-horse-battery-staple"

func startTestServer(t *testing.T) (addr string, srv *Server) {
	t.Helper()
	store, err := persist.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := tenant.NewRegistry(store)
	srv = New(reg, auth.NewChecker(testPassword))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve("127.0.0.1:0") }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		ln := srv.ln
		srv.mu.Unlock()
		if ln != nil {
			addr = ln.Addr().String()
			break
		}
		time.Sleep(time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not start listening in time")
	}
	t.Cleanup(func() {
		srv.Stop()
		if err := <-errCh; err != nil {
			t.Errorf("Serve returned: %v", err)
		}
	})
	return addr, srv
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *wire.Reader
	w    *wire.Writer
}

func dialTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: wire.NewReader(conn), w: wire.NewWriter(conn)}
}

func (c *testClient) auth(password string) bool {
	c.t.Helper()
	c.w.WriteOpcode(wire.CMSGAuthRequest)
	c.w.WriteString(password)
	if err := c.w.Flush(); err != nil {
		c.t.Fatal(err)
	}
	op, err := c.r.ReadOpcode()
	if err != nil {
		c.t.Fatal(err)
	}
	if op != wire.SMSGAuthResponse {
		c.t.Fatalf("opcode = %s, want SMSG_AUTH_RESPONSE", op)
	}
	ok, err := c.r.ReadBool()
	if err != nil {
		c.t.Fatal(err)
	}
	return ok
}

func (c *testClient) createQueue(employer uint32) (bool, string) {
	c.t.Helper()
	c.w.WriteOpcode(wire.CMSGQueueCreateRequest)
	c.w.WriteUint32(employer)
	if err := c.w.Flush(); err != nil {
		c.t.Fatal(err)
	}
	return c.expectOpcodeAndResult(wire.SMSGQueueCreateResponse)
}

func (c *testClient) expectOpcodeAndResult(want wire.Opcode) (bool, string) {
	c.t.Helper()
	op, err := c.r.ReadOpcode()
	if err != nil {
		c.t.Fatal(err)
	}
	if op != want {
		c.t.Fatalf("opcode = %s, want %s", op, want)
	}
	ok, err := c.r.ReadBool()
	if err != nil {
		c.t.Fatal(err)
	}
	if ok {
		return true, ""
	}
	msg, err := c.r.ReadString()
	if err != nil {
		c.t.Fatal(err)
	}
	return false, msg
}

func (c *testClient) addTask(employer, id uint32, duration, doneDate float64, prev uint32) bool {
	c.t.Helper()
	c.w.WriteOpcode(wire.CMSGTaskAdd)
	c.w.WriteUint32(employer)
	c.w.WriteUint32(id)
	c.w.WriteFloat64(duration)
	c.w.WriteFloat64(doneDate)
	c.w.WriteUint32(prev)
	if err := c.w.Flush(); err != nil {
		c.t.Fatal(err)
	}
	ok, _ := c.expectOpcodeAndResult(wire.SMSGTaskAdd)
	return ok
}

func (c *testClient) moveTask(employer, id, prev uint32) bool {
	c.t.Helper()
	c.w.WriteOpcode(wire.CMSGTaskMove)
	c.w.WriteUint32(employer)
	c.w.WriteUint32(id)
	c.w.WriteUint32(prev)
	if err := c.w.Flush(); err != nil {
		c.t.Fatal(err)
	}
	ok, _ := c.expectOpcodeAndResult(wire.SMSGTaskMove)
	return ok
}

func (c *testClient) listTasks(employer, from, to uint32) (bool, string, []uint32) {
	c.t.Helper()
	c.w.WriteOpcode(wire.CMSGTaskList)
	c.w.WriteUint32(employer)
	c.w.WriteUint32(from)
	c.w.WriteUint32(to)
	if err := c.w.Flush(); err != nil {
		c.t.Fatal(err)
	}
	op, err := c.r.ReadOpcode()
	if err != nil {
		c.t.Fatal(err)
	}
	if op != wire.SMSGTaskList {
		c.t.Fatalf("opcode = %s, want SMSG_TASK_LIST", op)
	}
	ok, err := c.r.ReadBool()
	if err != nil {
		c.t.Fatal(err)
	}
	if !ok {
		msg, err := c.r.ReadString()
		if err != nil {
			c.t.Fatal(err)
		}
		return false, msg, nil
	}
	var ids []uint32
	for {
		id, err := c.r.ReadUint32()
		if err != nil {
			c.t.Fatal(err)
		}
		if id == 0 {
			break
		}
		ids = append(ids, id)
		if _, err := c.r.ReadFloat64(); err != nil {
			c.t.Fatal(err)
		}
		if _, err := c.r.ReadFloat64(); err != nil {
			c.t.Fatal(err)
		}
	}
	return true, "", ids
}

func (c *testClient) getTask(employer, id uint32) (bool, string) {
	c.t.Helper()
	c.w.WriteOpcode(wire.CMSGTaskGet)
	c.w.WriteUint32(employer)
	c.w.WriteUint32(id)
	if err := c.w.Flush(); err != nil {
		c.t.Fatal(err)
	}
	return c.expectOpcodeAndResult(wire.SMSGTask)
}

func TestAuthHappyPath(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)
	if !c.auth(testPassword) {
		t.Fatal("expected auth to succeed")
	}
}

func TestAuthFailureClosesConnection(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)
	if c.auth("wrong_password") {
		t.Fatal("expected auth to fail")
	}
	// the server must have closed its end; a subsequent
	// read observes EOF (or the write itself eventually
	// fails) rather than hanging
	c.w.WriteOpcode(wire.CMSGQueueCreateRequest)
	c.w.WriteUint32(1)
	c.w.Flush()
	if _, err := c.r.ReadOpcode(); err == nil {
		t.Fatal("expected the connection to be closed after auth failure")
	}
}

func TestMoveFromStartToEnd(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)
	if !c.auth(testPassword) {
		t.Fatal("auth failed")
	}
	if ok, msg := c.createQueue(1); !ok {
		t.Fatalf("create queue: %s", msg)
	}
	if !c.addTask(1, 1, 60.0, 162030.0, 0) {
		t.Fatal("add task 1 failed")
	}
	if !c.addTask(1, 2, 120.0, 162040.0, 0) {
		t.Fatal("add task 2 failed")
	}
	if !c.addTask(1, 3, 180.0, 162050.0, 0) {
		t.Fatal("add task 3 failed")
	}

	if !c.moveTask(1, 1, 3) {
		t.Fatal("move 1 after 3 failed")
	}
	assertListOrder(t, c, 1, []uint32{2, 3, 1})

	if !c.moveTask(1, 1, 2) {
		t.Fatal("move 1 after 2 failed")
	}
	assertListOrder(t, c, 1, []uint32{2, 1, 3})

	if !c.moveTask(1, 1, 0) {
		t.Fatal("move 1 to front failed")
	}
	assertListOrder(t, c, 1, []uint32{1, 2, 3})
}

func assertListOrder(t *testing.T, c *testClient, employer uint32, want []uint32) {
	t.Helper()
	ok, msg, ids := c.listTasks(employer, 0, 0)
	if !ok {
		t.Fatalf("list: %s", msg)
	}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestUnknownTaskForGet(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)
	if !c.auth(testPassword) {
		t.Fatal("auth failed")
	}
	if ok, msg := c.createQueue(1); !ok {
		t.Fatalf("create queue: %s", msg)
	}
	if !c.addTask(1, 1, 60.0, 0, 0) {
		t.Fatal("add task 1 failed")
	}

	ok, msg := c.getTask(1, 999)
	if ok {
		t.Fatal("expected get of unknown task to fail")
	}
	if msg != "Task not found." {
		t.Fatalf("message = %q", msg)
	}
}

func TestUnknownQueueForList(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)
	if !c.auth(testPassword) {
		t.Fatal("auth failed")
	}

	ok, msg, _ := c.listTasks(2, 1, 3)
	if ok {
		t.Fatal("expected list against unknown queue to fail")
	}
	if msg != "No queue for employer_id 2" {
		t.Fatalf("message = %q", msg)
	}
}
