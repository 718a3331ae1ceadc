package transport

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"tc_eqpsim/internal/core/registry"
	"tc_eqpsim/internal/core/scenario"
	"tc_eqpsim/internal/shared/metrics"
	"tc_eqpsim/internal/shared/types"
)

type fakeTracker struct {
	mu        sync.Mutex
	completed []string
	closed    []string
}

func (f *fakeTracker) MarkScenarioCompleted(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
}

func (f *fakeTracker) MarkPassiveOpened(string) {}

func (f *fakeTracker) MarkPassiveClosed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
}

func (f *fakeTracker) closedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type fakePlans map[string]*scenario.Plan

func (p fakePlans) PlanByProfile(id string) (*scenario.Plan, bool) {
	plan, ok := p[id]
	return plan, ok
}

func mustPlan(t *testing.T, src string) *scenario.Plan {
	t.Helper()
	plan, err := scenario.Parse(strings.NewReader(src), "test.md")
	if err != nil {
		t.Fatalf("failed to parse scenario: %v", err)
	}
	return plan
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

var lineSocket = map[string]types.SocketType{
	"line": {Kind: types.KindLineEnd, LineEnding: types.LineEndingLF},
}

func startTransport(t *testing.T, topo *types.Topology, plans fakePlans, tracker types.CompletionTracker) (*Transport, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(topo, registry.Options{})
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}
	tr := New(Options{Registry: reg, Plans: plans, Tracker: tracker})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(tr.Stop)
	return tr, reg
}

type tcConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialTC(t *testing.T, addr string) *tcConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &tcConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func wrapTC(t *testing.T, conn net.Conn) *tcConn {
	t.Cleanup(func() { conn.Close() })
	return &tcConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *tcConn) send(frame string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(frame + "\n")); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}
}

func (c *tcConn) readLine() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := c.r.ReadString('\n')
	return strings.TrimSuffix(line, "\n"), err
}

func (c *tcConn) expect(want string) {
	c.t.Helper()
	got, err := c.readLine()
	if err != nil {
		c.t.Fatalf("Expected frame '%s', but read failed: %v", want, err)
	}
	if got != want {
		c.t.Fatalf("Expected frame '%s', but got '%s'", want, got)
	}
}

func (c *tcConn) expectClosed() {
	c.t.Helper()
	if line, err := c.readLine(); err == nil {
		c.t.Fatalf("Expected connection to be closed, but got frame '%s'", line)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func passiveTopology(bind string, maxConn int, eqpIDs ...string) *types.Topology {
	eqps := make(map[string]types.EqpDefinition)
	for _, id := range eqpIDs {
		eqps[id] = types.EqpDefinition{Mode: types.ModePassive, Endpoint: "L1", SocketType: "line", Profile: "p"}
	}
	return &types.Topology{
		SocketTypes: lineSocket,
		Endpoints: types.Endpoints{
			Listen: map[string]types.ListenEndpoint{"L1": {Bind: bind, MaxConn: maxConn}},
		},
		Profiles: map[string]types.Profile{"p": {Type: types.ProfileScenario, ScenarioFile: "s.md"}},
		Eqps:     eqps,
	}
}

func TestPassiveAssignsEqpsInOrder(t *testing.T) {
	addr := freeAddr(t)
	tracker := &fakeTracker{}
	plans := fakePlans{"p": mustPlan(t, "[TcToEqp] CMD=PING\n[EqpToTc] CMD=PONG EQPID={eqpid}\n")}
	tr, reg := startTransport(t, passiveTopology(addr, 5, "EQP_B", "EQP_A"), plans, tracker)

	first := dialTC(t, addr)
	first.send("CMD=INITIALIZE")
	first.expect("CMD=INITIALIZE_REP EQPID=EQP_A")

	second := dialTC(t, addr)
	second.send("CMD=INITIALIZE")
	second.expect("CMD=INITIALIZE_REP EQPID=EQP_B")

	second.send("CMD=PING")
	second.expect("CMD=PONG EQPID=EQP_B")

	if n := tr.EndpointSessions()["L1"]; n != 2 {
		t.Errorf("Expected 2 live sessions on L1, but got %d", n)
	}
	if !tr.ConnectedEqps()["EQP_A"] {
		t.Error("Expected EQP_A to be reported as connected")
	}

	first.conn.Close()
	eventually(t, func() bool { return reg.AvailablePassive("L1") == 1 })
	eventually(t, func() bool {
		ids := tracker.closedIDs()
		return len(ids) == 1 && ids[0] == "EQP_A"
	})

	// the released EQP goes to the back of the pool and is handed out again
	third := dialTC(t, addr)
	third.send("CMD=INITIALIZE")
	third.expect("CMD=INITIALIZE_REP EQPID=EQP_A")
}

func TestSessionBytesCountedOnce(t *testing.T) {
	addr := freeAddr(t)
	plans := fakePlans{"p": mustPlan(t, "[TcToEqp] CMD=PING\n")}
	startTransport(t, passiveTopology(addr, 5, "EQP_A"), plans, nil)

	before := metrics.Snapshot()

	const hello = "CMD=INITIALIZE"
	const reply = "CMD=INITIALIZE_REP EQPID=EQP_A"
	tc := dialTC(t, addr)
	tc.send(hello)
	tc.expect(reply)

	wantRx := uint64(len(hello) + 1)
	wantTx := uint64(len(reply) + 1)
	deadline := time.Now().Add(3 * time.Second)
	var rx, tx uint64
	for time.Now().Before(deadline) {
		after := metrics.Snapshot()
		rx, tx = after.BytesRx-before.BytesRx, after.BytesTx-before.BytesTx
		if rx == wantRx && tx == wantTx {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Expected %d rx and %d tx bytes, but got %d rx and %d tx", wantRx, wantTx, rx, tx)
}

func TestPassiveMaxConnRejects(t *testing.T) {
	addr := freeAddr(t)
	plans := fakePlans{"p": mustPlan(t, "[TcToEqp] CMD=PING\n")}
	_, reg := startTransport(t, passiveTopology(addr, 1, "EQP_A", "EQP_B"), plans, nil)

	first := dialTC(t, addr)
	first.send("CMD=INITIALIZE")
	first.expect("CMD=INITIALIZE_REP EQPID=EQP_A")

	second := dialTC(t, addr)
	second.expectClosed()

	if n := reg.AvailablePassive("L1"); n != 1 {
		t.Errorf("Expected rejected connection not to touch the pool, but %d EQPs are available", n)
	}
}

func TestPassivePoolExhausted(t *testing.T) {
	addr := freeAddr(t)
	plans := fakePlans{"p": mustPlan(t, "[TcToEqp] CMD=PING\n")}
	startTransport(t, passiveTopology(addr, 5, "EQP_A"), plans, nil)

	first := dialTC(t, addr)
	first.send("CMD=INITIALIZE")
	first.expect("CMD=INITIALIZE_REP EQPID=EQP_A")

	second := dialTC(t, addr)
	second.expectClosed()
}

func TestStartFailsWhenPortBusy(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer busy.Close()

	reg, err := registry.New(passiveTopology(busy.Addr().String(), 1, "EQP_A"), registry.Options{})
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}
	tr := New(Options{Registry: reg, Plans: fakePlans{}})
	defer tr.Stop()

	err = tr.Start(context.Background())
	if err == nil {
		t.Fatal("Expected bind error, but got nil")
	}
	if !strings.Contains(err.Error(), "L1") {
		t.Errorf("Expected error to name the endpoint, but got: %v", err)
	}
}

func activeTopology(target string) *types.Topology {
	return &types.Topology{
		SocketTypes: lineSocket,
		Endpoints: types.Endpoints{
			Connect: map[string]types.ConnectEndpoint{"C1": {Target: target, ConnCount: 1}},
		},
		Profiles: map[string]types.Profile{"p": {Type: types.ProfileScenario, ScenarioFile: "s.md"}},
		Eqps: map[string]types.EqpDefinition{
			"EQP_X": {Mode: types.ModeActive, Endpoint: "C1", SocketType: "line", Profile: "p"},
		},
	}
}

func acceptTC(t *testing.T, l net.Listener, within time.Duration) (net.Conn, error) {
	t.Helper()
	l.(*net.TCPListener).SetDeadline(time.Now().Add(within))
	return l.Accept()
}

func TestActiveCompletesWithoutReconnect(t *testing.T) {
	tcListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer tcListener.Close()

	tracker := &fakeTracker{}
	plans := fakePlans{"p": mustPlan(t, "[EqpToTc] CMD=HELLO EQPID={eqpid}\n")}
	startTransport(t, activeTopology(tcListener.Addr().String()), plans, tracker)

	conn, err := acceptTC(t, tcListener, 3*time.Second)
	if err != nil {
		t.Fatalf("Expected the EQP to connect, but got: %v", err)
	}
	tc := wrapTC(t, conn)
	tc.send("CMD=INITIALIZE")
	tc.expect("CMD=INITIALIZE_REP EQPID=EQP_X")
	tc.expect("CMD=HELLO EQPID=EQP_X")
	tc.expectClosed()

	if _, err := acceptTC(t, tcListener, 1500*time.Millisecond); err == nil {
		t.Fatal("Expected no reconnect after scenario completion")
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.completed) != 1 || tracker.completed[0] != "EQP_X" {
		t.Errorf("Expected EQP_X to be completed, but got %v", tracker.completed)
	}
}

func TestActiveReconnectsAfterDrop(t *testing.T) {
	tcListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer tcListener.Close()

	plans := fakePlans{"p": mustPlan(t, "[TcToEqp] CMD=GO\n")}
	startTransport(t, activeTopology(tcListener.Addr().String()), plans, nil)

	for i := 1; i <= 2; i++ {
		conn, err := acceptTC(t, tcListener, 4*time.Second)
		if err != nil {
			t.Fatalf("Expected connection #%d, but got: %v", i, err)
		}
		conn.Close()
	}
}

func TestActiveRetriesUntilTargetUp(t *testing.T) {
	addr := freeAddr(t)
	plans := fakePlans{"p": mustPlan(t, "[TcToEqp] CMD=GO\n")}
	startTransport(t, activeTopology(addr), plans, nil)

	time.Sleep(200 * time.Millisecond)
	tcListener, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("port %s was taken meanwhile: %v", addr, err)
	}
	defer tcListener.Close()

	if _, err := acceptTC(t, tcListener, 5*time.Second); err != nil {
		t.Fatalf("Expected the connector to retry, but got: %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	addr := freeAddr(t)
	tr, _ := startTransport(t, passiveTopology(addr, 1, "EQP_A"), fakePlans{}, nil)

	c := dialTC(t, addr)
	eventually(t, func() bool { return len(tr.ConnectedEqps()) == 1 })

	tr.Stop()
	tr.Stop()
	c.expectClosed()
}
