package chord

import (
	"fmt"
	mrand "math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/emirpasic/gods/trees/avltree"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// -----------------------------
// In-memory datagram fabric
// -----------------------------

type memPacket struct {
	from string
	data []byte
}

// memNetwork routes datagrams between memTransports inside the test process.
// Loss is decided per datagram by a seeded PRNG so runs are repeatable.
type memNetwork struct {
	mu      sync.Mutex
	ports   map[string]*memTransport
	dropPct int
	rng     *mrand.Rand
}

func newMemNetwork(dropPct int, seed int64) *memNetwork {
	return &memNetwork{
		ports:   make(map[string]*memTransport),
		dropPct: dropPct,
		rng:     mrand.New(mrand.NewSource(seed)),
	}
}

func (mn *memNetwork) listen(addr string) *memTransport {
	t := &memTransport{
		network: mn,
		addr:    addr,
		inbox:   make(chan memPacket, 4096),
		closed:  make(chan struct{}),
	}
	mn.mu.Lock()
	mn.ports[addr] = t
	mn.mu.Unlock()
	return t
}

func (mn *memNetwork) setDrop(pct int) {
	mn.mu.Lock()
	mn.dropPct = pct
	mn.mu.Unlock()
}

func (mn *memNetwork) lost() bool {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	return mn.dropPct > 0 && mn.rng.Intn(100) < mn.dropPct
}

// inject queues raw bytes for to, as if from had sent them.
func (mn *memNetwork) inject(from, to string, data []byte) {
	mn.mu.Lock()
	dst := mn.ports[to]
	mn.mu.Unlock()
	if dst == nil {
		return
	}
	select {
	case dst.inbox <- memPacket{from: from, data: data}:
	default: // full queue: dropped like an overrun socket buffer
	}
}

type memTransport struct {
	network   *memNetwork
	addr      string
	inbox     chan memPacket
	closed    chan struct{}
	closeOnce sync.Once
}

func (t *memTransport) Addr() string { return t.addr }

func (t *memTransport) Send(to string, env Envelope) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	b, err := env.marshal()
	if err != nil {
		return err
	}
	if t.network.lost() {
		return nil
	}
	t.network.inject(t.addr, to, b)
	return nil
}

func (t *memTransport) Receive(timeout time.Duration) (Envelope, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.closed:
		return Envelope{}, "", ErrClosed
	case p := <-t.inbox:
		return decodePacket(p)
	case <-timer.C:
		return Envelope{}, "", ErrTimeout
	}
}

func (t *memTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// next pops a queued packet without waiting.
func (t *memTransport) next() (memPacket, bool) {
	select {
	case p := <-t.inbox:
		return p, true
	default:
		return memPacket{}, false
	}
}

// drain discards everything queued and returns the envelopes that decoded.
func (t *memTransport) drain() []Envelope {
	var out []Envelope
	for {
		p, ok := t.next()
		if !ok {
			return out
		}
		if env, _, err := decodePacket(p); err == nil {
			out = append(out, env)
		}
	}
}

func decodePacket(p memPacket) (Envelope, string, error) {
	if len(p.data) == 0 {
		return Envelope{}, p.from, ErrEmpty
	}
	var env Envelope
	if err := env.unmarshal(p.data); err != nil {
		return Envelope{}, p.from, err
	}
	return env, p.from, nil
}

// -----------------------------
// Step-driven ring harness
// -----------------------------

const maxPumpSteps = 200000

// simRing drives nodes by hand instead of through Run: a "round" is one
// receive timeout on every node, and pump delivers queued datagrams until
// the whole ring is quiet. Everything happens on the test goroutine.
type simRing struct {
	t     *testing.T
	net   *memNetwork
	bits  int
	log   *zap.Logger
	nodes []*Node
	// hold keeps a node's inbox undelivered during pump
	hold *Node
}

func newSimRing(t *testing.T, bits, dropPct int, seed int64) *simRing {
	t.Helper()
	return &simRing{
		t:    t,
		net:  newMemNetwork(dropPct, seed),
		bits: bits,
		log:  zaptest.NewLogger(t, zaptest.Level(zap.ErrorLevel)),
	}
}

// addrsWithDistinctIDs returns n addresses whose ring ids do not collide.
func addrsWithDistinctIDs(n, bits int) []string {
	seen := make(map[ID]bool)
	addrs := make([]string, 0, n)
	for i := 0; len(addrs) < n; i++ {
		addr := fmt.Sprintf("10.0.%d.%d:4000", i/250, i%250+1)
		id := Hash(addr, bits)
		if seen[id] {
			continue
		}
		seen[id] = true
		addrs = append(addrs, addr)
	}
	return addrs
}

func (r *simRing) newNode(addr, bootstrap string) *Node {
	r.t.Helper()
	cfg := Config{Bootstrap: bootstrap, Timeout: time.Second, Bits: r.bits, Logger: r.log}
	node, err := NewNodeWithTransport(cfg, r.net.listen(addr))
	if err != nil {
		r.t.Fatalf("NewNodeWithTransport(%s): %v", addr, err)
	}
	r.nodes = append(r.nodes, node)
	return node
}

func (r *simRing) transport(node *Node) *memTransport {
	return node.transport.(*memTransport)
}

// pump delivers datagrams, one per node per step, until no inbox holds anything.
// A joining node only reacts to JOIN_REP, as in Node.join.
func (r *simRing) pump() int {
	r.t.Helper()
	delivered := 0
	for step := 0; step < maxPumpSteps; step++ {
		progress := false
		for _, node := range r.nodes {
			if node == r.hold {
				continue
			}
			p, ok := r.transport(node).next()
			if !ok {
				continue
			}
			progress = true
			delivered++
			env, from, err := decodePacket(p)
			if err != nil {
				continue
			}
			if node.State() == StateJoining && env.Method != MethodJoinRep {
				continue
			}
			node.handle(env, from)
		}
		if !progress {
			return delivered
		}
	}
	r.t.Fatalf("ring still busy after %d steps", maxPumpSteps)
	return delivered
}

// join repeats JOIN_REQ from node to its bootstrap until it is admitted.
func (r *simRing) join(node *Node) {
	r.t.Helper()
	for attempt := 0; node.State() == StateJoining; attempt++ {
		if attempt == 100 {
			r.t.Fatalf("%s never admitted", node.me)
		}
		node.send(node.bootstrap, MethodJoinReq, JoinReqArgs{ID: node.me.ID, Addr: node.me.Addr}, "")
		r.pump()
	}
}

// rounds runs n stabilisation rounds: every active node times out once, then the ring drains.
func (r *simRing) rounds(n int) {
	r.t.Helper()
	for i := 0; i < n; i++ {
		for _, node := range r.nodes {
			if node.State() == StateActive {
				node.onTimeout()
			}
		}
		r.pump()
	}
}

// build starts a ring of n nodes: the first creates it, the rest join through it.
func (r *simRing) build(n, roundsPerJoin int) {
	r.t.Helper()
	addrs := addrsWithDistinctIDs(n, r.bits)
	first := r.newNode(addrs[0], "")
	for _, addr := range addrs[1:] {
		r.join(r.newNode(addr, first.Addr()))
		r.rounds(roundsPerJoin)
	}
}

func idComparator(a, b interface{}) int {
	x, y := a.(ID), b.(ID)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// owner is the oracle: the first node at or after h clockwise.
func (r *simRing) owner(h ID) Contact {
	tree := avltree.NewWith(idComparator)
	for _, node := range r.nodes {
		tree.Put(node.ID(), node.Contact())
	}
	if n, ok := tree.Ceiling(h); ok {
		return n.Value.(Contact)
	}
	return tree.Left().Value.(Contact)
}

func (r *simRing) byAddr(addr string) *Node {
	for _, node := range r.nodes {
		if node.Addr() == addr {
			return node
		}
	}
	return nil
}

// sorted returns the ring members in clockwise id order.
func (r *simRing) sorted() []Contact {
	out := make([]Contact, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, node.Contact())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// checkConverged reports the first routing pointer that disagrees with the oracle.
func (r *simRing) checkConverged() error {
	ring := r.sorted()
	n := len(ring)
	for i, c := range ring {
		snap := r.byAddr(c.Addr).Snapshot()
		if want := ring[(i+1)%n]; snap.Successor != want {
			return fmt.Errorf("%s: successor %s, want %s", c, snap.Successor, want)
		}
		want := ring[(i-1+n)%n]
		if snap.Predecessor == nil || *snap.Predecessor != want {
			return fmt.Errorf("%s: predecessor %v, want %s", c, snap.Predecessor, want)
		}
		for idx, f := range snap.Fingers {
			if want := r.owner(FingerStart(c.ID, idx+1, r.bits)); f != want {
				return fmt.Errorf("%s: finger %d = %s, want %s", c, idx+1, f, want)
			}
		}
	}
	return nil
}

// request sends one client request into the ring, drains it and returns the reply.
func (r *simRing) request(client *memTransport, to string, method Method, args interface{}) Envelope {
	r.t.Helper()
	env, err := NewEnvelope(method, args)
	if err != nil {
		r.t.Fatalf("NewEnvelope: %v", err)
	}
	env.ReqID = uuid.NewString()
	if err := client.Send(to, env); err != nil {
		r.t.Fatalf("Send: %v", err)
	}
	r.pump()
	replies := client.drain()
	if len(replies) != 1 {
		r.t.Fatalf("%s via %s: got %d replies, want 1", method, to, len(replies))
	}
	if replies[0].ReqID != env.ReqID {
		r.t.Fatalf("reply carries request id %q, want %q", replies[0].ReqID, env.ReqID)
	}
	return replies[0]
}
