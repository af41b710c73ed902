package chord

// node.go: node state, lifecycle and the processing loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle phase of a node.
type State int

const (
	StateJoining State = iota
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "JOINING"
	case StateActive:
		return "ACTIVE"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Node is one ring member. All protocol handling happens on the goroutine
// running Run; the mutex only lets other goroutines read consistent snapshots.
type Node struct {
	me        Contact
	bits      int
	bootstrap string
	timeout   time.Duration
	maxHops   int
	transport Transport
	log       *zap.Logger

	mu          sync.RWMutex
	state       State
	successor   Contact
	predecessor *Contact
	fingers     *FingerTable
	store       *Keystore
	// successor handed to each requester we admitted, so a retried JOIN_REQ gets the same answer
	admitted map[ID]Contact

	stopOnce sync.Once
}

// NewNode binds a UDP socket on cfg.Addr and returns a node ready to Run.
func NewNode(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport, err := ListenUDP(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.Addr, err)
	}
	return NewNodeWithTransport(cfg, transport)
}

// NewNodeWithTransport builds a node on an existing transport. The node's
// identity is derived from transport.Addr(), not cfg.Addr.
func NewNodeWithTransport(cfg Config, transport Transport) (*Node, error) {
	cfg.Addr = transport.Addr()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	me := NewContact(transport.Addr(), cfg.Bits)
	node := &Node{
		me:        me,
		bits:      cfg.Bits,
		bootstrap: cfg.Bootstrap,
		timeout:   cfg.Timeout,
		maxHops:   cfg.MaxHops,
		transport: transport,
		log:       cfg.Logger.With(zap.Uint64("node", uint64(me.ID)), zap.String("addr", me.Addr)),
		fingers:   NewFingerTable(me, cfg.Bits),
		store:     NewKeystore(),
		admitted:  make(map[ID]Contact),
	}
	if cfg.Bootstrap == "" {
		// sole ring member: own successor, no predecessor
		node.state = StateActive
		node.successor = me
	} else {
		node.state = StateJoining
	}
	return node, nil
}

// Run joins the ring (if a bootstrap was given) and processes messages until
// ctx is cancelled or Stop is called. It returns nil on a requested stop.
func (node *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = node.transport.Close()
	}()
	defer node.setState(StateStopped)

	if err := node.join(ctx); err != nil {
		return node.exitErr(ctx, err)
	}
	for {
		env, from, err := node.transport.Receive(node.timeout)
		switch {
		case err == nil:
			node.handle(env, from)
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrEmpty):
			node.onTimeout()
		case errors.Is(err, ErrMalformed):
			node.log.Warn("dropping malformed datagram", zap.String("from", from), zap.Error(err))
		case errors.Is(err, ErrClosed):
			return node.exitErr(ctx, err)
		default:
			node.log.Warn("receive failed", zap.Error(err))
			if !node.pause(ctx) {
				return node.exitErr(ctx, ctx.Err())
			}
			node.onTimeout()
		}
	}
}

// pause waits out one receive timeout after a socket error. It reports false once ctx is done.
func (node *Node) pause(ctx context.Context) bool {
	timer := time.NewTimer(node.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stop closes the node's transport; a running Run returns shortly after.
func (node *Node) Stop() {
	node.stopOnce.Do(func() {
		_ = node.transport.Close()
	})
}

func (node *Node) exitErr(ctx context.Context, err error) error {
	node.log.Info("node stopped")
	if ctx.Err() != nil || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// join repeats JOIN_REQ towards the bootstrap until a JOIN_REP is processed.
func (node *Node) join(ctx context.Context) error {
	for node.State() == StateJoining {
		if err := ctx.Err(); err != nil {
			return err
		}
		node.log.Debug("sending join request", zap.String("bootstrap", node.bootstrap))
		node.send(node.bootstrap, MethodJoinReq, JoinReqArgs{ID: node.me.ID, Addr: node.me.Addr}, "")

		env, from, err := node.transport.Receive(node.timeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrClosed):
			return err
		case errors.Is(err, ErrMalformed):
			node.log.Warn("dropping malformed datagram", zap.String("from", from), zap.Error(err))
			continue
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrEmpty):
			continue
		default:
			node.log.Warn("receive failed", zap.Error(err))
			if !node.pause(ctx) {
				return ctx.Err()
			}
			continue
		}
		if env.Method != MethodJoinRep {
			node.log.Debug("ignoring message while joining", zap.String("method", string(env.Method)))
			continue
		}
		node.handle(env, from)
	}
	return nil
}

// handle dispatches one envelope. It holds the state lock for the whole handler.
func (node *Node) handle(env Envelope, from string) {
	node.mu.Lock()
	defer node.mu.Unlock()

	if env.Hops > node.maxHops {
		node.log.Warn("dropping envelope over hop limit",
			zap.String("method", string(env.Method)), zap.Int("hops", env.Hops))
		return
	}
	node.log.Debug("received", zap.String("method", string(env.Method)), zap.String("from", from))

	switch env.Method {
	case MethodJoinReq:
		node.onJoinRequest(env)
	case MethodJoinRep:
		node.onJoinReply(env)
	case MethodNotify:
		node.onNotify(env)
	case MethodPredecessor:
		node.onPredecessorRequest(from)
	case MethodStabilize:
		node.onStabilize(env)
	case MethodSuccessor:
		node.onSuccessorRequest(env)
	case MethodSuccessorRep:
		node.onSuccessorReply(env)
	case MethodPut:
		node.onPut(env, from)
	case MethodGet:
		node.onGet(env, from)
	default:
		node.log.Debug("ignoring unsolicited message", zap.String("method", string(env.Method)))
	}
}

// onTimeout starts a stabilisation round: ask our successor for its predecessor.
func (node *Node) onTimeout() {
	node.mu.RLock()
	successor := node.successor
	node.mu.RUnlock()
	node.send(successor.Addr, MethodPredecessor, nil, "")
}

func (node *Node) send(to string, method Method, args interface{}, reqID string) {
	env, err := NewEnvelope(method, args)
	if err != nil {
		node.log.Error("encoding envelope", zap.Error(err))
		return
	}
	env.ReqID = reqID
	node.sendEnvelope(to, env)
}

func (node *Node) sendEnvelope(to string, env Envelope) {
	if err := node.transport.Send(to, env); err != nil {
		node.log.Warn("send failed",
			zap.String("to", to), zap.String("method", string(env.Method)), zap.Error(err))
	}
}

// forward relays env unchanged apart from its hop count.
func (node *Node) forward(to string, env Envelope) {
	env.Hops++
	node.log.Debug("forwarding", zap.String("method", string(env.Method)), zap.String("to", to))
	node.sendEnvelope(to, env)
}

func (node *Node) setState(s State) {
	node.mu.Lock()
	node.state = s
	node.mu.Unlock()
}

// ID is the node's ring position.
func (node *Node) ID() ID { return node.me.ID }

// Addr is the address the node listens on.
func (node *Node) Addr() string { return node.me.Addr }

// Contact is the node's identity.
func (node *Node) Contact() Contact { return node.me }

func (node *Node) State() State {
	node.mu.RLock()
	defer node.mu.RUnlock()
	return node.state
}

func (node *Node) Successor() Contact {
	node.mu.RLock()
	defer node.mu.RUnlock()
	return node.successor
}

// Predecessor reports false while no predecessor is known.
func (node *Node) Predecessor() (Contact, bool) {
	node.mu.RLock()
	defer node.mu.RUnlock()
	if node.predecessor == nil {
		return Contact{}, false
	}
	return *node.predecessor, true
}

// Snapshot is a point-in-time copy of a node's routing state and keys.
type Snapshot struct {
	Self        Contact
	State       State
	Successor   Contact
	Predecessor *Contact
	Fingers     []Contact
	Keys        []string
}

func (node *Node) Snapshot() Snapshot {
	node.mu.RLock()
	defer node.mu.RUnlock()
	s := Snapshot{
		Self:      node.me,
		State:     node.state,
		Successor: node.successor,
		Fingers:   node.fingers.Entries(),
		Keys:      node.store.Keys(),
	}
	if node.predecessor != nil {
		pred := *node.predecessor
		s.Predecessor = &pred
	}
	return s
}

func (s Snapshot) String() string {
	pred := "none"
	if s.Predecessor != nil {
		pred = s.Predecessor.String()
	}
	fingers := make([]string, len(s.Fingers))
	for i, f := range s.Fingers {
		fingers[i] = fmt.Sprint(f.ID)
	}
	return fmt.Sprintf("node %s state=%s successor=%s predecessor=%s fingers=[%s] keys=%d",
		s.Self, s.State, s.Successor, pred, strings.Join(fingers, " "), len(s.Keys))
}
