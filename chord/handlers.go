package chord

// handlers.go: protocol handlers. Every handler runs with node.mu held.

import (
	"go.uber.org/zap"
)

func (node *Node) isSingleton() bool {
	return node.successor.ID == node.me.ID
}

// onJoinRequest admits the requester if it falls between us and our
// successor, otherwise passes the request along the ring.
func (node *Node) onJoinRequest(env Envelope) {
	var args JoinReqArgs
	if err := env.DecodeArgs(&args); err != nil {
		node.log.Warn("bad join request", zap.Error(err))
		return
	}
	requester := Contact{ID: args.ID, Addr: args.Addr}
	if requester.ID == node.me.ID && requester.Addr != node.me.Addr {
		node.log.Warn("identifier collision, refusing join", zap.String("requester", requester.Addr))
		return
	}

	if requester == node.successor {
		// A retry from a node already spliced in behind us; its JOIN_REP was lost.
		// Without a record of what it was handed, hand it ourselves: stabilisation
		// walks its successor back to the right place.
		handed, ok := node.admitted[requester.ID]
		if !ok {
			handed = node.me
		}
		node.log.Debug("repeating join reply", zap.Stringer("requester", requester), zap.Stringer("successor", handed))
		node.send(requester.Addr, MethodJoinRep, JoinRepArgs{SuccessorID: handed.ID, SuccessorAddr: handed.Addr}, "")
		return
	}

	switch {
	case node.isSingleton():
		node.admit(requester, node.me)
	case Contains(node.me.ID, node.successor.ID, requester.ID):
		node.admit(requester, node.successor)
	default:
		node.log.Debug("passing join request on", zap.Stringer("requester", requester))
		node.forward(node.successor.Addr, env)
	}
}

// admit splices requester in as our successor and tells it who follows it.
func (node *Node) admit(requester, handed Contact) {
	node.successor = requester
	node.fingers.Fill(requester)
	node.admitted[requester.ID] = handed
	node.log.Info("admitted node", zap.Stringer("successor", requester), zap.Stringer("its_successor", handed))
	node.send(requester.Addr, MethodJoinRep, JoinRepArgs{SuccessorID: handed.ID, SuccessorAddr: handed.Addr}, "")
}

func (node *Node) onJoinReply(env Envelope) {
	if node.state != StateJoining {
		node.log.Debug("ignoring join reply, already in the ring")
		return
	}
	var args JoinRepArgs
	if err := env.DecodeArgs(&args); err != nil {
		node.log.Warn("bad join reply", zap.Error(err))
		return
	}
	node.successor = Contact{ID: args.SuccessorID, Addr: args.SuccessorAddr}
	node.fingers.Fill(node.successor)
	node.state = StateActive
	node.log.Info("joined ring", zap.Stringer("successor", node.successor))
}

// onNotify adopts the sender as predecessor if it is closer than the current one.
func (node *Node) onNotify(env Envelope) {
	var args NotifyArgs
	if err := env.DecodeArgs(&args); err != nil {
		node.log.Warn("bad notify", zap.Error(err))
		return
	}
	if node.predecessor != nil && !Contains(node.predecessor.ID, node.me.ID, args.PredecessorID) {
		return
	}
	candidate := Contact{ID: args.PredecessorID, Addr: args.PredecessorAddr}
	if node.predecessor == nil || *node.predecessor != candidate {
		node.log.Info("predecessor changed", zap.Stringer("predecessor", candidate))
	}
	node.predecessor = &candidate
}

func (node *Node) onPredecessorRequest(from string) {
	env, err := stabilizeEnvelope(node.predecessor)
	if err != nil {
		node.log.Error("encoding stabilize", zap.Error(err))
		return
	}
	node.sendEnvelope(from, env)
}

// onStabilize handles our successor's answer to PREDECESSOR: tighten the
// successor pointer, announce ourselves to it and refresh every finger.
func (node *Node) onStabilize(env Envelope) {
	var args StabilizeArgs
	if err := env.DecodeArgs(&args); err != nil {
		node.log.Warn("bad stabilize", zap.Error(err))
		return
	}
	if pred := args.Predecessor; pred != nil && Contains(node.me.ID, node.successor.ID, pred.ID) {
		if *pred != node.successor {
			node.log.Info("successor changed", zap.Stringer("successor", *pred))
		}
		node.successor = *pred
		node.fingers.Update(1, node.successor)
	}

	node.send(node.successor.Addr, MethodNotify, NotifyArgs{PredecessorID: node.me.ID, PredecessorAddr: node.me.Addr}, "")

	for _, target := range node.fingers.RefreshTargets() {
		node.lookupSuccessor(target.Start, node.me.Addr, env.Hops)
	}
}

func (node *Node) onSuccessorRequest(env Envelope) {
	var args SuccessorArgs
	if err := env.DecodeArgs(&args); err != nil {
		node.log.Warn("bad successor request", zap.Error(err))
		return
	}
	node.lookupSuccessor(args.ID, args.From, env.Hops)
}

// lookupSuccessor answers "who follows id" if our successor does, otherwise
// asks our successor. hops is the count the request arrived with.
func (node *Node) lookupSuccessor(id ID, from string, hops int) {
	if Contains(node.me.ID, node.successor.ID, id) {
		node.send(from, MethodSuccessorRep, SuccessorRepArgs{
			ReqID:         id,
			SuccessorID:   node.successor.ID,
			SuccessorAddr: node.successor.Addr,
		}, "")
		return
	}
	env, err := NewEnvelope(MethodSuccessor, SuccessorArgs{ID: id, From: from})
	if err != nil {
		node.log.Error("encoding successor request", zap.Error(err))
		return
	}
	env.Hops = hops
	node.forward(node.successor.Addr, env)
}

func (node *Node) onSuccessorReply(env Envelope) {
	var args SuccessorRepArgs
	if err := env.DecodeArgs(&args); err != nil {
		node.log.Warn("bad successor reply", zap.Error(err))
		return
	}
	index, ok := node.fingers.IndexForID(args.ReqID)
	if !ok {
		node.log.Debug("no finger covers successor reply", zap.Uint64("req_id", uint64(args.ReqID)))
		return
	}
	node.fingers.Update(index, Contact{ID: args.SuccessorID, Addr: args.SuccessorAddr})
}

// owner decides where a request for h goes: ours reports that this node owns h,
// otherwise next is the address to forward to and nextOwns whether next is
// the successor responsible for h. toOwner, the hint the request arrived
// with, settles ownership only while our predecessor is unknown.
func (node *Node) owner(h ID, toOwner bool) (ours bool, next string, nextOwns bool) {
	switch {
	case node.isSingleton():
		return true, "", false
	case Contains(node.me.ID, node.successor.ID, h):
		return false, node.successor.Addr, true
	case node.predecessor == nil && toOwner:
		return true, "", false
	case node.predecessor != nil && Contains(node.predecessor.ID, node.me.ID, h):
		return true, "", false
	}
	next = node.fingers.Find(h)
	if next == node.me.Addr {
		next = node.successor.Addr
	}
	return false, next, false
}

func (node *Node) onPut(env Envelope, sender string) {
	var args PutArgs
	if err := env.DecodeArgs(&args); err != nil {
		node.log.Warn("bad put", zap.Error(err))
		return
	}
	if args.From == "" {
		args.From = sender
	}
	ours, next, nextOwns := node.owner(Hash(args.Key, node.bits), env.ToOwner)
	if !ours {
		fwd, err := NewEnvelope(MethodPut, args)
		if err != nil {
			node.log.Error("encoding put", zap.Error(err))
			return
		}
		fwd.ReqID, fwd.Hops, fwd.ToOwner = env.ReqID, env.Hops, nextOwns
		node.forward(next, fwd)
		return
	}
	if !node.store.Insert(args.Key, args.Value) {
		node.send(args.From, MethodNack, nil, env.ReqID)
		return
	}
	node.log.Debug("stored key", zap.String("key", args.Key))
	node.send(args.From, MethodAck, nil, env.ReqID)
}

func (node *Node) onGet(env Envelope, sender string) {
	var args GetArgs
	if err := env.DecodeArgs(&args); err != nil {
		node.log.Warn("bad get", zap.Error(err))
		return
	}
	if args.From == "" {
		args.From = sender
	}
	ours, next, nextOwns := node.owner(Hash(args.Key, node.bits), env.ToOwner)
	if !ours {
		fwd, err := NewEnvelope(MethodGet, args)
		if err != nil {
			node.log.Error("encoding get", zap.Error(err))
			return
		}
		fwd.ReqID, fwd.Hops, fwd.ToOwner = env.ReqID, env.Hops, nextOwns
		node.forward(next, fwd)
		return
	}
	value, ok := node.store.Lookup(args.Key)
	if !ok {
		node.send(args.From, MethodNack, nil, env.ReqID)
		return
	}
	node.send(args.From, MethodAck, value, env.ReqID)
}
