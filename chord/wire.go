package chord

// wire.go: on-wire envelope and per-method argument records

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Method is a protocol verb.
type Method string

const (
	MethodJoinReq      Method = "JOIN_REQ"
	MethodJoinRep      Method = "JOIN_REP"
	MethodNotify       Method = "NOTIFY"
	MethodStabilize    Method = "STABILIZE"
	MethodPredecessor  Method = "PREDECESSOR"
	MethodSuccessor    Method = "SUCCESSOR"
	MethodSuccessorRep Method = "SUCCESSOR_REP"
	MethodPut          Method = "PUT"
	MethodGet          Method = "GET"
	MethodAck          Method = "ACK"
	MethodNack         Method = "NACK"
)

// ErrMalformed marks a datagram that could not be decoded into a known envelope.
var ErrMalformed = errors.New("malformed envelope")

func (m Method) known() bool {
	switch m {
	case MethodJoinReq, MethodJoinRep, MethodNotify, MethodStabilize, MethodPredecessor,
		MethodSuccessor, MethodSuccessorRep, MethodPut, MethodGet, MethodAck, MethodNack:
		return true
	}
	return false
}

// Envelope is the unit exchanged between nodes. Args holds the method-specific
// record, still encoded; ReqID and Hops are transport metadata carried along
// when a request is forwarded. ToOwner is set by a node handing a PUT/GET to
// the successor it believes owns the key.
type Envelope struct {
	Method  Method             `msgpack:"method"`
	Args    msgpack.RawMessage `msgpack:"args,omitempty"`
	ReqID   string             `msgpack:"req,omitempty"`
	Hops    int                `msgpack:"hops,omitempty"`
	ToOwner bool               `msgpack:"to_owner,omitempty"`
}

// JoinReqArgs announces a node asking to be admitted.
type JoinReqArgs struct {
	ID   ID     `msgpack:"id"`
	Addr string `msgpack:"addr"`
}

// JoinRepArgs hands a joining node its successor.
type JoinRepArgs struct {
	SuccessorID   ID     `msgpack:"successor_id"`
	SuccessorAddr string `msgpack:"successor_addr"`
}

// NotifyArgs proposes the sender as the receiver's predecessor.
type NotifyArgs struct {
	PredecessorID   ID     `msgpack:"predecessor_id"`
	PredecessorAddr string `msgpack:"predecessor_addr"`
}

// StabilizeArgs answers PREDECESSOR. Predecessor is nil while none is known;
// the record itself is always present so the args never decode as empty.
type StabilizeArgs struct {
	Predecessor *Contact `msgpack:"predecessor"`
}

// SuccessorArgs asks for the successor of ID; the answer goes to From.
type SuccessorArgs struct {
	ID   ID     `msgpack:"id"`
	From string `msgpack:"from"`
}

// SuccessorRepArgs answers a SUCCESSOR lookup for ReqID.
type SuccessorRepArgs struct {
	ReqID         ID     `msgpack:"req_id"`
	SuccessorID   ID     `msgpack:"successor_id"`
	SuccessorAddr string `msgpack:"successor_addr"`
}

// PutArgs stores Value under Key; the owner replies to From.
type PutArgs struct {
	Key   string `msgpack:"key"`
	Value []byte `msgpack:"value"`
	From  string `msgpack:"from,omitempty"`
}

// GetArgs fetches Key; the owner replies to From.
type GetArgs struct {
	Key  string `msgpack:"key"`
	From string `msgpack:"from,omitempty"`
}

// NewEnvelope encodes args (nil for argument-less methods) into an envelope.
func NewEnvelope(method Method, args interface{}) (Envelope, error) {
	env := Envelope{Method: method}
	if args == nil {
		return env, nil
	}
	raw, err := msgpack.Marshal(args)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s args: %w", method, err)
	}
	env.Args = raw
	return env, nil
}

// stabilizeEnvelope builds the PREDECESSOR answer. pred may be nil.
func stabilizeEnvelope(pred *Contact) (Envelope, error) {
	return NewEnvelope(MethodStabilize, StabilizeArgs{Predecessor: pred})
}

// DecodeArgs decodes the method-specific record into v.
func (e Envelope) DecodeArgs(v interface{}) error {
	if len(e.Args) == 0 {
		return fmt.Errorf("%w: %s without args", ErrMalformed, e.Method)
	}
	if err := msgpack.Unmarshal(e.Args, v); err != nil {
		return fmt.Errorf("%w: %s args: %v", ErrMalformed, e.Method, err)
	}
	return nil
}

func (e Envelope) marshal() ([]byte, error) { return msgpack.Marshal(e) }

func (e *Envelope) unmarshal(b []byte) error {
	if err := msgpack.Unmarshal(b, e); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !e.Method.known() {
		return fmt.Errorf("%w: unknown method %q", ErrMalformed, e.Method)
	}
	return nil
}
