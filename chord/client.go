package chord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrKeyExists is returned by Client.Put when the owner already stores the key.
	ErrKeyExists = errors.New("key already exists")
	// ErrNotFound is returned by Client.Get when the owner has no value for the key.
	ErrNotFound = errors.New("key not found")
)

// pollInterval bounds each receive so a cancelled context is noticed promptly.
const pollInterval = 100 * time.Millisecond

// Client issues PUT/GET requests into the ring and waits for the owner's reply.
// Replies come straight from the owner, so the client needs its own transport.
// Requests are serialised; a Client handles one at a time.
type Client struct {
	transport Transport
	log       *zap.Logger
	mu        sync.Mutex
}

// NewClient binds a UDP socket on addr ("127.0.0.1:0" picks a free port).
func NewClient(addr string, logger *zap.Logger) (*Client, error) {
	transport, err := ListenUDP(addr)
	if err != nil {
		return nil, err
	}
	return NewClientWithTransport(transport, logger), nil
}

// NewClientWithTransport wraps an existing transport.
func NewClientWithTransport(transport Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		log:       logger.With(zap.String("client", transport.Addr())),
	}
}

// Addr is where owners send replies.
func (client *Client) Addr() string { return client.transport.Addr() }

func (client *Client) Close() error { return client.transport.Close() }

// Put asks the node at addr to store value under key somewhere in the ring.
// It returns ErrKeyExists on NACK, or the context error if no reply arrives.
func (client *Client) Put(ctx context.Context, addr, key string, value []byte) error {
	reply, err := client.roundTrip(ctx, addr, MethodPut, PutArgs{Key: key, Value: value, From: client.Addr()})
	if err != nil {
		return err
	}
	if reply.Method == MethodNack {
		return fmt.Errorf("put %q: %w", key, ErrKeyExists)
	}
	return nil
}

// Get fetches the value stored under key via the node at addr.
func (client *Client) Get(ctx context.Context, addr, key string) ([]byte, error) {
	reply, err := client.roundTrip(ctx, addr, MethodGet, GetArgs{Key: key, From: client.Addr()})
	if err != nil {
		return nil, err
	}
	if reply.Method == MethodNack {
		return nil, fmt.Errorf("get %q: %w", key, ErrNotFound)
	}
	var value []byte
	if err := reply.DecodeArgs(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// roundTrip sends one request stamped with a fresh id and waits for the ACK or
// NACK carrying the same id. Anything else received meanwhile is discarded.
func (client *Client) roundTrip(ctx context.Context, addr string, method Method, args interface{}) (Envelope, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	env, err := NewEnvelope(method, args)
	if err != nil {
		return Envelope{}, err
	}
	env.ReqID = uuid.NewString()
	if err := client.transport.Send(addr, env); err != nil {
		return Envelope{}, fmt.Errorf("send %s to %s: %w", method, addr, err)
	}
	client.log.Debug("request sent",
		zap.String("method", string(method)), zap.String("to", addr), zap.String("req", env.ReqID))

	for {
		if err := ctx.Err(); err != nil {
			return Envelope{}, fmt.Errorf("%s %s: %w", method, env.ReqID, err)
		}
		reply, from, err := client.transport.Receive(pollInterval)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrEmpty):
			continue
		case errors.Is(err, ErrMalformed):
			client.log.Warn("dropping malformed reply", zap.String("from", from), zap.Error(err))
			continue
		default:
			return Envelope{}, err
		}
		if reply.ReqID != env.ReqID || (reply.Method != MethodAck && reply.Method != MethodNack) {
			client.log.Debug("discarding unrelated message",
				zap.String("method", string(reply.Method)), zap.String("req", reply.ReqID))
			continue
		}
		return reply, nil
	}
}
