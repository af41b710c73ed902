package chord

// network.go: datagram transport used by nodes and clients

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// maxDatagram bounds a single envelope on the wire.
const maxDatagram = 64 * 1024

var (
	// ErrTimeout is returned by Receive when nothing arrived in time.
	ErrTimeout = errors.New("receive timeout")
	// ErrEmpty is returned by Receive for a zero-length datagram.
	ErrEmpty = errors.New("empty datagram")
	// ErrClosed is returned once the transport has been closed.
	ErrClosed = errors.New("transport closed")
)

// Transport is a lossy, unordered datagram channel bound to one address.
type Transport interface {
	// Addr is the address peers use to reach this transport.
	Addr() string
	// Send is fire-and-forget: a nil error only means the datagram left.
	Send(to string, env Envelope) error
	// Receive blocks up to timeout. It returns the decoded envelope and the
	// sender's address, or ErrTimeout, ErrEmpty, ErrClosed, or an ErrMalformed
	// wrap for a datagram that did not decode (the sender is still reported).
	Receive(timeout time.Duration) (Envelope, string, error)
	Close() error
}

// UDPTransport implements Transport over a single UDP socket.
type UDPTransport struct {
	conn *net.UDPConn
	addr string
	buf  []byte
}

// ListenUDP binds addr ("host:port"; port 0 picks a free one).
func ListenUDP(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr)
	host := udpAddr.IP.String()
	if udpAddr.IP == nil {
		host = local.IP.String()
	}
	return &UDPTransport{
		conn: conn,
		addr: net.JoinHostPort(host, fmt.Sprint(local.Port)),
		buf:  make([]byte, maxDatagram),
	}, nil
}

func (network *UDPTransport) Addr() string { return network.addr }

func (network *UDPTransport) Send(to string, env Envelope) error {
	dst, err := net.ResolveUDPAddr("udp", to)
	if err != nil {
		return err
	}
	b, err := env.marshal()
	if err != nil {
		return err
	}
	if len(b) > maxDatagram {
		return fmt.Errorf("%s envelope of %d bytes exceeds datagram limit", env.Method, len(b))
	}
	_, err = network.conn.WriteToUDP(b, dst)
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (network *UDPTransport) Receive(timeout time.Duration) (Envelope, string, error) {
	if err := network.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Envelope{}, "", ErrClosed
		}
		return Envelope{}, "", err
	}
	n, src, err := network.conn.ReadFromUDP(network.buf)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return Envelope{}, "", ErrTimeout
		case errors.Is(err, net.ErrClosed):
			return Envelope{}, "", ErrClosed
		}
		return Envelope{}, "", err
	}
	from := src.String()
	if n == 0 {
		return Envelope{}, from, ErrEmpty
	}
	data := make([]byte, n) // decoded args must not alias the read buffer
	copy(data, network.buf[:n])
	var env Envelope
	if err := env.unmarshal(data); err != nil {
		return Envelope{}, from, err
	}
	return env, from, nil
}

func (network *UDPTransport) Close() error {
	if err := network.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
