package chord

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the default receive timeout, which is also the stabilisation interval.
const DefaultTimeout = 3 * time.Second

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the construction parameters of a node.
type Config struct {
	// Addr is the UDP address to bind, "host:port". The node id is derived from it,
	// so the host must be one peers can reach: wildcards are rejected.
	Addr string
	// Bootstrap is the address of any ring member; empty starts a new ring.
	Bootstrap string
	// Timeout bounds every receive. Each timeout runs one stabilisation round.
	Timeout time.Duration
	// Bits is the ring size exponent m.
	Bits int
	// MaxHops drops forwarded envelopes that travelled further. Zero means 2^Bits.
	MaxHops int
	Logger  *zap.Logger
}

// DefaultConfig returns a config for a new ring member listening on addr.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:    addr,
		Timeout: DefaultTimeout,
		Bits:    DefaultBits,
	}
}

// Validate checks the config and fills in defaults for zero values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidConfig)
	}
	// the address is hashed into the node id and handed to peers, so it must name one host
	host, _, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalidConfig, c.Addr, err)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		return fmt.Errorf("%w: address %q needs a concrete host, not a wildcard", ErrInvalidConfig, c.Addr)
	}
	if c.Bootstrap != "" && c.Bootstrap == c.Addr {
		return fmt.Errorf("%w: bootstrap %s is the node itself", ErrInvalidConfig, c.Bootstrap)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Timeout)
	}
	if c.Bits < 1 || c.Bits > 32 {
		return fmt.Errorf("%w: bits must be in 1..32, got %d", ErrInvalidConfig, c.Bits)
	}
	if c.MaxHops < 0 {
		return fmt.Errorf("%w: negative max hops %d", ErrInvalidConfig, c.MaxHops)
	}
	if c.MaxHops == 0 {
		c.MaxHops = 1 << uint(c.Bits)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}
