package chord

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds a single CLI put or get.
const DefaultRequestTimeout = 5 * time.Second

// CLI is a thin command layer over a running node and a client.
// It does not own the node's lifecycle; it only issues commands to it.
type CLI struct {
	node    *Node
	client  *Client
	in      io.Reader
	out     io.Writer
	quit    func()
	timeout time.Duration
}

// NewCLI constructs a CLI that routes requests through node using client.
// `quit` is invoked on "exit".
func NewCLI(node *Node, client *Client, in io.Reader, out io.Writer, quit func()) *CLI {
	if quit == nil {
		quit = func() {}
	}
	return &CLI{node: node, client: client, in: in, out: out, quit: quit, timeout: DefaultRequestTimeout}
}

// SetTimeout changes how long put/get wait for the owner's reply.
func (cli *CLI) SetTimeout(d time.Duration) { cli.timeout = d }

// RunLine executes a single command line:
//
//	put <key> <value>  -> prints OK, or EXISTS if the key is already stored
//	get <key>          -> prints the value, or NOTFOUND
//	state              -> prints the node's routing state
//	exit               -> calls quit() and returns io.EOF
//
// Failures print a line starting with ERR and return a non-nil error.
func (cli *CLI) RunLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	cmd, arg := splitOnce(line)

	switch strings.ToLower(cmd) {
	case "put":
		key, value := splitOnce(arg)
		if key == "" || value == "" {
			fmt.Fprintln(cli.out, "ERR usage: put <key> <value>")
			return errors.New("put: missing argument")
		}
		ctx, cancel := context.WithTimeout(context.Background(), cli.timeout)
		defer cancel()
		err := cli.client.Put(ctx, cli.node.Addr(), key, []byte(value))
		switch {
		case errors.Is(err, ErrKeyExists):
			fmt.Fprintln(cli.out, "EXISTS")
			return err
		case err != nil:
			fmt.Fprintf(cli.out, "ERR %v\n", err)
			return err
		}
		fmt.Fprintln(cli.out, "OK")
		return nil

	case "get":
		key := strings.TrimSpace(arg)
		if key == "" {
			fmt.Fprintln(cli.out, "ERR usage: get <key>")
			return errors.New("get: missing argument")
		}
		ctx, cancel := context.WithTimeout(context.Background(), cli.timeout)
		defer cancel()
		value, err := cli.client.Get(ctx, cli.node.Addr(), key)
		switch {
		case errors.Is(err, ErrNotFound):
			fmt.Fprintln(cli.out, "NOTFOUND")
			return err
		case err != nil:
			fmt.Fprintf(cli.out, "ERR %v\n", err)
			return err
		}
		fmt.Fprintln(cli.out, string(value))
		return nil

	case "state":
		fmt.Fprintln(cli.out, cli.node.Snapshot().String())
		return nil

	case "exit":
		cli.quit()
		return io.EOF

	default:
		fmt.Fprintln(cli.out, "ERR unknown command")
		return errors.New("unknown command")
	}
}

// Run reads commands from cli.in until EOF or "exit".
func (cli *CLI) Run() error {
	sc := bufio.NewScanner(cli.in)
	for sc.Scan() {
		if err := cli.RunLine(sc.Text()); err == io.EOF {
			return nil
		}
	}
	return sc.Err()
}

// splitOnce splits on the first span of whitespace into (head, tail).
func splitOnce(s string) (head, tail string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}
