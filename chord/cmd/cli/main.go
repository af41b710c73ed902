package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chordring/chord"
)

func newLogger(level string, production bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	if production {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9001", "UDP listen address for this node, e.g. 127.0.0.1:9001")
	bootstrap := flag.String("bootstrap", "", "optional <host:port> of a ring member to join")
	timeout := flag.Duration("timeout", chord.DefaultTimeout, "receive timeout; also the stabilisation interval")
	bits := flag.Int("bits", chord.DefaultBits, "ring size exponent m (identifiers in [0, 2^m))")
	maxHops := flag.Int("max-hops", 0, "drop forwarded messages after this many hops (0 = 2^bits)")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	jsonLogs := flag.Bool("json-logs", false, "emit production JSON logs")
	flag.Parse()

	logger, err := newLogger(*logLevel, *jsonLogs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	cfg := chord.Config{
		Addr:      *addr,
		Bootstrap: strings.TrimSpace(*bootstrap),
		Timeout:   *timeout,
		Bits:      *bits,
		MaxHops:   *maxHops,
		Logger:    logger,
	}
	node, err := chord.NewNode(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR starting node:", err)
		os.Exit(2)
	}

	// replies from owners land on a separate socket next to the node
	host, _, err := net.SplitHostPort(node.Addr())
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR parsing node address:", err)
		os.Exit(2)
	}
	client, err := chord.NewClient(net.JoinHostPort(host, "0"), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERR starting client:", err)
		os.Exit(2)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	cli := chord.NewCLI(node, client, os.Stdin, os.Stdout, stop)
	cli.SetTimeout(*timeout + 2*time.Second)

	fmt.Printf("node up: id=%d addr=%s\n", node.ID(), node.Addr())
	if cfg.Bootstrap != "" {
		fmt.Printf("joining via %s\n", cfg.Bootstrap)
	}
	fmt.Println("commands: put <key> <value> | get <key> | state | exit")

	go func() {
		if err := cli.Run(); err != nil {
			fmt.Fprintln(os.Stderr, "ERR:", err)
		}
		stop()
	}()

	if err := <-done; err != nil {
		logger.Error("node exited", zap.Error(err))
		os.Exit(1)
	}
}
