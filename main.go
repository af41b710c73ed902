package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"chordring/chord"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Three nodes on ephemeral ports; the first one starts the ring.
	var nodes []*chord.Node
	for i := 0; i < 3; i++ {
		cfg := chord.DefaultConfig("127.0.0.1:0")
		cfg.Timeout = 200 * time.Millisecond
		cfg.Logger = logger.Named(fmt.Sprintf("n%d", i))
		if i > 0 {
			cfg.Bootstrap = nodes[0].Addr()
		}
		n, err := chord.NewNode(cfg)
		if err != nil {
			log.Fatal(err)
		}
		nodes = append(nodes, n)
		go func() { _ = n.Run(ctx) }()
	}

	// Give a few stabilisation rounds to close the ring.
	time.Sleep(2 * time.Second)

	client, err := chord.NewClient("127.0.0.1:0", logger.Named("client"))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	defer reqCancel()
	if err := client.Put(reqCtx, nodes[1].Addr(), "hello", []byte("world")); err != nil {
		log.Fatal(err)
	}
	value, err := client.Get(reqCtx, nodes[2].Addr(), "hello")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("hello -> %s (key id %d)\n", value, chord.Hash("hello", chord.DefaultBits))

	for _, n := range nodes {
		fmt.Println(n.Snapshot())
	}
}
