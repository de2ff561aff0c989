// topic-probe joins the local gossip domain as a plain participant, either
// publishing a counter or printing what arrives. Use it to exercise a
// bridge by hand.
// Usage: go run ./cmd/topic-probe -mode pub -topic /chatter -type std_msgs/msg/String
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SWAI-Ltd/topicbridge/client"
)

func main() {
	mode := flag.String("mode", "sub", "sub | pub")
	topic := flag.String("topic", "/chatter", "topic name")
	typ := flag.String("type", "std_msgs/msg/String", "topic type")
	bootstrap := flag.String("bootstrap", "", "comma-separated multiaddrs to dial")
	noDiscovery := flag.Bool("no-discovery", false, "disable mDNS (use in containers)")
	interval := flag.Duration("interval", time.Second, "publish interval")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; cancel() }()

	var peers []string
	if *bootstrap != "" {
		peers = strings.Split(*bootstrap, ",")
	}
	c, err := client.New(ctx, client.Config{
		Bootstrap:        peers,
		DisableDiscovery: *noDiscovery,
		MessageBuffer:    32,
	})
	if err != nil {
		log.Fatalf("join failed: %v", err)
	}
	defer c.Close()
	for _, a := range c.Addrs() {
		fmt.Println("listening:", a)
	}

	switch *mode {
	case "sub":
		if err := c.Subscribe(ctx, *topic, *typ); err != nil {
			log.Fatalf("subscribe failed: %v", err)
		}
		fmt.Printf("Subscribed to %q (%s).\n", *topic, *typ)
		var count int
		for {
			select {
			case <-ctx.Done():
				fmt.Printf("\nDone. Received: %d\n", count)
				return
			case m, ok := <-c.Messages():
				if !ok {
					return
				}
				count++
				fmt.Printf("[%s] %s -> %s\n", time.Now().Format("15:04:05"), m.Topic, string(m.Payload))
			}
		}
	case "pub":
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for seq := 0; ; seq++ {
			payload := fmt.Sprintf("probe %d", seq)
			if err := c.Publish(ctx, *topic, *typ, []byte(payload)); err != nil {
				log.Printf("publish failed: %v", err)
			} else {
				fmt.Printf("[%s] %s <- %s\n", time.Now().Format("15:04:05"), *topic, payload)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	default:
		fmt.Println("usage: topic-probe -mode sub|pub [-topic /chatter] [-type std_msgs/msg/String] [-bootstrap addrs]")
		os.Exit(2)
	}
}
