package main

import (
	"context"
	"fmt"
	"github.com/golang-io/mqtt"
	"github.com/golang-io/mqtt/packet"
	"golang.org/x/sync/errgroup"
	"log"
	"time"
)

func main() {
	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 100; i++ {
		i, c := i, mqtt.New(
			mqtt.URL("mqtt://127.0.0.1:1883"),
			mqtt.Subscription(
				packet.Subscription{TopicFilter: "+"}, packet.Subscription{TopicFilter: "a/b/c"},
			),
		)
		c.OnMessage(func(message *packet.Message) {
			log.Printf("id=%s, msg=%s", c.ID(), message)
		})

		group.Go(func() error {
			timer := time.NewTimer(1 * time.Second)
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
					if err := c.SubmitMessage(&packet.Message{TopicName: fmt.Sprintf("topic-%d", i), Content: []byte("hello world")}, 0); err != nil {
						log.Printf("publish: %v", err)
					}
					timer.Reset(1 * time.Second)
				}
			}
		})
		group.Go(func() error {
			return c.ConnectAndSubscribe(ctx)
		})
	}
	if err := group.Wait(); err != nil {
		panic(err)
	}
}
