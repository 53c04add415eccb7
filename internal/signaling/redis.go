package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/1ureka/nexzi/internal/util"
)

// DefaultRedisTopic is the pub/sub channel used when none is configured.
const DefaultRedisTopic = "nexzi-signaling"

// RedisOptions configures a RedisChannel.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Topic    string
}

// RedisChannel is a Channel over Redis PUBLISH/SUBSCRIBE on one topic.
// Redis delivers a client's publishes in order, which gives FIFO per sender.
type RedisChannel struct {
	client *redis.Client
	pubsub *redis.PubSub
	topic  string
	hub    *hub

	done      chan struct{}
	closeOnce sync.Once
}

// DialRedis connects, verifies the server with PING and subscribes to the
// topic before returning, so no message published afterwards is missed.
func DialRedis(ctx context.Context, opts RedisOptions) (*RedisChannel, error) {
	if opts.Topic == "" {
		opts.Topic = DefaultRedisTopic
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	pubsub := client.Subscribe(ctx, opts.Topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", opts.Topic, err)
	}

	c := &RedisChannel{
		client: client,
		pubsub: pubsub,
		topic:  opts.Topic,
		hub:    newHub(),
		done:   make(chan struct{}),
	}
	go c.watch()

	util.LogDebug("redis: subscribed to %s at %s", opts.Topic, opts.Addr)
	return c, nil
}

// Publish encodes msg as JSON and publishes it to the topic.
func (c *RedisChannel) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode signaling message: %w", err)
	}
	if err := c.client.Publish(ctx, c.topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.topic, err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(handler Handler) Subscription { return c.hub.subscribe(handler) }

func (c *RedisChannel) Unsubscribe(sub Subscription) { c.hub.unsubscribe(sub) }

// Close unsubscribes from the topic and closes the client.
func (c *RedisChannel) Close() error {
	err := c.pubsub.Close()
	<-c.done
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *RedisChannel) watch() {
	defer c.closeOnce.Do(func() {
		c.hub.close()
		close(c.done)
	})

	for m := range c.pubsub.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			util.LogDebug("redis: dropping malformed payload: %v", err)
			continue
		}
		if err := msg.Validate(); err != nil {
			util.LogDebug("redis: dropping message: %v", err)
			continue
		}
		c.hub.broadcast(msg)
	}
}
