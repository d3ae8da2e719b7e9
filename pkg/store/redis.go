package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout in the shared store.
const (
	sessionKeyPrefix  = "session:"
	reserveKeyPrefix  = "session:reserve:"
	instanceKeyPrefix = "instance:"

	// Reservations only need to outlive the create operation.
	reserveTTL = time.Minute
)

// Redis is the shared-store backend: snapshots with a TTL, pub/sub relay
// channels and the instance heartbeat registry.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings the shared store.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (r *Redis) Save(ctx context.Context, id string, snapshot []byte) error {
	if err := r.client.Set(ctx, sessionKey(id), snapshot, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

// SaveBatch uses a transactional pipeline: all sets apply or the pipeline
// errors as a whole.
func (r *Redis) SaveBatch(ctx context.Context, snapshots map[string][]byte) error {
	if len(snapshots) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for id, snap := range snapshots {
		pipe.Set(ctx, sessionKey(id), snap, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch save failed: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, id string) ([]byte, error) {
	val, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return val, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id), reserveKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (r *Redis) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, reserveKeyPrefix) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, sessionKeyPrefix))
	}
	return ids, iter.Err()
}

// ReserveID uses SETNX so two instances can never mint the same id.
func (r *Redis) ReserveID(ctx context.Context, id string) (bool, error) {
	if exists, err := r.client.Exists(ctx, sessionKey(id)).Result(); err != nil {
		return false, err
	} else if exists > 0 {
		return false, nil
	}
	return r.client.SetNX(ctx, reserveKeyPrefix+id, 1, reserveTTL).Result()
}

func (r *Redis) Close() error { return r.client.Close() }

// ---- PubSub -------------------------------------------------------------

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe pumps deliveries for channel into a buffered Go channel; cancel
// closes the subscription. Backpressure on slow consumers is absorbed by
// go-redis's internal buffer.
func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	sub := r.client.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, err
	}

	out := make(chan Message, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}
	return out, cancel, nil
}

// Heartbeat refreshes this instance's registry entry.
func (r *Redis) Heartbeat(ctx context.Context, instanceID string, payload []byte, ttl time.Duration) error {
	return r.client.Set(ctx, instanceKeyPrefix+instanceID, payload, ttl).Err()
}

// Instances lists instance ids whose heartbeat key is still live.
func (r *Redis) Instances(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, instanceKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), instanceKeyPrefix))
	}
	return ids, iter.Err()
}
