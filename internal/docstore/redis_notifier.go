package docstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "docstore:"

// RedisNotifier publishes committed snapshots on a pub/sub channel per path
// so every instance sharing the Redis backend sees the change.
type RedisNotifier struct {
	rdb *redis.Client
	log *zap.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

func NewRedisNotifier(rdb *redis.Client, log *zap.Logger) *RedisNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisNotifier{rdb: rdb, log: log, subs: make(map[*redis.PubSub]struct{})}
}

func (n *RedisNotifier) Publish(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, redisChannelPrefix+snap.Path, payload).Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	ps := n.rdb.Subscribe(ctx, redisChannelPrefix+path)
	// Wait for the subscription to be confirmed so no publish after this
	// call returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "redis subscribe")
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		_ = ps.Close()
		return nil, errors.New("notifier closed")
	}
	n.subs[ps] = struct{}{}
	n.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			var snap Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				n.log.Warn("dropping malformed change notification", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			fn(snap)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, ps)
			n.mu.Unlock()
			_ = ps.Close()
		})
	}, nil
}

func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for ps := range n.subs {
		_ = ps.Close()
	}
	n.subs = nil
	return nil
}
