package chathub

import (
	"context"
	"encoding/json"
	"sync"

	"campusconnect/backend/internal/models"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BroadcastChannel is the Redis channel chat messages are relayed on.
const BroadcastChannel = "chat:broadcast"

// Delivery is an envelope addressed to a set of users, wherever they are
// connected.
type Delivery struct {
	To       []string        `json:"to"`
	Envelope models.Envelope `json:"envelope"`
}

// Relay fans deliveries out to every hub instance.
type Relay interface {
	Publish(ctx context.Context, d Delivery) error
	Subscribe(ctx context.Context, fn func(Delivery)) (cancel func(), err error)
}

// LocalRelay serves a single instance.
type LocalRelay struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(Delivery)
}

func NewLocalRelay() *LocalRelay {
	return &LocalRelay{fns: make(map[int]func(Delivery))}
}

func (r *LocalRelay) Publish(_ context.Context, d Delivery) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, fn := range r.fns {
		fn(d)
	}
	return nil
}

func (r *LocalRelay) Subscribe(_ context.Context, fn func(Delivery)) (func(), error) {
	r.mu.Lock()
	id := r.next
	r.next++
	r.fns[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.fns, id)
		r.mu.Unlock()
	}, nil
}

// RedisRelay relays through Redis Pub/Sub so users connected to different
// instances can talk to each other.
type RedisRelay struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisRelay(rdb *redis.Client, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{rdb: rdb, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode delivery")
	}
	return errors.Wrap(r.rdb.Publish(ctx, BroadcastChannel, payload).Err(), "publish delivery")
}

func (r *RedisRelay) Subscribe(ctx context.Context, fn func(Delivery)) (func(), error) {
	ps := r.rdb.Subscribe(ctx, BroadcastChannel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errors.Wrap(err, "subscribe "+BroadcastChannel)
	}

	go func() {
		for msg := range ps.Channel() {
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				r.log.Warn("malformed relayed delivery", zap.Error(err))
				continue
			}
			fn(d)
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { ps.Close() }) }, nil
}
