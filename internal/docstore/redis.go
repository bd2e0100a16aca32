package docstore

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisDocPrefix   = "doc:"
	redisIndexPrefix = "idx:"
	redisSeqKey      = "docstore:seq"
)

// RedisBackend stores each document as a hash (data, ver, created, exists)
// and keeps a sorted set per collection ordered by creation sequence.
// Commits use WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func docKey(path string) string          { return redisDocPrefix + path }
func indexKey(collection string) string { return redisIndexPrefix + collection }

type redisCmdable interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readHash(ctx context.Context, c redisCmdable, path string) (Snapshot, error) {
	fields, err := c.HGetAll(ctx, docKey(path)).Result()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Path: path}
	if len(fields) == 0 {
		return snap, nil
	}
	if snap.Version, err = strconv.ParseInt(fields["ver"], 10, 64); err != nil {
		return Snapshot{}, errors.Wrapf(err, "corrupt version on %s", path)
	}
	snap.Exists = fields["exists"] == "1"
	if snap.Exists {
		snap.Data = []byte(fields["data"])
		snap.Created, _ = strconv.ParseInt(fields["created"], 10, 64)
	}
	return snap, nil
}

func (b *RedisBackend) Read(ctx context.Context, path string) (Snapshot, error) {
	return readHash(ctx, b.rdb, path)
}

func (b *RedisBackend) Commit(ctx context.Context, reads map[string]int64, writes []Write) ([]Snapshot, error) {
	keys := make([]string, 0, len(reads)+len(writes))
	for path := range reads {
		keys = append(keys, docKey(path))
	}
	for _, w := range writes {
		if _, ok := reads[w.Path]; !ok {
			keys = append(keys, docKey(w.Path))
		}
	}

	var out []Snapshot
	txf := func(tx *redis.Tx) error {
		for path, want := range reads {
			cur, err := readHash(ctx, tx, path)
			if err != nil {
				return err
			}
			if cur.Version != want {
				return ErrTxConflict
			}
		}

		out = out[:0]
		for _, w := range writes {
			cur, err := readHash(ctx, tx, w.Path)
			if err != nil {
				return err
			}
			next := Snapshot{Path: w.Path, Version: cur.Version + 1, Exists: w.Op == OpSet}
			if next.Exists {
				next.Data = w.Data
				next.Created = cur.Created
				if !cur.Exists {
					if next.Created, err = tx.Incr(ctx, redisSeqKey).Result(); err != nil {
						return err
					}
				}
			}
			out = append(out, next)
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, snap := range out {
				idx := indexKey(Collection(snap.Path))
				if snap.Exists {
					pipe.HSet(ctx, docKey(snap.Path),
						"data", snap.Data,
						"ver", snap.Version,
						"created", snap.Created,
						"exists", "1")
					pipe.ZAdd(ctx, idx, redis.Z{Score: float64(snap.Created), Member: snap.ID()})
				} else {
					pipe.HSet(ctx, docKey(snap.Path),
						"data", "",
						"ver", snap.Version,
						"created", 0,
						"exists", "0")
					pipe.ZRem(ctx, idx, snap.ID())
				}
			}
			return nil
		})
		return err
	}

	err := b.rdb.Watch(ctx, txf, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrTxConflict
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *RedisBackend) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	ids, err := b.rdb.ZRange(ctx, indexKey(q.Collection), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, id := range ids {
		if q.excluded(id) {
			continue
		}
		snap, err := b.Read(ctx, q.Collection+"/"+id)
		if err != nil {
			return nil, err
		}
		if !snap.Exists {
			continue
		}
		out = append(out, snap)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBackend) Close() error { return nil }
