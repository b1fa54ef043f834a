package record

import (
    "context"
    "fmt"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// RedisStore persists conversion records as hashes, indexed by per-owner and
// global ZSETs scored with the record timestamp (unix nanos) so history reads
// come back newest first without sorting client-side.
type RedisStore struct {
    client *redis.Client
    keyNS  string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil { return nil, fmt.Errorf("parse redis url: %w", err) }
    c := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if err := c.Ping(ctx).Err(); err != nil { return nil, fmt.Errorf("redis ping: %w", err) }
    return &RedisStore{client: c, keyNS: "conversion"}, nil
}

func (s *RedisStore) key(id string) string    { return fmt.Sprintf("%s:%s", s.keyNS, id) }
func (s *RedisStore) ownerKey(o string) string { return fmt.Sprintf("%s:owner:%s", s.keyNS, o) }
func (s *RedisStore) allKey() string           { return s.keyNS + ":all" }

func (s *RedisStore) Create(ctx context.Context, rec Record) error {
    m := map[string]interface{}{
        "original":  rec.OriginalFilename,
        "converted": rec.ConvertedFilename,
        "owner":     rec.OwnerID,
        "timestamp": rec.Timestamp.Format(time.RFC3339Nano),
    }
    score := float64(rec.Timestamp.UnixNano())
    pipe := s.client.TxPipeline()
    pipe.HSet(ctx, s.key(rec.ID), m)
    pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: rec.ID})
    if rec.OwnerID != "" {
        pipe.ZAdd(ctx, s.ownerKey(rec.OwnerID), redis.Z{Score: score, Member: rec.ID})
    }
    _, err := pipe.Exec(ctx)
    return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, bool, error) {
    res, err := s.client.HGetAll(ctx, s.key(id)).Result()
    if err != nil { return Record{}, false, err }
    if len(res) == 0 { return Record{}, false, nil }
    return s.fromHash(id, res), true, nil
}

func (s *RedisStore) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
    return s.listIndex(ctx, s.ownerKey(ownerID))
}

func (s *RedisStore) ListAll(ctx context.Context) ([]Record, error) {
    return s.listIndex(ctx, s.allKey())
}

func (s *RedisStore) listIndex(ctx context.Context, indexKey string) ([]Record, error) {
    ids, err := s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
    if err != nil { return nil, err }
    out := make([]Record, 0, len(ids))
    for _, id := range ids {
        res, err := s.client.HGetAll(ctx, s.key(id)).Result()
        if err != nil { return nil, err }
        if len(res) == 0 {
            // index entry outlived its hash; drop it
            _ = s.client.ZRem(ctx, indexKey, id).Err()
            continue
        }
        out = append(out, s.fromHash(id, res))
    }
    return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
    owner, err := s.client.HGet(ctx, s.key(id), "owner").Result()
    if err == redis.Nil { return nil }
    if err != nil { return err }
    pipe := s.client.TxPipeline()
    pipe.Del(ctx, s.key(id))
    pipe.ZRem(ctx, s.allKey(), id)
    if owner != "" {
        pipe.ZRem(ctx, s.ownerKey(owner), id)
    }
    _, err = pipe.Exec(ctx)
    return err
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) fromHash(id string, res map[string]string) Record {
    rec := Record{
        ID:                id,
        OriginalFilename:  res["original"],
        ConvertedFilename: res["converted"],
        OwnerID:           res["owner"],
    }
    if v := res["timestamp"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { rec.Timestamp = t }
    }
    return rec
}
