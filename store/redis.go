// Package store - Redis record store.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings of the Redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Prefix namespaces every key written by the store.
	Prefix string `mapstructure:"prefix"`
}

// Redis stores each record as JSON under <prefix>image:<id> and keeps an id index in a sorted
// set. Ids come from INCR on <prefix>image:seq.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time

	// beforeWrite runs between the read and the write of Update. Tests use it to interleave a
	// delete.
	beforeWrite func(id int64)
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to ping redis at %s", cfg.Addr)
	}

	return &Redis{client: client, prefix: cfg.Prefix, now: time.Now}, nil
}

func (r *Redis) recordKey(id int64) string {
	return fmt.Sprintf("%simage:%d", r.prefix, id)
}

func (r *Redis) seqKey() string {
	return r.prefix + "image:seq"
}

func (r *Redis) indexKey() string {
	return r.prefix + "images"
}

func (r *Redis) save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(rec.ID), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(rec.ID), Member: rec.ID})
		return nil
	})
	return err
}

// Add stores file as a new record.
func (r *Redis) Add(ctx context.Context, file File) (int64, error) {
	id, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return 0, errors.Wrap(err, "allocate image id")
	}

	now := r.now()
	if err := r.save(ctx, Record{ID: id, File: file, CreatedAt: now, UpdatedAt: now}); err != nil {
		return 0, errors.Wrapf(err, "save image %d", id)
	}
	return id, nil
}

// Get returns the record with id.
func (r *Redis) Get(ctx context.Context, id int64) (*Record, error) {
	data, err := r.client.Get(ctx, r.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get image %d", id)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "decode image %d", id)
	}
	return &rec, nil
}

// Update replaces the processed file and failure of the record with id. The write only succeeds
// while the record key exists, so a record deleted concurrently is not written back.
func (r *Redis) Update(ctx context.Context, id int64, update Update) error {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	rec.Processed = update.Processed
	rec.Failure = update.Failure
	rec.UpdatedAt = r.now()

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "encode image %d", id)
	}

	if r.beforeWrite != nil {
		r.beforeWrite(id)
	}

	ok, err := r.client.SetXX(ctx, r.recordKey(id), data, redis.KeepTTL).Result()
	if err != nil {
		return errors.Wrapf(err, "save image %d", id)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record with id.
func (r *Redis) Delete(ctx context.Context, id int64) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, r.recordKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "delete image %d", id)
	}
	if deleted.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every record. The id sequence is kept.
func (r *Redis) Clear(ctx context.Context) error {
	ids, err := r.ids(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.recordKey(id))
	}
	keys = append(keys, r.indexKey())

	return errors.Wrap(r.client.Del(ctx, keys...).Err(), "clear images")
}

func (r *Redis) ids(ctx context.Context) ([]int64, error) {
	members, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list image ids")
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "index member %q", m)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Filter returns the records accepted by fn, ordered by id.
func (r *Redis) Filter(ctx context.Context, fn Filter) ([]Record, error) {
	all, err := r.ToArray(ctx)
	if err != nil {
		return nil, err
	}
	return filter(all, fn), nil
}

// ToArray returns every record ordered by id.
func (r *Redis) ToArray(ctx context.Context) ([]Record, error) {
	ids, err := r.ids(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load images")
	}

	records := make([]Record, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Index entry without a record, removed concurrently.
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, errors.Wrapf(err, "decode image %d", ids[i])
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
