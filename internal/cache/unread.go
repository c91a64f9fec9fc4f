// Package cache хранит счётчики непрочитанных уведомлений в Redis (cache-aside).
// Источник истины - коллекция notifications; кэш сбрасывается при каждой записи.
// Запись после промаха защищена поколением ключа: Invalidate между подсчётом и Set
// не даёт закэшировать устаревшее значение.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lookup - результат чтения счётчика.
// Gen - поколение ключа на момент чтения; его нужно вернуть в Set.
type Lookup struct {
	Count int64
	Hit   bool
	Gen   int64
}

// UnreadCache - контракт кэша счётчиков непрочитанного.
type UnreadCache interface {
	// Get возвращает счётчик, признак попадания и текущее поколение.
	Get(ctx context.Context, userID string) (Lookup, error)
	// Set сохраняет счётчик с TTL из конфига, только если поколение не сменилось после Get.
	// false - между Get и Set был Invalidate, значение отброшено.
	Set(ctx context.Context, userID string, n, gen int64) (bool, error)
	// Invalidate сбрасывает счётчики перечисленных пользователей и сдвигает их поколение.
	Invalidate(ctx context.Context, userIDs ...string) error
	// Close закрывает клиент.
	Close() error
}

// minGenTTL - нижняя граница жизни ключа поколения: он должен пережить любой
// подсчёт, начатый до Invalidate.
const minGenTTL = time.Hour

// setIfGen: KEYS[1] - счётчик, KEYS[2] - поколение; ARGV: значение, ожидаемое поколение, TTL в мс.
var setIfGen = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[2] then return 0 end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

type redisUnread struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisUnread создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой - используется "communities:unread:".
func NewRedisUnread(ctx context.Context, redisURL, prefix string, ttl time.Duration) (UnreadCache, error) {
	if prefix == "" {
		prefix = "communities:unread:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &redisUnread{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

func (c *redisUnread) key(userID string) string    { return c.prefix + userID }
func (c *redisUnread) genKey(userID string) string { return c.prefix + userID + "#gen" }

// Get читает счётчик и поколение одним пайплайном.
func (c *redisUnread) Get(ctx context.Context, userID string) (Lookup, error) {
	pipe := c.rdb.Pipeline()
	val := pipe.Get(ctx, c.key(userID))
	gen := pipe.Get(ctx, c.genKey(userID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Lookup{}, err
	}

	var out Lookup

	g, err := gen.Int64()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Lookup{}, err
	default:
		out.Gen = g
	}

	v, err := val.Result()
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return Lookup{}, err
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return Lookup{}, err
	}

	out.Count, out.Hit = n, true
	return out, nil
}

func (c *redisUnread) Set(ctx context.Context, userID string, n, gen int64) (bool, error) {
	stored, err := setIfGen.Run(ctx, c.rdb,
		[]string{c.key(userID), c.genKey(userID)},
		n, gen, c.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, err
	}

	return stored == 1, nil
}

// Invalidate удаляет ключи и сдвигает поколения одной транзакцией.
func (c *redisUnread) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}

	genTTL := max(c.ttl, minGenTTL)

	pipe := c.rdb.TxPipeline()
	for _, id := range userIDs {
		pipe.Incr(ctx, c.genKey(id))
		pipe.Expire(ctx, c.genKey(id), genTTL)
		pipe.Del(ctx, c.key(id))
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisUnread) Close() error { return c.rdb.Close() }

// Noop - кэш-заглушка, когда redis.url не задан: всегда промах.
type Noop struct{}

func (Noop) Get(context.Context, string) (Lookup, error)             { return Lookup{}, nil }
func (Noop) Set(context.Context, string, int64, int64) (bool, error) { return false, nil }
func (Noop) Invalidate(context.Context, ...string) error             { return nil }
func (Noop) Close() error                                            { return nil }
