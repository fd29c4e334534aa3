package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// DoctorCache is a read-through Redis cache for the doctor directory. The
// directory only changes through seeding, so entries simply expire. A nil
// *DoctorCache is valid and caches nothing; Redis errors degrade to misses.
type DoctorCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewDoctorCache(rdb redis.Cmdable, ttl time.Duration, prefix string, logger *slog.Logger) *DoctorCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if prefix == "" {
		prefix = "medibook:doctors"
	}
	return &DoctorCache{rdb: rdb, ttl: ttl, prefix: prefix, logger: logger}
}

func (c *DoctorCache) key(parts ...any) string {
	if c == nil {
		return ""
	}
	b := strings.Builder{}
	b.WriteString(c.prefix)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

func (c *DoctorCache) get(ctx context.Context, key string, dst any) bool {
	if c == nil {
		return false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("doctor cache read failed", "key", key, "err", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("doctor cache entry corrupt", "key", key, "err", err)
		return false
	}
	return true
}

func (c *DoctorCache) getList(ctx context.Context, key string) ([]model.Doctor, bool) {
	var doctors []model.Doctor
	if !c.get(ctx, key, &doctors) {
		return nil, false
	}
	return doctors, true
}

func (c *DoctorCache) getOne(ctx context.Context, key string) (model.Doctor, bool) {
	var doctor model.Doctor
	ok := c.get(ctx, key, &doctor)
	return doctor, ok
}

func (c *DoctorCache) set(ctx context.Context, key string, v any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("doctor cache write failed", "key", key, "err", err)
	}
}

// Flush drops every cached directory entry. Called after seeding.
func (c *DoctorCache) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
