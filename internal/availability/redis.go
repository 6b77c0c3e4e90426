package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/tartampluch/go-schedule/internal/config"
	"github.com/tartampluch/go-schedule/internal/engine"
)

// RedisClient is the subset of *redis.Client used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps the slots of each teacher and date as a JSON document.
// A missing key is an empty day.
type RedisStore struct {
	Client     RedisClient
	TTL        time.Duration
	SlotLength time.Duration
}

// NewRedisStore wraps client with the default TTL.
func NewRedisStore(client RedisClient) *RedisStore {
	return &RedisStore{Client: client, TTL: config.DefaultRedisTTL}
}

// Key returns the redis key of a teacher's day.
func Key(teacherID string, date time.Time) string {
	return fmt.Sprintf(config.RedisKeyFormat, teacherID, date.Format(config.DateKeyLayout))
}

// Fetch implements engine.AvailabilityFetcher.
func (s *RedisStore) Fetch(ctx context.Context, req engine.FetchRequest) ([]engine.IntervalScheduleTimeSlot, error) {
	slots, _, err := s.lookup(ctx, req.TeacherID, req.Date)
	if err != nil {
		return nil, err
	}
	return normalize(slots, req.Date, s.SlotLength), nil
}

// Put stores the slots of a teacher's day.
func (s *RedisStore) Put(ctx context.Context, teacherID string, date time.Time, slots []engine.IntervalScheduleTimeSlot) error {
	if slots == nil {
		slots = []engine.IntervalScheduleTimeSlot{}
	}
	payload, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("%s: %w", config.ErrRedisSet, err)
	}
	if err := s.Client.Set(ctx, Key(teacherID, date), payload, s.TTL).Err(); err != nil {
		return fmt.Errorf("%s: %w", config.ErrRedisSet, err)
	}
	return nil
}

// lookup reports found=false when the key does not exist.
func (s *RedisStore) lookup(ctx context.Context, teacherID string, date time.Time) ([]engine.IntervalScheduleTimeSlot, bool, error) {
	data, err := s.Client.Get(ctx, Key(teacherID, date)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", config.ErrRedisGet, err)
	}

	var slots []engine.IntervalScheduleTimeSlot
	if err := json.Unmarshal([]byte(data), &slots); err != nil {
		return nil, false, fmt.Errorf("%s: %w", config.ErrRedisGet, err)
	}
	return slots, true, nil
}

// Cached is a read-through cache: days found in Store are served from it,
// the others are fetched from Source and written back.
type Cached struct {
	Source engine.AvailabilityFetcher
	Store  *RedisStore
}

// Fetch implements engine.AvailabilityFetcher.
func (c *Cached) Fetch(ctx context.Context, req engine.FetchRequest) ([]engine.IntervalScheduleTimeSlot, error) {
	log := slog.With(
		config.LogKeyComponent, config.CompFetcher,
		config.LogKeyKey, Key(req.TeacherID, req.Date),
	)

	slots, found, err := c.Store.lookup(ctx, req.TeacherID, req.Date)
	if err != nil {
		// The cache is optional; fall through to the source.
		log.Warn(config.ErrRedisGet, config.LogKeyError, err)
	}
	if found {
		log.Debug(config.MsgCacheHit)
		return normalize(slots, req.Date, c.Store.SlotLength), nil
	}

	slots, err = c.Source.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.Store.Put(ctx, req.TeacherID, req.Date, slots); err != nil {
		log.Warn(config.ErrRedisSet, config.LogKeyError, err)
	}
	return slots, nil
}
