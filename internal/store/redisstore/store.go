package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	returningTTL = 30 * 24 * time.Hour
	abuseTTL     = 24 * time.Hour
)

// Store caches returning-user markers and advisory abuse flags. Everything
// here is a fast path over the durable conversation log, never the source of
// truth.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) MarkReturning(ctx context.Context, ip, email string) error {
	if err := s.rdb.Set(ctx, "returning:ip:"+ip, "1", returningTTL).Err(); err != nil {
		return err
	}
	if email != "" {
		return s.rdb.Set(ctx, "returning:email:"+email, "1", returningTTL).Err()
	}
	return nil
}

func (s *Store) IsReturning(ctx context.Context, ip, email string) (bool, error) {
	keys := []string{"returning:ip:" + ip}
	if email != "" {
		keys = append(keys, "returning:email:"+email)
	}
	n, err := s.rdb.Exists(ctx, keys...).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FlagAbuse keeps a short-lived marker so repeated observations of the same
// email do not refire telemetry downstream consumers already saw.
func (s *Store) FlagAbuse(ctx context.Context, email string) (first bool, err error) {
	ok, err := s.rdb.SetNX(ctx, "abuse:email:"+email, "1", abuseTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
