package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

// DefaultRedisKey Redis 後端使用的鍵
const DefaultRedisKey = "genqueue:history"

// RedisStore 將歷史 JSON 陣列存於單一 Redis 鍵
type RedisStore struct {
	rdb   redis.UniversalClient
	key   string
	limit int
}

// NewRedisStore 建立 Redis 後端
func NewRedisStore(rdb redis.UniversalClient, key string, limit int) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if limit <= 0 {
		limit = MaxEntries
	}
	return &RedisStore{rdb: rdb, key: key, limit: limit}
}

// NewRedisStoreFromURL 解析 redis:// URL 並建立後端
func NewRedisStoreFromURL(url, key string, limit int) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opt), key, limit), nil
}

// Key 取得使用中的 Redis 鍵
func (s *RedisStore) Key() string {
	return s.key
}

// Save 覆寫整份歷史（SET 本身即為原子操作）
func (s *RedisStore) Save(ctx context.Context, jobs []types.Job) error {
	payload, err := json.Marshal(capEntries(jobs, s.limit))
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// Load 讀取歷史；鍵不存在時回傳空列表
func (s *RedisStore) Load(ctx context.Context) ([]types.Job, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []types.Job{}, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return decode(data)
}

// Close 關閉底層連線
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
