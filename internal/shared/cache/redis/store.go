// Package redis Redis 缓存实现
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"sales-crm/internal/shared/storage"

	"github.com/redis/go-redis/v9"
)

// keyLeadStats 统计缓存键
const keyLeadStats = "crm:lead_stats"

// Store Redis 缓存存储
type Store struct {
	client *redis.Client
}

// NewStoreFromURL 从 URL 创建 Redis 缓存实例
func NewStoreFromURL(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Cache] Connected to %s", opts.Addr)
	return &Store{client: client}, nil
}

// NewStoreFromClient 从现有 Redis 客户端创建缓存实例
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// GetLeadStats 读取统计缓存，未命中返回 (nil, nil)
func (s *Store) GetLeadStats(ctx context.Context) (*storage.LeadStats, error) {
	data, err := s.client.Get(ctx, keyLeadStats).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var stats storage.LeadStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SetLeadStats 写入统计缓存
func (s *Store) SetLeadStats(ctx context.Context, stats *storage.LeadStats, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyLeadStats, data, ttl).Err()
}

// InvalidateLeadStats 删除统计缓存
func (s *Store) InvalidateLeadStats(ctx context.Context) error {
	return s.client.Del(ctx, keyLeadStats).Err()
}
