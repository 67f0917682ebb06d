// Package cache 缓存层抽象接口
//
// 仪表盘统计结果的短 TTL 缓存，当前由 Redis 实现。
// 未配置 Redis 时使用 NoOpCache，统计每次实时聚合。
package cache

import (
	"context"
	"time"

	"sales-crm/internal/shared/storage"
)

// StatsCache 线索统计缓存接口
type StatsCache interface {
	// GetLeadStats 命中返回缓存值，未命中返回 (nil, nil)
	GetLeadStats(ctx context.Context) (*storage.LeadStats, error)
	SetLeadStats(ctx context.Context, stats *storage.LeadStats, ttl time.Duration) error
	// InvalidateLeadStats 线索有写入后使缓存失效
	InvalidateLeadStats(ctx context.Context) error
	Close() error
}

// TTLLeadStats 统计缓存默认有效期
const TTLLeadStats = 60 * time.Second

// ============================================================================
// NoOpCache - 空操作实现（未配置 Redis 或测试时使用）
// ============================================================================

// NoOpCache 永远未命中的 StatsCache
type NoOpCache struct{}

// NewNoOpCache 创建 NoOpCache 实例
func NewNoOpCache() *NoOpCache { return &NoOpCache{} }

func (c *NoOpCache) GetLeadStats(ctx context.Context) (*storage.LeadStats, error) { return nil, nil }
func (c *NoOpCache) SetLeadStats(ctx context.Context, stats *storage.LeadStats, ttl time.Duration) error {
	return nil
}
func (c *NoOpCache) InvalidateLeadStats(ctx context.Context) error { return nil }
func (c *NoOpCache) Close() error                                  { return nil }

var _ StatsCache = (*NoOpCache)(nil)
