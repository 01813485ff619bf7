package infra

import (
	"context"
	"fmt"
	"time"

	"zeno/internal/config"
	"zeno/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RediSearch 的 FT.* 结果解析依赖 RESP2
const redisProtocol = 2

// NewRedisClient 创建 Redis 客户端并检查连通性
// 设置了 URL 时按单节点连接，否则按 mode 选择 standalone、sentinel 或 cluster
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	rdb, err := buildRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}
	logger.Info("Redis 连接成功", zap.String("mode", redisMode(cfg)))
	return rdb, nil
}

func buildRedisClient(cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("解析 Redis URL 失败: %w", err)
		}
		opts.Protocol = redisProtocol
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		opts.MinIdleConns = cfg.MinIdleConns
		return redis.NewClient(opts), nil
	}

	switch redisMode(cfg) {
	case "standalone":
		return redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password,
			DB:           cfg.DB,
			Protocol:     redisProtocol,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
		}), nil
	case "sentinel":
		if cfg.MasterName == "" || len(cfg.SentinelAddrs) == 0 {
			return nil, fmt.Errorf("哨兵模式需要配置 master_name 和 sentinel_addrs")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
			Protocol:         redisProtocol,
			PoolSize:         cfg.PoolSize,
			MinIdleConns:     cfg.MinIdleConns,
		}), nil
	case "cluster":
		if len(cfg.ClusterAddrs) == 0 {
			return nil, fmt.Errorf("集群模式需要配置 cluster_addrs")
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			Protocol:     redisProtocol,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
		}), nil
	default:
		return nil, fmt.Errorf("不支持的 Redis 模式: %s (可选: standalone, sentinel, cluster)", cfg.Mode)
	}
}

func redisMode(cfg *config.RedisConfig) string {
	if cfg.URL != "" || cfg.Mode == "" {
		return "standalone"
	}
	return cfg.Mode
}
