package redis

import (
	"context"
	"crypto/tls"
	"runtime"
	"strings"
	"time"

	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/constants"
	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/go-redis/redis/v8"
)

const (
	minClusterNodes = 2
	pingTimeout     = 5 * time.Second
)

type redisDB struct {
	client redis.UniversalClient
}

// New connects to redis, a cluster client is used when more than one address is configured.
func New(ctx context.Context, cfg *config.Config, logger lumber.Logger) (core.RedisDB, error) {
	client := redis.NewUniversalClient(options(cfg))
	if len(strings.Split(cfg.Redis.Addr, ",")) >= minClusterNodes {
		logger.Debugf("Created redis cluster client")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	logger.Infof("Redis connection created successfully")
	return &redisDB{client: client}, nil
}

// Wrap adapts an existing client, used by tests.
func Wrap(client redis.UniversalClient) core.RedisDB {
	return &redisDB{client: client}
}

func options(cfg *config.Config) *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Addrs:              strings.Split(cfg.Redis.Addr, ","),
		IdleTimeout:        5 * time.Minute,
		IdleCheckFrequency: time.Minute,
		PoolSize:           4 * runtime.GOMAXPROCS(0),
		MaxRetries:         3,
	}
	if cfg.Env == constants.Dev {
		return opts
	}
	opts.Username = cfg.Redis.Username
	opts.Password = cfg.Redis.Password
	if cfg.Redis.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client exposes redis client interface
func (r *redisDB) Client() redis.UniversalClient {
	return r.client
}
