package core

import "github.com/go-redis/redis/v8"

// JobProgressPrefix is the key prefix of live job progress documents.
const JobProgressPrefix = "fw:progress:"

// RedisDB wrapper around the redis db client.
type RedisDB interface {
	// Client is the redis client
	Client() redis.UniversalClient
}
