package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// NewRedisChecker проверяет кэш предложений. Кэш необязателен: при его
// недоступности цены читаются из хранилища.
func NewRedisChecker(client redis.Cmdable) *PingChecker {
	return NewOptionalChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
