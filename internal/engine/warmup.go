package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WarmupState приводит L1 (RAM) и L2 (Redis) наборы нерабочих агентов к
// состоянию БД. Вызывается на старте шлюза и при каждом переподключении
// подписки: после потерянных сигналов набор в Redis может оказаться
// и меньше, и больше истинного, поэтому L2 пересобирается целиком.
func WarmupState(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	ids []string,
	redisKey string,
	lockKey string,
	updateL1 func([]string), // Callback для замены локальной мапы
) error {
	// L1 обновляем безусловно: это наша собственная память
	updateL1(ids)

	// Распределенный лок (SetNX): L2 перезаливает ровно один инстанс шлюза
	ok, err := rdb.SetNX(ctx, lockKey, "warming", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо сеть, либо другой инстанс уже греет — L1 у нас уже свежий
	}
	defer rdb.Del(ctx, lockKey)

	pipe := rdb.TxPipeline()
	pipe.Del(ctx, redisKey)
	if len(ids) > 0 {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.SAdd(ctx, redisKey, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuild redis set %s: %w", redisKey, err)
	}

	logger.Info("agent status set rebuilt in Redis",
		zap.String("key", redisKey), zap.Int("count", len(ids)))
	return nil
}
