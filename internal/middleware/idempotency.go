package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "in_progress"
	completedMarker      = "completed"
)

// Idempotency is a fast-path duplicate guard for unsafe methods: it keeps a
// per-key marker in Redis and answers 409 Conflict on a replay, whether the
// first attempt is still in flight or already committed. The unique index on
// transactions.idempotency_key remains the binding guarantee; this layer
// only spares the database the round trip.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		switch method {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		cacheKey := idempotencyPrefix + key

		set, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			// Redis being down must not break transfers; fall through to the
			// database guard.
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return c.Next()
		}
		if !set {
			return fiber.NewError(fiber.StatusConflict, "duplicate request")
		}

		if err := c.Next(); err != nil {
			releaseMarker(cache, cacheKey)
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status > 299 {
			// Failed requests may be retried with the same key.
			releaseMarker(cache, cacheKey)
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, completedMarker, ttl).Err(); err != nil {
			logger.Warn("idempotency marker persist failed", slog.String("key", key), slog.Any("error", err))
		}

		return nil
	}
}

func releaseMarker(cache *redis.Client, cacheKey string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cache.Del(cleanupCtx, cacheKey) // best effort cleanup
}
