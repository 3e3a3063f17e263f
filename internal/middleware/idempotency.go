package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "walletcore:idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyOpTimeout = 2 * time.Second
)

// replayedHeader marks a response served from the idempotency store.
const replayedHeader = "Idempotent-Replayed"

type storedResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type,omitempty"`
}

// IdempotencyConfig tunes Idempotency.
type IdempotencyConfig struct {
	TTL time.Duration
	// RequireKey rejects unsafe requests that carry no Idempotency-Key.
	RequireKey bool
}

type responseStore struct {
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// unsafe methods, so a retried payment submission is not sent twice. Keys
// are scoped by method and path. Server errors are not stored so the
// request can be retried.
func Idempotency(cache *redis.Client, cfg IdempotencyConfig, logger *slog.Logger) fiber.Handler {
	store := responseStore{cache: cache, ttl: cfg.TTL, logger: logger}
	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		switch method {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			if cfg.RequireKey {
				return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
			}
			return c.Next()
		}
		cacheKey := idempotencyPrefix + method + ":" + c.Path() + ":" + key

		stored, found, err := store.reserve(cacheKey)
		switch {
		case err != nil:
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.String("error", err.Error()))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		case found && stored == nil:
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		case found:
			if stored.ContentType != "" {
				c.Set(fiber.HeaderContentType, stored.ContentType)
			}
			c.Set(replayedHeader, "true")
			return c.Status(stored.Status).SendString(stored.Body)
		}

		if err := c.Next(); err != nil {
			store.release(cacheKey)
			return err
		}
		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			store.release(cacheKey)
			return nil
		}

		resp := storedResponse{
			Status:      status,
			Body:        string(c.Response().Body()),
			ContentType: string(c.Response().Header.ContentType()),
		}
		if err := store.save(cacheKey, resp); err != nil {
			logger.Error("failed to persist idempotent response", slog.String("key", key), slog.String("error", err.Error()))
			store.release(cacheKey)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
		}
		return nil
	}
}

// reserve claims cacheKey. found reports an existing entry: a nil response
// means the first request is still running.
func (s responseStore) reserve(cacheKey string) (*storedResponse, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()

	claimed, err := s.cache.SetNX(ctx, cacheKey, inProgressMarker, s.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if claimed {
		return nil, false, nil
	}

	cached, err := s.cache.Get(ctx, cacheKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if cached == inProgressMarker {
		return nil, true, nil
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		s.logger.Warn("discarding undecodable idempotent response", slog.String("error", err.Error()))
		return nil, true, nil
	}
	return &stored, true, nil
}

func (s responseStore) save(cacheKey string, resp storedResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	return s.cache.Set(ctx, cacheKey, payload, s.ttl).Err()
}

func (s responseStore) release(cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	if err := s.cache.Del(ctx, cacheKey).Err(); err != nil {
		s.logger.Warn("failed to release idempotency key", slog.String("error", err.Error()))
	}
}
