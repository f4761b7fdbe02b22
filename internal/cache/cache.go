package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Key joins namespace and parts with ':'. Free-text parts are hashed so
// keys stay short and safe.
func Key(namespace string, parts ...string) string {
	b := strings.Builder{}
	b.WriteString("dawos:")
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		if len(p) > 64 || strings.ContainsAny(p, " \t\n:") {
			sum := sha256.Sum256([]byte(p))
			b.WriteString(hex.EncodeToString(sum[:12]))
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

// Load returns the cached value for key or calls load and caches its result.
// Cache failures degrade to a direct load.
func Load[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var v T
	if c != nil {
		if hit, err := c.GetJSON(ctx, key, &v); err == nil && hit {
			return v, nil
		}
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if c != nil {
		_ = c.SetJSON(ctx, key, v, ttl)
	}
	return v, nil
}
