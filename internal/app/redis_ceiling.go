/**
 * @description
 * Distributed tracking of rolling 24h outflow sums in Redis, backing the
 * treasury guard's per-user and per-org daily ceilings. Each authorized
 * outflow is recorded in a sorted set scored by timestamp; the Lua script
 * prunes entries older than the window, sums what remains and only admits
 * the new amount when the ceiling would not be breached, so check and
 * record are one atomic step.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ceilingScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", cutoff)
local entries = redis.call("ZRANGE", KEYS[1], 0, -1)
local total = 0
for _, entry in ipairs(entries) do
  local sep = string.find(entry, "|")
  if sep then
    total = total + tonumber(string.sub(entry, sep + 1))
  end
end
local amount = tonumber(ARGV[3])
if tonumber(ARGV[4]) > 0 and total + amount > tonumber(ARGV[4]) then
  return {0, total}
end
redis.call("ZADD", KEYS[1], tonumber(ARGV[1]), ARGV[5] .. "|" .. ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return {1, total + amount}
`)

// CeilingTracker records outflows against a rolling window and reports
// whether a new outflow fits under a ceiling. A zero ceiling means
// unlimited.
type CeilingTracker interface {
	ConsumeCeiling(ctx context.Context, scope, subject string, amount, ceiling int64, window time.Duration) (allowed bool, windowTotal int64, err error)
}

// RedisCeilingTracker implements CeilingTracker on Redis.
type RedisCeilingTracker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCeilingTracker(client redis.UniversalClient, prefix string) *RedisCeilingTracker {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "togedaly:treasury_ceiling"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisCeilingTracker{
		client: client,
		prefix: trimmedPrefix,
	}
}

// ConsumeCeiling atomically records amount against (scope, subject) unless
// the rolling-window total would exceed ceiling. When Redis is unreachable
// an error is returned and the caller must fail closed.
func (r *RedisCeilingTracker) ConsumeCeiling(
	ctx context.Context,
	scope string,
	subject string,
	amount int64,
	ceiling int64,
	window time.Duration,
) (bool, int64, error) {
	if r == nil || r.client == nil {
		return false, 0, fmt.Errorf("ceiling tracker not configured")
	}
	if amount <= 0 {
		return false, 0, fmt.Errorf("ceiling amount must be positive, got %d", amount)
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return false, 0, fmt.Errorf("ceiling scope and subject are required")
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	nowMs := time.Now().UnixMilli()

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := ceilingScript.Run(ctx, r.client, []string{key},
		nowMs, windowMs, amount, ceiling, uuid.NewString(),
	).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis ceiling response shape: %T", rawResult)
	}

	admitted, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis ceiling flag type: %T", values[0])
	}
	total, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis ceiling total type: %T", values[1])
	}

	return admitted == 1, total, nil
}
