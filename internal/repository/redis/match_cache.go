package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key patterns for Redis match state.
func snapshotKey(matchID string) string { return "match:" + matchID + ":snapshot" }
func deadlineKey(matchID string) string { return "match:" + matchID + ":deadline" }

// MatchIDFromDeadlineKey extracts the match id from an expired deadline
// key, or "" if the key is not a deadline key.
func MatchIDFromDeadlineKey(key string) string {
	if !strings.HasPrefix(key, "match:") || !strings.HasSuffix(key, ":deadline") {
		return ""
	}
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// SetSnapshot stores the authoritative match aggregate JSON. This is a hot
// copy for reads; postgres remains the source of truth.
func (c *Client) SetSnapshot(ctx context.Context, matchID string, snapshot json.RawMessage) error {
	return c.rdb.Set(ctx, snapshotKey(matchID), []byte(snapshot), 0).Err()
}

// GetSnapshot retrieves the cached match aggregate JSON, or nil on a miss.
func (c *Client) GetSnapshot(ctx context.Context, matchID string) (json.RawMessage, error) {
	data, err := c.rdb.Get(ctx, snapshotKey(matchID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return json.RawMessage(data), nil
}

// deadlineGracePeriod delays key expiry slightly past the displayed
// deadline so late-arriving commands still land in the closing phase.
const deadlineGracePeriod = 2 * time.Second

// SetDeadline creates a deadline key with a TTL. When the key expires,
// Redis keyspace notifications wake the deadline listener, which triggers
// phase advancement.
func (c *Client) SetDeadline(ctx context.Context, matchID string, deadline time.Time) error {
	ttl := time.Until(deadline) + deadlineGracePeriod
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.rdb.Set(ctx, deadlineKey(matchID), deadline.Unix(), ttl).Err()
}

// ClearDeadline removes the deadline timer for a match.
func (c *Client) ClearDeadline(ctx context.Context, matchID string) error {
	return c.rdb.Del(ctx, deadlineKey(matchID)).Err()
}

// DeleteMatchData removes all Redis data for a match (on retirement).
func (c *Client) DeleteMatchData(ctx context.Context, matchID string) error {
	return c.rdb.Del(ctx, snapshotKey(matchID), deadlineKey(matchID)).Err()
}
