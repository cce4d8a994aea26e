// Package cache holds the Redis-backed conversation memory and answer
// dedup window.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"deckqa/internal/model"
)

const (
	defaultMaxTurns    = 10
	conversationPrefix = "deckqa:conversation:"
)

// ConversationCache keeps the most recent Q/A turns per document key in a
// capped Redis list.
type ConversationCache struct {
	client   *redisv9.Client
	ttl      time.Duration
	maxTurns int
}

func NewConversationCache(client *redisv9.Client, ttl time.Duration, maxTurns int) *ConversationCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &ConversationCache{client: client, ttl: ttl, maxTurns: maxTurns}
}

func (c *ConversationCache) Append(ctx context.Context, key string, turn model.QATurn) error {
	payload, err := json.Marshal(cachedTurn{
		Question: turn.Question,
		Answer:   turn.Answer,
		Tier:     turn.Tier,
		At:       turn.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal conversation turn failed: %w", err)
	}

	listKey := c.key(key)
	_, err = c.client.TxPipelined(ctx, func(p redisv9.Pipeliner) error {
		p.RPush(ctx, listKey, payload)
		p.LTrim(ctx, listKey, int64(-c.maxTurns), -1)
		p.Expire(ctx, listKey, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append conversation failed: %w", err)
	}
	return nil
}

// Recent returns up to limit turns, oldest first.
func (c *ConversationCache) Recent(ctx context.Context, key string, limit int) ([]model.QATurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := c.client.LRange(ctx, c.key(key), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load conversation failed: %w", err)
	}

	turns := make([]model.QATurn, 0, len(raw))
	for _, item := range raw {
		var t cachedTurn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, model.QATurn{
			DocumentKey: key,
			Question:    t.Question,
			Answer:      t.Answer,
			Tier:        t.Tier,
			CreatedAt:   t.At,
		})
	}
	return turns, nil
}

func (c *ConversationCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete conversation failed: %w", err)
	}
	return nil
}

// Clear drops the conversations of every document key.
func (c *ConversationCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, conversationPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan conversations failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis clear conversations failed: %w", err)
	}
	return nil
}

func (c *ConversationCache) key(documentKey string) string {
	return conversationPrefix + documentKey
}

type cachedTurn struct {
	Question string    `json:"q"`
	Answer   string    `json:"a"`
	Tier     string    `json:"tier"`
	At       time.Time `json:"at"`
}
