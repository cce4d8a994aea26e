package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"deckqa/internal/model"
)

const answerHistoryKey = "deckqa:answers:recent"

// AnswerHistory shares the answer dedup window between processes. Entries
// live in a sorted set scored by their unix time.
type AnswerHistory struct {
	client *redisv9.Client
	window time.Duration
}

func NewAnswerHistory(client *redisv9.Client, window time.Duration) *AnswerHistory {
	if window <= 0 {
		window = 300 * time.Second
	}
	return &AnswerHistory{client: client, window: window}
}

func (h *AnswerHistory) Remember(ctx context.Context, entry model.RecentAnswer) error {
	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal recent answer failed: %w", err)
	}
	_, err = h.client.TxPipelined(ctx, func(p redisv9.Pipeliner) error {
		p.ZAdd(ctx, answerHistoryKey, redisv9.Z{Score: unixScore(entry.At), Member: string(member)})
		p.Expire(ctx, answerHistoryKey, 2*h.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis remember answer failed: %w", err)
	}
	return nil
}

// Recent drops entries older than the window, then returns the rest.
func (h *AnswerHistory) Recent(ctx context.Context, now time.Time) ([]model.RecentAnswer, error) {
	cutoff := "(" + strconv.FormatFloat(unixScore(now.Add(-h.window)), 'f', -1, 64)
	if err := h.client.ZRemRangeByScore(ctx, answerHistoryKey, "-inf", cutoff).Err(); err != nil {
		return nil, fmt.Errorf("redis prune answers failed: %w", err)
	}

	raw, err := h.client.ZRange(ctx, answerHistoryKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load answers failed: %w", err)
	}
	out := make([]model.RecentAnswer, 0, len(raw))
	for _, item := range raw {
		var entry model.RecentAnswer
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func unixScore(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
