// Package journal keeps a small Redis record of submission attempts so an
// operator can inspect what the miner has done without scraping logs: a
// capped list of recent submissions plus per-outcome counters. Optional; a
// nil *Client is a valid no-op journal, and journal failures never affect
// mining.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentKey  = "xelminer:submissions:recent"
	counterKey = "xelminer:submissions:outcome"

	// recentLimit caps the recent-submission list.
	recentLimit = 100
)

// Entry is one journaled submission attempt.
type Entry struct {
	Nonce             uint64    `json:"nonce"`
	FinalHash         string    `json:"final_hash"`
	TemplateTimestamp uint64    `json:"template_timestamp"`
	ReturnCode        *int64    `json:"return_code,omitempty"`
	TransportError    string    `json:"transport_error,omitempty"`
	SubmittedAt       time.Time `json:"submitted_at"`
}

// Client wraps Redis operations for the submission journal
type Client struct {
	rdb *redis.Client
}

// NewClient creates a journal client from a Redis URL.
func NewClient(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection. Safe on nil.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// Health checks Redis connectivity.
func (c *Client) Health(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// RecordSubmission appends a submission attempt to the capped recent list
// and bumps its outcome counter.
func (c *Client) RecordSubmission(ctx context.Context, entry *Entry) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, recentKey, data)
	pipe.LTrim(ctx, recentKey, 0, recentLimit-1)
	pipe.HIncrBy(ctx, counterKey, outcomeField(entry), 1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to journal submission: %w", err)
	}

	return nil
}

// RecentSubmissions returns up to limit journaled submissions, newest first.
func (c *Client) RecentSubmissions(ctx context.Context, limit int64) ([]Entry, error) {
	if c == nil {
		return nil, nil
	}
	if limit <= 0 || limit > recentLimit {
		limit = recentLimit
	}

	raw, err := c.rdb.LRange(ctx, recentKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue // skip entries from older journal formats
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// OutcomeCounts returns the per-outcome submission counters.
func (c *Client) OutcomeCounts(ctx context.Context) (map[string]int64, error) {
	if c == nil {
		return nil, nil
	}

	raw, err := c.rdb.HGetAll(ctx, counterKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome counters: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for field, value := range raw {
		var n int64
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			counts[field] = n
		}
	}

	return counts, nil
}

// outcomeField maps an entry to its counter field.
func outcomeField(entry *Entry) string {
	if entry.TransportError != "" {
		return "transport_error"
	}
	if entry.ReturnCode != nil {
		return fmt.Sprintf("code_%d", *entry.ReturnCode)
	}
	return "unknown"
}
