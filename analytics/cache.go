package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TotalsCache holds the last computed Totals for a short time.
//
// Every Invalidate starts a new generation. Get reports the generation it
// observed and Set stores only when that generation is still current, so a
// count taken before a visit is never cached after the visit invalidated it.
type TotalsCache interface {
	// Get reports ok=false on a miss.
	Get(ctx context.Context) (t Totals, gen uint64, ok bool, err error)
	// Set stores t if no Invalidate happened since the Get that returned gen.
	// It reports whether t was stored.
	Set(ctx context.Context, t Totals, gen uint64) (bool, error)
	Invalidate(ctx context.Context) error
}

// MemoryTotalsCache is an in-process TotalsCache with TTL.
type MemoryTotalsCache struct {
	mu      sync.RWMutex
	totals  Totals
	loaded  bool
	fetched time.Time
	gen     uint64
	ttl     time.Duration
}

// NewMemoryTotalsCache creates a cache whose entries expire after ttl.
func NewMemoryTotalsCache(ttl time.Duration) *MemoryTotalsCache {
	return &MemoryTotalsCache{ttl: ttl}
}

func (c *MemoryTotalsCache) valid() bool {
	return c.loaded && time.Since(c.fetched) < c.ttl
}

func (c *MemoryTotalsCache) Get(context.Context) (Totals, uint64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid() {
		return Totals{}, c.gen, false, nil
	}
	return c.totals, c.gen, true, nil
}

func (c *MemoryTotalsCache) Set(_ context.Context, t Totals, gen uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false, nil
	}
	c.totals = t
	c.loaded = true
	c.fetched = time.Now()
	return true, nil
}

// Invalidate clears the cache so the next read triggers a fresh count.
func (c *MemoryTotalsCache) Invalidate(context.Context) error {
	c.mu.Lock()
	c.loaded = false
	c.gen++
	c.mu.Unlock()
	return nil
}

const redisTotalsKey = "visitcounter:totals"

// RedisTotalsCache shares cached Totals between instances through Redis.
// The generation lives in its own key and is bumped with INCR; cached
// totals carry the generation they were computed under.
type RedisTotalsCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

type redisTotalsEntry struct {
	Gen    uint64 `json:"gen"`
	Totals Totals `json:"totals"`
}

// NewRedisTotalsCache connects to the redis:// or rediss:// URL and pings it.
func NewRedisTotalsCache(ctx context.Context, url string, ttl time.Duration) (*RedisTotalsCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisTotalsCache{client: client, key: redisTotalsKey, ttl: ttl}, nil
}

func (c *RedisTotalsCache) genKey() string {
	return c.key + ":gen"
}

// readGen parses the generation counter; a missing key is generation 0.
func readGen(cmd *redis.StringCmd) (uint64, error) {
	gen, err := cmd.Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisTotalsCache) Get(ctx context.Context) (Totals, uint64, bool, error) {
	var genCmd, valCmd *redis.StringCmd
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		genCmd = p.Get(ctx, c.genKey())
		valCmd = p.Get(ctx, c.key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Totals{}, 0, false, fmt.Errorf("redis get totals: %w", err)
	}
	gen, err := readGen(genCmd)
	if err != nil {
		return Totals{}, 0, false, fmt.Errorf("redis totals generation: %w", err)
	}

	b, err := valCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Totals{}, gen, false, nil
	}
	if err != nil {
		return Totals{}, gen, false, fmt.Errorf("redis get totals: %w", err)
	}
	var entry redisTotalsEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return Totals{}, gen, false, fmt.Errorf("decode cached totals: %w", err)
	}
	if entry.Gen != gen {
		return Totals{}, gen, false, nil
	}
	return entry.Totals, gen, true, nil
}

// Set writes t in a WATCH/MULTI transaction on the generation key, so an
// Invalidate from any instance between Get and Set discards the write.
func (c *RedisTotalsCache) Set(ctx context.Context, t Totals, gen uint64) (bool, error) {
	if c.ttl <= 0 {
		return false, nil
	}
	b, err := json.Marshal(redisTotalsEntry{Gen: gen, Totals: t})
	if err != nil {
		return false, err
	}

	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readGen(tx.Get(ctx, c.genKey()))
		if err != nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, c.key, b, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, c.genKey())
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set totals: %w", err)
	}
	return stored, nil
}

func (c *RedisTotalsCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, c.genKey())
		p.Del(ctx, c.key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate totals: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisTotalsCache) Close() error {
	return c.client.Close()
}
