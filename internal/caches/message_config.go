package caches

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/internal/logger"
)

const keyPrefix = "mailflow:"

// MessageConfigCache keeps categories per customer and blacklists per user in memory.
// When a redis client is set, it is a shared second tier so pods agree after a restart.
type MessageConfigCache struct {
	log logger.Logger
	rdb *redis.Client
	ttl time.Duration

	mu         sync.RWMutex
	categories map[int64][]*dto.MessageCategory
	blacklists map[int64][]*dto.BlacklistEntry
}

func NewMessageConfigCache(log logger.Logger, rdb *redis.Client, ttl time.Duration) *MessageConfigCache {
	return &MessageConfigCache{
		log:        log,
		rdb:        rdb,
		ttl:        ttl,
		categories: make(map[int64][]*dto.MessageCategory),
		blacklists: make(map[int64][]*dto.BlacklistEntry),
	}
}

func categoriesKey(customerId int64) string {
	return fmt.Sprintf("%scategories:%d", keyPrefix, customerId)
}

func blacklistKey(userId int64) string {
	return fmt.Sprintf("%sblacklist:%d", keyPrefix, userId)
}

func (c *MessageConfigCache) GetCategories(ctx context.Context, customerId int64) ([]*dto.MessageCategory, bool) {
	c.mu.RLock()
	categories, ok := c.categories[customerId]
	c.mu.RUnlock()
	if ok {
		return categories, true
	}

	if !c.remoteGet(ctx, categoriesKey(customerId), &categories) {
		return nil, false
	}
	return c.storeCategories(customerId, categories), true
}

func (c *MessageConfigCache) StoreCategoriesIfAbsent(ctx context.Context, customerId int64, categories []*dto.MessageCategory) []*dto.MessageCategory {
	stored := c.storeCategories(customerId, categories)
	c.remoteSet(ctx, categoriesKey(customerId), categories, true)
	return stored
}

func (c *MessageConfigCache) storeCategories(customerId int64, categories []*dto.MessageCategory) []*dto.MessageCategory {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.categories[customerId]; ok {
		return existing
	}
	c.categories[customerId] = categories
	return categories
}

func (c *MessageConfigCache) ReplaceCategories(ctx context.Context, customerId int64, categories []*dto.MessageCategory) {
	c.mu.Lock()
	c.categories[customerId] = categories
	c.mu.Unlock()
	c.remoteSet(ctx, categoriesKey(customerId), categories, false)
}

func (c *MessageConfigCache) GetBlacklist(ctx context.Context, userId int64) ([]*dto.BlacklistEntry, bool) {
	c.mu.RLock()
	entries, ok := c.blacklists[userId]
	c.mu.RUnlock()
	if ok {
		return entries, true
	}

	if !c.remoteGet(ctx, blacklistKey(userId), &entries) {
		return nil, false
	}
	return c.storeBlacklist(userId, entries), true
}

func (c *MessageConfigCache) StoreBlacklistIfAbsent(ctx context.Context, userId int64, entries []*dto.BlacklistEntry) []*dto.BlacklistEntry {
	stored := c.storeBlacklist(userId, entries)
	c.remoteSet(ctx, blacklistKey(userId), entries, true)
	return stored
}

func (c *MessageConfigCache) storeBlacklist(userId int64, entries []*dto.BlacklistEntry) []*dto.BlacklistEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.blacklists[userId]; ok {
		return existing
	}
	c.blacklists[userId] = entries
	return entries
}

func (c *MessageConfigCache) ReplaceBlacklist(ctx context.Context, userId int64, entries []*dto.BlacklistEntry) {
	c.mu.Lock()
	c.blacklists[userId] = entries
	c.mu.Unlock()
	c.remoteSet(ctx, blacklistKey(userId), entries, false)
}

// EvictUser drops the user's blacklist. Categories are shared by the customer and stay.
func (c *MessageConfigCache) EvictUser(ctx context.Context, userId int64) {
	c.mu.Lock()
	delete(c.blacklists, userId)
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, blacklistKey(userId)).Err(); err != nil {
		c.log.Warnf("failed to evict blacklist of user %d from redis: %v", userId, err)
	}
}

// Flush empties the in-memory tier. Redis entries expire on their TTL.
func (c *MessageConfigCache) Flush(ctx context.Context) {
	c.mu.Lock()
	c.categories = make(map[int64][]*dto.MessageCategory)
	c.blacklists = make(map[int64][]*dto.BlacklistEntry)
	c.mu.Unlock()
}

func (c *MessageConfigCache) remoteGet(ctx context.Context, key string, target any) bool {
	if c.rdb == nil {
		return false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warnf("redis get %s failed: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(data, target); err != nil {
		c.log.Warnf("invalid cached value for %s: %v", key, err)
		return false
	}
	return true
}

func (c *MessageConfigCache) remoteSet(ctx context.Context, key string, value any, onlyIfAbsent bool) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warnf("failed to encode cache value for %s: %v", key, err)
		return
	}
	if onlyIfAbsent {
		err = c.rdb.SetNX(ctx, key, data, c.ttl).Err()
	} else {
		err = c.rdb.Set(ctx, key, data, c.ttl).Err()
	}
	if err != nil {
		c.log.Warnf("redis set %s failed: %v", key, err)
	}
}

// NewRedisClient returns nil when addr is empty.
func NewRedisClient(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
