package statistics

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/cratebox/cratebox/app/models"
	"github.com/cratebox/cratebox/internal/pkg/cache"
	"github.com/cratebox/cratebox/internal/pkg/database"
)

const (
	CacheKeyUsersTotal          = "statistics:users:total"
	CacheKeySubscriptionsActive = "statistics:subscriptions:active"
	CacheKeyEventsProcessed     = "statistics:webhook_events:processed"
	CacheExpiration             = 30 * time.Minute
)

// StatisticsData holds the public service totals
type StatisticsData struct {
	TotalUsers          int `json:"total_users"`
	ActiveSubscriptions int `json:"active_subscriptions"`
	ProcessedEvents     int `json:"processed_events"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// UpdateCacheIfNeeded refreshes the cached totals when they are stale
func UpdateCacheIfNeeded() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	if time.Since(lastCacheUpdate) <= cacheUpdateInterval {
		return
	}
	if err := UpdateStatisticsCache(); err != nil {
		log.Printf("updating statistics cache failed: %v", err)
		return
	}
	lastCacheUpdate = time.Now()
}

// UpdateStatisticsCache recomputes all totals from the database and stores
// them in Redis
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return err
	}

	var activeSubs int64
	if err := db.Model(&models.Subscription{}).
		Where("status = ?", models.SubscriptionStatusActive).
		Count(&activeSubs).Error; err != nil {
		return err
	}

	var processedEvents int64
	if err := db.Model(&models.WebhookEvent{}).
		Where("processed_at IS NOT NULL").
		Count(&processedEvents).Error; err != nil {
		return err
	}

	if err := cache.Set(CacheKeyUsersTotal, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeySubscriptionsActive, strconv.FormatInt(activeSubs, 10), CacheExpiration); err != nil {
		return err
	}
	return cache.Set(CacheKeyEventsProcessed, strconv.FormatInt(processedEvents, 10), CacheExpiration)
}

// GetStatistics returns the cached totals, refreshing the cache when
// needed. Cache misses fall back to zero rather than hitting the database
// on the request path.
func GetStatistics() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		TotalUsers:          cachedInt(CacheKeyUsersTotal),
		ActiveSubscriptions: cachedInt(CacheKeySubscriptionsActive),
		ProcessedEvents:     cachedInt(CacheKeyEventsProcessed),
	}
}

func cachedInt(key string) int {
	v, err := cache.GetInt(key)
	if err != nil {
		return 0
	}
	return v
}
