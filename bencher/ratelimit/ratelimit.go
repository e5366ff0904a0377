// Package ratelimit implements C10: the two-layer rate limiter. An
// in-memory layer guards request-shaped traffic per (IP) or (UserUuid)
// at minute/hour/day granularities; a database-backed layer caps
// resource creation per (resource, parent-uuid) per calendar day so an
// unclaimed parent (an anonymous IP) cannot mint unbounded rows before
// ever authenticating.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/store"
)

// Category is a class of rate-limited operation (§4.10).
type Category string

const (
	CategoryRequest      Category = "request"
	CategoryAttempt      Category = "attempt"
	CategoryRun          Category = "run"
	CategoryToken        Category = "token"
	CategoryOrganization Category = "organization"
	CategoryInvite       Category = "invite"
)

// Window is a granularity an in-memory limit is evaluated at.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

func (w Window) duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		panic(fmt.Sprintf("ratelimit: unknown window %q", w))
	}
}

// Limit is the request budget for one (Category, Window) pair.
type Limit struct {
	Window Window
	Max    int
}

// Config maps each Category to the Limits evaluated for it. A category
// with no configured Limits is unrestricted.
type Config map[Category][]Limit

// DefaultConfig mirrors typical CI traffic shapes: request traffic is
// bursty and capped per minute, while higher-cost categories (auth
// attempts, job runs, invites) are capped at coarser granularities too.
func DefaultConfig() Config {
	return Config{
		CategoryRequest: {
			{Window: WindowMinute, Max: 120},
			{Window: WindowHour, Max: 3000},
		},
		CategoryAttempt: {
			{Window: WindowMinute, Max: 5},
			{Window: WindowHour, Max: 20},
		},
		CategoryRun: {
			{Window: WindowMinute, Max: 10},
			{Window: WindowDay, Max: 2000},
		},
		CategoryToken: {
			{Window: WindowHour, Max: 30},
		},
		CategoryOrganization: {
			{Window: WindowDay, Max: 5},
		},
		CategoryInvite: {
			{Window: WindowHour, Max: 50},
		},
	}
}

// bucketKey identifies one token bucket: a scope (an IP or a user uuid),
// a category, and a window.
type bucketKey struct {
	scope    string
	category Category
	window   Window
}

// Backend lets the minute/hour/day counters be shared across every API
// replica instead of living in one process's memory. Allow reports
// whether one more request fits within limit over the trailing window
// ending now, atomically recording the attempt only when it is admitted.
type Backend interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Limiter is the in-memory layer: one token bucket per (scope, category,
// window), approximating "Max requests per Window" as a continuously
// refilling bucket of burst Max refilling at Max/Window.
//
// Buckets are read-mostly once warm; creation of a new bucket takes the
// write lock, lookups of an existing one only the read lock.
//
// If a Backend is configured (SetBackend), it is consulted instead of
// the local buckets, so multiple replicas agree on one counter; the
// local buckets remain as the fallback when no Backend is set.
type Limiter struct {
	config  Config
	backend Backend

	mu      sync.RWMutex
	buckets map[bucketKey]*rate.Limiter
}

// NewLimiter constructs an in-memory Limiter from config.
func NewLimiter(config Config) *Limiter {
	return &Limiter{config: config, buckets: make(map[bucketKey]*rate.Limiter)}
}

// SetBackend switches future Allow calls to check b instead of the local
// in-memory buckets.
func (l *Limiter) SetBackend(b Backend) {
	l.backend = b
}

// Allow charges one request against scope's budget for category across
// every configured Window, returning apierror.RateLimited naming the
// first window that would be exceeded. A category with no configured
// Limits always allows.
func (l *Limiter) Allow(ctx context.Context, category Category, scope string) error {
	for _, limit := range l.config[category] {
		allowed, err := l.allowOne(ctx, bucketKey{scope: scope, category: category, window: limit.Window}, limit)
		if err != nil {
			return err
		}
		if !allowed {
			return apierror.New(apierror.RateLimited, "%s limit exceeded for %s (max %d per %s)", category, scope, limit.Max, limit.Window)
		}
	}
	return nil
}

func (l *Limiter) allowOne(ctx context.Context, key bucketKey, limit Limit) (bool, error) {
	if l.backend != nil {
		redisKey := fmt.Sprintf("%s:%s:%s", key.category, key.window, key.scope)
		allowed, err := l.backend.Allow(ctx, redisKey, limit.Max, limit.Window.duration())
		if err != nil {
			return false, skerr.Wrap(err)
		}
		return allowed, nil
	}
	return l.bucketFor(key, limit).Allow(), nil
}

func (l *Limiter) bucketFor(key bucketKey, limit Limit) *rate.Limiter {
	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok := l.buckets[key]; ok {
		return bucket
	}
	perSecond := rate.Limit(float64(limit.Max) / limit.Window.duration().Seconds())
	bucket = rate.NewLimiter(perSecond, limit.Max)
	l.buckets[key] = bucket
	return bucket
}

// DailyCounter is the database-backed layer: it caps the number of
// resources of a given kind one parent may create per calendar day,
// persisted so the cap survives process restarts and is shared across
// every server instance.
type DailyCounter struct {
	store *store.Store
}

// NewDailyCounter returns a DailyCounter backed by s.
func NewDailyCounter(s *store.Store) *DailyCounter {
	return &DailyCounter{store: s}
}

// Increment records one more resource of kind resource created by
// parentUUID today, failing with apierror.RateLimited if doing so would
// exceed max for the day. The increment and the check happen in the same
// transaction, so concurrent callers cannot both slip past max.
func (d *DailyCounter) Increment(ctx context.Context, resource, parentUUID string, max int64) error {
	day := now.Now(ctx).UTC().Format("2006-01-02")
	return d.store.WithTx(ctx, func(tx *sql.Tx) error {
		var count int64
		err := tx.QueryRowContext(ctx, `SELECT count FROM rate_limit_daily_counts WHERE resource = ? AND parent_uuid = ? AND day = ?`,
			resource, parentUUID, day).Scan(&count)
		if err != nil && err != sql.ErrNoRows {
			return skerr.Wrap(err)
		}
		if count >= max {
			return apierror.New(apierror.RateLimited, "daily limit of %d %s reached for %s", max, resource, parentUUID)
		}

		if err == sql.ErrNoRows {
			_, err = tx.ExecContext(ctx, `INSERT INTO rate_limit_daily_counts (resource, parent_uuid, day, count) VALUES (?, ?, ?, 1)`, resource, parentUUID, day)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE rate_limit_daily_counts SET count = count + 1 WHERE resource = ? AND parent_uuid = ? AND day = ?`, resource, parentUUID, day)
		}
		return skerr.Wrap(err)
	})
}
