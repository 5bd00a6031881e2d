// Package health serves the read-only operational projection consumed by
// external dashboards: liveness, queue depth, and deadline breaches.
package health

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"veriqan/internal/cases"
	"veriqan/internal/sla"
)

// Status is the projection exposed to monitors. It is derived state; nothing
// here is authoritative.
type Status struct {
	IsRunning          bool      `json:"is_running"`
	LastHeartbeat      time.Time `json:"last_heartbeat"`
	PendingReviewCount int       `json:"pending_review_count"`
	BreachedCaseCount  int       `json:"breached_case_count"`
}

// PendingCounter is the slice of the review coordinator the projection needs.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// Cache is the slice of the redis client the projection uses: count caching
// plus a connectivity probe.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Health(ctx context.Context) error
}

const (
	heartbeatInterval = 15 * time.Second
	cacheTTL          = 30 * time.Second

	pendingCacheKey  = "veriqan:health:pending"
	breachedCacheKey = "veriqan:health:breached"
)

// Service computes the projection. The counts are cached in Redis with a
// short TTL so dashboards polling aggressively do not hammer Postgres; a nil
// cache client degrades to computing every time.
type Service struct {
	reviews PendingCounter
	cases   cases.Store
	slaCfg  sla.Config
	cache   Cache
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	running  bool
	lastBeat time.Time
}

func New(reviews PendingCounter, caseStore cases.Store, slaCfg sla.Config, cache Cache, logger *slog.Logger) *Service {
	return &Service{
		reviews: reviews,
		cases:   caseStore,
		slaCfg:  slaCfg,
		cache:   cache,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run keeps the heartbeat fresh and probes the cache until the context is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.beat(true)
	s.probeCache(ctx)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.beat(false)
			return ctx.Err()
		case <-ticker.C:
			s.beat(true)
			s.probeCache(ctx)
		}
	}
}

// probeCache pings the cache alongside the heartbeat so a Redis outage shows
// up in the logs before dashboards notice stale counts.
func (s *Service) probeCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Health(ctx); err != nil {
		s.logger.WarnContext(ctx, "health cache unreachable", "error", err)
	}
}

func (s *Service) beat(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
	s.lastBeat = s.now()
}

// Status assembles the projection. Count lookups failing degrade to zero
// rather than failing the probe; the error is logged.
func (s *Service) Status(ctx context.Context) Status {
	s.mu.RLock()
	status := Status{IsRunning: s.running, LastHeartbeat: s.lastBeat}
	s.mu.RUnlock()

	status.PendingReviewCount = s.cachedCount(ctx, pendingCacheKey, s.pendingCount)
	status.BreachedCaseCount = s.cachedCount(ctx, breachedCacheKey, s.breachedCount)
	return status
}

func (s *Service) cachedCount(ctx context.Context, key string, compute func(context.Context) (int, error)) int {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Result(); err == nil {
			if n, convErr := strconv.Atoi(raw); convErr == nil {
				return n
			}
		}
	}

	n, err := compute(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "health count unavailable", "key", key, "error", err)
		return 0
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, strconv.Itoa(n), cacheTTL).Err(); err != nil {
			s.logger.WarnContext(ctx, "health count cache write failed", "key", key, "error", err)
		}
	}
	return n
}

func (s *Service) pendingCount(ctx context.Context) (int, error) {
	return s.reviews.PendingCount(ctx)
}

// breachedCount recomputes SLA status for every open case. Breach status is
// never stored; it is always derived from the calendar and the clock.
func (s *Service) breachedCount(ctx context.Context) (int, error) {
	open, err := s.cases.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	count := 0
	for _, c := range open {
		st, err := s.slaCfg.ComputeStatus(c.IntakeAt, c.DaysAllowed, now)
		if err != nil {
			continue
		}
		if st.Breached {
			count++
		}
	}
	return count, nil
}
