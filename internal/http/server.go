// Package http exposes the campaign ledger as a JSON API.
//
// The server wires the engine behind a stdlib mux with request tracing,
// security headers, suspicious-request detection and per-client rate
// limiting on mutations. Read endpoints are served through a TTL'd LRU
// cache that mutations invalidate.
package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"colletta/internal/cache"
	"colletta/internal/core"
	"colletta/internal/ledger"
	"colletta/internal/log"
	"colletta/internal/middleware/ratelimit"
	"colletta/internal/middleware/security"
	"colletta/internal/middleware/trace"
)

// Ledger is the engine surface the API serves.
type Ledger interface {
	CreateCampaign(ctx context.Context, creator core.Identity, title, description string, goal core.Money, durationDays int) (core.Campaign, error)
	Contribute(ctx context.Context, campaignID int64, contributor core.Identity, amount core.Money) error
	Settle(ctx context.Context, campaignID int64, caller core.Identity) (core.Transfer, error)
	EmergencyStop(ctx context.Context, campaignID int64, caller core.Identity) error
	Summary(ctx context.Context, campaignID int64) (core.CampaignSummary, error)
	Stake(ctx context.Context, campaignID int64, contributor core.Identity) (core.Money, error)
	Contributors(ctx context.Context, campaignID int64) ([]core.Identity, error)
	CampaignsByCreator(ctx context.Context, creator core.Identity) ([]int64, error)
	TotalCampaigns(ctx context.Context) (int64, error)
}

var _ Ledger = (*ledger.Engine)(nil)

const (
	summaryCacheSize     = 1000
	contributorCacheSize = 500
	readCacheTTL         = 30 * time.Second
	cacheCleanupInterval = 10 * time.Minute
)

// appMetrics counts successful operations since startup.
type appMetrics struct {
	startedAt        time.Time
	campaignsCreated int64
	contributions    int64
	settlements      int64
	emergencyStops   int64
	cacheHits        int64
	cacheMisses      int64
}

type Server struct {
	http.Server

	ledger     Ledger
	logger     *log.Logger
	structured *log.StructuredLogger

	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	tracer      *trace.Middleware

	summaryCache      *cache.LRUCache[core.CampaignSummary]
	contributorsCache *cache.LRUCache[[]core.Identity]
	cacheManager      *cache.Manager
	flight            singleflight.Group

	metrics      appMetrics
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server around the given ledger.
func NewServer(addr string, l Ledger) *Server {
	mux := http.NewServeMux()
	detector := security.NewDetector()
	logger := log.New(log.Config{Component: log.ComponentHTTP})

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		ledger:            l,
		logger:            logger,
		structured:        log.NewStructuredLogger(logger),
		rateLimiter:       ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		detector:          detector,
		tracer:            trace.NewMiddleware(detector.ExtractClientIP),
		summaryCache:      cache.NewLRUCache[core.CampaignSummary](summaryCacheSize, readCacheTTL),
		contributorsCache: cache.NewLRUCache[[]core.Identity](contributorCacheSize, readCacheTTL),
		cacheManager:      cache.NewManager(),
		metrics:           appMetrics{startedAt: time.Now()},
	}

	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.Register(s.contributorsCache)
	s.cacheManager.StartCleanup(cacheCleanupInterval)

	mux.HandleFunc("POST /campaigns", s.handleCreateCampaign)
	mux.HandleFunc("GET /campaigns", s.handleCampaignsByCreator)
	mux.HandleFunc("GET /campaigns/{id}", s.handleSummary)
	mux.HandleFunc("POST /campaigns/{id}/contributions", s.handleContribute)
	mux.HandleFunc("POST /campaigns/{id}/settlements", s.handleSettle)
	mux.HandleFunc("POST /campaigns/{id}/stop", s.handleEmergencyStop)
	mux.HandleFunc("GET /campaigns/{id}/stake", s.handleStake)
	mux.HandleFunc("GET /campaigns/{id}/contributors", s.handleContributors)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /stats", s.handleStats)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Handler = s.tracer.Middleware(headers.Middleware(s.guard(mux)))

	return s
}

// guard runs suspicious-request detection on everything and rate limits
// mutating requests per client before the mux sees them.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := s.detector.ExtractClientIP(r)

		if s.detector.DetectSuspiciousRequest(r) {
			s.logger.WarnContext(r.Context(), "Suspicious request detected",
				log.FieldClientIP, clientIP, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
		}

		if r.Method == http.MethodPost && !s.rateLimiter.Allow(clientIP) {
			s.logger.WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldClientIP, clientIP, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			ErrorResponse(http.StatusTooManyRequests, "rate_limited", "too many requests").Write(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func campaignKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// getSummary serves the campaign read model through the LRU cache.
// Concurrent misses for the same campaign collapse into one store read.
func (s *Server) getSummary(ctx context.Context, id int64) (core.CampaignSummary, error) {
	key := campaignKey(id)

	if sum, found := s.summaryCache.Get(key); found {
		atomic.AddInt64(&s.metrics.cacheHits, 1)
		return sum, nil
	}
	atomic.AddInt64(&s.metrics.cacheMisses, 1)

	v, err, _ := s.flight.Do("summary:"+key, func() (any, error) {
		sum, err := s.ledger.Summary(ctx, id)
		if err != nil {
			return core.CampaignSummary{}, err
		}
		s.summaryCache.Set(key, sum)
		return sum, nil
	})
	if err != nil {
		return core.CampaignSummary{}, err
	}
	return v.(core.CampaignSummary), nil
}

func (s *Server) getContributors(ctx context.Context, id int64) ([]core.Identity, error) {
	key := campaignKey(id)

	if list, found := s.contributorsCache.Get(key); found {
		atomic.AddInt64(&s.metrics.cacheHits, 1)
		// Return a copy to prevent external mutation
		out := make([]core.Identity, len(list))
		copy(out, list)
		return out, nil
	}
	atomic.AddInt64(&s.metrics.cacheMisses, 1)

	v, err, _ := s.flight.Do("contributors:"+key, func() (any, error) {
		list, err := s.ledger.Contributors(ctx, id)
		if err != nil {
			return nil, err
		}
		s.contributorsCache.Set(key, list)
		return list, nil
	})
	if err != nil {
		return nil, err
	}

	list := v.([]core.Identity)
	out := make([]core.Identity, len(list))
	copy(out, list)
	return out, nil
}

// invalidateCampaign drops the cached views after a mutation commits.
func (s *Server) invalidateCampaign(id int64) {
	key := campaignKey(id)
	s.summaryCache.Delete(key)
	s.contributorsCache.Delete(key)
}
