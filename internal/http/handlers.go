package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"colletta/internal/core"
	"colletta/internal/log"
)

type createCampaignRequest struct {
	Creator      string `json:"creator"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Goal         string `json:"goal"`
	DurationDays int    `json:"duration_days"`
}

type contributeRequest struct {
	Contributor string `json:"contributor"`
	Amount      string `json:"amount"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type campaignResponse struct {
	ID               int64     `json:"id"`
	Creator          string    `json:"creator"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	GoalCents        int64     `json:"goal_cents"`
	RaisedCents      int64     `json:"raised_cents"`
	Deadline         time.Time `json:"deadline"`
	Status           string    `json:"status"`
	GoalReached      bool      `json:"goal_reached"`
	ContributorCount int       `json:"contributor_count"`
	Withdrawn        bool      `json:"withdrawn"`
	CreatedAt        time.Time `json:"created_at"`
}

func newCampaignResponse(sum core.CampaignSummary) campaignResponse {
	return campaignResponse{
		ID:               sum.ID,
		Creator:          string(sum.Creator),
		Title:            sum.Title,
		Description:      sum.Description,
		GoalCents:        sum.Goal.Cents,
		RaisedCents:      sum.Raised.Cents,
		Deadline:         sum.Deadline,
		Status:           string(sum.Status),
		GoalReached:      sum.GoalReached,
		ContributorCount: sum.ContributorCount,
		Withdrawn:        sum.Withdrawn,
		CreatedAt:        sum.CreatedAt,
	}
}

type transferResponse struct {
	ID          string `json:"id"`
	CampaignID  int64  `json:"campaign_id"`
	Beneficiary string `json:"beneficiary"`
	AmountCents int64  `json:"amount_cents"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
}

func newTransferResponse(t core.Transfer) transferResponse {
	return transferResponse{
		ID:          t.ID,
		CampaignID:  t.CampaignID,
		Beneficiary: string(t.Beneficiary),
		AmountCents: t.Amount.Cents,
		Kind:        string(t.Kind),
		Status:      string(t.Status),
	}
}

// writeError logs server-side faults and renders the JSON error envelope.
// Domain errors map onto 4xx responses and are not logged here since the
// trace middleware already records the status code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := apiError(err)
	if resp.statusCode >= http.StatusInternalServerError {
		s.structured.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, op, log.NewFields())
	}
	resp.Write(w)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := decodeRequest(w, r, &req); err != nil {
		ErrorResponse(http.StatusBadRequest, "bad_request", err.Error()).Write(w)
		return
	}

	goal, err := parseAmount(req.Goal)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	campaign, err := s.ledger.CreateCampaign(r.Context(),
		core.Identity(sanitizeInput(req.Creator)),
		sanitizeInput(req.Title),
		sanitizeInput(req.Description),
		goal,
		req.DurationDays)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	atomic.AddInt64(&s.metrics.campaignsCreated, 1)
	s.structured.LogCampaignCreated(r.Context(), campaign.ID, campaign.Title, campaign.Goal.Cents)

	NewAPIResponse().
		Status(http.StatusCreated).
		Header("Location", "/campaigns/"+campaignKey(campaign.ID)).
		JSON(newCampaignResponse(campaign.Summary())).
		Write(w)
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	id, err := parseCampaignID(r)
	if err != nil {
		s.writeError(w, r, log.OpContribute, err)
		return
	}

	var req contributeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		ErrorResponse(http.StatusBadRequest, "bad_request", err.Error()).Write(w)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, log.OpContribute, err)
		return
	}

	if err := s.ledger.Contribute(r.Context(), id, core.Identity(sanitizeInput(req.Contributor)), amount); err != nil {
		s.writeError(w, r, log.OpContribute, err)
		return
	}

	atomic.AddInt64(&s.metrics.contributions, 1)
	s.invalidateCampaign(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, err := parseCampaignID(r)
	if err != nil {
		s.writeError(w, r, log.OpSettle, err)
		return
	}

	var req callerRequest
	if err := decodeRequest(w, r, &req); err != nil {
		ErrorResponse(http.StatusBadRequest, "bad_request", err.Error()).Write(w)
		return
	}

	transfer, err := s.ledger.Settle(r.Context(), id, core.Identity(sanitizeInput(req.Caller)))
	if err != nil {
		s.writeError(w, r, log.OpSettle, err)
		return
	}

	atomic.AddInt64(&s.metrics.settlements, 1)
	s.invalidateCampaign(id)

	NewAPIResponse().JSON(newTransferResponse(transfer)).Write(w)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	id, err := parseCampaignID(r)
	if err != nil {
		s.writeError(w, r, log.OpShutdown, err)
		return
	}

	var req callerRequest
	if err := decodeRequest(w, r, &req); err != nil {
		ErrorResponse(http.StatusBadRequest, "bad_request", err.Error()).Write(w)
		return
	}

	if err := s.ledger.EmergencyStop(r.Context(), id, core.Identity(sanitizeInput(req.Caller))); err != nil {
		s.writeError(w, r, log.OpShutdown, err)
		return
	}

	atomic.AddInt64(&s.metrics.emergencyStops, 1)
	s.invalidateCampaign(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := parseCampaignID(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	sum, err := s.getSummary(r.Context(), id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	NewAPIResponse().JSON(newCampaignResponse(sum)).Write(w)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	id, err := parseCampaignID(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	contributor := core.Identity(sanitizeInput(r.URL.Query().Get("contributor")))
	if contributor.IsEmpty() {
		s.writeError(w, r, log.OpRead, fmt.Errorf("%w: contributor query parameter is required", core.ErrInvalidParameters))
		return
	}

	amount, err := s.ledger.Stake(r.Context(), id, contributor)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	NewAPIResponse().JSON(struct {
		CampaignID  int64  `json:"campaign_id"`
		Contributor string `json:"contributor"`
		AmountCents int64  `json:"amount_cents"`
	}{id, string(contributor), amount.Cents}).Write(w)
}

func (s *Server) handleContributors(w http.ResponseWriter, r *http.Request) {
	id, err := parseCampaignID(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	list, err := s.getContributors(r.Context(), id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	names := make([]string, len(list))
	for i, c := range list {
		names[i] = string(c)
	}

	NewAPIResponse().JSON(struct {
		CampaignID   int64    `json:"campaign_id"`
		Contributors []string `json:"contributors"`
	}{id, names}).Write(w)
}

func (s *Server) handleCampaignsByCreator(w http.ResponseWriter, r *http.Request) {
	creator := core.Identity(sanitizeInput(r.URL.Query().Get("creator")))
	if creator.IsEmpty() {
		s.writeError(w, r, log.OpList, fmt.Errorf("%w: creator query parameter is required", core.ErrInvalidParameters))
		return
	}

	ids, err := s.ledger.CampaignsByCreator(r.Context(), creator)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}

	NewAPIResponse().JSON(struct {
		Creator     string  `json:"creator"`
		CampaignIDs []int64 `json:"campaign_ids"`
	}{string(creator), ids}).Write(w)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.startedAt).String(),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(health)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	// Probe the ledger store with a lightweight count
	if _, err := s.ledger.TotalCampaigns(ctx); err != nil {
		checks["ledger"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["ledger"] = "ok"
	}

	checks["cache"] = map[string]interface{}{
		"summary_entries":     s.summaryCache.Size(),
		"contributor_entries": s.contributorsCache.Size(),
		"status":              "ok",
	}

	checks["rate_limiter"] = map[string]interface{}{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(response)
}

// handleStats provides application and security metrics in plain text format
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.detector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.tracer.GetMetrics()

	campaignsCreated := atomic.LoadInt64(&s.metrics.campaignsCreated)
	contributions := atomic.LoadInt64(&s.metrics.contributions)
	settlements := atomic.LoadInt64(&s.metrics.settlements)
	emergencyStops := atomic.LoadInt64(&s.metrics.emergencyStops)
	cacheHits := atomic.LoadInt64(&s.metrics.cacheHits)
	cacheMisses := atomic.LoadInt64(&s.metrics.cacheMisses)
	uptime := time.Since(s.metrics.startedAt)

	totalCampaigns, err := s.ledger.TotalCampaigns(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to count campaigns for stats", "error", err)
		totalCampaigns = -1
	}

	w.WriteHeader(http.StatusOK)

	// Write metrics in Prometheus-like format
	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP campaigns_created_total Total number of campaigns created\n")
	fmt.Fprintf(w, "# TYPE campaigns_created_total counter\n")
	fmt.Fprintf(w, "campaigns_created_total %d\n\n", campaignsCreated)

	fmt.Fprintf(w, "# HELP contributions_total Total number of contributions accepted\n")
	fmt.Fprintf(w, "# TYPE contributions_total counter\n")
	fmt.Fprintf(w, "contributions_total %d\n\n", contributions)

	fmt.Fprintf(w, "# HELP settlements_total Total number of settlements executed\n")
	fmt.Fprintf(w, "# TYPE settlements_total counter\n")
	fmt.Fprintf(w, "settlements_total %d\n\n", settlements)

	fmt.Fprintf(w, "# HELP emergency_stops_total Total number of emergency stops\n")
	fmt.Fprintf(w, "# TYPE emergency_stops_total counter\n")
	fmt.Fprintf(w, "emergency_stops_total %d\n\n", emergencyStops)

	fmt.Fprintf(w, "# HELP campaigns_total Campaigns currently recorded\n")
	fmt.Fprintf(w, "# TYPE campaigns_total gauge\n")
	fmt.Fprintf(w, "campaigns_total %d\n\n", totalCampaigns)

	fmt.Fprintf(w, "# HELP cache_hits_total Total cache hits\n")
	fmt.Fprintf(w, "# TYPE cache_hits_total counter\n")
	fmt.Fprintf(w, "cache_hits_total %d\n\n", cacheHits)

	fmt.Fprintf(w, "# HELP cache_misses_total Total cache misses\n")
	fmt.Fprintf(w, "# TYPE cache_misses_total counter\n")
	fmt.Fprintf(w, "cache_misses_total %d\n\n", cacheMisses)

	fmt.Fprintf(w, "# HELP cache_entries Current cache entries\n")
	fmt.Fprintf(w, "# TYPE cache_entries gauge\n")
	fmt.Fprintf(w, "cache_entries{type=\"summary\"} %d\n", s.summaryCache.Size())
	fmt.Fprintf(w, "cache_entries{type=\"contributors\"} %d\n\n", s.contributorsCache.Size())

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitMetrics.TotalHits)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", securityMetrics.SuspiciousRequests)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", s.rateLimiter.ActiveClients())

	fmt.Fprintf(w, "# HELP http_response_time_microseconds_avg Average response time in microseconds\n")
	fmt.Fprintf(w, "# TYPE http_response_time_microseconds_avg gauge\n")
	fmt.Fprintf(w, "http_response_time_microseconds_avg %d\n\n", traceMetrics.AverageResponseTime)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n\n", uptime.Seconds())
}
