package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"colletta/internal/core"
	"colletta/internal/ledger"
	"colletta/internal/memory"
)

const testAdmin = core.Identity("ops@example.org")

// testClock lets a test move the engine's notion of now past deadlines.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func newTestServer(t *testing.T, clock *testClock) *Server {
	t.Helper()

	eng := ledger.NewEngine(ledger.Config{
		Store: memory.New(),
		Admin: testAdmin,
		Now:   clock.Now,
	})

	srv := NewServer(":0", eng)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func createCampaign(t *testing.T, srv *Server, body string) campaignResponse {
	t.Helper()

	rr := doJSON(t, srv, http.MethodPost, "/campaigns", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp campaignResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func TestCreateCampaignAndSummary(t *testing.T) {
	srv := newTestServer(t, newTestClock())

	created := createCampaign(t, srv,
		`{"creator":"alice","title":"Team retreat","description":"Annual gathering","goal":"500,00","duration_days":30}`)

	if created.ID != 1 {
		t.Errorf("id = %d, want 1", created.ID)
	}
	if created.GoalCents != 50000 {
		t.Errorf("goal_cents = %d, want 50000", created.GoalCents)
	}
	if created.Status != "open" {
		t.Errorf("status = %q, want %q", created.Status, "open")
	}
	if created.GoalReached {
		t.Error("goal_reached should be false for a fresh campaign")
	}

	rr := doJSON(t, srv, http.MethodGet, "/campaigns/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rr.Code)
	}
	var sum campaignResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Title != "Team retreat" {
		t.Errorf("title = %q, want %q", sum.Title, "Team retreat")
	}
	if sum.Creator != "alice" {
		t.Errorf("creator = %q, want %q", sum.Creator, "alice")
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	srv := newTestServer(t, newTestClock())

	cases := []struct {
		name     string
		body     string
		wantCode int
		wantTerm string
	}{
		{"invalid goal", `{"creator":"alice","title":"T","goal":"abc","duration_days":30}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"zero goal", `{"creator":"alice","title":"T","goal":"0","duration_days":30}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"empty creator", `{"creator":"","title":"T","goal":"10,00","duration_days":30}`, http.StatusUnprocessableEntity, "invalid_parameters"},
		{"empty title", `{"creator":"alice","title":"","goal":"10,00","duration_days":30}`, http.StatusUnprocessableEntity, "invalid_parameters"},
		{"zero duration", `{"creator":"alice","title":"T","goal":"10,00","duration_days":0}`, http.StatusUnprocessableEntity, "invalid_parameters"},
		{"malformed JSON", `{"creator":`, http.StatusBadRequest, "bad_request"},
		{"empty body", ``, http.StatusBadRequest, "bad_request"},
		{"two objects", `{"creator":"a"}{"creator":"b"}`, http.StatusBadRequest, "single JSON object"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, srv, http.MethodPost, "/campaigns", tc.body)
			if rr.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tc.wantCode, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tc.wantTerm) {
				t.Errorf("body %q does not mention %q", rr.Body.String(), tc.wantTerm)
			}
		})
	}
}

func TestCreateCampaignRejectsWrongContentType(t *testing.T) {
	srv := newTestServer(t, newTestClock())

	req := httptest.NewRequest(http.MethodPost, "/campaigns", strings.NewReader("creator=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "application/json") {
		t.Errorf("body %q does not name the expected content type", rr.Body.String())
	}
}

func TestContributeFlow(t *testing.T) {
	srv := newTestServer(t, newTestClock())
	createCampaign(t, srv, `{"creator":"alice","title":"Server fund","goal":"100,00","duration_days":30}`)

	rr := doJSON(t, srv, http.MethodPost, "/campaigns/1/contributions", `{"contributor":"bob","amount":"40,00"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("contribute status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/contributions", `{"contributor":"alice","amount":"1,00"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("self contribution status = %d, want 422", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "self_contribution") {
		t.Errorf("body %q does not mention self_contribution", rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodPost, "/campaigns/99/contributions", `{"contributor":"bob","amount":"1,00"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown campaign status = %d, want 404", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/campaigns/1/stake?contributor=bob", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stake status = %d", rr.Code)
	}
	var stake struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &stake); err != nil {
		t.Fatalf("decode stake: %v", err)
	}
	if stake.AmountCents != 4000 {
		t.Errorf("stake = %d, want 4000", stake.AmountCents)
	}

	rr = doJSON(t, srv, http.MethodGet, "/campaigns/1/contributors", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("contributors status = %d", rr.Code)
	}
	var contributors struct {
		Contributors []string `json:"contributors"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &contributors); err != nil {
		t.Fatalf("decode contributors: %v", err)
	}
	if len(contributors.Contributors) != 1 || contributors.Contributors[0] != "bob" {
		t.Errorf("contributors = %v, want [bob]", contributors.Contributors)
	}
}

func TestStakeRequiresContributorParam(t *testing.T) {
	srv := newTestServer(t, newTestClock())
	createCampaign(t, srv, `{"creator":"alice","title":"T","goal":"10,00","duration_days":30}`)

	rr := doJSON(t, srv, http.MethodGet, "/campaigns/1/stake", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
}

func TestSettleWithdrawal(t *testing.T) {
	srv := newTestServer(t, newTestClock())
	createCampaign(t, srv, `{"creator":"alice","title":"Goal run","goal":"100,00","duration_days":30}`)

	doJSON(t, srv, http.MethodPost, "/campaigns/1/contributions", `{"contributor":"bob","amount":"60,00"}`)
	doJSON(t, srv, http.MethodPost, "/campaigns/1/contributions", `{"contributor":"carol","amount":"40,00"}`)

	rr := doJSON(t, srv, http.MethodPost, "/campaigns/1/settlements", `{"caller":"alice"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("settle status = %d, body %s", rr.Code, rr.Body.String())
	}
	var transfer transferResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &transfer); err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if transfer.Kind != "withdrawal" {
		t.Errorf("kind = %q, want withdrawal", transfer.Kind)
	}
	if transfer.Beneficiary != "alice" {
		t.Errorf("beneficiary = %q, want alice", transfer.Beneficiary)
	}
	if transfer.AmountCents != 10000 {
		t.Errorf("amount_cents = %d, want 10000", transfer.AmountCents)
	}
	if transfer.Status != "pending" {
		t.Errorf("status = %q, want pending", transfer.Status)
	}

	// Second withdrawal must fail, and the cached summary must reflect
	// the settled state, not the pre-settlement view.
	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/settlements", `{"caller":"alice"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second settle status = %d, want 409", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "already_settled") {
		t.Errorf("body %q does not mention already_settled", rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/campaigns/1", "")
	var sum campaignResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.RaisedCents != 0 {
		t.Errorf("raised_cents after withdrawal = %d, want 0", sum.RaisedCents)
	}
	if !sum.Withdrawn {
		t.Error("withdrawn should be true after creator settlement")
	}
}

func TestSettleRefundAfterDeadline(t *testing.T) {
	clock := newTestClock()
	srv := newTestServer(t, clock)
	createCampaign(t, srv, `{"creator":"alice","title":"Short run","goal":"100,00","duration_days":5}`)
	doJSON(t, srv, http.MethodPost, "/campaigns/1/contributions", `{"contributor":"bob","amount":"40,00"}`)

	// Before the deadline nobody can settle an unmet campaign.
	rr := doJSON(t, srv, http.MethodPost, "/campaigns/1/settlements", `{"caller":"bob"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("early settle status = %d, want 409", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "not_settlement_eligible") {
		t.Errorf("body %q does not mention not_settlement_eligible", rr.Body.String())
	}

	clock.now = clock.now.Add(6 * 24 * time.Hour)

	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/settlements", `{"caller":"alice"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("creator settle status = %d, want 409", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "goal_not_reached") {
		t.Errorf("body %q does not mention goal_not_reached", rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/settlements", `{"caller":"bob"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("refund status = %d, body %s", rr.Code, rr.Body.String())
	}
	var transfer transferResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &transfer); err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if transfer.Kind != "refund" || transfer.AmountCents != 4000 {
		t.Errorf("transfer = %+v, want refund of 4000", transfer)
	}

	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/settlements", `{"caller":"bob"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second refund status = %d, want 409", rr.Code)
	}

	// A stranger has no action even when the campaign is eligible.
	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/settlements", `{"caller":"mallory"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("stranger settle status = %d, want 409", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "no_eligible_action") {
		t.Errorf("body %q does not mention no_eligible_action", rr.Body.String())
	}
}

func TestEmergencyStop(t *testing.T) {
	srv := newTestServer(t, newTestClock())
	createCampaign(t, srv, `{"creator":"alice","title":"Stopped","goal":"100,00","duration_days":30}`)
	doJSON(t, srv, http.MethodPost, "/campaigns/1/contributions", `{"contributor":"bob","amount":"40,00"}`)

	rr := doJSON(t, srv, http.MethodPost, "/campaigns/1/stop", `{"caller":"mallory"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("unauthorized stop status = %d, want 403", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/stop", `{"caller":"ops@example.org"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/campaigns/1", "")
	var sum campaignResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Status != "ceased" {
		t.Errorf("status = %q, want ceased", sum.Status)
	}

	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/contributions", `{"contributor":"carol","amount":"1,00"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("contribute after stop status = %d, want 409", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/stop", `{"caller":"ops@example.org"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second stop status = %d, want 409", rr.Code)
	}

	// Contributors keep refund rights after a stop.
	rr = doJSON(t, srv, http.MethodPost, "/campaigns/1/settlements", `{"caller":"bob"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("refund after stop status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestCampaignsByCreator(t *testing.T) {
	srv := newTestServer(t, newTestClock())
	createCampaign(t, srv, `{"creator":"alice","title":"One","goal":"10,00","duration_days":30}`)
	createCampaign(t, srv, `{"creator":"bob","title":"Two","goal":"10,00","duration_days":30}`)
	createCampaign(t, srv, `{"creator":"alice","title":"Three","goal":"10,00","duration_days":30}`)

	rr := doJSON(t, srv, http.MethodGet, "/campaigns?creator=alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		CampaignIDs []int64 `json:"campaign_ids"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.CampaignIDs) != 2 {
		t.Fatalf("campaign_ids = %v, want two entries", resp.CampaignIDs)
	}

	rr = doJSON(t, srv, http.MethodGet, "/campaigns", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing creator status = %d, want 422", rr.Code)
	}
}

func TestHealthReadyAndStats(t *testing.T) {
	srv := newTestServer(t, newTestClock())
	createCampaign(t, srv, `{"creator":"alice","title":"Counted","goal":"10,00","duration_days":30}`)

	rr := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Errorf("healthz body %q missing ok status", rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
		t.Errorf("readyz body %q missing ready status", rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"campaigns_created_total 1", "campaigns_total 1", "http_requests_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("stats body missing %q", want)
		}
	}
}

func TestMutationRateLimit(t *testing.T) {
	srv := newTestServer(t, newTestClock())

	// Default limit is 60 mutations per minute per client; the guard
	// rejects the 61st from the same address.
	var last *httptest.ResponseRecorder
	for i := 0; i < 61; i++ {
		last = doJSON(t, srv, http.MethodPost, "/campaigns", `{"creator":"alice","title":"T","goal":"1,00","duration_days":1}`)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("61st request status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
	if !strings.Contains(last.Body.String(), "rate_limited") {
		t.Errorf("body %q does not mention rate_limited", last.Body.String())
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := newTestServer(t, newTestClock())

	rr := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestInvalidCampaignIDPath(t *testing.T) {
	srv := newTestServer(t, newTestClock())

	for _, path := range []string{"/campaigns/abc", "/campaigns/0", "/campaigns/-3"} {
		rr := doJSON(t, srv, http.MethodGet, path, "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rr.Code)
		}
	}
}
