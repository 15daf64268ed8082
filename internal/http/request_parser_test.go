package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	type payload struct {
		Creator string `json:"creator"`
		Goal    string `json:"goal"`
	}

	tests := []struct {
		name        string
		body        string
		contentType string
		wantErr     bool
		wantTerm    string
	}{
		{
			name:        "valid object",
			body:        `{"creator":"alice","goal":"12,50"}`,
			contentType: "application/json",
		},
		{
			name:        "content type with charset",
			body:        `{"creator":"alice"}`,
			contentType: "application/json; charset=utf-8",
		},
		{
			name: "no content type header is accepted",
			body: `{"creator":"alice"}`,
		},
		{
			name:        "wrong content type",
			body:        `{"creator":"alice"}`,
			contentType: "text/plain",
			wantErr:     true,
			wantTerm:    "application/json",
		},
		{
			name:        "malformed JSON",
			body:        `{"creator":`,
			contentType: "application/json",
			wantErr:     true,
			wantTerm:    "malformed",
		},
		{
			name:        "empty body",
			body:        "",
			contentType: "application/json",
			wantErr:     true,
			wantTerm:    "empty",
		},
		{
			name:        "trailing second object",
			body:        `{"creator":"a"}{"creator":"b"}`,
			contentType: "application/json",
			wantErr:     true,
			wantTerm:    "single JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/campaigns", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			var dst payload
			err := decodeRequest(httptest.NewRecorder(), req, &dst)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.wantTerm) {
					t.Errorf("error %q does not mention %q", err.Error(), tt.wantTerm)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeRequest() error = %v", err)
			}
			if dst.Creator != "alice" {
				t.Errorf("creator = %q, want alice", dst.Creator)
			}
		})
	}
}

func TestDecodeRequestRejectsOversizedBody(t *testing.T) {
	big := `{"creator":"` + strings.Repeat("a", maxRequestBody) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/campaigns", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")

	var dst struct{}
	err := decodeRequest(httptest.NewRecorder(), req, &dst)
	if err == nil {
		t.Fatal("expected error for oversized body")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("error %q does not mention the size limit", err.Error())
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCents int64
		wantErr   bool
	}{
		{"dot separator", "12.34", 1234, false},
		{"comma separator", "12,34", 1234, false},
		{"surrounding whitespace", "  7,00  ", 700, false},
		{"rounds half up", "10.005", 1001, false},
		{"zero", "0", 0, true},
		{"negative", "-5", 0, true},
		{"garbage", "abc", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmount(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseAmount(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAmount(%q) error = %v", tt.raw, err)
			}
			if got.Cents != tt.wantCents {
				t.Errorf("parseAmount(%q) = %d cents, want %d", tt.raw, got.Cents, tt.wantCents)
			}
		})
	}
}

func TestParseCampaignID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"7", 7, false},
		{" 12 ", 12, false},
		{"0", 0, true},
		{"-4", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/campaigns/x", nil)
			req.SetPathValue("id", tt.raw)

			got, err := parseCampaignID(req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseCampaignID(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCampaignID(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("parseCampaignID(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"trims whitespace", "  alice  ", "alice"},
		{"strips control characters", "al\x00ice\x07", "alice"},
		{"keeps tabs and newlines", "a\tb\nc", "a\tb\nc"},
		{"plain text untouched", "Team retreat 2025", "Team retreat 2025"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeInput(tt.input); got != tt.want {
				t.Errorf("sanitizeInput(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
