package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
)

// ── ParsePagination ──────────────────────────────────────────────────

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    string
	}{
		{"defaults", "", 50, 0, ""},
		{"valid_custom", "limit=25&offset=10", 25, 10, ""},
		{"limit_over_max_clamps", "limit=2000", 500, 0, ""},
		{"limit_zero", "limit=0", 0, 0, "invalid limit 0"},
		{"negative_offset", "offset=-5", 0, 0, "invalid offset -5"},
		{"non_numeric", "limit=abc", 0, 0, `invalid limit "abc"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePagination(httptest.NewRequest("GET", "/jobs?"+tt.query, nil))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got %+v, want limit=%d offset=%d", p, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

// ── query and form helpers ───────────────────────────────────────────

func TestQueryBool(t *testing.T) {
	tests := []struct {
		query  string
		want   bool
		wantOK bool
	}{
		{"async=true", true, true},
		{"async=1", true, true},
		{"async=false", false, true},
		{"async=maybe", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			v, ok := QueryBool(httptest.NewRequest("GET", "/process?"+tt.query, nil), "async")
			if v != tt.want || ok != tt.wantOK {
				t.Errorf("got (%v, %v), want (%v, %v)", v, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/jobs?state=failed&blank=%20", nil)
	if v, ok := QueryString(req, "state"); !ok || v != "failed" {
		t.Errorf("state = (%q, %v)", v, ok)
	}
	if _, ok := QueryString(req, "blank"); ok {
		t.Error("blank value should be absent")
	}
	if _, ok := QueryString(req, "missing"); ok {
		t.Error("missing value should be absent")
	}
}

func TestQueryStringList(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"job_phase", []string{"job_phase"}},
		{"job_started, job_failed ,,", []string{"job_started", "job_failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/events/stream?types="+url.QueryEscape(tt.raw), nil)
			if got := QueryStringList(req, "types"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormHelpers(t *testing.T) {
	form := url.Values{"dst_lang": {" es "}, "src_lang": {"  "}, "audio_only": {"true"}, "bad": {"nope"}}
	req := httptest.NewRequest("POST", "/process", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if got := FormString(req, "dst_lang", "pt"); got != "es" {
		t.Errorf("dst_lang = %q, want es", got)
	}
	if got := FormString(req, "src_lang", "en"); got != "en" {
		t.Errorf("blank src_lang = %q, want default en", got)
	}
	if !FormBool(req, "audio_only") {
		t.Error("audio_only should be true")
	}
	if FormBool(req, "bad") || FormBool(req, "missing") {
		t.Error("malformed or missing booleans should be false")
	}
}

// ── WriteJSON / WriteError ───────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, map[string]string{"job_id": "abc", "status": "queued"})

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["job_id"] != "abc" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		want   ErrorResponse
	}{
		{
			"plain",
			func(w http.ResponseWriter) { WriteError(w, http.StatusNotFound, "job not found") },
			http.StatusNotFound,
			ErrorResponse{Error: "job not found"},
		},
		{
			"with_detail",
			func(w http.ResponseWriter) {
				WriteErrorDetail(w, http.StatusInternalServerError, "processing failed", "tts_fail: backend down")
			},
			http.StatusInternalServerError,
			ErrorResponse{Error: "processing failed", Detail: "tts_fail: backend down"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var got ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if got != tt.want {
				t.Errorf("body = %+v, want %+v", got, tt.want)
			}
		})
	}
}
