package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// WriteJSON writes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail adds an underlying cause, such as a failed phase, to the
// error message.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// Pagination is a limit/offset window over a job listing.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// ParsePagination reads ?limit (1..500, default 50; larger values are
// clamped) and ?offset (>= 0). Malformed values are an error.
func ParsePagination(r *http.Request) (Pagination, error) {
	p := Pagination{Limit: defaultPageLimit}
	limit, ok, err := intParam(r, "limit", 1)
	if err != nil {
		return p, err
	}
	if ok {
		p.Limit = min(limit, maxPageLimit)
	}
	offset, ok, err := intParam(r, "offset", 0)
	if err != nil {
		return p, err
	}
	if ok {
		p.Offset = offset
	}
	return p, nil
}

func intParam(r *http.Request, name string, minVal int) (int, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s %q: must be an integer", name, v)
	}
	if n < minVal {
		return 0, false, fmt.Errorf("invalid %s %d: must be >= %d", name, n, minVal)
	}
	return n, true, nil
}

// QueryBool reports a boolean query parameter. ok is false when the
// parameter is absent or not a boolean.
func QueryBool(r *http.Request, name string) (v bool, ok bool) {
	b, err := strconv.ParseBool(r.URL.Query().Get(name))
	if err != nil {
		return false, false
	}
	return b, true
}

// QueryString returns a non-empty query parameter.
func QueryString(r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	return v, v != ""
}

// QueryStringList splits a comma-separated query parameter, dropping blanks.
func QueryStringList(r *http.Request, name string) []string {
	return splitList(r.URL.Query().Get(name))
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FormString returns a trimmed form value, or def when it is blank.
func FormString(r *http.Request, name, def string) string {
	if v := strings.TrimSpace(r.FormValue(name)); v != "" {
		return v
	}
	return def
}

// FormBool parses a boolean form value. Blank or malformed values are false.
func FormBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(r.FormValue(name)))
	return b
}
