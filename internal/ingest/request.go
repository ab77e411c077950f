// Package ingest turns external job requests into queued pipeline jobs and
// fans job events back out. Requests arrive over MQTT, AMQP or as files
// dropped into an inbox directory; events leave over SSE and MQTT.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jonatasu/dubby/internal/audio"
	"github.com/jonatasu/dubby/internal/metrics"
	"github.com/jonatasu/dubby/internal/pipeline"
)

// ErrInvalidRequest marks a message that can never become a job.
var ErrInvalidRequest = errors.New("invalid job request")

// Enqueuer accepts jobs for background execution.
type Enqueuer interface {
	Enqueue(req pipeline.Request) (string, bool)
}

// Defaults fill in request fields the sender left empty. SearchDirs locate
// input paths that do not exist as given, such as a producer's own absolute
// path for a file in the shared inbox.
type Defaults struct {
	SrcLang    string
	DstLang    string
	SearchDirs []string
}

// DecodeRequest parses a JSON job request. input_path is required and must
// resolve to an existing regular file; job_id, when given, must pass
// pipeline.ValidJobID; languages fall back to defaults.
func DecodeRequest(data []byte, defaults Defaults) (pipeline.Request, error) {
	var req pipeline.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return pipeline.Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.InputPath = strings.TrimSpace(req.InputPath)
	if req.InputPath == "" {
		return pipeline.Request{}, fmt.Errorf("%w: input_path is required", ErrInvalidRequest)
	}
	if req.JobID != "" && !pipeline.ValidJobID(req.JobID) {
		return pipeline.Request{}, fmt.Errorf("%w: job_id %q must be 1-64 letters, digits, '-' or '_'", ErrInvalidRequest, req.JobID)
	}
	dirs := append(append([]string(nil), defaults.SearchDirs...), ".")
	resolved := audio.ResolveFile(req.InputPath, dirs...)
	if resolved == "" {
		return pipeline.Request{}, fmt.Errorf("%w: input %s not found", ErrInvalidRequest, req.InputPath)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.InputPath = resolved
	if !info.Mode().IsRegular() {
		return pipeline.Request{}, fmt.Errorf("%w: %s is not a regular file", ErrInvalidRequest, req.InputPath)
	}
	if req.SrcLang == "" {
		req.SrcLang = defaults.SrcLang
	}
	if req.DstLang == "" {
		req.DstLang = defaults.DstLang
	}
	return req, nil
}

// submit enqueues req and counts the outcome for source.
func submit(q Enqueuer, req pipeline.Request, source string) (string, bool) {
	req.Source = source
	id, ok := q.Enqueue(req)
	result := "queued"
	if !ok {
		result = "rejected"
	}
	metrics.IntakeRequestsTotal.WithLabelValues(source, result).Inc()
	return id, ok
}
