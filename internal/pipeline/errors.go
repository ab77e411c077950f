package pipeline

import (
	"errors"
	"regexp"
)

// Fatal phase failures. A failed job's error string starts with one of these.
var (
	ErrExtraction  = errors.New("extract_audio")
	ErrRecognition = errors.New("recognize")
	ErrSynthesis   = errors.New("tts_fail")
	ErrOutput      = errors.New("write_output")
)

// ErrInvalidJobID is returned by Run for a caller-supplied ID that
// ValidJobID rejects. No job is registered.
var ErrInvalidJobID = errors.New("invalid job id")

// Job IDs name files and object keys, so they are limited to one path
// segment of letters, digits, '-' and '_'. Generated UUIDs match.
var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidJobID reports whether id may be used as a job ID.
func ValidJobID(id string) bool { return jobIDPattern.MatchString(id) }

// PhaseError is returned by Run when a fatal phase aborts the job.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string { return e.Err.Error() }

func (e *PhaseError) Unwrap() error { return e.Err }
