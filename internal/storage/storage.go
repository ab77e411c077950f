// Package storage backs finished outputs up to an S3-compatible bucket and
// keeps the local outputs directory within its retention limits.
//
// Outputs always live under {outputs}/{job_id}/ first. The bucket holds a
// copy under the same key, so a file evicted locally can still be served
// through a presigned URL.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/config"
)

// Remote is the bucket as seen by the backup, pruner and reconciler.
type Remote interface {
	Upload(ctx context.Context, key, localPath string) error
	Has(ctx context.Context, key string) (bool, error)
}

// Service is a background loop owned by the caller.
type Service interface {
	Start()
	Stop()
}

// New returns nil when no bucket is configured. Otherwise it checks bucket
// access and returns the backup together with the services the caller must
// start and stop.
func New(ctx context.Context, cfg config.S3Config, outputsDir string, log zerolog.Logger) (*Backup, []Service, error) {
	if !cfg.Enabled() {
		return nil, nil, nil
	}

	bucket, err := NewBucket(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := bucket.Ping(checkCtx); err != nil {
		return nil, nil, fmt.Errorf("s3 bucket %q at %q unreachable: %w", cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("s3 bucket reachable")

	workers := 0
	if cfg.AsyncUpload {
		workers = 2
	}
	backup := NewBackup(bucket, bucket, workers, log)
	services := []Service{backup, NewReconciler(outputsDir, bucket, log)}
	if cfg.CacheRetention > 0 || cfg.CacheMaxGB > 0 {
		services = append(services, NewPruner(outputsDir, cfg.CacheRetention, int64(cfg.CacheMaxGB)<<30, bucket, log))
	}
	return backup, services, nil
}

// ContentType returns the MIME type stored with an uploaded output.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4", ".m4a":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// cleanKey accepts only relative slash-separated keys that stay inside the
// outputs root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))[1:]
	if k == "" || k != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return k, nil
}

// skipFile reports names the background sweeps leave alone: dotfiles and
// in-progress writes.
func skipFile(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part")
}

// periodic runs fn after delay and then every interval until stopped.
type periodic struct {
	delay    time.Duration
	interval time.Duration
	fn       func()

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newPeriodic(delay, interval time.Duration, fn func()) *periodic {
	return &periodic{
		delay:    delay,
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *periodic) Start() {
	go func() {
		defer close(p.done)
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-timer.C:
				p.fn()
				timer.Reset(p.interval)
			}
		}
	}()
}

// Stop ends the loop. It is safe to call more than once and before Start.
func (p *periodic) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}
