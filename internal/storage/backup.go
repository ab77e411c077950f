package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	uploadQueueSize = 64
	uploadTimeout   = 5 * time.Minute
)

// URLSigner hands out temporary download links for backed-up outputs.
type URLSigner interface {
	PresignURL(ctx context.Context, key string) (string, error)
}

type upload struct {
	key  string
	path string
}

// Backup copies finished outputs to the remote. With workers > 0 uploads
// run in the background and Archive only queues them; with zero workers
// Archive uploads before returning. Either way a failed upload is logged and
// left to the reconciler: the local file is the primary copy.
type Backup struct {
	remote  Remote
	signer  URLSigner
	workers int
	log     zerolog.Logger

	mu      sync.RWMutex
	queue   chan upload
	closed  bool
	wg      sync.WaitGroup
	done    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewBackup(remote Remote, signer URLSigner, workers int, log zerolog.Logger) *Backup {
	b := &Backup{remote: remote, signer: signer, workers: workers, log: log}
	if workers > 0 {
		b.queue = make(chan upload, uploadQueueSize)
	}
	return b
}

// Archive backs up the output at localPath under key ({job_id}/{file}).
// Only an invalid key is an error.
func (b *Backup) Archive(ctx context.Context, key, localPath string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	u := upload{key: k, path: localPath}
	if b.queue == nil {
		b.upload(ctx, u)
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return nil
	}
	select {
	case b.queue <- u:
	default:
		b.dropped.Add(1)
		b.log.Warn().Str("key", k).Msg("upload queue full, leaving output for the reconciler")
	}
	return nil
}

// URL returns a presigned link for key.
func (b *Backup) URL(ctx context.Context, key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if b.signer == nil {
		return "", fmt.Errorf("no url signer for %s", k)
	}
	return b.signer.PresignURL(ctx, k)
}

func (b *Backup) upload(ctx context.Context, u upload) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	if err := b.remote.Upload(ctx, u.key, u.path); err != nil {
		b.failed.Add(1)
		b.log.Warn().Err(err).Str("key", u.key).Msg("output backup failed")
		return
	}
	b.done.Add(1)
	b.log.Debug().Str("key", u.key).Msg("output backed up")
}

// Start launches the upload workers. It does nothing for a synchronous
// backup.
func (b *Backup) Start() {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for u := range b.queue {
				b.upload(context.Background(), u)
			}
		}()
	}
}

// Stop finishes queued uploads and waits for the workers.
func (b *Backup) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.log.Info().
		Int64("uploaded", b.done.Load()).
		Int64("failed", b.failed.Load()).
		Int64("dropped", b.dropped.Load()).
		Msg("output backup stopped")
}
