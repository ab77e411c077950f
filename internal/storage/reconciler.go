package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler re-uploads recent outputs the remote is missing: uploads that
// failed, were dropped from a full queue, or were lost to a restart.
type Reconciler struct {
	*periodic
	dir    string
	remote Remote
	window time.Duration
	log    zerolog.Logger
}

// NewReconciler checks outputs modified in the last 24h, first two minutes
// after Start and then every five.
func NewReconciler(dir string, remote Remote, log zerolog.Logger) *Reconciler {
	r := &Reconciler{dir: dir, remote: remote, window: 24 * time.Hour, log: log}
	r.periodic = newPeriodic(2*time.Minute, 5*time.Minute, func() { r.reconcile(time.Now()) })
	return r
}

// reconcile walks {dir}/{job_id}/{file} and returns how many files it
// uploaded.
func (r *Reconciler) reconcile(now time.Time) int {
	cutoff := now.Add(-r.window)
	var checked, uploaded, failed int

	jobDirs, _ := os.ReadDir(r.dir)
	for _, jd := range jobDirs {
		if !jd.IsDir() || skipFile(jd.Name()) {
			continue
		}
		files, _ := os.ReadDir(filepath.Join(r.dir, jd.Name()))
		for _, f := range files {
			if f.IsDir() || skipFile(f.Name()) {
				continue
			}
			if info, err := f.Info(); err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			checked++
			key := jd.Name() + "/" + f.Name()
			did, err := r.ensure(key, filepath.Join(r.dir, jd.Name(), f.Name()))
			switch {
			case err != nil:
				failed++
				r.log.Warn().Err(err).Str("key", key).Msg("reconcile upload failed")
			case did:
				uploaded++
			}
		}
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().Int("checked", checked).Int("uploaded", uploaded).Int("failed", failed).Msg("outputs reconciled")
	}
	return uploaded
}

// ensure uploads path unless the remote already has key.
func (r *Reconciler) ensure(key, path string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	if ok, err := r.remote.Has(ctx, key); err != nil || ok {
		return false, err
	}
	return true, r.remote.Upload(ctx, key, path)
}
