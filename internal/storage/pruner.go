package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Pruner evicts outputs from local disk once they are older than the
// retention or the directory exceeds its size cap, oldest first. A file is
// only evicted after the remote confirms it holds a copy.
type Pruner struct {
	*periodic
	dir       string
	retention time.Duration
	maxBytes  int64
	remote    Remote
	log       zerolog.Logger
}

// pruneResult summarises one sweep.
type pruneResult struct {
	removed   int
	freed     int64
	remaining int64
	unbacked  int
}

// NewPruner sweeps dir hourly, starting at Start. Zero retention or zero
// maxBytes disables that limit.
func NewPruner(dir string, retention time.Duration, maxBytes int64, remote Remote, log zerolog.Logger) *Pruner {
	p := &Pruner{dir: dir, retention: retention, maxBytes: maxBytes, remote: remote, log: log}
	p.periodic = newPeriodic(0, time.Hour, func() { p.sweep(time.Now()) })
	return p
}

type localFile struct {
	path string
	key  string
	mod  time.Time
	size int64
}

func (p *Pruner) sweep(now time.Time) pruneResult {
	var res pruneResult
	if p.retention <= 0 && p.maxBytes <= 0 {
		return res
	}

	files, total := p.scan()
	slices.SortFunc(files, func(a, b localFile) int { return a.mod.Compare(b.mod) })
	cutoff := now.Add(-p.retention)

	for _, f := range files {
		expired := p.retention > 0 && f.mod.Before(cutoff)
		over := p.maxBytes > 0 && total > p.maxBytes
		if !expired && !over {
			// Oldest first and total only shrinks: nothing later qualifies.
			break
		}
		if !p.backedUp(f.key) {
			res.unbacked++
			continue
		}
		if err := os.Remove(f.path); err != nil {
			p.log.Warn().Err(err).Str("key", f.key).Msg("evict output failed")
			continue
		}
		res.removed++
		res.freed += f.size
		total -= f.size
	}
	res.remaining = total
	p.removeEmptyJobDirs()

	if res.removed > 0 || res.unbacked > 0 {
		p.log.Info().
			Int("removed", res.removed).
			Str("freed", humanize.IBytes(uint64(res.freed))).
			Str("remaining", humanize.IBytes(uint64(res.remaining))).
			Int("not_backed_up", res.unbacked).
			Msg("outputs pruned")
	}
	return res
}

func (p *Pruner) scan() ([]localFile, int64) {
	var files []localFile
	var total int64
	_ = filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || skipFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(p.dir, path)
		if err != nil {
			return nil
		}
		files = append(files, localFile{path: path, key: filepath.ToSlash(rel), mod: info.ModTime(), size: info.Size()})
		total += info.Size()
		return nil
	})
	return files, total
}

func (p *Pruner) backedUp(key string) bool {
	if p.remote == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := p.remote.Has(ctx, key)
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("cannot confirm backup, keeping output")
	}
	return ok
}

func (p *Pruner) removeEmptyJobDirs() {
	entries, _ := os.ReadDir(p.dir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(p.dir, e.Name())
		if rest, err := os.ReadDir(dir); err == nil && len(rest) == 0 {
			os.Remove(dir)
		}
	}
}
