package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/config"
)

// memRemote is an in-memory bucket.
type memRemote struct {
	mu        sync.Mutex
	objects   map[string]string
	uploadErr error
	hasErr    error
	uploads   int
}

func newMemRemote() *memRemote { return &memRemote{objects: map[string]string{}} }

func (m *memRemote) Upload(_ context.Context, key, localPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.objects[key] = string(data)
	return nil
}

func (m *memRemote) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasErr != nil {
		return false, m.hasErr
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memRemote) PresignURL(_ context.Context, key string) (string, error) {
	return "https://bucket.test/" + key + "?sig=1", nil
}

func (m *memRemote) has(key string) bool {
	ok, _ := m.Has(context.Background(), key)
	return ok
}

func writeFile(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if !mod.IsZero() {
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
}

// ── Backup ───────────────────────────────────────────────────────────

func TestBackupSync(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "job-1", "talk.dubbed.mp4")
	writeFile(t, out, "video", time.Time{})

	remote := newMemRemote()
	b := NewBackup(remote, remote, 0, zerolog.Nop())
	b.Start()
	defer b.Stop()

	if err := b.Archive(context.Background(), "job-1/talk.dubbed.mp4", out); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if remote.objects["job-1/talk.dubbed.mp4"] != "video" {
		t.Errorf("objects = %v", remote.objects)
	}

	remote.uploadErr = errors.New("503 slow down")
	if err := b.Archive(context.Background(), "job-1/other.wav", out); err != nil {
		t.Errorf("failed upload surfaced as %v", err)
	}
	if b.failed.Load() != 1 {
		t.Errorf("failed = %d, want 1", b.failed.Load())
	}
}

func TestBackupRejectsEscapingKeys(t *testing.T) {
	b := NewBackup(newMemRemote(), nil, 0, zerolog.Nop())
	for _, key := range []string{"../evil.wav", "a/../../b", "", "a//b"} {
		t.Run(key, func(t *testing.T) {
			if err := b.Archive(context.Background(), key, "/dev/null"); err == nil {
				t.Errorf("Archive(%q) succeeded", key)
			}
			if _, err := b.URL(context.Background(), key); err == nil {
				t.Errorf("URL(%q) succeeded", key)
			}
		})
	}
}

func TestBackupAsync(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "j", "x.wav")
	writeFile(t, out, "RIFF", time.Time{})

	remote := newMemRemote()
	b := NewBackup(remote, remote, 1, zerolog.Nop())
	b.Start()
	if err := b.Archive(context.Background(), "j/x.wav", out); err != nil {
		t.Fatal(err)
	}
	b.Stop()
	b.Stop()

	if !remote.has("j/x.wav") {
		t.Error("queued upload not drained on Stop")
	}
	if err := b.Archive(context.Background(), "j/y.wav", out); err != nil {
		t.Errorf("Archive after Stop: %v", err)
	}
	if b.dropped.Load() != 1 {
		t.Errorf("dropped = %d, want 1", b.dropped.Load())
	}
}

func TestBackupQueueFull(t *testing.T) {
	b := NewBackup(newMemRemote(), nil, 1, zerolog.Nop()) // workers never started
	for i := 0; i < uploadQueueSize+3; i++ {
		if err := b.Archive(context.Background(), "j/x.wav", "/nonexistent"); err != nil {
			t.Fatal(err)
		}
	}
	if got := b.dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestBackupURL(t *testing.T) {
	remote := newMemRemote()
	b := NewBackup(remote, remote, 0, zerolog.Nop())
	u, err := b.URL(context.Background(), "/job-1/a.mp4")
	if err != nil || u != "https://bucket.test/job-1/a.mp4?sig=1" {
		t.Errorf("URL = %q, %v", u, err)
	}
	if _, err := NewBackup(remote, nil, 0, zerolog.Nop()).URL(context.Background(), "job-1/a.mp4"); err == nil {
		t.Error("expected error without signer")
	}
}

// ── Reconciler ───────────────────────────────────────────────────────

func TestReconciler(t *testing.T) {
	dir := t.TempDir()
	remote := newMemRemote()
	remote.objects["done/out.wav"] = "x"

	writeFile(t, filepath.Join(dir, "done", "out.wav"), "x", time.Time{})
	writeFile(t, filepath.Join(dir, "missing", "out.mp4"), "video", time.Time{})
	writeFile(t, filepath.Join(dir, "missing", "out.mp4.part"), "partial", time.Time{})
	writeFile(t, filepath.Join(dir, "missing", ".hidden"), "x", time.Time{})
	writeFile(t, filepath.Join(dir, "old", "out.wav"), "old", time.Now().Add(-48*time.Hour))
	writeFile(t, filepath.Join(dir, "stray.txt"), "not a job dir", time.Time{})

	r := NewReconciler(dir, remote, zerolog.Nop())
	if n := r.reconcile(time.Now()); n != 1 {
		t.Errorf("uploaded = %d, want 1", n)
	}
	if remote.objects["missing/out.mp4"] != "video" {
		t.Error("missing output not uploaded")
	}
	for _, key := range []string{"old/out.wav", "missing/out.mp4.part", "missing/.hidden", "stray.txt"} {
		if remote.has(key) {
			t.Errorf("reconciler uploaded %s", key)
		}
	}

	// A remote outage uploads nothing rather than re-sending everything.
	remote.hasErr = errors.New("timeout")
	before := remote.uploads
	if n := r.reconcile(time.Now()); n != 0 || remote.uploads != before {
		t.Errorf("uploaded %d during outage", n)
	}
	r.Stop()
	r.Stop()
}

// ── Pruner ───────────────────────────────────────────────────────────

func TestPrunerRetention(t *testing.T) {
	dir := t.TempDir()
	remote := newMemRemote()
	old := time.Now().Add(-72 * time.Hour)

	writeFile(t, filepath.Join(dir, "a", "out.wav"), "backed up", old)
	writeFile(t, filepath.Join(dir, "b", "out.wav"), "local only", old)
	writeFile(t, filepath.Join(dir, "c", "out.wav"), "fresh", time.Time{})
	remote.objects["a/out.wav"] = "backed up"

	p := NewPruner(dir, 24*time.Hour, 0, remote, zerolog.Nop())
	res := p.sweep(time.Now())
	if res.removed != 1 || res.unbacked != 1 {
		t.Errorf("sweep = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "a")); !os.IsNotExist(err) {
		t.Error("emptied job dir not removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "b", "out.wav")); err != nil {
		t.Error("output missing from remote was pruned")
	}
	if _, err := os.Stat(filepath.Join(dir, "c", "out.wav")); err != nil {
		t.Error("fresh output was pruned")
	}
	p.Stop()
}

func TestPrunerSizeCap(t *testing.T) {
	dir := t.TempDir()
	remote := newMemRemote()
	now := time.Now()
	for i, name := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(dir, name, "out.wav"), "0123456789", now.Add(time.Duration(i-3)*time.Hour))
		remote.objects[name+"/out.wav"] = "x"
	}

	res := NewPruner(dir, 0, 15, remote, zerolog.Nop()).sweep(now)
	if res.removed != 2 || res.remaining != 10 {
		t.Errorf("sweep = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "c", "out.wav")); err != nil {
		t.Error("newest output was evicted")
	}
}

func TestPrunerRemoteError(t *testing.T) {
	dir := t.TempDir()
	remote := newMemRemote()
	remote.hasErr = errors.New("403")
	writeFile(t, filepath.Join(dir, "a", "out.wav"), "x", time.Now().Add(-72*time.Hour))

	res := NewPruner(dir, time.Hour, 0, remote, zerolog.Nop()).sweep(time.Now())
	if res.removed != 0 || res.unbacked != 1 {
		t.Errorf("sweep = %+v", res)
	}
}

func TestPrunerDisabled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "out.wav"), "x", time.Now().Add(-1000*time.Hour))
	if res := NewPruner(dir, 0, 0, nil, zerolog.Nop()).sweep(time.Now()); res.removed != 0 {
		t.Errorf("pruned %d with no limits", res.removed)
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func TestPeriodic(t *testing.T) {
	ran := make(chan struct{}, 8)
	p := newPeriodic(time.Millisecond, time.Millisecond, func() { ran <- struct{}{} })
	p.Start()
	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("periodic did not run")
		}
	}
	p.Stop()
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("periodic did not stop")
	}
}

func TestNewDisabled(t *testing.T) {
	backup, services, err := New(context.Background(), config.S3Config{}, t.TempDir(), zerolog.Nop())
	if err != nil || backup != nil || services != nil {
		t.Errorf("New without bucket = %v, %v, %v", backup, services, err)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.mp4":      "video/mp4",
		"b.WAV":      "audio/wav",
		"c.mkv":      "video/x-matroska",
		"d.bin":      "application/octet-stream",
		"noext":      "application/octet-stream",
		"j/x.mp3":    "audio/mpeg",
		"j/clip.mov": "video/quicktime",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
