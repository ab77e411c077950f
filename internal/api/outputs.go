package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ArtifactLocator links to backed-up outputs that are no longer on local
// disk.
type ArtifactLocator interface {
	URL(ctx context.Context, key string) (string, error)
}

// OutputsHandler serves {dir}/{job_id}/{file} under /outputs/. When a file
// has been evicted locally and remote is set, it redirects to a presigned
// copy instead of answering 404.
func OutputsHandler(dir string, remote ArtifactLocator, log zerolog.Logger) http.Handler {
	files := http.StripPrefix("/outputs/", http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(path.Clean(r.URL.Path), "/outputs/")
		if remote == nil || key == "" || strings.HasSuffix(r.URL.Path, "/") {
			files.ServeHTTP(w, r)
			return
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(key))); !errors.Is(err, fs.ErrNotExist) {
			files.ServeHTTP(w, r)
			return
		}
		u, err := remote.URL(r.Context(), key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("no remote copy of output")
			files.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
	})
}
