package audio

import (
	"os"
	"path/filepath"
)

// ResolveFile finds a media file on disk for an intake request.
// Priority: 1) absolute path as given  2) name under each base dir in order
// 3) basename under each base dir (producers on other hosts send their own
// absolute paths).
func ResolveFile(name string, baseDirs ...string) string {
	if name == "" {
		return ""
	}

	if filepath.IsAbs(name) {
		if fileExists(name) {
			return name
		}
	} else {
		for _, dir := range baseDirs {
			if dir == "" {
				continue
			}
			full := filepath.Join(dir, name)
			if fileExists(full) {
				return full
			}
		}
	}

	base := filepath.Base(name)
	for _, dir := range baseDirs {
		if dir == "" {
			continue
		}
		full := filepath.Join(dir, base)
		if fileExists(full) {
			return full
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
