package download

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// normalizeStreamExt replaces segment-playlist extensions with a container
// extension so captured streams are named after what ffmpeg produces.
func normalizeStreamExt(name string) string {
	ext := filepath.Ext(name)
	if strings.HasPrefix(ext, ".m3u") {
		return strings.TrimSuffix(name, ext) + ".mp4"
	}
	return name
}

// sanitizeFilename strips path separators and control characters from a
// server-supplied filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return name
}

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapse = regexp.MustCompile(`[-\s]+`)
)

// slugify lowercases a display name into something safe for a filename.
func slugify(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(name), "")
	s = slugCollapse.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-_")
	if s == "" {
		return "untitled"
	}
	return s
}

// uniqueName returns a filename that does not collide inside dir, appending
// a short random suffix before the extension when needed.
func uniqueName(dir, name string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name, nil
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 8; i++ {
		candidate := fmt.Sprintf("%s-%s%s", stem, uuid.NewString()[:4], ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not find free name for %q in %s", name, dir)
}
