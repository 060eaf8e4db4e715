package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// SanitizeName keeps letters, digits and a few punctuation marks, replaces
// other runes with '_' and drops control characters.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ArtifactName builds "<prefix>_<unix millis>.<ext>".
func ArtifactName(prefix, ext string, t time.Time) string {
	return fmt.Sprintf("%s_%d.%s", SanitizeName(prefix, 64), t.UnixMilli(), strings.TrimPrefix(ext, "."))
}

// StillName names a batch thumbnail: "<seq>_<timeline>_<label>_<timecode>.jpg".
func StillName(seq int, timeline, label, tc string) string {
	parts := []string{fmt.Sprintf("%04d", seq), SanitizeName(timeline, 40)}
	if l := SanitizeName(label, 60); l != "" {
		parts = append(parts, l)
	}
	parts = append(parts, strings.NewReplacer(":", "-", ";", "-").Replace(tc))
	return strings.ReplaceAll(strings.Join(parts, "_"), " ", "_") + ".jpg"
}

// ValidateOutputDir requires an existing, clean directory path.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output directory is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("output directory cannot contain path traversal")
		}
	}

	if filepath.Clean(dir) != dir {
		return fmt.Errorf("output directory must be a clean path")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output directory %s does not exist", dir)
		}
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output directory %s is not a directory", dir)
	}
	return nil
}
