package report

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// ErrNoReport is returned when the report directory does not exist.
var ErrNoReport = errors.New("report directory not found")

// Collection is the content of a report directory.
type Collection struct {
	Files  []string
	Data   map[string]string
	Digest string
}

// Collect reads every regular file directly inside dir. Subdirectories are
// not descended into. Files are ordered by name.
func Collect(dir string) (Collection, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Collection{}, fmt.Errorf("%w: %s", ErrNoReport, dir)
		}
		return Collection{}, fmt.Errorf("stat report directory: %w", err)
	}
	if !info.IsDir() {
		return Collection{}, fmt.Errorf("%w: %s is not a directory", ErrNoReport, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Collection{}, fmt.Errorf("read report directory: %w", err)
	}

	out := Collection{Files: []string{}, Data: map[string]string{}}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return Collection{}, fmt.Errorf("read report file %s: %w", entry.Name(), err)
		}
		out.Files = append(out.Files, entry.Name())
		out.Data[entry.Name()] = string(content)
	}
	sort.Strings(out.Files)
	out.Digest = Digest(out.Files, out.Data)
	return out, nil
}

// Digest hashes file names and contents in order.
func Digest(files []string, data map[string]string) string {
	h := blake3.New()
	for _, name := range files {
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(data[name]))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ETag returns a strong entity tag for one file of a collection with the
// given digest.
func ETag(digest, name string) string {
	sum := blake3.Sum256([]byte(digest + "\x00" + name))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
