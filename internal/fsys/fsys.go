// Package fsys implements the canonical on-disk tile layout (§3, §4.5):
// path construction, existence checks, and path-traversal guarding. Every
// tile write goes to a temp file first and is renamed into place.
package fsys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// ErrPathEscape is returned when a resolved path would fall outside root.
var ErrPathEscape = errors.New("fsys: path escapes root")

// TileType distinguishes the two supported tile kinds.
type TileType string

const (
	Raster TileType = "raster"
	Vector TileType = "vector"
)

// TilePath builds the canonical path
// <root>/<region>/<raster|vector>/<source>/<z>/<x>/<y>.<ext>
func TilePath(root, region string, typ TileType, source string, z, x, y int, ext string) string {
	return filepath.Join(root, region, string(typ), source,
		strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)+"."+ext)
}

// FileExists reports whether path names a regular, non-empty file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Size() > 0
}

// FileSize returns the size of path, or -1 if it cannot be stat'd.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// SafeUnderRoot reports whether the absolute, cleaned form of path lies
// under the absolute, cleaned form of root, guarding against `../`
// traversal in user-controlled path segments (region names, layer names,
// filenames). Symbolic links are not resolved, so a link inside root that
// points outside it is not detected.
func SafeUnderRoot(path, root string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".." &&
		(len(rel) == 2 || rel[2] == filepath.Separator)
}

// WriteAtomic writes data to path by first writing to a sibling temp file
// and renaming it into place, so concurrent readers never observe a
// partially written tile (§4.4, §5 "Per-tile operations are atomic at the
// filesystem level").
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if len(data) == 0 {
		return fmt.Errorf("fsys: refusing to write empty body to %s", path)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsys: mkdir %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("fsys: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fsys: rename into place: %w", err)
	}
	return nil
}
