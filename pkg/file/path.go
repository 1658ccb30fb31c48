package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path's last element for ext, adding one
// when there is none. A leading dot on a file name is not an extension.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir, name := filepath.Split(path)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return filepath.Join(dir, name+ext)
}
