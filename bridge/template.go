package bridge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Template reads the first file under root/slide/dir whose path contains
// name. It returns "" when nothing matches.
func Template(root, dir, name string) (string, error) {
	base := filepath.Join(root, "slide", dir)
	var found string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.Contains(path, name) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("find template %s: %w", name, err)
	}
	if found == "" {
		return "", nil
	}
	b, err := os.ReadFile(found)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(b), nil
}
