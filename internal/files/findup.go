package files

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindUp looks for the relative path name in dir and then in each parent of dir,
// returning the first match. It returns os.ErrNotExist if the root is reached without a match.
func FindUp(name, dir string) (string, error) {
	curDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", dir, err)
	}
	for {
		candidate := filepath.Join(curDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return "", fmt.Errorf("finding %q above %q: %w", name, dir, os.ErrNotExist)
		}
		curDir = newDir
	}
}
