package util

import (
	"fmt"
	"os"
	"path/filepath"
)

func CheckDirectory(path string) (exists bool, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}

// OpenLogFile opens path for appending. The file is created if missing but
// its directory must already exist.
func OpenLogFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	exists, isDir, err := CheckDirectory(dir)
	if err != nil {
		return nil, fmt.Errorf("check log directory: %w", err)
	}
	if !exists || !isDir {
		return nil, fmt.Errorf("log directory %s does not exist", dir)
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
