// FILE: lixenwraith/conftree/io.go
package conftree

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
)

// MaxValueSize bounds a single value read from the environment or command line.
const MaxValueSize = 1024 * 1024 // 1MB

// ErrValueSize is returned when an override value exceeds MaxValueSize.
var ErrValueSize = fmt.Errorf("value size exceeds maximum %d bytes", MaxValueSize)

// SecurityOptions restricts which configuration files may be read.
type SecurityOptions struct {
	// PreventPathTraversal rejects relative paths that escape the working directory.
	PreventPathTraversal bool
	// EnforceFileOwnership requires the file to be owned by the current user (Unix only).
	EnforceFileOwnership bool
	// MaxFileSize limits the file size in bytes. Zero disables the limit.
	MaxFileSize int64
}

// readConfigFile reads path subject to sec. A missing file yields ErrConfigNotFound.
func readConfigFile(path string, sec *SecurityOptions) ([]byte, error) {
	// Security: Path traversal check
	if sec != nil && sec.PreventPathTraversal {
		cleanPath := filepath.Clean(path)
		if strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) || cleanPath == ".." {
			return nil, fmt.Errorf("potential path traversal detected in config path: %s", path)
		}
		// Relative path became absolute after cleaning
		if filepath.IsAbs(cleanPath) && !filepath.IsAbs(path) {
			return nil, fmt.Errorf("potential path traversal detected in config path: %s", path)
		}
	}

	fileInfo, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to stat config file '%s': %w", path, err)
	}

	// Security: File size check
	if sec != nil && sec.MaxFileSize > 0 && fileInfo.Size() > sec.MaxFileSize {
		return nil, fmt.Errorf("config file '%s' exceeds maximum size %d bytes", path, sec.MaxFileSize)
	}

	// Security: File ownership check (Unix only)
	if sec != nil && sec.EnforceFileOwnership && runtime.GOOS != "windows" {
		if stat, ok := fileInfo.Sys().(*syscall.Stat_t); ok {
			if stat.Uid != uint32(os.Geteuid()) {
				return nil, fmt.Errorf("config file '%s' is not owned by current user (file UID: %d, process UID: %d)",
					path, stat.Uid, os.Geteuid())
			}
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}
	defer file.Close()

	var reader io.Reader = file
	if sec != nil && sec.MaxFileSize > 0 {
		reader = io.LimitReader(file, sec.MaxFileSize)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return data, nil
}

// atomicWriteFile writes data to a temporary file and renames it over path.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // Clean up on any error

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
