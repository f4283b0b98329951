package dependency

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathManager provides utilities for constructing and validating file paths
// within the work directory.
//
// Every pipeline run owns one flat directory: <workdir>/run-<id>/
//   - Normalized source: source.wav
//   - Audio chunks: chunk_0000.wav, chunk_0001.wav, ...
type PathManager struct {
	baseDir string
}

// NewPathManager creates a new PathManager instance. A relative baseDir is
// resolved against the current directory so generated paths never contain "..".
func NewPathManager(baseDir string) *PathManager {
	if baseDir != "" {
		if abs, err := filepath.Abs(baseDir); err == nil {
			baseDir = abs
		}
	}
	return &PathManager{baseDir: baseDir}
}

// BaseDir returns the configured work directory.
func (pm *PathManager) BaseDir() string {
	return pm.baseDir
}

// GetRunDir returns the directory for a run.
// Example: GetRunDir("3f2a") -> "/tmp/chunkscribe/run-3f2a"
func (pm *PathManager) GetRunDir(runID string) string {
	return filepath.Join(pm.baseDir, "run-"+runID)
}

// GetChunkBasename generates the base name for chunk-related files.
// Example: GetChunkBasename(15) -> "chunk_0015"
func (pm *PathManager) GetChunkBasename(chunkIndex int) string {
	return fmt.Sprintf("chunk_%04d", chunkIndex)
}

// GetChunkAudioPath returns the full path for a chunk's audio file.
func (pm *PathManager) GetChunkAudioPath(runID string, chunkIndex int, ext string) string {
	return filepath.Join(pm.GetRunDir(runID), fmt.Sprintf("%s.%s", pm.GetChunkBasename(chunkIndex), ext))
}

// GetSourcePath returns the path of the whole-file normalized copy (single-shot mode).
func (pm *PathManager) GetSourcePath(runID string) string {
	return filepath.Join(pm.GetRunDir(runID), "source.wav")
}

// ValidatePath checks if a path is within the work dir and doesn't contain dangerous patterns.
func (pm *PathManager) ValidatePath(path string) error {
	if hasTraversal(path) {
		return fmt.Errorf("path contains dangerous characters '..'")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBaseDir, err := filepath.Abs(pm.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	if absPath != absBaseDir && !strings.HasPrefix(absPath, absBaseDir+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside work dir (%s)", path, pm.baseDir)
	}

	for _, prefix := range dangerousPrefixes {
		if absPath == prefix || strings.HasPrefix(absPath, prefix+"/") {
			return fmt.Errorf("access to system directory %s is forbidden", prefix)
		}
	}

	info, err := os.Lstat(path)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("symbolic links are not allowed")
	}

	return nil
}

// EnsureRunDir creates the run directory if it doesn't exist.
func (pm *PathManager) EnsureRunDir(runID string) (string, error) {
	dir := pm.GetRunDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return dir, nil
}

// RemoveRunDir deletes a run directory and everything in it.
func (pm *PathManager) RemoveRunDir(runID string) error {
	dir := pm.GetRunDir(runID)
	if err := pm.ValidatePath(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}
	return nil
}
