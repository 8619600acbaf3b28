package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// WriteFileAtomic writes data to target on fsys using the tmp/bak/rename
// pattern, so an interrupted run never leaves a half-written report behind.
//
// Steps:
//  1. Write data to .<name>.tmp next to target
//  2. If <target> exists, rename it to .<name>.bak
//  3. Rename .<name>.tmp to <target>
//  4. Remove .<name>.bak
//
// The temp and backup names never start with the target path, so backends
// that rename by path prefix (memfs) never move one along with the other.
//
// If a rename fails (e.g., cross-mount point), it falls back to copy+delete.
func WriteFileAtomic(fsys billy.Filesystem, target string, data []byte, perm os.FileMode) error {
	tmpPath := TempPath(target)
	bakPath := BackupPath(target)

	if dir := filepath.Dir(target); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: report directories are user-facing
			return fmt.Errorf("creating parent directory: %w", err)
		}
	}

	if err := util.WriteFile(fsys, tmpPath, data, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if _, err := fsys.Stat(target); err == nil {
		if err := renameSafe(fsys, target, bakPath); err != nil {
			_ = fsys.Remove(tmpPath)
			return fmt.Errorf("backing up existing file: %w", err)
		}
	}

	if err := renameSafe(fsys, tmpPath, target); err != nil {
		if _, bakErr := fsys.Stat(bakPath); bakErr == nil {
			_ = renameSafe(fsys, bakPath, target)
		}
		_ = fsys.Remove(tmpPath)
		return fmt.Errorf("renaming temp to target: %w", err)
	}

	_ = fsys.Remove(bakPath)

	return nil
}

// TempPath returns the hidden file WriteFileAtomic stages data in.
func TempPath(target string) string {
	return sidecar(target, ".tmp")
}

// BackupPath returns the hidden file WriteFileAtomic moves the old target to.
func BackupPath(target string) string {
	return sidecar(target, ".bak")
}

func sidecar(target, ext string) string {
	return filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+ext)
}

// renameSafe attempts Rename first, then falls back to copy+delete.
func renameSafe(fsys billy.Filesystem, oldPath, newPath string) error {
	err := fsys.Rename(oldPath, newPath)
	if err == nil {
		return nil
	}
	if copyErr := copyFile(fsys, oldPath, newPath); copyErr != nil {
		return fmt.Errorf("copy fallback: %w (rename error: %w)", copyErr, err)
	}
	_ = fsys.Remove(oldPath)
	return nil
}

// copyFile copies src to dst and flushes dst to disk when the filesystem
// supports it.
func copyFile(fsys billy.Filesystem, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := fsys.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	if s, ok := out.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return err
		}
	}

	return out.Close()
}
