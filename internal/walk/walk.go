// Package walk enumerates the files a scan should classify.
package walk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// ErrEnumeration is returned when the scan root itself cannot be walked.
var ErrEnumeration = errors.New("cannot scan root")

// Mode selects which files are candidates and which check runs on them.
type Mode int

const (
	// ModeJSON scans only files named *.json (case-insensitive).
	ModeJSON Mode = iota
	// ModeAll scans every regular file regardless of name.
	ModeAll
)

// String returns the mode name used in logs and reports.
func (m Mode) String() string {
	switch m {
	case ModeJSON:
		return "json"
	case ModeAll:
		return "all"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Match reports whether a file with the given base name is a candidate.
func (m Mode) Match(name string) bool {
	if m == ModeAll {
		return true
	}
	return strings.HasSuffix(strings.ToLower(name), ".json")
}

// Enumerate walks root on fsys and returns the sorted paths of all candidate
// files for mode. Unreadable subdirectories and entries are logged and
// skipped. Only a root that is missing, unreadable, or not a directory fails
// the call, with an error wrapping ErrEnumeration.
//
// Symlinks to regular files are included; symlinked directories are not
// followed. Devices, sockets and pipes are never returned.
func Enumerate(ctx context.Context, fsys billy.Filesystem, root string, mode Mode, logger *slog.Logger) ([]string, error) {
	info, err := fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrEnumeration, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w %q: not a directory", ErrEnumeration, root)
	}

	w := &walker{ctx: ctx, fsys: fsys, mode: mode, logger: logger}
	if err := w.dir(root, true); err != nil {
		return nil, err
	}

	files := w.files
	slices.Sort(files)
	logger.Debug("enumerated scan candidates",
		"root", root, "mode", mode.String(), "files", len(files))
	return files, nil
}

type walker struct {
	ctx    context.Context
	fsys   billy.Filesystem
	mode   Mode
	logger *slog.Logger
	files  []string
}

// dir visits one directory. Entry infos come from ReadDir and describe links
// rather than their targets, so symlinked directories are never descended.
func (w *walker) dir(path string, isRoot bool) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}

	entries, err := w.fsys.ReadDir(path)
	if err != nil {
		if isRoot {
			return fmt.Errorf("%w %q: %w", ErrEnumeration, path, err)
		}
		w.logger.Warn("skipping unreadable directory", "path", path, "error", err)
		return nil
	}

	for _, info := range entries {
		child := w.fsys.Join(path, info.Name())
		if info.IsDir() {
			if err := w.dir(child, false); err != nil {
				return err
			}
			continue
		}
		w.file(child, info)
	}
	return nil
}

func (w *walker) file(path string, info os.FileInfo) {
	if !w.mode.Match(info.Name()) {
		return
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := w.fsys.Stat(path)
		if err != nil {
			w.logger.Debug("skipping dangling symlink", "path", path, "error", err)
			return
		}
		info = target
	}
	if !info.Mode().IsRegular() {
		w.logger.Debug("skipping non-regular file", "path", path, "mode", info.Mode().String())
		return
	}

	w.files = append(w.files, path)
}

// Clean normalizes a root path given on the command line: surrounding quote
// characters are stripped, an empty path means the working directory, and
// the result is absolute.
func Clean(root string) (string, error) {
	root = strings.Trim(root, `"'`)
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving working directory: %w", err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", root, err)
	}
	return abs, nil
}
