package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	defaultDirPermission = 0o750
)

var (
	// ErrNotRegularFile indicates a pass-through entry that cannot be copied byte for byte.
	ErrNotRegularFile = errors.New("not a regular file")
	// ErrOutputCollision indicates that two sources map to the same output name.
	ErrOutputCollision = errors.New("output name already produced by another file")
)

// directoryListing splits the entries of one directory, each list in lexical order.
type directoryListing struct {
	files []string
	dirs  []string
}

// listDirectory reads path. Unreadable directories yield an empty listing and
// the read error; both counting and conversion skip them the same way.
// Symbolic links to directories are neither listed nor followed.
func listDirectory(path string) (directoryListing, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return directoryListing{}, fmt.Errorf("read directory %s: %w", path, err)
	}

	var listing directoryListing

	for _, entry := range entries {
		switch {
		case entry.IsDir():
			listing.dirs = append(listing.dirs, entry.Name())
		case isDirectoryLink(path, entry):
			continue
		default:
			listing.files = append(listing.files, entry.Name())
		}
	}

	sort.Strings(listing.files)
	sort.Strings(listing.dirs)

	return listing, nil
}

// isDirectoryLink reports whether entry is a symbolic link resolving to a directory.
// Dangling links stay files and fail when copied.
func isDirectoryLink(dir string, entry fs.DirEntry) bool {
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}

	info, err := os.Stat(filepath.Join(dir, entry.Name()))

	return err == nil && info.IsDir()
}

// CountFiles returns the number of non-directory entries under root, recursively.
// Unreadable subdirectories contribute nothing; zero is a valid answer.
func CountFiles(root string) int {
	return countFiles(root, "")
}

// countFiles counts like CountFiles, never descending into skip.
func countFiles(root, skip string) int {
	listing, err := listDirectory(root)
	if err != nil {
		return 0
	}

	count := len(listing.files)

	for _, dir := range listing.dirs {
		child := filepath.Join(root, dir)
		if skip != "" && samePath(child, skip) {
			continue
		}

		count += countFiles(child, skip)
	}

	return count
}

// collectFiles returns the paths of all files under root relative to base, in traversal order.
func collectFiles(base, root string) []string {
	listing, err := listDirectory(root)
	if err != nil {
		return nil
	}

	var paths []string

	for _, name := range listing.files {
		relPath, relErr := filepath.Rel(base, filepath.Join(root, name))
		if relErr != nil {
			relPath = name
		}

		paths = append(paths, relPath)
	}

	for _, dir := range listing.dirs {
		paths = append(paths, collectFiles(base, filepath.Join(root, dir))...)
	}

	return paths
}

// copyFile duplicates srcPath at dstPath byte for byte, keeping the permission
// bits and the modification time. A partially written destination is removed.
func copyFile(srcPath, dstPath string) (err error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", filepath.Base(srcPath), ErrNotRegularFile)
	}

	sourceFile, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	defer func() {
		closeErr := sourceFile.Close()
		if closeErr != nil && err == nil {
			err = fmt.Errorf("close source: %w", closeErr)
		}
	}()

	destinationFile, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	_, copyErr := io.Copy(destinationFile, sourceFile)
	closeErr := destinationFile.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dstPath)

		return fmt.Errorf("write destination: %w", errors.Join(copyErr, closeErr))
	}

	err = os.Chmod(dstPath, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("set destination permissions: %w", err)
	}

	err = os.Chtimes(dstPath, time.Time{}, info.ModTime())
	if err != nil {
		return fmt.Errorf("set destination modification time: %w", err)
	}

	return nil
}
