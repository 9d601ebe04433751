package iox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// renameFile is swapped in tests to simulate platform rename failures.
var renameFile = os.Rename

// WriteFileAtomic replaces path with data via a temp file and rename, so
// readers see either the old or the new content, never a torn write.
//
// If the rename step fails with a platform error (cross-device link,
// permission or busy target, as seen on some container and network
// filesystems), the content is written directly to path instead and the
// temp file is removed on a best-effort basis. Any other error is returned.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		DiscardClose(tmp)
		removeQuietly(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		DiscardClose(tmp)
		removeQuietly(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		removeQuietly(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		removeQuietly(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	err = renameFile(tmpName, path)
	if err == nil {
		return nil
	}
	if !isPlatformError(err) {
		removeQuietly(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Direct write: not atomic, but leaves a readable document.
	if werr := os.WriteFile(path, data, perm); werr != nil {
		removeQuietly(tmpName)
		return fmt.Errorf("direct write after rename failure (%v): %w", err, werr)
	}
	removeQuietly(tmpName)
	return nil
}

// isPlatformError reports whether err comes from the filesystem refusing the
// rename itself rather than from the data or caller.
func isPlatformError(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return true
	}
	return errors.Is(err, syscall.EXDEV) ||
		errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EBUSY)
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
