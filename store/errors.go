package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/pulse/types"
)

// Sentinel kinds for storage failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrPermissionDenied indicates a permission/access failure (EACCES).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the target path or bucket does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDiskFull indicates storage is out of space (ENOSPC).
	ErrDiskFull = errors.New("no space left on device")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrThrottled indicates backend rate limiting (429, SlowDown).
	ErrThrottled = errors.New("backend throttled")

	// ErrAuth indicates authentication failure.
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied indicates valid credentials without permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrNetwork indicates a network-level failure.
	ErrNetwork = errors.New("network error")

	// ErrCorrupt indicates a stored document that cannot be decoded.
	ErrCorrupt = errors.New("corrupt document")

	// ErrUnclassified is the kind for anything not matched above.
	ErrUnclassified = errors.New("storage error")
)

// StorageError wraps an adapter failure with its classification.
// It matches both its Kind and types.ErrPersistence.
type StorageError struct {
	// Kind is the sentinel for classification.
	Kind error
	// Op is the operation that failed ("get_history", "save_history", ...).
	Op string
	// Path is the key, file, or table involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's kind or types.ErrPersistence.
func (e *StorageError) Is(target error) bool {
	return target == types.ErrPersistence || errors.Is(e.Kind, target)
}

// Wrap classifies err and wraps it as a StorageError.
// Returns nil if err is nil.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: Classify(err), Op: op, Path: path, Err: err}
}

// Corrupt wraps a decode failure.
func Corrupt(op, path string, err error) error {
	return &StorageError{Kind: ErrCorrupt, Op: op, Path: path, Err: err}
}

// Classify maps err to a sentinel kind by type and message.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission denied", "eacces", "access denied", "operation not permitted"):
		if containsAny(msg, "accessdenied", "forbidden", "403") {
			return ErrAccessDenied
		}
		return ErrPermissionDenied
	case containsAny(msg, "no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"):
		return ErrNotFound
	case containsAny(msg, "no space left", "disk full", "enospc", "quota exceeded"):
		return ErrDiskFull
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout
	case containsAny(msg, "slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"):
		return ErrThrottled
	case containsAny(msg, "nocredentialproviders", "credentials", "invalidaccesskeyid",
		"signaturedoesnotmatch", "expiredtoken", "401", "unauthorized", "noauth", "wrongpass"):
		return ErrAuth
	case containsAny(msg, "accessdenied", "forbidden", "403"):
		return ErrAccessDenied
	case containsAny(msg, "connection refused", "no route to host", "network unreachable",
		"dns", "dial tcp", "i/o timeout", "connection reset"):
		return ErrNetwork
	default:
		return ErrUnclassified
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
