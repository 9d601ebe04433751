package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pithecene-io/pulse/types"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "slow" }
func (timeoutErr) Timeout() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"open /data/history.json: permission denied", ErrPermissionDenied},
		{"AccessDenied: 403 Forbidden: access denied", ErrAccessDenied},
		{"open /data/history.json: no such file or directory", ErrNotFound},
		{"NoSuchBucket: the bucket does not exist", ErrNotFound},
		{"write /data/.history.json.tmp-1: no space left on device", ErrDiskFull},
		{"context deadline exceeded", ErrTimeout},
		{"SlowDown: please reduce your request rate", ErrThrottled},
		{"NoCredentialProviders: no valid providers in chain", ErrAuth},
		{"WRONGPASS invalid username-password pair", ErrAuth},
		{"dial tcp 127.0.0.1:6379: connect: connection refused", ErrNetwork},
		{"something odd", ErrUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := Classify(errors.New(tt.msg)); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassify_TimeoutInterface(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", timeoutErr{})
	if got := Classify(err); got != ErrTimeout {
		t.Errorf("Classify = %v, want ErrTimeout", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap("save_history", "x", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}

	base := errors.New("no space left on device")
	err := Wrap("save_history", "/data/history.json", base)

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %T", err)
	}
	if se.Op != "save_history" || se.Path != "/data/history.json" {
		t.Errorf("Op/Path = %s/%s", se.Op, se.Path)
	}
	if !errors.Is(err, ErrDiskFull) {
		t.Error("expected ErrDiskFull kind")
	}
	if !errors.Is(err, types.ErrPersistence) {
		t.Error("expected types.ErrPersistence match")
	}
	if !errors.Is(err, base) {
		t.Error("underlying error lost from chain")
	}

	if again := Wrap("outer", "", err); again != err {
		t.Error("Wrap should not double-wrap a StorageError")
	}
}

func TestCorrupt(t *testing.T) {
	err := Corrupt("get_history", "history.json", errors.New("unexpected EOF"))
	if !errors.Is(err, ErrCorrupt) || !errors.Is(err, types.ErrPersistence) {
		t.Errorf("Corrupt kinds not matched: %v", err)
	}
}
