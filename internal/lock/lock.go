package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/Ning0612/treesync/internal/core/checksum"
	"github.com/Ning0612/treesync/internal/domain"
)

const (
	// lockExt and infoExt are the suffixes of the lock and holder files
	lockExt = ".lock"
	infoExt = ".json"

	// nameLen is the number of hex digits of the target hash used in file names
	nameLen = 16
)

// LockInfo contains metadata about the lock holder
type LockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	StartTime  time.Time `json:"start_time"`
	TargetRoot string    `json:"target_root"`
	RunID      string    `json:"run_id,omitempty"`
}

// FileLock serializes runs against one target root.
//
// The lock is an OS advisory lock on a file kept outside the target tree, so
// it is released by the kernel if the holder dies. Holder metadata lives in a
// separate file that other processes can read while the lock is held.
type FileLock struct {
	lockPath string
	infoPath string
	target   string
	flock    *flock.Flock
	info     *LockInfo
}

// NewFileLock creates the lock for targetRoot inside lockDir.
// An empty lockDir selects the user cache directory.
func NewFileLock(lockDir, targetRoot string) (*FileLock, error) {
	if lockDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		lockDir = dir
	}

	// Ensure lock directory exists
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	target, err := filepath.Abs(targetRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target root: %w", err)
	}

	base := filepath.Join(lockDir, Name(target))
	return &FileLock{
		lockPath: base + lockExt,
		infoPath: base + infoExt,
		target:   target,
		flock:    flock.New(base + lockExt),
	}, nil
}

// DefaultDir returns the default lock directory
func DefaultDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache dir: %w", err)
	}
	return filepath.Join(cacheDir, "treesync", "locks"), nil
}

// Name derives the lock file base name from an absolute target path
func Name(target string) string {
	h, _ := checksum.New(checksum.SHA256)
	io.WriteString(h, filepath.Clean(target))
	return "target-" + checksum.Encode(h)[:nameLen]
}

// Path returns the lock file path
func (l *FileLock) Path() string {
	return l.lockPath
}

// Acquire takes the lock without blocking.
// Returns a *LockError if another run holds it. Acquiring a lock this
// instance already holds only updates the recorded run ID.
func (l *FileLock) Acquire(runID string) error {
	if l.flock.Locked() {
		l.info.RunID = runID
		return l.writeLockInfo(l.info)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.lockPath, err)
	}
	if !locked {
		holder, _ := l.GetHolder()
		return &LockError{
			Holder: holder,
			Reason: "target is being synchronized by another run",
		}
	}

	hostname, _ := os.Hostname()
	info := &LockInfo{
		PID:        os.Getpid(),
		Hostname:   hostname,
		StartTime:  time.Now(),
		TargetRoot: l.target,
		RunID:      runID,
	}
	if err := l.writeLockInfo(info); err != nil {
		l.flock.Unlock()
		return err
	}

	l.info = info
	return nil
}

// Release releases the lock. Releasing a lock that is not held is a no-op.
func (l *FileLock) Release() error {
	if !l.flock.Locked() {
		return nil
	}

	// Holder info goes first so nobody reads a stale holder after unlock
	if err := os.Remove(l.infoPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock info: %w", err)
	}
	l.info = nil

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	return nil
}

// IsLocked reports whether any run currently holds the lock
func (l *FileLock) IsLocked() bool {
	if l.flock.Locked() {
		return true
	}

	probe := flock.New(l.lockPath)
	ok, err := probe.TryLock()
	if err != nil {
		return false
	}
	if ok {
		probe.Unlock()
		return false
	}
	return true
}

// GetHolder returns information about the current lock holder
func (l *FileLock) GetHolder() (*LockInfo, error) {
	return l.readLockInfo()
}

func (l *FileLock) readLockInfo() (*LockInfo, error) {
	data, err := os.ReadFile(l.infoPath)
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock info: %w", err)
	}

	return &info, nil
}

// writeLockInfo replaces the holder file atomically
func (l *FileLock) writeLockInfo(info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}

	tmp := l.infoPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write lock info: %w", err)
	}
	if err := os.Rename(tmp, l.infoPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write lock info: %w", err)
	}
	return nil
}

// LockError represents a lock acquisition failure
type LockError struct {
	Holder *LockInfo
	Reason string
}

func (e *LockError) Error() string {
	var b strings.Builder
	b.WriteString("lock acquisition failed: ")
	b.WriteString(e.Reason)
	if e.Holder != nil {
		fmt.Fprintf(&b, " (held by PID %d on %s since %s)",
			e.Holder.PID, e.Holder.Hostname, e.Holder.StartTime.Format(time.RFC3339))
	}
	return b.String()
}

// Unwrap lets errors.Is match domain.ErrLocked
func (e *LockError) Unwrap() error {
	return domain.ErrLocked
}

// IsLockError checks if an error is a LockError
func IsLockError(err error) bool {
	var lockErr *LockError
	return errors.As(err, &lockErr)
}
