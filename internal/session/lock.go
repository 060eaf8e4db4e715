package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrBusy is returned by TryAcquire while another run holds the lock.
var ErrBusy = errors.New("a report run is already active on this session")

// LockFileName is the run-lock file kept in the data directory.
const LockFileName = "session.lock"

const defaultLockRetry = 100 * time.Millisecond

// Lock serializes runs against one session. The session has a single playhead
// and page state, so overlapping runs would corrupt each other's captures.
//
// A lock from NewLock covers one process. NewFileLock adds an OS file lock so
// `serve` and foreground commands driving the same application exclude each
// other too.
type Lock struct {
	sem   chan struct{}
	file  *flock.Flock
	retry time.Duration
}

func NewLock() *Lock {
	return &Lock{sem: make(chan struct{}, 1)}
}

// NewFileLock returns a lock also held on the file at path.
func NewFileLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Lock{
		sem:   make(chan struct{}, 1),
		file:  flock.New(path),
		retry: defaultLockRetry,
	}, nil
}

// Acquire blocks until the lock is free or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if l.file == nil {
		return nil
	}
	ok, err := l.file.TryLockContext(ctx, l.retry)
	if ok {
		return nil
	}
	<-l.sem
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("failed to lock %s: %w", l.file.Path(), err)
}

// TryAcquire takes the lock without waiting.
func (l *Lock) TryAcquire() error {
	select {
	case l.sem <- struct{}{}:
	default:
		return ErrBusy
	}
	if l.file == nil {
		return nil
	}
	ok, err := l.file.TryLock()
	if err != nil {
		<-l.sem
		return fmt.Errorf("failed to lock %s: %w", l.file.Path(), err)
	}
	if !ok {
		<-l.sem
		return ErrBusy
	}
	return nil
}

func (l *Lock) Release() {
	if len(l.sem) == 0 {
		return
	}
	if l.file != nil && l.file.Locked() {
		_ = l.file.Unlock()
	}
	select {
	case <-l.sem:
	default:
	}
}

// Held reports whether a run currently holds the lock, in this process or,
// for a file lock, in another one.
func (l *Lock) Held() bool {
	select {
	case l.sem <- struct{}{}:
	default:
		return true
	}
	defer func() { <-l.sem }()
	if l.file == nil {
		return false
	}
	ok, err := l.file.TryLock()
	if err != nil || !ok {
		return true
	}
	_ = l.file.Unlock()
	return false
}
