// Package lock serializes sync sessions across processes with a pid file.
//
// A lock file holds the owner's pid. It is stale when its mtime is older than
// the configured maximum age AND the recorded owner is no longer running;
// only stale locks are reclaimed. The check-and-reclaim sequence is guarded
// by an advisory flock on <path>.guard so two processes cannot both decide a
// lock is stale and both take it. The guard file is never removed: a process
// blocked on the old inode would otherwise guard a different file than a
// process that recreated it.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	errs "branchsync/internal/errors"
	"branchsync/internal/logger"
)

// DefaultMaxAge is the staleness window used when none is configured.
const DefaultMaxAge = 30 * time.Minute

const guardRetryDelay = 25 * time.Millisecond

// Manager acquires and inspects lock files.
type Manager struct {
	log          *logger.Logger
	pid          int
	now          func() time.Time
	alive        func(pid int) bool
	guardTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLiveness replaces the process liveness probe.
func WithLiveness(alive func(pid int) bool) Option {
	return func(m *Manager) { m.alive = alive }
}

// WithPID sets the pid written into acquired locks.
func WithPID(pid int) Option {
	return func(m *Manager) { m.pid = pid }
}

// NewManager returns a Manager logging to log (which may be nil).
func NewManager(log *logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.Discard(nil)
	}
	m := &Manager{
		log:          log,
		pid:          os.Getpid(),
		now:          time.Now,
		alive:        isProcessRunning,
		guardTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle is a held lock. Release it exactly once, typically with defer.
type Handle struct {
	Path       string
	PID        int
	AcquiredAt time.Time

	log  *logger.Logger
	now  func() time.Time
	once sync.Once
	err  error
}

// Info describes the current state of a lock file.
type Info struct {
	Path   string
	Exists bool
	PID    int
	Age    time.Duration
	Alive  bool
	Stale  bool
}

// Acquire takes the lock at path. When another live or recent owner holds it
// the returned error wraps errors.ErrLockHeld with kind Skippable.
func (m *Manager) Acquire(ctx context.Context, path string, maxAge time.Duration) (*Handle, error) {
	const op errs.Op = "lock.Acquire"

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errs.E(op, errs.KindFatal, fmt.Errorf("failed to create lock directory: %w", err))
	}

	release, err := m.lockGuard(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; attempt < 2; attempt++ {
		handle, err := m.tryCreate(path)
		if err == nil {
			m.log.Info("lock acquired", "path", path, "pid", handle.PID)
			return handle, nil
		}
		if !os.IsExist(err) {
			return nil, errs.E(op, errs.KindFatal, fmt.Errorf("failed to create lock file %s: %w", path, err))
		}

		info, err := m.inspect(path, maxAge)
		if err != nil {
			if os.IsNotExist(err) {
				// Released between create and inspect.
				continue
			}
			return nil, errs.E(op, errs.KindFatal, err)
		}
		if !info.Stale {
			return nil, errs.E(op, errs.KindSkippable, heldError(info))
		}
		if attempt > 0 {
			break
		}

		m.log.Warn("reclaiming stale lock", "path", path, "pid", info.PID, "age", info.Age.Round(time.Second).String())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errs.E(op, errs.KindFatal, fmt.Errorf("failed to remove stale lock %s: %w", path, err))
		}
	}
	return nil, errs.E(op, errs.KindSkippable, fmt.Errorf("%w: lock at %s was taken again after reclaiming it", errs.ErrLockHeld, path))
}

func heldError(info Info) error {
	if info.PID > 0 {
		return fmt.Errorf("%w (pid %d, lock age %s)", errs.ErrLockHeld, info.PID, info.Age.Round(time.Second))
	}
	return fmt.Errorf("%w (lock age %s)", errs.ErrLockHeld, info.Age.Round(time.Second))
}

// lockGuard takes the advisory guard lock. When flock is unavailable it logs
// a degraded-mode warning and proceeds without it.
func (m *Manager) lockGuard(ctx context.Context, path string) (func(), error) {
	guard := flock.New(path + ".guard")

	gctx, cancel := context.WithTimeout(ctx, m.guardTimeout)
	defer cancel()

	locked, err := guard.TryLockContext(gctx, guardRetryDelay)
	if err != nil && ctx.Err() == nil && gctx.Err() == nil {
		m.log.UserWarn("advisory file locking unavailable (%v); lock protection is best-effort", err)
		return func() {}, nil
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, errs.E(errs.Op("lock.Acquire"), errs.KindFatal, ctx.Err())
		}
		return nil, errs.E(errs.Op("lock.Acquire"), errs.KindSkippable,
			fmt.Errorf("%w: lock guard %s is busy", errs.ErrLockHeld, guard.Path()))
	}
	return func() {
		if err := guard.Unlock(); err != nil {
			m.log.Warn("failed to release lock guard", "path", guard.Path(), "error", err)
		}
	}, nil
}

func (m *Manager) tryCreate(path string) (*Handle, error) {
	// #nosec G304 - lock path comes from configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(f, "%d\n", m.pid); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write pid to lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to close lock file: %w", err)
	}
	return &Handle{Path: path, PID: m.pid, AcquiredAt: m.now(), log: m.log, now: m.now}, nil
}

func (m *Manager) inspect(path string, maxAge time.Duration) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	info := Info{Path: path, Exists: true, Age: m.now().Sub(st.ModTime())}
	if pid, err := readPID(path); err == nil {
		info.PID = pid
		info.Alive = m.alive(pid)
	}
	info.Stale = info.Age > maxAge && !info.Alive
	return info, nil
}

// Status reports the state of the lock at path without modifying it.
func (m *Manager) Status(path string, maxAge time.Duration) (Info, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	info, err := m.inspect(path, maxAge)
	if os.IsNotExist(err) {
		return Info{Path: path}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to inspect lock %s: %w", path, err)
	}
	return info, nil
}

// Clear removes the lock file regardless of its owner.
func (m *Manager) Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock %s: %w", path, err)
	}
	m.log.Warn("lock cleared", "path", path)
	return nil
}

// Release removes the lock file. Calling it more than once is a no-op that
// returns the first result. A lock file now owned by another pid is left alone.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		pid, err := readPID(h.Path)
		switch {
		case os.IsNotExist(err):
			h.log.Warn("lock already removed", "path", h.Path)
			return
		case err == nil && pid != h.PID:
			h.log.Warn("lock now owned by another process; not removing", "path", h.Path, "pid", pid)
			return
		}
		if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
			h.err = fmt.Errorf("failed to remove lock %s: %w", h.Path, err)
			return
		}
		h.log.Info("lock released", "path", h.Path)
	})
	return h.err
}

// Refresh updates the lock's mtime so a long session is not considered old.
func (h *Handle) Refresh() error {
	now := h.now()
	if err := os.Chtimes(h.Path, now, now); err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", h.Path, err)
	}
	return nil
}

func readPID(path string) (int, error) {
	// #nosec G304 - lock path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in lock file: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d in lock file", pid)
	}
	return pid, nil
}
