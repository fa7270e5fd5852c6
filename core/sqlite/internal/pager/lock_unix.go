//go:build unix

package pager

import (
	"errors"

	"golang.org/x/sys/unix"
)

// flock applies an advisory lock to the database file. how is one of
// LockNone, LockShared or LockExclusive. It never blocks; contention is
// reported as errWouldBlock so the caller can apply its busy timeout.
func flock(b Backend, how int) error {
	fb, ok := b.(interface{ Fd() uintptr })
	if !ok {
		return nil
	}

	op := unix.LOCK_UN
	switch how {
	case LockShared:
		op = unix.LOCK_SH | unix.LOCK_NB
	case LockExclusive:
		op = unix.LOCK_EX | unix.LOCK_NB
	}

	for {
		err := unix.Flock(int(fb.Fd()), op)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EWOULDBLOCK) {
			return errWouldBlock
		}
		return err
	}
}
