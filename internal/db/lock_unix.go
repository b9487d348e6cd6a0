//go:build unix

package db

import (
	"os"
	"syscall"
)

// tryLock takes a non-blocking flock on the lock file. The kernel drops the
// lock when the process dies, so a crashed holder never wedges the store.
func (l *writeLocker) tryLock() error {
	return syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

func (l *writeLocker) unlock() {
	if l.lockFile == nil {
		return
	}
	syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
}

// isProcessAlive reports whether pid still exists. FindProcess never fails
// on Unix, so the real check is a signal 0.
func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
