//go:build windows

package db

import (
	"golang.org/x/sys/windows"
)

// windowsStillActive is GetExitCodeProcess's exit code for a running process.
const windowsStillActive = 259

// tryLock takes an exclusive non-blocking LockFileEx over the first byte of
// the lock file, the closest Windows has to flock(LOCK_EX|LOCK_NB).
func (l *writeLocker) tryLock() error {
	var ol windows.Overlapped
	return windows.LockFileEx(
		windows.Handle(l.lockFile.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1, 0, // one byte, low and high halves of the length
		&ol,
	)
}

func (l *writeLocker) unlock() {
	if l.lockFile == nil {
		return
	}
	var ol windows.Overlapped
	windows.UnlockFileEx(windows.Handle(l.lockFile.Fd()), 0, 1, 0, &ol)
}

// isProcessAlive reports whether pid still exists.
func isProcessAlive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == windowsStillActive
}
