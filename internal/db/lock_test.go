package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lockDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".inv"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return dir
}

func TestWriteLockExcludesSecondLocker(t *testing.T) {
	dir := lockDir(t)

	a := newWriteLocker(dir)
	if err := a.acquire(defaultTimeout); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer a.release()

	b := newWriteLocker(dir)
	err := b.acquire(20 * time.Millisecond)
	if err == nil {
		b.release()
		t.Fatal("second locker acquired a held lock")
	}
	// The timeout error names the current holder.
	if want := fmt.Sprintf("pid:%d", os.Getpid()); !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not name holder %s", err, want)
	}
}

func TestWriteLockReleaseAllowsReacquire(t *testing.T) {
	dir := lockDir(t)

	a := newWriteLocker(dir)
	if err := a.acquire(defaultTimeout); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := a.release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	b := newWriteLocker(dir)
	if err := b.acquire(defaultTimeout); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	b.release()
}

func TestIsProcessAlive(t *testing.T) {
	if !isProcessAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if isProcessAlive(1 << 28) {
		t.Error("absurd pid should not be alive")
	}
}
