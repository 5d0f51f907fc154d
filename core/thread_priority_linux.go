//go:build linux

package core

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// applyThreadNice locks the calling goroutine to its OS thread and sets the
// thread nice value. The goroutine stays locked until it exits, so the
// thread is discarded with it.
func applyThreadNice(nice int) error {
	runtime.LockOSThread()
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}

// ThreadNice returns the nice value of the calling thread.
func ThreadNice() (int, error) {
	// getpriority(2) returns 20-nice on Linux.
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, unix.Gettid())
	if err != nil {
		return 0, err
	}
	return 20 - prio, nil
}
