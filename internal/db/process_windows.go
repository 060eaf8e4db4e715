//go:build windows

package db

import "os"

// processAlive reports whether pid names a running process. FindProcess
// opens a handle and fails once the process is gone.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}
