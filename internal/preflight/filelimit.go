package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the minimum open-file limit the serve path needs.
// A running instance keeps SQLite connections, the vector snapshot, the
// log file, feed watches, and one descriptor per HTTP client open at once.
const MinFileDescriptors = 1024

// CheckFileDescriptors verifies the process file descriptor limit. When
// the soft limit is too low it first tries to raise it toward the hard
// limit, which needs no privileges.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to read file descriptor limit: %v", err)
		return result
	}

	if limit.Cur < MinFileDescriptors && limit.Max >= MinFileDescriptors {
		raised := limit
		raised.Cur = limit.Max
		if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &raised); err == nil {
			limit = raised
		}
	}

	if limit.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%d open files allowed (minimum: %d)", limit.Cur, MinFileDescriptors)
		result.Details = "Raise the limit with 'ulimit -n 4096' before starting the server"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d open files allowed (minimum: %d)", limit.Cur, MinFileDescriptors)
	return result
}
