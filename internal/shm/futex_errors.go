package shm

import "errors"

// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
var ErrFutexTimeout = errors.New("futex timeout")

// ErrFutexUnsupported is returned by futexWait/futexWake on platforms with
// no futex syscall; WaitForEpoch falls back to polling on this error.
var ErrFutexUnsupported = errors.New("futex operations not supported on this platform")
