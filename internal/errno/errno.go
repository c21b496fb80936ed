// Package errno defines the kernel error taxonomy and its mapping to
// negative errno values at the syscall boundary (spec §7).
package errno

// Errno is a kernel-internal error code. Internally, operations return
// (value, Errno); only the syscall boundary converts it to a negative
// machine integer.
type Errno int

const (
	OK Errno = iota
	EINVAL
	EFAULT
	ENOENT
	EACCES
	EEXIST
	ENOTDIR
	EISDIR
	EBADF
	ENOMEM
	EAGAIN
	ETIMEDOUT
	EINTR
	ENOTSUP
	EIO
	ESRCH
	ENOSYS
	EMFILE
	ENOSPC
	E2BIG
)

var names = [...]string{
	OK:        "OK",
	EINVAL:    "EINVAL",
	EFAULT:    "EFAULT",
	ENOENT:    "ENOENT",
	EACCES:    "EACCES",
	EEXIST:    "EEXIST",
	ENOTDIR:   "ENOTDIR",
	EISDIR:    "EISDIR",
	EBADF:     "EBADF",
	ENOMEM:    "ENOMEM",
	EAGAIN:    "EAGAIN",
	ETIMEDOUT: "ETIMEDOUT",
	EINTR:     "EINTR",
	ENOTSUP:   "ENOTSUP",
	EIO:       "EIO",
	ESRCH:     "ESRCH",
	ENOSYS:    "ENOSYS",
	EMFILE:    "EMFILE",
	ENOSPC:    "ENOSPC",
	E2BIG:     "E2BIG",
}

func (e Errno) Error() string {
	if int(e) >= 0 && int(e) < len(names) && names[e] != "" {
		return names[e]
	}
	return "unknown errno"
}

// aarch64 Linux-convention errno numeric values, used only at the
// syscall ABI boundary (negated before being placed in x0).
var linuxValue = [...]int64{
	OK:        0,
	EINVAL:    22,
	EFAULT:    14,
	ENOENT:    2,
	EACCES:    13,
	EEXIST:    17,
	ENOTDIR:   20,
	EISDIR:    21,
	EBADF:     9,
	ENOMEM:    12,
	EAGAIN:    11,
	ETIMEDOUT: 110,
	EINTR:     4,
	ENOTSUP:   95,
	EIO:       5,
	ESRCH:     3,
	ENOSYS:    38,
	EMFILE:    24,
	ENOSPC:    28,
	E2BIG:     7,
}

// SyscallResult converts a successful value or an Errno into the x0
// return convention: non-negative on success, negated errno on failure.
func SyscallResult(value int64, err Errno) int64 {
	if err == OK {
		return value
	}
	return -linuxValue[err]
}
