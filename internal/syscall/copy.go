package syscall

import (
	"sis/internal/errno"
	"sis/internal/vmm"
)

// maxPathLen bounds any path or argv/envp string copied in from
// userspace (spec §4.13 "path ≤ 4 KiB").
const maxPathLen = 4096

// copyInBytes reads n bytes starting at the user virtual address uva,
// walking page by page through as so a read spanning more than one page
// works without the caller needing contiguous kernel-side storage (spec
// §4.8 "no direct kernel access to user pointers without a fault-tolerant
// copy helper").
func copyInBytes(as *vmm.AddressSpace, uva uintptr, n int) ([]byte, errno.Errno) {
	out := make([]byte, n)
	done := 0
	for done < n {
		va := uva + uintptr(done)
		page := as.PageDataAt(va)
		if page == nil {
			return nil, errno.EFAULT
		}
		off := int(va % vmm.PageSize)
		room := int(vmm.PageSize) - off
		c := n - done
		if c > room {
			c = room
		}
		copy(out[done:done+c], page[off:off+c])
		done += c
	}
	return out, errno.OK
}

// copyOutBytes is copyInBytes's mirror for kernel-to-user writes.
func copyOutBytes(as *vmm.AddressSpace, uva uintptr, data []byte) errno.Errno {
	done := 0
	for done < len(data) {
		va := uva + uintptr(done)
		page := as.PageDataAt(va)
		if page == nil {
			return errno.EFAULT
		}
		off := int(va % vmm.PageSize)
		room := int(vmm.PageSize) - off
		c := len(data) - done
		if c > room {
			c = room
		}
		copy(page[off:off+c], data[done:done+c])
		done += c
	}
	return errno.OK
}

// copyInString reads a NUL-terminated string starting at uva, refusing
// anything longer than maxLen.
func copyInString(as *vmm.AddressSpace, uva uintptr, maxLen int) (string, errno.Errno) {
	var b []byte
	for i := 0; i < maxLen; i++ {
		va := uva + uintptr(i)
		page := as.PageDataAt(va)
		if page == nil {
			return "", errno.EFAULT
		}
		c := page[va%vmm.PageSize]
		if c == 0 {
			return string(b), errno.OK
		}
		b = append(b, c)
	}
	return "", errno.E2BIG
}

// readStringArray reads a NULL-terminated array of char* (argv/envp
// style) starting at uva, each 8 bytes, stopping at the first zero
// pointer (spec §4.12 execve argv/envp).
func readStringArray(as *vmm.AddressSpace, uva uintptr) ([]string, errno.Errno) {
	if uva == 0 {
		return nil, errno.OK
	}
	var out []string
	for i := 0; i < 256; i++ {
		raw, e := copyInBytes(as, uva+uintptr(i*8), 8)
		if e != errno.OK {
			return nil, e
		}
		ptr := leUint64(raw)
		if ptr == 0 {
			return out, errno.OK
		}
		s, e := copyInString(as, uintptr(ptr), maxPathLen)
		if e != errno.OK {
			return nil, e
		}
		out = append(out, s)
	}
	return nil, errno.E2BIG
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func putLeUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
