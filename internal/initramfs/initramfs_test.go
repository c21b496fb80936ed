package initramfs

import (
	"fmt"
	"testing"

	"sis/internal/errno"
	"sis/internal/vfs"
)

// buildRecord encodes one newc cpio record exactly as Load expects.
func buildRecord(name string, mode uint32, data []byte) []byte {
	fields := [13]uint32{0, mode, 0, 0, 1, 0, uint32(len(data)), 0, 0, 0, 0, uint32(len(name) + 1), 0}
	var b []byte
	b = append(b, []byte(magic)...)
	for _, f := range fields {
		b = append(b, []byte(fmt.Sprintf("%08x", f))...)
	}
	b = append(b, []byte(name)...)
	b = append(b, 0) // NUL terminator counted in namesize
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	b = append(b, data...)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func buildArchive(records ...[]byte) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, r...)
	}
	out = append(out, buildRecord(trailer, 0, nil)...)
	return out
}

type fakeTarget struct {
	dirs  []string
	files map[string][]byte
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{files: make(map[string][]byte)}
}

func (f *fakeTarget) MkdirAll(path string) errno.Errno {
	f.dirs = append(f.dirs, path)
	return errno.OK
}

func (f *fakeTarget) WriteFile(path string, data []byte, mode vfs.FileMode) errno.Errno {
	f.files[path] = append([]byte(nil), data...)
	return errno.OK
}

func TestLoadCreatesFilesAndParentDirs(t *testing.T) {
	archive := buildArchive(
		buildRecord("bin/init", 0o100755, []byte("#!/bin/sh\n")),
		buildRecord("etc/hosts", 0o100644, []byte("127.0.0.1 localhost\n")),
	)
	tgt := newFakeTarget()
	if err := Load(archive, tgt); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(tgt.files["/bin/init"]) != "#!/bin/sh\n" {
		t.Fatalf("expected /bin/init content, got %q", tgt.files["/bin/init"])
	}
	if string(tgt.files["/etc/hosts"]) != "127.0.0.1 localhost\n" {
		t.Fatalf("expected /etc/hosts content, got %q", tgt.files["/etc/hosts"])
	}
}

func TestLoadStopsAtTrailer(t *testing.T) {
	archive := buildArchive(buildRecord("a.txt", 0o100644, []byte("x")))
	archive = append(archive, buildRecord("never-reached.txt", 0o100644, []byte("y"))...)
	tgt := newFakeTarget()
	if err := Load(archive, tgt); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := tgt.files["/never-reached.txt"]; ok {
		t.Fatalf("record after TRAILER!!! should not be applied")
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	bad := append([]byte("XXXXXX"), make([]byte, 200)...)
	if err := Load(bad, newFakeTarget()); err == nil {
		t.Fatalf("expected error on bad magic")
	}
}

func TestLoadRejectsTruncatedArchive(t *testing.T) {
	archive := buildRecord("a.txt", 0o100644, []byte("hello world"))
	truncated := archive[:len(archive)-5]
	if err := Load(truncated, newFakeTarget()); err == nil {
		t.Fatalf("expected error on truncated archive")
	}
}
