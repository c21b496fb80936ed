package vfs

import (
	"testing"

	"sis/internal/errno"
)

func TestCleanNormalizesDotAndDotDot(t *testing.T) {
	cases := map[string]string{
		"/a/b/../c":   "/a/c",
		"/a/./b":      "/a/b",
		"/../a":       "/a",
		"/":           "/",
		"":            "/",
		"/a/b/c/../.": "/a/b",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Fatalf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoinRelativeAgainstCwd(t *testing.T) {
	if got := Join("/home/user", "docs/file.txt"); got != "/home/user/docs/file.txt" {
		t.Fatalf("got %q", got)
	}
	if got := Join("/home/user", "/etc/passwd"); got != "/etc/passwd" {
		t.Fatalf("absolute path should ignore cwd, got %q", got)
	}
	if got := Join("/home/user", "../other"); got != "/home/other" {
		t.Fatalf("got %q", got)
	}
}

// tagFS is a minimal FileSystem stub that records which path it was
// asked to open, so tests can assert longest-prefix-match resolution
// without a real backend.
type tagFS struct {
	name    string
	lastRel string
}

func (f *tagFS) Open(path string, flags OpenFlags, mode FileMode) (File, errno.Errno) {
	f.lastRel = path
	return nil, errno.ENOENT
}
func (f *tagFS) Mkdir(path string, mode FileMode) errno.Errno { f.lastRel = path; return errno.OK }
func (f *tagFS) Unlink(path string) errno.Errno               { f.lastRel = path; return errno.OK }
func (f *tagFS) Name() string                                 { return f.name }

func TestLongestPrefixMatchWins(t *testing.T) {
	v := New()
	root := &tagFS{name: "root"}
	dev := &tagFS{name: "dev"}
	v.Mount("/", root)
	v.Mount("/dev", dev)

	v.Open("/dev/console", OReadWrite, 0)
	if dev.lastRel != "/console" {
		t.Fatalf("expected devfs to see relative path /console, got %q", dev.lastRel)
	}

	v.Open("/etc/hosts", OReadOnly, 0)
	if root.lastRel != "/etc/hosts" {
		t.Fatalf("expected root fs to see /etc/hosts, got %q", root.lastRel)
	}
}

func TestOpenUnmountedPathReturnsENOENT(t *testing.T) {
	v := New()
	if _, err := v.Open("/nowhere", OReadOnly, 0); err != errno.ENOENT {
		t.Fatalf("expected ENOENT with no mounts, got %v", err)
	}
}
