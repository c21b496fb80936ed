package pty

import "testing"

func TestMasterWriteEchoesToMaster(t *testing.T) {
	p := NewPair(0)
	p.MasterWrite([]byte("hi\n"))

	slaveBuf := make([]byte, 16)
	n, _ := p.SlaveRead(slaveBuf)
	if string(slaveBuf[:n]) != "hi\n" {
		t.Fatalf("slave should see raw input, got %q", slaveBuf[:n])
	}

	masterBuf := make([]byte, 16)
	n, _ = p.MasterRead(masterBuf)
	if string(masterBuf[:n]) != "hi\r\n" {
		t.Fatalf("master should see echoed input with ONLCR translation, got %q", masterBuf[:n])
	}
}

func TestSlaveWriteTranslatesNewlines(t *testing.T) {
	p := NewPair(1)
	p.SlaveWrite([]byte("line1\nline2\n"))

	buf := make([]byte, 64)
	n, _ := p.MasterRead(buf)
	if string(buf[:n]) != "line1\r\nline2\r\n" {
		t.Fatalf("expected ONLCR-translated output, got %q", buf[:n])
	}
}

func TestIoctlTIOCGPTNReturnsNumber(t *testing.T) {
	p := NewPair(42)
	n, err := p.Ioctl(TIOCGPTN, nil, nil)
	if err != 0 || n != 42 {
		t.Fatalf("expected pty number 42, got %d err %v", n, err)
	}
}

func TestIoctlTCSETSDisablesEcho(t *testing.T) {
	p := NewPair(0)
	noEcho := DefaultTermios()
	noEcho.Echo = false
	p.Ioctl(TCSETS, nil, &noEcho)

	p.MasterWrite([]byte("x"))
	buf := make([]byte, 4)
	n, _ := p.MasterRead(buf)
	if n != 0 {
		t.Fatalf("expected no echo when Echo disabled, got %q", buf[:n])
	}
}
