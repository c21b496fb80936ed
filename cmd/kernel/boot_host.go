//go:build !aarch64

package main

import (
	"sis/internal/arch"
	"sis/internal/fbconsole"
)

// The host build has no firmware, DTB, or linker-provided memory map,
// so these mirror the fixed stand-ins arch_host.go reports: enough for
// bootseq.Boot to run end to end under `go test` without real hardware.

func bootDTB() []byte { return nil }

func bootFramebuffer() fbconsole.FrameBuffer { return nil }

func bootRAMRange() (base, size uintptr) {
	return arch.BootRAMStart(), arch.BootRAMSize()
}

func bootInitramfs() []byte { return nil }

func bootCPUCount() int { return 1 }
