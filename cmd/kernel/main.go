// Command kernel is the boot entry point: it plays the role of
// kernel.go's KernelMain/kernelMainBody pair, but where that function
// runs one giant inline sequence of MMU/runtime/goroutine bring-up
// steps, main here delegates every staged step to bootseq.Boot and
// internal/ subsystem constructors, keeping only the platform-specific
// "where do the boot parameters come from" glue local to this package
// (boot_aarch64.go / boot_host.go).
package main

import (
	"sis/internal/arch"
	"sis/internal/diag"

	"sis/cmd/kernel/internal/bootseq"
)

// main is invoked from the assembly entry trampoline (boot.s, outside
// this module's Go sources) after CPU0 reaches EL1 with the MMU enabled,
// the same handoff point kernel.go's rt0_go/KernelMain split relies on.
// It never returns.
func main() {
	dtb := bootDTB()
	fb := bootFramebuffer()
	ramBase, ramSize := bootRAMRange()
	initramfsBlob := bootInitramfs()
	nCPUs := bootCPUCount()

	k, initTask, err := bootseq.Boot(dtb, fb, ramBase, ramSize, initramfsBlob, nCPUs)
	if err != nil {
		diag.Panic("boot failed: " + err.Error())
		return
	}
	_ = initTask

	runForever(k)
}

// runForever is the steady-state loop once boot completes: every CPU
// spends its idle time in WFI and makes forward progress only when an
// IRQ fires, exactly as spec §4.6 describes for the SMP idle loop and
// §5 describes for the boot CPU once bring-up is done ("Everything else
// runs to completion within its handler").
func runForever(k *bootseq.Kernel) {
	for {
		arch.WFI()
	}
}
