// Package psci implements the Power State Coordination Interface calls
// the kernel needs: CPU_ON (SMP bring-up, spec §4.6), SYSTEM_OFF,
// SYSTEM_RESET, and PSCI_FEATURES (spec §6). Every call goes through
// arch.PSCICall; this package does not read the device tree's psci node
// and does not choose between HVC and SMC. When Client.Available is
// false, callers degrade to uniprocessor-only operation and a bare halt
// instead of a reset, per spec §7.
//
// Grounded on kernel.go's abortBoot/QemuExit path, which
// this generalizes from "always semihosting-exit" to "PSCI reset if
// configured, otherwise halt."
package psci

import "sis/internal/arch"

const (
	fnCPUOn         = 0xC4000003
	fnSystemOff     = 0x84000008
	fnSystemReset   = 0x84000009
	fnPSCIFeatures  = 0x8400000A
)

const (
	ReturnSuccess     = 0
	ReturnNotSupported = -1
)

// Client wraps the PSCI conduit. Available is false when the platform
// has no PSCI firmware (spec §4.1 "psci_available()"), in which case
// every method is a no-op returning ReturnNotSupported.
type Client struct {
	Available bool
}

// CPUOn powers on a secondary CPU identified by its MPIDR affinity value,
// starting execution at entryPoint with contextID available to the
// secondary core (spec §4.6: "invoke PSCI CPU_ON with an entry point and
// a context identifier carrying the stack top").
func (c Client) CPUOn(targetMPIDR uint64, entryPoint uintptr, contextID uint64) int64 {
	if !c.Available {
		return ReturnNotSupported
	}
	return arch.PSCICall(fnCPUOn, targetMPIDR, uint64(entryPoint), contextID)
}

// SystemReset requests a warm reset, used by internal/diag.Panic for
// unrecoverable kernel errors (spec §7).
func (c Client) SystemReset() {
	if !c.Available {
		return
	}
	arch.PSCICall(fnSystemReset, 0, 0, 0)
}

// SystemOff requests power-off.
func (c Client) SystemOff() {
	if !c.Available {
		return
	}
	arch.PSCICall(fnSystemOff, 0, 0, 0)
}

// FeatureSupported reports whether a given PSCI function ID is
// implemented by firmware.
func (c Client) FeatureSupported(functionID uint64) bool {
	if !c.Available {
		return false
	}
	return arch.PSCICall(fnPSCIFeatures, functionID, 0, 0) >= 0
}
