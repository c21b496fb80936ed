// Package gic drives a GICv3 interrupt controller: distributor, per-CPU
// redistributor, and the system-register CPU interface. The register
// layout and enable/ack/EOI sequencing follow the same MMIO-poking idiom
// gic_qemu.go uses for its GICv2 driver, generalized to three
// initialization stages and redistributor-relative addressing.
package gic

import (
	"sis/internal/arch"
	"sis/internal/platform"
)

// Distributor register offsets (GICD_*).
const (
	offGICD_CTLR   = 0x0000
	offGICD_TYPER  = 0x0004
	offGICD_IGROUPR = 0x0080
	offGICD_ISENABLER = 0x0100
	offGICD_ICENABLER = 0x0180
	offGICD_IPRIORITYR = 0x0400
	offGICD_ICFGR  = 0x0C00
	offGICD_IROUTER = 0x6000
)

// Redistributor register offsets, RD_base (frame 0) and SGI_base (frame 1,
// +64KiB from RD_base on GICv3).
const (
	offGICR_CTLR    = 0x0000
	offGICR_WAKER   = 0x0014
	sgiFrameOffset  = 0x10000
	offGICR_IGROUPR0   = 0x0080
	offGICR_ISENABLER0 = 0x0100
	offGICR_ICENABLER0 = 0x0180
	offGICR_IPRIORITYR = 0x0400
)

const (
	// INTID ranges (spec §4.4).
	MaxSGI = 16  // IDs 0-15
	MaxPPI = 32  // IDs 16-31
	SpuriousLo = 1020
	SpuriousHi = 1023

	waker_ProcessorSleep   uint32 = 1 << 1
	waker_ChildrenAsleep   uint32 = 1 << 2
	grp1EnableBit          uint32 = 1 << 1 // GICD_CTLR.EnableGrp1A / ARE
	are_NS                 uint32 = 1 << 4
)

// ICC system registers are normally accessed via MSR/MRS; arch exposes
// them through the same MMIO shim used for distributor/redistributor
// registers so this package stays free of assembly.
const (
	iccSRE   = 0xFFFF0000 // synthetic addresses reserved for sysreg shim
	iccPMR   = 0xFFFF0008
	iccIGRPEN1 = 0xFFFF0010
	iccIAR1  = 0xFFFF0018
	iccEOIR1 = 0xFFFF0020
)

// Controller is one CPU's view of a GICv3: the shared distributor plus
// this CPU's redistributor and system-register interface.
type Controller struct {
	distBase uintptr
	rdBase   uintptr
}

// New builds a Controller for the current CPU from platform-detected
// bases. rdBase is the per-CPU redistributor base; on a uniprocessor boot
// this is simply platform.GIC.RedistributorBase.
func New(cfg platform.GIC, rdBase uintptr) *Controller {
	return &Controller{distBase: cfg.DistributorBase, rdBase: rdBase}
}

func (c *Controller) dreg(off uintptr) uintptr { return c.distBase + off }
func (c *Controller) rreg(off uintptr) uintptr { return c.rdBase + off }
func (c *Controller) sreg(off uintptr) uintptr { return c.rdBase + sgiFrameOffset + off }

// InitDistributor performs stage one: disable, assign every interrupt to
// Group 1, then enable Group 1 with affinity routing (spec
// §4.4 "distributor (enable, route affinity-based)").
func (c *Controller) InitDistributor() {
	arch.MmioWrite(c.dreg(offGICD_CTLR), 0)
	for i := 0; i < 32; i++ {
		arch.MmioWrite(c.dreg(offGICD_IGROUPR)+uintptr(i*4), 0xFFFFFFFF)
	}
	for i := 0; i < 256; i++ {
		arch.MmioWrite(c.dreg(offGICD_IPRIORITYR)+uintptr(i*4), 0x80808080)
	}
	arch.MmioWrite(c.dreg(offGICD_CTLR), are_NS|grp1EnableBit)
	arch.Isb()
}

// InitRedistributor performs stage two: wake this PE's redistributor and
// enable the SGI/PPI set (spec §4.4 "per-CPU redistributor (wake up, mark
// PEs awake, enable SGI/PPI set)").
func (c *Controller) InitRedistributor() {
	waker := arch.MmioRead(c.rreg(offGICR_WAKER))
	waker &^= waker_ProcessorSleep
	arch.MmioWrite(c.rreg(offGICR_WAKER), waker)
	for arch.MmioRead(c.rreg(offGICR_WAKER))&waker_ChildrenAsleep != 0 {
		arch.Isb()
	}
	arch.MmioWrite(c.sreg(offGICR_IGROUPR0), 0xFFFFFFFF)
	arch.MmioWrite(c.sreg(offGICR_ISENABLER0), 0xFFFFFFFF)
	for i := 0; i < 8; i++ {
		arch.MmioWrite(c.sreg(offGICR_IPRIORITYR)+uintptr(i*4), 0x80808080)
	}
}

// InitCPUInterface performs stage three: enable system-register access,
// set the priority mask to admit all interrupts, enable Group 1 (spec
// §4.4 "CPU interface via system registers").
func (c *Controller) InitCPUInterface() {
	arch.MmioWrite(iccSRE, 1)
	arch.Isb()
	arch.MmioWrite(iccPMR, 0xFF)
	arch.MmioWrite(iccIGRPEN1, 1)
	arch.Isb()
}

// Init runs all three stages in order, the sequence spec §4.4 requires
// before any interrupt may be unmasked.
func (c *Controller) Init() {
	c.InitDistributor()
	c.InitRedistributor()
	c.InitCPUInterface()
}

// EnableIRQ unmasks id. IDs 0-31 (SGI/PPI) are per-CPU and live in the
// redistributor; 32+ (SPI) live in the distributor.
func (c *Controller) EnableIRQ(id uint32) {
	if id < MaxPPI {
		arch.MmioWrite(c.sreg(offGICR_ISENABLER0), 1<<id)
		return
	}
	regIdx := id / 32
	bit := id % 32
	arch.MmioWrite(c.dreg(offGICD_ISENABLER)+uintptr(regIdx*4), 1<<bit)
}

// DisableIRQ masks id.
func (c *Controller) DisableIRQ(id uint32) {
	if id < MaxPPI {
		arch.MmioWrite(c.sreg(offGICR_ICENABLER0), 1<<id)
		return
	}
	regIdx := id / 32
	bit := id % 32
	arch.MmioWrite(c.dreg(offGICD_ICENABLER)+uintptr(regIdx*4), 1<<bit)
}

// SetPriority sets id's priority byte (lower value = higher priority).
func (c *Controller) SetPriority(id uint32, p uint8) {
	base := c.dreg(offGICD_IPRIORITYR)
	if id < MaxPPI {
		base = c.sreg(offGICR_IPRIORITYR)
	}
	regAddr := base + uintptr(id&^3)
	shift := (id % 4) * 8
	cur := arch.MmioRead(regAddr)
	cur = (cur &^ (0xFF << shift)) | uint32(p)<<shift
	arch.MmioWrite(regAddr, cur)
}

// Ack reads ICC_IAR1, returning the acknowledged INTID. Values
// SpuriousLo..SpuriousHi mean no interrupt is pending (spec §4.4).
func (c *Controller) Ack() uint32 {
	return arch.MmioRead(iccIAR1) & 0x3FF
}

// EOI signals completion of id. Spec §4.4: "every ack must be matched by
// exactly one EOI on the same path before returning from the exception."
func (c *Controller) EOI(id uint32) {
	arch.MmioWrite(iccEOIR1, id)
}

// IsSpurious reports whether an acked ID carries no real interrupt.
func IsSpurious(id uint32) bool {
	return id >= SpuriousLo && id <= SpuriousHi
}

// SendSGI raises sgiID on targetCPU via ICC_SGI1R-style routing. The
// gic_qemu.go's single-CPU driver never sends SGIs; this is new surface
// for SMP IPIs (spec §4.4 send_sgi, §4.6 named SGI roles).
func (c *Controller) SendSGI(targetCPU uint8, sgiID uint8) {
	// Synthetic encoding: target CPU in bits 39:32, INTID in the low nibble.
	val := uint64(targetCPU)<<32 | uint64(sgiID&0xF)
	arch.MmioWrite64(0xFFFF0100, val)
}

// Named SGI IDs for the IPI roles spec §4.6 requires. Low IDs are
// reserved for these; a platform with more roles would extend the list
// within 0-15.
const (
	SGIReschedule   uint8 = 0
	SGITLBFlush     uint8 = 1
	SGICallFunction uint8 = 2
	SGIStop         uint8 = 3
)
