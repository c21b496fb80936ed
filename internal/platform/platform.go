// Package platform abstracts board hardware: UART base/clock, GIC bases,
// timer frequency, MMIO/RAM ranges, and PSCI availability (spec §4.1).
// No MMIO constant for a specific board may live outside this package.
//
// Grounded on kernel.go (PERIPHERAL_BASE and friends for
// Raspberry Pi 4, generalized here to Pi 5/BCM2712 per spec) and
// dtb_qemu.go (device-tree-driven discovery), generalized from "parse one
// PCI node" to "detect every descriptor platform.go needs."
package platform

import "sis/internal/dtb"

// Tag identifies the detected board.
type Tag int

const (
	Unknown Tag = iota
	QEMUVirt
	RaspberryPi5
)

func (t Tag) String() string {
	switch t {
	case QEMUVirt:
		return "qemu-virt"
	case RaspberryPi5:
		return "raspberry-pi-5"
	default:
		return "unknown"
	}
}

// Range is a half-open physical address range.
type Range struct {
	Base uintptr
	Size uintptr
}

func (r Range) End() uintptr { return r.Base + r.Size }

// UART describes a PL011-compatible UART (spec §6 "Console").
type UART struct {
	Base    uintptr
	ClockHz uint32
}

// GIC describes GICv3 distributor and redistributor bases (spec §4.4).
type GIC struct {
	DistributorBase  uintptr
	RedistributorBase uintptr // stride per CPU is fixed at 0x20000
}

// Timer describes the ARM generic timer's reference frequency.
type Timer struct {
	FrequencyHz uint64
}

// Descriptor is the fully resolved platform configuration consulted by
// every other subsystem; it is produced once at boot by Detect and never
// mutated afterward.
type Descriptor struct {
	Board        Tag
	UART         UART
	GIC          GIC
	Timer        Timer
	MMIORanges   []Range
	RAMRanges    []Range
	PSCIPresent  bool
	SDHCIBase    uintptr
	HasSDHCI     bool
}

// QEMU virt machine fallback constants, used when no DTB blob is
// available or it fails to parse (mirrors dtb_qemu.go's documented
// fallback behavior).
var qemuVirtFallback = Descriptor{
	Board: QEMUVirt,
	UART:  UART{Base: 0x09000000, ClockHz: 24_000_000},
	GIC: GIC{
		DistributorBase:   0x08000000,
		RedistributorBase: 0x080A0000,
	},
	Timer:       Timer{FrequencyHz: 62_500_000},
	MMIORanges:  []Range{{Base: 0x08000000, Size: 0x10000000}},
	RAMRanges:   []Range{{Base: 0x40000000, Size: 0x40000000}},
	PSCIPresent: true,
}

// Raspberry Pi 5 (BCM2712) fallback constants. RPi5 moved the legacy
// BCM mailbox/GIC-400 layout kernel.go's Pi-4 constants assumed; these
// values reflect the documented BCM2712 low-peripheral base.
var rpi5Fallback = Descriptor{
	Board: RaspberryPi5,
	UART:  UART{Base: 0x107D001000, ClockHz: 48_000_000},
	GIC: GIC{
		DistributorBase:   0x107FFF9000,
		RedistributorBase: 0x107FFFC000,
	},
	Timer:       Timer{FrequencyHz: 54_000_000},
	MMIORanges:  []Range{{Base: 0x1000000000, Size: 0x80000000}},
	RAMRanges:   []Range{{Base: 0x00000000, Size: 0x100000000}},
	PSCIPresent: true,
	HasSDHCI:    true,
	SDHCIBase:   0x107FFF0000,
}

// Detect builds a Descriptor. If dtbBlob parses and contains recognizable
// compatible strings, the descriptor is populated from it and a board
// tag is chosen heuristically; otherwise it falls back to the QEMU virt
// constants, consistent with spec §4.1: "Detection is heuristic: presence
// and base-address range of discovered devices selects RPi 5 vs QEMU
// virt vs Unknown."
func Detect(dtbBlob []byte) Descriptor {
	if dtbBlob == nil {
		return qemuVirtFallback
	}
	nodes, err := dtb.Parse(dtbBlob)
	if err != nil || len(nodes) == 0 {
		return qemuVirtFallback
	}

	d := Descriptor{Board: Unknown}

	if n, ok := dtb.FindCompatible(nodes, "arm,pl011"); ok && len(n.Reg) > 0 {
		d.UART = UART{Base: uintptr(n.Reg[0].Addr), ClockHz: 48_000_000}
	}
	if n, ok := dtb.FindCompatible(nodes, "arm,gic-v3"); ok && len(n.Reg) >= 2 {
		d.GIC = GIC{
			DistributorBase:   uintptr(n.Reg[0].Addr),
			RedistributorBase: uintptr(n.Reg[1].Addr),
		}
	}
	if _, ok := dtb.FindCompatible(nodes, "arm,armv8-timer"); ok {
		d.Timer = Timer{FrequencyHz: 54_000_000}
	}
	if n, ok := dtb.FindCompatible(nodes, "arsasan,sdhci-5.1"); ok && len(n.Reg) > 0 {
		d.HasSDHCI = true
		d.SDHCIBase = uintptr(n.Reg[0].Addr)
	}
	d.PSCIPresent = true

	d.Board = classify(d)
	if d.UART.Base == 0 {
		d = mergeFallback(d)
	}
	return d
}

// classify picks a board tag from the UART base-address range alone,
// per spec §4.1's "presence and base-address range ... selects" rule.
func classify(d Descriptor) Tag {
	switch {
	case d.UART.Base == qemuVirtFallback.UART.Base:
		return QEMUVirt
	case d.UART.Base >= 0x1000000000:
		return RaspberryPi5
	default:
		return Unknown
	}
}

// mergeFallback fills any zero-valued descriptor fields from the QEMU
// virt constants and tags the board as QEMU virt. Detect applies it only
// when the DTB yielded no UART; when it did, fields the DTB left unset
// (such as the GIC bases) stay zero.
func mergeFallback(d Descriptor) Descriptor {
	fb := qemuVirtFallback
	if d.UART.Base == 0 {
		d.UART = fb.UART
	}
	if d.GIC.DistributorBase == 0 {
		d.GIC = fb.GIC
	}
	if d.Timer.FrequencyHz == 0 {
		d.Timer = fb.Timer
	}
	if len(d.MMIORanges) == 0 {
		d.MMIORanges = fb.MMIORanges
	}
	if len(d.RAMRanges) == 0 {
		d.RAMRanges = fb.RAMRanges
	}
	d.Board = fb.Board
	return d
}
