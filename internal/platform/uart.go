package platform

import "sis/internal/arch"

// PL011 register offsets (spec §6 "Console": "A single PL011-compatible
// UART"), grounded on kernel.go's UART0_* constants and
// uart_qemu.go's QEMU_UART_* constants — the two boards use the same
// register layout at different bases, which is exactly why this lives in
// one place keyed by the Descriptor's UART.Base.
const (
	regDR   = 0x00
	regFR   = 0x18
	regIBRD = 0x24
	regFBRD = 0x28
	regLCRH = 0x2C
	regCR   = 0x30
	regIMSC = 0x38
	regICR  = 0x44

	frTXFF = 1 << 5 // transmit FIFO full
	frRXFE = 1 << 4 // receive FIFO empty

	lcrhFEN  = 1 << 4 // enable FIFOs
	lcrhWLEN8 = 3 << 5 // 8 data bits

	crUARTEN = 1 << 0
	crTXE    = 1 << 8
	crRXE    = 1 << 9

	imscTXIM = 1 << 5
	imscRXIM = 1 << 4
)

// UARTDriver is a PL011 UART bound to a base address and reference clock.
// It implements diag.Sink so it can be registered as a kernel diagnostic
// output alongside the framebuffer console.
type UARTDriver struct {
	base    uintptr
	clockHz uint32
}

// NewUART constructs and initializes a PL011 driver from the descriptor's
// UART fields: 8-N-1, polled TX (spec §6), baud divisor derived from
// clockHz, matching the sequence in uart_qemu.go's uartInit/UartInitPl011.
func NewUART(cfg UART, baud uint32) *UARTDriver {
	u := &UARTDriver{base: cfg.Base, clockHz: cfg.ClockHz}
	u.init(baud)
	return u
}

func (u *UARTDriver) reg(offset uintptr) uintptr { return u.base + offset }

func (u *UARTDriver) init(baud uint32) {
	arch.MmioWrite(u.reg(regCR), 0) // disable UART during config

	// Integer/fractional baud rate divisor: divisor = clock / (16 * baud).
	divisorX64 := uint64(u.clockHz) * 4 / uint64(baud) // *4 == *64/16, kept in one integer op
	ibrd := uint32(divisorX64 >> 6)
	fbrd := uint32(divisorX64 & 0x3F)
	arch.MmioWrite(u.reg(regIBRD), ibrd)
	arch.MmioWrite(u.reg(regFBRD), fbrd)

	arch.MmioWrite(u.reg(regLCRH), lcrhFEN|lcrhWLEN8)
	arch.MmioWrite(u.reg(regICR), 0x7FF) // clear all pending interrupts
	arch.MmioWrite(u.reg(regCR), crUARTEN|crTXE|crRXE)
}

// WriteByte blocks (polled TX, spec §6) until the transmit FIFO has room,
// then writes c. It implements diag.Sink.
func (u *UARTDriver) WriteByte(c byte) error {
	for arch.MmioRead(u.reg(regFR))&frTXFF != 0 {
	}
	arch.MmioWrite(u.reg(regDR), uint32(c))
	return nil
}

// WriteString writes s byte by byte via WriteByte.
func (u *UARTDriver) WriteString(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		if err := u.WriteByte(s[i]); err != nil {
			return i, err
		}
	}
	return len(s), nil
}

// ReadByte performs a non-blocking read. ok is false if the receive FIFO
// is empty; future IRQ-driven RX (spec §6) will push bytes into a ring
// buffer consulted here instead of polling FR directly.
func (u *UARTDriver) ReadByte() (c byte, ok bool) {
	if arch.MmioRead(u.reg(regFR))&frRXFE != 0 {
		return 0, false
	}
	return byte(arch.MmioRead(u.reg(regDR))), true
}

// EnableRXInterrupt unmasks the UART's receive interrupt in IMSC; GIC-side
// enabling of the corresponding SPI/PPI is the caller's responsibility
// (internal/gic), matching the two-step enable kernel.go performs in
// uartSetupInterrupts + gicEnableInterrupt.
func (u *UARTDriver) EnableRXInterrupt() {
	cur := arch.MmioRead(u.reg(regIMSC))
	arch.MmioWrite(u.reg(regIMSC), cur|imscRXIM)
}
