// Package diag implements the kernel's ambient logging and fatal-error
// path. It replaces fmt/log (both unusable this early in boot, before the
// heap and scheduler exist) with the hand-rolled hex/decimal writers
// kernel.go uses directly (uartPutHex64, printUint32,
// uartPutUint32) and generalizes them behind a small Sink interface so a
// framebuffer console (internal/fbconsole) can fan out alongside the
// UART without every call site caring which sinks are live.
package diag

import (
	"sync"

	"sis/internal/arch"
)

// Sink is anything that can receive kernel diagnostic output. The UART
// driver and the framebuffer console both implement it.
type Sink interface {
	WriteByte(c byte) error
	WriteString(s string) (int, error)
}

var (
	mu    sync.Mutex
	sinks []Sink
)

// AddSink registers an additional diagnostic sink. Called once for the
// UART during early boot and again for the framebuffer console once it
// is initialized (kernelMainBody's staged bring-up order).
func AddSink(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	sinks = append(sinks, s)
}

// Print writes s to every registered sink. It must not allocate on the
// fast path used from interrupt context; callers pass pre-built strings.
func Print(s string) {
	mu.Lock()
	active := sinks
	mu.Unlock()
	for _, sink := range active {
		_, _ = sink.WriteString(s)
	}
}

func Printf(format string, args ...any) {
	Print(sprintf(format, args...))
}

const hexDigits = "0123456789ABCDEF"

// Hex64 renders val as a fixed 16-digit uppercase hex string, matching
// uartPutHex64's output shape exactly (kernel.go).
func Hex64(val uint64) string {
	buf := make([]byte, 16)
	for i := 0; i < 16; i++ {
		nibble := (val >> uint(60-i*4)) & 0xF
		buf[i] = hexDigits[nibble]
	}
	return string(buf)
}

// Uint32 renders n in decimal with no leading zeros, matching
// printUint32/uartPutUint32's digit-extraction loop.
func Uint32(n uint32) string {
	if n == 0 {
		return "0"
	}
	digits := 0
	for temp := n; temp > 0; temp /= 10 {
		digits++
	}
	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf)
}

// sprintf is a tiny %s/%d/%x formatter sufficient for kernel diagnostics,
// kept deliberately small rather than pulling in fmt's full reflection
// machinery this early in boot.
func sprintf(format string, args ...any) string {
	out := make([]byte, 0, len(format))
	argi := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			out = append(out, format[i])
			continue
		}
		i++
		switch format[i] {
		case 's':
			if argi < len(args) {
				if s, ok := args[argi].(string); ok {
					out = append(out, s...)
				}
				argi++
			}
		case 'd':
			if argi < len(args) {
				if n, ok := args[argi].(int); ok {
					out = append(out, Uint32(uint32(n))...)
				}
				argi++
			}
		case 'x':
			if argi < len(args) {
				if n, ok := args[argi].(uint64); ok {
					out = append(out, Hex64(n)...)
				}
				argi++
			}
		default:
			out = append(out, '%', format[i])
		}
	}
	return string(out)
}

// ResetFunc is invoked by Panic after printing diagnostics, normally
// internal/psci.SystemReset. Set by cmd/kernel during boot so this
// package does not need to import internal/psci (which would otherwise
// import diag back, forming a cycle).
var ResetFunc func()

// Panic prints a fatal diagnostic and halts the CPU, attempting a PSCI
// reset if one was configured (spec §7: "Fatal conditions ... halt the
// offending CPU with a diagnostic and attempt a PSCI reset when
// configured"). It never returns.
func Panic(reason string) {
	Print("\r\nFATAL: ")
	Print(reason)
	Print("\r\n")
	if ResetFunc != nil {
		ResetFunc()
	}
	for {
		halt()
	}
}

// halt is called on every pass of Panic's final loop; arch.WFI parks the
// CPU until the next interrupt. It is a variable so tests can replace it.
var halt = func() { arch.WFI() }
