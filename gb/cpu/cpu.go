// Package cpu implements fetch-decode-execute for the Sharp LR35902: the
// register file, the two 256-entry opcode tables, interrupt dispatch, and
// HALT/STOP handling.
package cpu

import (
	"log/slog"

	"github.com/dmg-core/gbcore/gb/addr"
)

// Bus is everything the CPU needs from the rest of the machine: byte-
// addressable read/write over the full 16-bit space. The CPU never
// distinguishes ROM from RAM from I/O; that routing is the bus's job.
type Bus interface {
	Read(address uint16) uint8
	Write(address uint16, value uint8)
}

// CPU holds the register file, the bus it executes against, and the small
// amount of state needed to dispatch interrupts and model HALT/STOP.
type CPU struct {
	bus Bus
	*registers

	// cycles is the machine-cycle clock since power-on; every instruction
	// handler's return value is added here.
	cycles uint64

	// currentOpcode is the byte most recently fetched at PC, kept around
	// for the unknown-opcode warning and for tests that inspect decode.
	currentOpcode uint16

	halted bool
	// haltBug marks that HALT was entered with IME false and an interrupt
	// already pending: the next fetch reads the same byte twice because
	// PC fails to advance once, reproducing the documented hardware quirk.
	haltBug bool

	stopped bool

	interruptsEnabled bool
	// eiPending models EI's one-instruction activation delay: IME flips
	// to true at the start of the Step after EI, once that Step's
	// interrupt check has passed, so no interrupt is dispatched before
	// the instruction following EI has executed.
	eiPending bool
}

// New returns a CPU wired to bus. The BIOS overlay flag is owned by the
// bus (the CPU only ever sees whatever byte the bus's Read returns at
// 0x0000-0x00FF); a CPU without a boot ROM loaded should call SkipBIOS.
func New(bus Bus) *CPU {
	return &CPU{
		bus:       bus,
		registers: newRegisters(),
	}
}

// SkipBIOS initializes the register file to the documented post-boot
// state, for running ROMs without a boot image. The bus must be told
// separately (via its own SkipBIOS/DisableOverlay) to stop serving the
// boot image at 0x0000-0x00FF.
func (c *CPU) SkipBIOS() {
	c.postBIOS()
}

// Cycles returns the machine-cycle clock since power-on.
func (c *CPU) Cycles() uint64 { return c.cycles }

// PC returns the current program counter, mostly for debugging/tests.
func (c *CPU) PC() uint16 { return c.pc }

// SP returns the current stack pointer.
func (c *CPU) SP() uint16 { return c.sp }

// Halted reports whether the CPU is in the HALT low-power state.
func (c *CPU) Halted() bool { return c.halted }

// IME reports the interrupt master enable flag.
func (c *CPU) IME() bool { return c.interruptsEnabled }

// Step services at most one pending interrupt, then fetches and executes
// one instruction (the handler's first instruction when an interrupt was
// dispatched), and returns the machine cycles consumed by both. While
// halted, a Step only checks for a wake-up (dispatching if IME is set)
// and consumes 1 cycle.
func (c *CPU) Step() int {
	if c.halted {
		if c.handleInterrupts() {
			c.halted = false
		}
		c.cycles++
		return 1
	}

	dispatchCycles := 0
	if interruptCycles, serviced := c.serviceInterrupt(); serviced {
		dispatchCycles = interruptCycles
	}

	if c.eiPending {
		c.eiPending = false
		c.interruptsEnabled = true
	}

	cycles := dispatchCycles + c.executeOne()
	c.cycles += uint64(cycles)
	return cycles
}

// serviceInterrupt is the dispatch half of handleInterrupts: it only acts
// (pushes PC, jumps, clears IF bit and IME) when IME is true.
func (c *CPU) serviceInterrupt() (cycles int, serviced bool) {
	if !c.interruptsEnabled {
		return 0, false
	}

	ie := c.bus.Read(addr.IE)
	iflag := c.bus.Read(addr.IF)
	pending := ie & iflag
	if pending == 0 {
		return 0, false
	}

	for bit := uint8(0); bit < 5; bit++ {
		if pending&(1<<bit) == 0 {
			continue
		}
		c.bus.Write(addr.IF, iflag&^(1<<bit))
		c.interruptsEnabled = false
		vector := interruptVectors[bit]
		c.call(vector)
		return 5, true
	}
	return 0, false
}

var interruptVectors = [5]uint16{0x40, 0x48, 0x50, 0x58, 0x60}

// handleInterrupts reports whether an interrupt is pending regardless of
// IME (used to wake from HALT) and, when IME is set, also performs the
// dispatch. It exists as its own method (distinct from serviceInterrupt)
// because HALT wake-up and interrupt dispatch are two different questions
// that happen to share the same pending computation.
func (c *CPU) handleInterrupts() bool {
	ie := c.bus.Read(addr.IE)
	iflag := c.bus.Read(addr.IF)
	pending := ie & iflag
	if pending == 0 {
		return false
	}
	if c.interruptsEnabled {
		c.serviceInterrupt()
	}
	return true
}

// executeOne fetches, decodes and executes a single instruction at PC.
func (c *CPU) executeOne() int {
	opcode := c.fetch8()
	c.currentOpcode = uint16(opcode)

	if opcode == 0xCB {
		cb := c.fetch8()
		c.currentOpcode = 0xCB00 | uint16(cb)
		handler := cbOpcodes[cb]
		if handler == nil {
			return c.unknownOpcode()
		}
		return handler(c)
	}

	handler := opcodes[opcode]
	if handler == nil {
		return c.unknownOpcode()
	}
	return handler(c)
}

func (c *CPU) unknownOpcode() int {
	slog.Warn("unknown opcode", "opcode", c.currentOpcode, "pc", c.pc-1)
	c.halted = true
	return 0
}

// fetch8 reads the byte at PC and advances PC by one. The halt-bug quirk
// makes this a no-op on PC advancement the one time it fires.
func (c *CPU) fetch8() uint8 {
	v := c.bus.Read(c.pc)
	if c.haltBug {
		c.haltBug = false
		return v
	}
	c.pc++
	return v
}

func (c *CPU) fetch16() uint16 {
	lo := c.fetch8()
	hi := c.fetch8()
	return uint16(hi)<<8 | uint16(lo)
}

// push writes a 16-bit value to the stack, high byte at the higher address
// per the CALL/PUSH worked example: after pushing v, mem[sp]=low(v),
// mem[sp+1]=high(v), with SP left pointing at the low byte.
func (c *CPU) push(v uint16) {
	c.sp--
	c.bus.Write(c.sp, uint8(v>>8))
	c.sp--
	c.bus.Write(c.sp, uint8(v))
}

func (c *CPU) pop() uint16 {
	lo := c.bus.Read(c.sp)
	c.sp++
	hi := c.bus.Read(c.sp)
	c.sp++
	return uint16(hi)<<8 | uint16(lo)
}

// call pushes PC and jumps to vector; used both by CALL opcodes and by
// interrupt dispatch.
func (c *CPU) call(vector uint16) {
	c.push(c.pc)
	c.pc = vector
}

// requestHalt is invoked by the HALT opcode handler. Wake-up uses the
// poll-based convention throughout: handleInterrupts recomputes
// IE & IF every step rather than comparing against a snapshot taken at
// HALT entry; both conventions are equivalent when IME is modeled
// correctly, and this one needs no extra state.
func (c *CPU) requestHalt() int {
	ie := c.bus.Read(addr.IE)
	iflag := c.bus.Read(addr.IF)
	pending := ie & iflag

	if !c.interruptsEnabled && pending != 0 {
		// HALT bug: CPU doesn't actually halt, but the next fetch repeats.
		c.haltBug = true
		return 1
	}

	c.halted = true
	return 1
}

// requestStop is invoked by the STOP opcode handler. On real hardware STOP
// freezes the CPU and DIV until a joypad transition occurs; the exact wake
// condition is subtle and cartridge-observable only in rare test ROMs, so
// this sets the Stopped flag for callers to check but otherwise treats any
// subsequent Step call as an implicit wake, matching the "logged but
// otherwise unimplemented" note left in the source material.
func (c *CPU) requestStop() int {
	slog.Warn("STOP executed", "pc", c.pc-1)
	c.stopped = true
	c.fetch8() // STOP is followed by a padding byte on real hardware
	return 1
}

// Stopped reports whether STOP has been executed; callers that want STOP
// to actually freeze CPU progress can check this before calling Step.
func (c *CPU) Stopped() bool { return c.stopped }

// Reset clears the CPU back to its post-BIOS state, skipping the boot ROM
// (used by the Reset host command).
func (c *CPU) Reset() {
	c.registers = newRegisters()
	c.postBIOS()
	c.cycles = 0
	c.halted = false
	c.haltBug = false
	c.stopped = false
	c.interruptsEnabled = false
	c.eiPending = false
}
