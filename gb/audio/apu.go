// Package audio implements the register-level surface of the DMG APU.
// No channel in this core produces a sample: there is no frame sequencer,
// no mixer, and no synthesis of any kind. What is modeled is exactly what a
// ROM can observe through reads and writes - NR10-NR52, wave RAM, and the
// master-enable gate on NR52 that clears every other register when cleared.
package audio

import "github.com/dmg-core/gbcore/gb/addr"

// waveRAMSize is the size of wave pattern RAM in bytes (16 bytes = 32 nibbles).
const waveRAMSize = 16

// readMask ORs in the bits that always read as 1 regardless of what was
// written, per the documented "unused bits" table for each register. NR52's
// mask additionally covers the three unused bits between the master-enable
// bit and the channel-status nibble.
var readMask = map[uint16]uint8{
	addr.NR10: 0x80,
	addr.NR11: 0x3F,
	addr.NR12: 0x00,
	addr.NR13: 0xFF,
	addr.NR14: 0xBF,
	addr.NR21: 0x3F,
	addr.NR22: 0x00,
	addr.NR23: 0xFF,
	addr.NR24: 0xBF,
	addr.NR30: 0x7F,
	addr.NR31: 0xFF,
	addr.NR32: 0x9F,
	addr.NR33: 0xFF,
	addr.NR34: 0xBF,
	addr.NR41: 0xFF,
	addr.NR42: 0x00,
	addr.NR43: 0x00,
	addr.NR44: 0xBF,
	addr.NR50: 0x00,
	addr.NR51: 0x00,
	addr.NR52: 0x70,
}

// APU holds the raw NRxx registers and wave RAM. It implements enough of the
// real chip's write-gating (NR52 bit 7) to satisfy ROMs that probe it before
// trusting audio output, without ever producing a sample.
type APU struct {
	regs    map[uint16]uint8
	waveRAM [waveRAMSize]uint8
	enabled bool // NR52 bit 7
}

// New creates an APU with all registers zeroed, matching power-on state.
func New() *APU {
	return &APU{regs: make(map[uint16]uint8)}
}

// ReadRegister returns the stored value for a sound register, OR'd with its
// always-1 bits. NR52 additionally reports the master-enable bit; channel
// status bits 0-3 always read 0 since no channel ever triggers.
func (a *APU) ReadRegister(address uint16) uint8 {
	if address >= addr.WaveRAMStart && address <= addr.WaveRAMEnd {
		return a.waveRAM[address-addr.WaveRAMStart]
	}
	if address == addr.NR52 {
		var v uint8
		if a.enabled {
			v = 0x80
		}
		return v | readMask[addr.NR52]
	}
	return a.regs[address] | readMask[address]
}

// WriteRegister stores a write to a sound register. While the APU is
// disabled (NR52 bit 7 clear), writes to anything but NR52 and wave RAM are
// dropped, matching real hardware's behavior of ignoring the sound block
// while powered off. Clearing bit 7 of NR52 zeroes every other register.
func (a *APU) WriteRegister(address uint16, value uint8) {
	if address >= addr.WaveRAMStart && address <= addr.WaveRAMEnd {
		a.waveRAM[address-addr.WaveRAMStart] = value
		return
	}

	if address == addr.NR52 {
		wasEnabled := a.enabled
		a.enabled = value&0x80 != 0
		if wasEnabled && !a.enabled {
			a.regs = make(map[uint16]uint8)
		}
		return
	}

	if !a.enabled {
		return
	}

	a.regs[address] = value
}
