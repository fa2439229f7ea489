package cpu

// cbOpcodes is the CB-prefixed 256-entry table: four families of eight rows
// each, every row replicated across the same reg8 operand order used by the
// primary table (B, C, D, E, H, L, (HL), A).
var cbOpcodes [256]Opcode

func init() {
	buildCBShiftRotate()
	buildCBBit()
	buildCBResSet()
}

// buildCBShiftRotate fills 0x00-0x3F: RLC, RRC, RL, RR, SLA, SRA, SWAP, SRL.
func buildCBShiftRotate() {
	ops := []func(*CPU, uint8) uint8{
		(*CPU).rlc, (*CPU).rrc, (*CPU).rl, (*CPU).rr,
		(*CPU).sla, (*CPU).sra, (*CPU).swap, (*CPU).srl,
	}
	for row, op := range ops {
		f := op
		for idx := uint8(0); idx < 8; idx++ {
			opcode := uint8(row)<<3 | idx
			r := idx
			cycles := 2
			if r == 6 {
				cycles = 4
			}
			cbOpcodes[opcode] = func(c *CPU) int {
				c.setReg8(r, f(c, c.reg8(r)))
				return cycles
			}
		}
	}
}

// buildCBBit fills 0x40-0x7F: BIT b,r for b in 0-7. Cycles are 2 for a
// register operand, 3 for (HL) (not 4: BIT (HL) reads but never writes
// back, so it skips the write half of the read-modify-write (HL) forms).
func buildCBBit() {
	for bit := uint8(0); bit < 8; bit++ {
		for idx := uint8(0); idx < 8; idx++ {
			opcode := 0x40 | bit<<3 | idx
			b, r := bit, idx
			cycles := 2
			if r == 6 {
				cycles = 3
			}
			cbOpcodes[opcode] = func(c *CPU) int {
				c.bit(b, c.reg8(r))
				return cycles
			}
		}
	}
}

// buildCBResSet fills 0x80-0xBF (RES b,r) and 0xC0-0xFF (SET b,r). Neither
// touches flags; cycles follow the same r/(HL) split as the shift family.
func buildCBResSet() {
	for bit := uint8(0); bit < 8; bit++ {
		for idx := uint8(0); idx < 8; idx++ {
			resOpcode := 0x80 | bit<<3 | idx
			setOpcode := 0xC0 | bit<<3 | idx
			b, r := bit, idx
			cycles := 2
			if r == 6 {
				cycles = 4
			}
			cbOpcodes[resOpcode] = func(c *CPU) int {
				c.setReg8(r, res(b, c.reg8(r)))
				return cycles
			}
			cbOpcodes[setOpcode] = func(c *CPU) int {
				c.setReg8(r, set(b, c.reg8(r)))
				return cycles
			}
		}
	}
}
