package audio

import (
	"testing"

	"github.com/dmg-core/gbcore/gb/addr"
	"github.com/stretchr/testify/assert"
)

func TestUnusedBitsReadAsOne(t *testing.T) {
	apu := New()
	assert.Equal(t, uint8(0x80), apu.ReadRegister(addr.NR10))
	assert.Equal(t, uint8(0xBF), apu.ReadRegister(addr.NR14))
	assert.Equal(t, uint8(0x00), apu.ReadRegister(addr.NR12))
}

func TestWaveRAMReadWrite(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.WaveRAMStart, 0xAB)
	assert.Equal(t, uint8(0xAB), apu.ReadRegister(addr.WaveRAMStart))
}

func TestMasterEnableGatesWrites(t *testing.T) {
	apu := New()

	// APU starts disabled: writes to channel registers are dropped.
	apu.WriteRegister(addr.NR11, 0x3F)
	assert.Equal(t, uint8(0x3F), apu.ReadRegister(addr.NR11), "unused bits should still read as 1 even while disabled")

	apu.WriteRegister(addr.NR52, 0x80)
	apu.WriteRegister(addr.NR11, 0xC0)
	assert.Equal(t, uint8(0xFF), apu.ReadRegister(addr.NR11))
}

func TestDisablingClearsRegisters(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)
	apu.WriteRegister(addr.NR11, 0xC0)
	assert.Equal(t, uint8(0xFF), apu.ReadRegister(addr.NR11))

	apu.WriteRegister(addr.NR52, 0x00)
	assert.Equal(t, uint8(0x3F), apu.ReadRegister(addr.NR11), "clearing NR52 should zero channel registers")
}

func TestNR52ReportsMasterEnable(t *testing.T) {
	apu := New()
	assert.Equal(t, uint8(0x70), apu.ReadRegister(addr.NR52))

	apu.WriteRegister(addr.NR52, 0x80)
	assert.Equal(t, uint8(0xF0), apu.ReadRegister(addr.NR52))
}
