package jeebie

import (
	"github.com/dmg-core/gbcore/gb/addr"
	"github.com/dmg-core/gbcore/gb/cpu"
	"github.com/dmg-core/gbcore/gb/memory"
	"github.com/dmg-core/gbcore/gb/video"
)

// BusInterface defines the interface for component communication
type BusInterface interface {
	Read(address uint16) byte
	Write(address uint16, value byte)
	RequestInterrupt(interrupt addr.Interrupt)
}

// Bus provides centralized component communication
type Bus struct {
	CPU *cpu.CPU
	MMU *memory.MMU
	GPU *video.GPU
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Read(address uint16) byte {
	return b.MMU.Read(address)
}

func (b *Bus) Write(address uint16, value byte) {
	b.MMU.Write(address, value)
}

// Tick advances the MMU's timer and serial port by the given number of
// cycles. It does not advance the GPU.
func (b *Bus) Tick(cycles int) {
	b.MMU.Tick(cycles)
}

// TickInstruction executes one CPU step (an optional interrupt dispatch
// followed by one instruction) and ticks the rest of the machine by the
// cycles it consumed.
// Returns the number of cycles consumed.
func (b *Bus) TickInstruction() int {
	cycles := b.CPU.Step()

	b.GPU.Tick(cycles)
	b.MMU.Tick(cycles)

	return cycles
}

func (b *Bus) RequestInterrupt(interrupt addr.Interrupt) {
	b.MMU.RequestInterrupt(interrupt)
}

func (b *Bus) ReadBit(index uint8, address uint16) bool {
	return b.MMU.ReadBit(index, address)
}
