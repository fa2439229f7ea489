// Package jeebie is the root of the emulator core: it wires the CPU, MMU
// and GPU together behind a single Emulator type and drives them one
// machine-cycle batch at a time.
package jeebie

import (
	"crypto/md5"
	"fmt"
	"log/slog"
	"os"

	"github.com/dmg-core/gbcore/gb/cpu"
	"github.com/dmg-core/gbcore/gb/host"
	"github.com/dmg-core/gbcore/gb/memory"
	"github.com/dmg-core/gbcore/gb/video"
)

// cyclesPerFrame is the length of one 154-scanline frame in the machine
// cycles Step returns and the GPU counts: 154 lines of 456 cycles each.
const cyclesPerFrame = 70224

// Emulator is the root struct and entry point for running the emulation.
// It owns the CPU/MMU/GPU triple through a Bus, the host message channels
// described for the driver loop, and the bookkeeping a headless test
// harness needs to decide when a ROM has finished producing new output.
type Emulator struct {
	bus *Bus

	ToHost   chan host.Event
	FromHost chan host.Command

	running bool

	frameCount       uint64
	instructionCount uint64

	// completion detection, configured via ConfigureCompletionDetection and
	// consulted by RunUntilComplete. A ROM is considered "done" once its
	// rendered frame hash repeats minLoopCount times in a row (it settled
	// into a steady screen, the common end state of Blargg-style test
	// ROMs) or once maxFrames is reached, whichever comes first.
	maxFrames    uint64
	minLoopCount int
	lastHash     [md5.Size]byte
	repeatCount  int
}

func (e *Emulator) init(mem *memory.MMU) {
	e.bus = &Bus{
		CPU: cpu.New(mem),
		MMU: mem,
		GPU: video.NewGpu(mem),
	}
	e.ToHost = make(chan host.Event, 1)
	e.FromHost = make(chan host.Command, 16)
	e.running = true
}

// New creates a new emulator instance with no cartridge loaded.
func New() *Emulator {
	e := &Emulator{}
	e.init(memory.NewWithCartridge(memory.NewCartridge()))
	return e
}

// NewWithFile creates a new emulator instance and loads the ROM at path.
func NewWithFile(path string) (*Emulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cart, err := memory.NewCartridgeWithData(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	slog.Info("loaded cartridge", "path", path, "size", len(data))

	e := &Emulator{}
	e.init(memory.NewWithCartridge(cart))
	return e, nil
}

// ConfigureCompletionDetection sets the bounds RunUntilComplete runs
// within: a hard frame cap, and (when minLoopCount > 0) an early exit once
// the rendered frame stops changing for that many consecutive frames.
func (e *Emulator) ConfigureCompletionDetection(maxFrames uint64, minLoopCount int) {
	e.maxFrames = maxFrames
	e.minLoopCount = minLoopCount
	e.repeatCount = 0
}

// RunUntilComplete runs whole frames until ConfigureCompletionDetection's
// stop condition is met, with no host attached. Intended for headless test
// harnesses driving a ROM to a known end state.
func (e *Emulator) RunUntilComplete() {
	for e.maxFrames == 0 || e.frameCount < e.maxFrames {
		e.RunFrame()

		if e.minLoopCount <= 0 {
			continue
		}

		hash := md5.Sum(e.bus.GPU.GetFrameBuffer().ToGrayscale())
		if hash == e.lastHash {
			e.repeatCount++
		} else {
			e.repeatCount = 0
			e.lastHash = hash
		}

		if e.repeatCount >= e.minLoopCount {
			slog.Debug("completion detected", "frame", e.frameCount, "repeats", e.repeatCount)
			break
		}
	}
	e.emit(host.Finished{})
}

// RunFrame drains any pending host commands, then steps the machine until
// one full frame (70224 cycles) has elapsed, pushing exactly one
// DisplayUpdate event to ToHost for it. A Quit command ends the frame
// early and marks the emulator no longer running; callers driving an
// interactive loop should check Running() afterward.
func (e *Emulator) RunFrame() {
	e.drainCommands()
	if !e.running {
		return
	}

	cycles := 0
	for cycles < cyclesPerFrame {
		e.drainCommands()
		if !e.running {
			return
		}

		cycles += e.bus.TickInstruction()
		e.instructionCount++
	}

	e.frameCount++
	e.emit(host.DisplayUpdate{Frame: e.snapshotFrame()})
}

func (e *Emulator) drainCommands() {
	for {
		select {
		case cmd := <-e.FromHost:
			e.handleCommand(cmd)
		default:
			return
		}
	}
}

func (e *Emulator) handleCommand(cmd host.Command) {
	switch c := cmd.(type) {
	case host.RunStatus:
		e.running = c.Running
	case host.KeyDown:
		e.bus.MMU.HandleKeyPress(c.Key)
	case host.KeyUp:
		e.bus.MMU.HandleKeyRelease(c.Key)
	case host.Step:
		e.bus.TickInstruction()
		e.instructionCount++
	case host.Reset:
		e.Reset()
	case host.Quit:
		e.running = false
		e.emit(host.Finished{})
	}
}

// emit sends an event to the host without blocking; a host that isn't
// draining ToHost simply misses stale frames rather than stalling the core.
func (e *Emulator) emit(evt host.Event) {
	select {
	case e.ToHost <- evt:
	default:
	}
}

func (e *Emulator) snapshotFrame() [160 * 144]uint32 {
	var out [160 * 144]uint32
	copy(out[:], e.bus.GPU.GetFrameBuffer().ToSlice())
	return out
}

// Running reports whether the driver loop should keep calling RunFrame.
func (e *Emulator) Running() bool { return e.running }

// GetCurrentFrame returns the live framebuffer the GPU is rendering into.
func (e *Emulator) GetCurrentFrame() *video.FrameBuffer {
	return e.bus.GPU.GetFrameBuffer()
}

// HandleKeyPress forwards input directly to the MMU, bypassing the host
// command channel - used by callers (and tests) that don't run a full
// host loop.
func (e *Emulator) HandleKeyPress(key memory.JoypadKey) {
	e.bus.MMU.HandleKeyPress(key)
}

// HandleKeyRelease forwards input directly to the MMU.
func (e *Emulator) HandleKeyRelease(key memory.JoypadKey) {
	e.bus.MMU.HandleKeyRelease(key)
}

func (e *Emulator) GetCPU() *cpu.CPU {
	return e.bus.CPU
}

func (e *Emulator) GetMMU() *memory.MMU {
	return e.bus.MMU
}

func (e *Emulator) GetInstructionCount() uint64 {
	return e.instructionCount
}

func (e *Emulator) GetFrameCount() uint64 {
	return e.frameCount
}

// Reset restarts the CPU from its post-BIOS state, used by the host Reset
// command. The cartridge and its RAM are left untouched.
func (e *Emulator) Reset() {
	e.bus.CPU.Reset()
	e.frameCount = 0
	e.instructionCount = 0
	e.repeatCount = 0
}
