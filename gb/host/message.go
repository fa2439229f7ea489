// Package host defines the message types exchanged between the core and
// whatever external loop drives it (a terminal renderer, a headless test
// harness, anything else). The core never imports a specific host backend;
// it only ever produces Events and consumes Commands.
package host

import "github.com/dmg-core/gbcore/gb/memory"

// Event is something the core reports to its host. Host backends type-switch
// on the concrete type to decide what to do with it.
type Event interface{ isEvent() }

// DisplayUpdate carries one completed frame, copied by value so the host
// never aliases the PPU's live framebuffer.
type DisplayUpdate struct {
	Frame [160 * 144]uint32
}

// Finished reports that the driver's run loop has stopped, either because
// RunUntilComplete's stop condition was met or a Quit command was received.
type Finished struct{}

func (DisplayUpdate) isEvent() {}
func (Finished) isEvent()      {}

// Command is something the host asks the core to do. Sent on FromHost and
// drained non-blockingly at the start of every Step.
type Command interface{ isCommand() }

// RunStatus pauses or resumes the run loop.
type RunStatus struct{ Running bool }

// KeyDown/KeyUp forward joypad transitions.
type KeyDown struct{ Key memory.JoypadKey }
type KeyUp struct{ Key memory.JoypadKey }

// Step requests a single instruction be executed while paused.
type Step struct{}

// Reset requests the core restart from its post-BIOS state.
type Reset struct{}

// Quit requests the run loop exit and emit a Finished event.
type Quit struct{}

func (RunStatus) isCommand() {}
func (KeyDown) isCommand()   {}
func (KeyUp) isCommand()     {}
func (Step) isCommand()      {}
func (Reset) isCommand()     {}
func (Quit) isCommand()      {}
