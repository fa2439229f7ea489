// Package render implements a terminal host backend: it paints the
// Game Boy's 160x144 framebuffer as half-block cells and turns keystrokes
// into joypad commands, using tcell for portable terminal I/O.
package render

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/dmg-core/gbcore/gb"
	"github.com/dmg-core/gbcore/gb/host"
	"github.com/dmg-core/gbcore/gb/memory"
	"github.com/dmg-core/gbcore/gb/video"
)

const (
	width  = video.FramebufferWidth
	height = video.FramebufferHeight

	frameInterval = time.Second / 60
)

// Renderer drives an Emulator interactively through a terminal screen.
type Renderer struct {
	screen tcell.Screen
}

// New allocates and initializes the terminal screen.
func New() (*Renderer, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %w", err)
	}

	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	screen.Clear()

	return &Renderer{screen: screen}, nil
}

// Run drives emu until the terminal reports a quit key or the emulator's
// run loop stops itself, then tears down the screen.
func (r *Renderer) Run(emu *jeebie.Emulator) error {
	defer r.screen.Fini()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for emu.Running() {
		r.pollInput(emu)
		emu.RunFrame()

		select {
		case evt := <-emu.ToHost:
			if update, ok := evt.(host.DisplayUpdate); ok {
				r.draw(update.Frame)
			}
		default:
		}

		<-ticker.C
	}

	return nil
}

func (r *Renderer) pollInput(emu *jeebie.Emulator) {
	for r.screen.HasPendingEvent() {
		switch ev := r.screen.PollEvent().(type) {
		case *tcell.EventKey:
			r.handleKey(emu, ev)
		case *tcell.EventResize:
			r.screen.Sync()
		}
	}
}

func (r *Renderer) handleKey(emu *jeebie.Emulator, ev *tcell.EventKey) {
	if ev.Key() == tcell.KeyCtrlC || ev.Key() == tcell.KeyEscape {
		emu.FromHost <- host.Quit{}
		return
	}

	key, ok := keyMapping(ev)
	if !ok {
		return
	}

	emu.FromHost <- host.KeyDown{Key: key}
	emu.FromHost <- host.KeyUp{Key: key}
}

// keyMapping is deliberately a single tap-then-release pair rather than
// press/hold tracking: tcell delivers one EventKey per physical keypress
// with no separate release event, so a held button would need OS-level key
// repeat, which most terminals throttle far below 60Hz anyway.
func keyMapping(ev *tcell.EventKey) (memory.JoypadKey, bool) {
	switch ev.Key() {
	case tcell.KeyUp:
		return memory.JoypadUp, true
	case tcell.KeyDown:
		return memory.JoypadDown, true
	case tcell.KeyLeft:
		return memory.JoypadLeft, true
	case tcell.KeyRight:
		return memory.JoypadRight, true
	case tcell.KeyEnter:
		return memory.JoypadStart, true
	case tcell.KeyTab:
		return memory.JoypadSelect, true
	}

	switch ev.Rune() {
	case 'z':
		return memory.JoypadA, true
	case 'x':
		return memory.JoypadB, true
	}

	return 0, false
}

func (r *Renderer) draw(frame [width * height]uint32) {
	termWidth, termHeight := r.screen.Size()
	if termWidth < width || termHeight < height/2 {
		r.screen.Clear()
		msg := fmt.Sprintf("terminal too small, need at least %dx%d", width, height/2)
		style := tcell.StyleDefault.Foreground(tcell.ColorRed)
		for i, ch := range msg {
			r.screen.SetContent(i, 0, ch, nil, style)
		}
		r.screen.Show()
		return
	}

	for y := 0; y < height; y += 2 {
		for x := 0; x < width; x++ {
			top := pixelToShade(frame[y*width+x])
			bottom := 3
			if y+1 < height {
				bottom = pixelToShade(frame[(y+1)*width+x])
			}

			ch, fg, bg := halfBlockCell(top, bottom)
			r.screen.SetContent(x, y/2, ch, nil, tcell.StyleDefault.Foreground(fg).Background(bg))
		}
	}

	r.screen.Show()
}

var shadeColors = []tcell.Color{
	tcell.ColorBlack,
	tcell.ColorGray,
	tcell.ColorSilver,
	tcell.ColorWhite,
}

func pixelToShade(pixel uint32) int {
	switch video.GBColor(pixel) {
	case video.BlackColor:
		return 0
	case video.DarkGreyColor:
		return 1
	case video.LightGreyColor:
		return 2
	default:
		return 3
	}
}

// halfBlockCell packs two vertically-stacked pixels into one terminal cell
// using the full and upper-half block glyphs, halving the effective cell count
// needed to render the screen at 1:1 pixel scale.
func halfBlockCell(top, bottom int) (rune, tcell.Color, tcell.Color) {
	if top == bottom {
		return '█', shadeColors[top], tcell.ColorDefault
	}
	return '▀', shadeColors[top], shadeColors[bottom]
}
