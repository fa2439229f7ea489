package video

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/dmg-core/gbcore/gb/addr"
	"github.com/dmg-core/gbcore/gb/bit"
	"github.com/dmg-core/gbcore/gb/memory"
)

// GpuMode represents the PPU's current rendering stage.
// These values match the STAT register bits 1-0.
type GpuMode int

const (
	// hblankMode (Mode 0): Horizontal blank period, CPU can access VRAM/OAM
	hblankMode GpuMode = 0
	// vblankMode (Mode 1): Vertical blank period, CPU can access VRAM/OAM
	vblankMode GpuMode = 1
	// oamReadMode (Mode 2): PPU is reading OAM, CPU cannot access OAM
	oamReadMode GpuMode = 2
	// vramReadMode (Mode 3): PPU is reading VRAM, CPU cannot access VRAM/OAM
	vramReadMode GpuMode = 3
)

// Mode durations, in machine cycles, per the four-phase state machine: an
// OAM scan, a pixel transfer, and a horizontal blank make up one of the 144
// visible scanlines; a V-Blank pseudo-line lasts exactly as long as one
// visible scanline (oam+vram+hblank), repeated for vblankPseudoLines lines.
const (
	oamScanlineCycles  = 80
	vramScanlineCycles = 172
	hblankCycles       = 204
	vblankLineCycles   = oamScanlineCycles + vramScanlineCycles + hblankCycles
	vblankPseudoLines  = 10
)

type GPU struct {
	memory        *memory.MMU
	framebuffer   *FrameBuffer
	bgPixelBuffer []byte // stores background/window pixel colors for sprite priority

	// PPU state - these map to Game Boy hardware registers/behavior
	mode                 GpuMode // current PPU mode (matches STAT bits 1-0)
	line                 int     // current scanline (LY register, 0-153)
	cycles               int     // cycles accumulated in the current mode
	vBlankLine           int     // which of the 10 VBlank pseudo-lines we're on
	pixelCounter         int     // pixel counter within scanline, exposed for tests
	isScanLineTransfered bool    // whether current scanline has been rendered
	windowLine           int     // internal window line counter (0-143)
}

func NewGpu(memory *memory.MMU) *GPU {
	fb := NewFrameBuffer()
	gpu := &GPU{
		framebuffer:   fb,
		memory:        memory,
		mode:          vblankMode,
		bgPixelBuffer: make([]byte, FramebufferSize),

		line: 144,
	}

	// Log initial LCD state
	lcdc := memory.Read(0xFF40)
	bgp := memory.Read(0xFF47) // Background palette
	slog.Debug("GPU initialized", "LCDC", fmt.Sprintf("0x%02X", lcdc), "LCD_enabled", (lcdc&0x80) != 0, "BGP", fmt.Sprintf("0x%02X", bgp))

	return gpu
}

func (g *GPU) GetFrameBuffer() *FrameBuffer {
	return g.framebuffer
}

// Tick advances the four-mode PPU state machine by cycles machine cycles.
// The display-enable bit (LCDC bit 7) short-circuits the whole step: a
// disabled LCD freezes mode and LY exactly where they are, rather than
// merely skipping the pixel transfer.
func (g *GPU) Tick(cycles int) {
	if g.readLCDCVariable(lcdDisplayEnable) != 1 {
		return
	}

	g.cycles += cycles

	switch g.mode {
	case oamReadMode:
		if g.cycles < oamScanlineCycles {
			return
		}
		g.cycles -= oamScanlineCycles
		g.isScanLineTransfered = false
		g.setMode(vramReadMode)

	case vramReadMode:
		if !g.isScanLineTransfered {
			g.drawScanline()
			g.isScanLineTransfered = true
		}
		if g.cycles < vramScanlineCycles {
			return
		}
		g.cycles -= vramScanlineCycles
		g.pixelCounter = 0
		g.setMode(hblankMode)
		if g.memory.ReadBit(statHblankIrq, addr.STAT) {
			g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
		}

	case hblankMode:
		if g.cycles < hblankCycles {
			return
		}
		g.cycles -= hblankCycles
		g.setLY(g.line + 1)

		if g.line == 144 {
			g.setMode(vblankMode)
			g.vBlankLine = 0
			g.windowLine = 0
			g.memory.RequestInterrupt(addr.VBlankInterrupt)
			if g.memory.ReadBit(statVblankIrq, addr.STAT) {
				g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
			}
			return
		}
		g.setMode(oamReadMode)
		if g.memory.ReadBit(statOamIrq, addr.STAT) {
			g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
		}

	case vblankMode:
		if g.cycles < vblankLineCycles {
			return
		}
		g.cycles -= vblankLineCycles

		if g.vBlankLine == vblankPseudoLines-1 {
			g.setLY(0)
			g.setMode(oamReadMode)
			if g.memory.ReadBit(statOamIrq, addr.STAT) {
				g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
			}
			return
		}
		g.vBlankLine++
		g.setLY(144 + g.vBlankLine)
	}
}

func (g *GPU) drawScanline() {
	lcdEnabled := g.readLCDCVariable(lcdDisplayEnable) == 1

	if !lcdEnabled {
		// Clear the current line when LCD is disabled
		lineWidth := g.line * FramebufferWidth
		for i := 0; i < FramebufferWidth; i++ {
			g.framebuffer.buffer[lineWidth+i] = 0xFFFFFFFF // White
		}
		return
	}

	// Draw all layers in correct order: Background -> Window -> Sprites
	g.drawBackground()
	g.drawWindow()
	g.drawSprites()
}

// fetchBGTile decodes the tile named by a tilemap byte into a full Tile,
// honoring the signed/unsigned addressing mode LCDC bit 4 selects.
func (g *GPU) fetchBGTile(tilesAddr uint16, tileValue byte, signed bool) Tile {
	var tileAddr uint16
	if signed {
		tileAddr = uint16(int(tilesAddr) + int(int8(tileValue))*16)
	} else {
		tileAddr = tilesAddr + uint16(tileValue)*16
	}
	return FetchTileWithIndex(g.memory, tileAddr, int(tileValue))
}

func (g *GPU) drawBackground() {
	lineWidth := g.line * FramebufferWidth
	backgroundEnabled := g.readLCDCVariable(bgDisplay) == 1

	if !backgroundEnabled {
		// when background is disabled, display color 0 from BGP palette
		palette := g.memory.Read(addr.BGP)
		color0 := palette & 0x03 // extract bits 1:0 for color index 0
		displayColor := uint32(ByteToColor(color0))

		for i := range FramebufferWidth {
			g.framebuffer.buffer[lineWidth+i] = displayColor
			g.bgPixelBuffer[lineWidth+i] = 0 // background is disabled, so BG priority is 0
		}
		return
	}

	useSignedTileSet := g.readLCDCVariable(bgWindowTileDataSelect) == 0
	useTileMapZero := g.readLCDCVariable(bgTileMapDisplaySelect) == 0

	tilesAddr := addr.TileData0 // unsigned mode
	if useSignedTileSet {
		tilesAddr = addr.TileData2 // signed mode
	}

	tileMapAddr := addr.TileMap1
	if useTileMapZero {
		tileMapAddr = addr.TileMap0
	}

	scrollX := g.memory.Read(addr.SCX)
	scrollY := g.memory.Read(addr.SCY)
	lineScrolled := (g.line + int(scrollY)) & 0xFF // Y coordinate wraps at 256
	mapRow := (lineScrolled / 8) * 32
	tilePixelY := lineScrolled % 8

	palette := g.memory.Read(addr.BGP)

	// Tiles are only re-fetched when the scanline crosses into a new map
	// column; every screen pixel inside the same 8-wide tile reuses it.
	currentMapTileX := -1
	var tile Tile

	// Render the entire scanline (160 pixels)
	for screenPixelX := 0; screenPixelX < FramebufferWidth; screenPixelX++ {
		mapPixelX := (screenPixelX + int(scrollX)) & 0xFF
		mapTileX := mapPixelX / 8
		mapTileXOffset := mapPixelX % 8

		if mapTileX != currentMapTileX {
			mapTileValue := g.memory.Read(tileMapAddr + uint16(mapRow+mapTileX))
			tile = g.fetchBGTile(tilesAddr, mapTileValue, useSignedTileSet)
			currentMapTileX = mapTileX
		}

		pixel := tile.GetPixel(mapTileXOffset, tilePixelY)
		pixelPosition := lineWidth + screenPixelX

		color := (palette >> (uint8(pixel) * 2)) & 0x03
		g.framebuffer.buffer[pixelPosition] = uint32(ByteToColor(color))
		g.bgPixelBuffer[pixelPosition] = color // just use the color value (0-3) for the buffer
	}
}

func (g *GPU) drawWindow() {
	if g.windowLine > 143 {
		return
	}

	windowEnabled := g.readLCDCVariable(windowDisplayEnable) == 1
	if !windowEnabled {
		return
	}

	wx := g.memory.Read(addr.WX) - 7
	wy := g.memory.Read(addr.WY)

	if wx > 159 {
		return
	}

	if wy > 143 || int(wy) > g.line {
		return
	}

	useSignedTileSet := g.readLCDCVariable(bgWindowTileDataSelect) == 0
	useTileMapZero := g.readLCDCVariable(windowTileMapSelect) == 0

	tilesAddr := addr.TileData0 // unsigned mode
	if useSignedTileSet {
		tilesAddr = addr.TileData2 // signed mode
	}

	tileMapAddr := addr.TileMap1
	if useTileMapZero {
		tileMapAddr = addr.TileMap0
	}

	lineAdj := g.windowLine

	mapRow := (lineAdj / 8) * 32
	tilePixelY := lineAdj & 7
	lineWidth := g.line * FramebufferWidth
	palette := g.memory.Read(addr.BGP)

	endTileX := (FramebufferWidth - int(wx) + 7) / 8 // Calculate how many tiles are visible
	if endTileX > 32 {
		endTileX = 32
	}

	for x := 0; x < endTileX; x++ {
		tileValue := g.memory.Read(tileMapAddr + uint16(mapRow+x))
		tile := g.fetchBGTile(tilesAddr, tileValue, useSignedTileSet)
		xOffset := x * 8

		for pixelX := 0; pixelX < 8; pixelX++ {
			bufferX := xOffset + pixelX + int(wx)

			// Only draw pixels that are within the window area and on screen
			if bufferX < int(wx) || bufferX >= FramebufferWidth {
				continue
			}

			position := lineWidth + bufferX

			// Safety check to prevent buffer overflow
			if position >= len(g.framebuffer.buffer) {
				continue
			}

			pixel := tile.GetPixel(pixelX, tilePixelY)
			color := (palette >> (uint8(pixel) * 2)) & 0x03
			g.framebuffer.buffer[position] = uint32(ByteToColor(color))
			g.bgPixelBuffer[position] = color
		}
	}
	g.windowLine++
}

// oamSprite is one of the 40 OAM entries, read out during scanSpriteLine.
type oamSprite struct {
	oamIndex int
	y, x     int
	tile     byte
	flags    byte
}

// scanSpriteLine performs the OAM selection phase for the current line
// (Pan Docs: https://gbdev.io/pandocs/OAM.html#selection-priority): OAM is
// scanned in index order from 0xFE00, comparing LY against each sprite's Y
// position. Only Y affects selection - a sprite entirely off the left/right
// edge still counts toward the 10-sprite-per-line hardware limit.
func (g *GPU) scanSpriteLine(spriteHeight int) []oamSprite {
	var sprites []oamSprite
	for i := 0; i < 40; i++ {
		oamAddr := addr.OAMStart + uint16(i*4)
		y := int(g.memory.Read(oamAddr)) - 16 // Y=0 means the sprite sits at Y=-16
		if y > g.line || y+spriteHeight <= g.line {
			continue
		}
		sprites = append(sprites, oamSprite{
			oamIndex: i,
			y:        y,
			x:        int(g.memory.Read(oamAddr+1)) - 8, // X=0 means the sprite sits at X=-8
			tile:     g.memory.Read(oamAddr + 2),
			flags:    g.memory.Read(oamAddr + 3),
		})
		if len(sprites) == 10 {
			break
		}
	}
	return sprites
}

// drawSprites composites the sprites selected for the current scanline onto
// the framebuffer. DMG priority (lower X wins; ties broken by lower OAM
// index) is enforced by painting in reverse priority order and letting a
// higher-priority sprite's opaque pixels simply overwrite a lower-priority
// sprite's, rather than tracking per-pixel ownership up front.
func (g *GPU) drawSprites() {
	if g.readLCDCVariable(spriteDisplayEnable) != 1 {
		return
	}

	spriteHeight := 8
	if g.readLCDCVariable(spriteSize) == 1 {
		spriteHeight = 16
	}

	sprites := g.scanSpriteLine(spriteHeight)

	// paint lowest priority first: higher X, then higher OAM index
	sort.SliceStable(sprites, func(i, j int) bool {
		if sprites[i].x != sprites[j].x {
			return sprites[i].x > sprites[j].x
		}
		return sprites[i].oamIndex > sprites[j].oamIndex
	})

	lineWidth := g.line * FramebufferWidth
	tileMask := byte(0xFF)
	if spriteHeight == 16 {
		tileMask = 0xFE
	}

	for _, s := range sprites {
		flipX := bit.IsSet(5, s.flags)
		flipY := bit.IsSet(6, s.flags)
		aboveBG := !bit.IsSet(7, s.flags)
		palette := addr.OBP0
		if bit.IsSet(4, s.flags) {
			palette = addr.OBP1
		}

		rowInSprite := g.line - s.y
		if flipY {
			rowInSprite = spriteHeight - 1 - rowInSprite
		}
		// sprites always use unsigned tile addressing from 0x8000; an 8x16
		// sprite's tile index is rounded down to its top tile, and the
		// bottom tile follows it directly.
		tileIndex := s.tile & tileMask
		tileIndex += byte(rowInSprite / 8)
		tile := FetchTile(g.memory, addr.TileData0+uint16(tileIndex)*16)
		row := tile.Rows[rowInSprite%8]

		for px := 0; px < 8; px++ {
			bufferX := s.x + px
			if bufferX < 0 || bufferX >= FramebufferWidth {
				continue
			}

			var pixel int
			if flipX {
				pixel = row.GetPixelFlipped(px)
			} else {
				pixel = row.GetPixel(px)
			}
			if pixel == 0 {
				continue // color 0 is always transparent for sprites
			}

			position := lineWidth + bufferX
			if !aboveBG && g.bgPixelBuffer[position] != 0 {
				continue // sprite is behind a non-transparent background pixel
			}

			color := (g.memory.Read(palette) >> uint(pixel*2)) & 0x03
			g.framebuffer.buffer[position] = uint32(ByteToColor(color))
		}
	}
}

// LCD Stat (Status) Register bit values
// Bit 7 - unused
// Bit 6 - Interrupt based on LYC to LY comparison (based on bit 2)
// Bit 5 - Interrupt when Mode 10 (oamReadMode)
// Bit 4 - Interrupt when Mode 01 (vblankMode)
// Bit 3 - Interrupt when Mode 00 (hblankMode)
// Bit 2 - condition for triggering LYC/LY (0=LYC != LY, 1=LYC == LY)
// Bit 1,0 - represents the current GPU mode
//   - 00 -> hblankMode
//   - 01 -> vblankMode
//   - 10 -> oamReadMode
//   - 11 -> vramReadMode
type statFlag uint8

const (
	statLycIrq       statFlag = 6
	statOamIrq                = 5
	statVblankIrq             = 4
	statHblankIrq             = 3
	statLycCondition          = 2
	statModeHigh              = 1
	statModeLow               = 0
)

// LCDC (LCD Control) Register bit values
// Bit 7 - LCD Display Enable (0=Off, 1=On)
// Bit 6 - Window Tile Map Display Select (0=9800-9BFF, 1=9C00-9FFF)
// Bit 5 - Window Display Enable (0=Off, 1=On)
// Bit 4 - BG & Window Tile Data Select (0=8800-97FF, 1=8000-8FFF)
// Bit 3 - BG Tile Map Display Select (0=9800-9BFF, 1=9C00-9FFF)
// Bit 2 - OBJ (Sprite) Size (0=8x8, 1=8x16)
// Bit 1 - OBJ (Sprite) Display Enable (0=Off, 1=On)
// Bit 0 - BG Display (0=Off, 1=On)
type lcdcFlag uint8

const (
	lcdDisplayEnable       lcdcFlag = 7
	windowTileMapSelect             = 6
	windowDisplayEnable             = 5
	bgWindowTileDataSelect          = 4
	bgTileMapDisplaySelect          = 3
	spriteSize                      = 2
	spriteDisplayEnable             = 1
	bgDisplay                       = 0
)

func (g *GPU) readLCDCVariable(flag lcdcFlag) byte {
	if bit.IsSet(uint8(flag), g.memory.Read(addr.LCDC)) {
		return 1
	}

	return 0
}

func (g *GPU) compareLYToLYC() {
	ly := g.memory.Read(addr.LY)
	lyc := g.memory.Read(addr.LYC)
	stat := g.memory.Read(addr.STAT)

	if ly == lyc {
		stat = bit.Set(statLycCondition, stat)
		if bit.IsSet(uint8(statLycIrq), stat) {
			g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
		}
	} else {
		stat = bit.Reset(statLycCondition, stat)
	}

	g.memory.Write(addr.STAT, stat)
}

// setMode sets the two bits (1,0) in the STAT register
// according to the selected GPU mode.
func (g *GPU) setMode(mode GpuMode) {
	g.mode = mode
	stat := g.memory.Read(addr.STAT)
	stat = stat&0xFC | byte(g.mode)
	g.memory.Write(addr.STAT, stat)
}

// setLY updates the current scanline (LY register).
// This also triggers interrupts if necessary (LY/LYC comparison)
func (g *GPU) setLY(line int) {
	g.line = line
	g.memory.Write(addr.LY, byte(g.line))
	g.compareLYToLYC()
}
