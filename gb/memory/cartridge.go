package memory

import (
	"errors"
	"fmt"

	"github.com/dmg-core/gbcore/gb/bit"
)

const titleLength = 11

const (
	entryPointAddress       = 0x100
	logoAddress             = 0x104
	titleAddress            = 0x134
	manufacturerCodeAddress = 0x13F
	cgbFlagAddress          = 0x143
	newLicenseCodeAddress   = 0x144
	sgbFlagAddress          = 0x146
	cartridgeTypeAddress    = 0x147
	romSizeAddress          = 0x148
	ramSizeAddress          = 0x149
	destinationCodeAddress  = 0x14A
	oldLicenseCodeAddress   = 0x14B
	versionNumberAddress    = 0x14C
	headerChecksumAddress   = 0x14D
	globalChecksumAddress   = 0x14E
)

// MBCType identifies which bank-switching controller a cartridge declares at
// offset 0x0147. Only the variants this core implements have a named value;
// anything else decodes to MBCUnknownType and is rejected at load time.
type MBCType uint8

const (
	NoMBCType MBCType = iota
	MBC1Type
	MBC3Type
	MBC5Type
	MBCUnknownType
)

// Sentinel load-time error kinds. These are the only errors the cartridge
// loader returns; everything else the core does at runtime is silent
// halt-and-log, per the error handling design.
var (
	ErrUnsupportedMapper = errors.New("unsupported mapper")
	ErrRomTooLarge       = errors.New("rom too large for mapper")
	ErrInvalidRamSize    = errors.New("invalid ram size for mapper")
)

// Cartridge holds the raw ROM image and the header fields the core derives
// mapper selection, RAM sizing, and battery/RTC/rumble presence from.
type Cartridge struct {
	data           []byte
	title          string
	headerChecksum uint16
	globalChecksum uint16
	version        uint8
	cartType       uint8
	romSizeCode    uint8
	ramSizeCode    uint8

	mbcType      MBCType
	ramSize      uint32 // derived external RAM size in bytes
	ramBankCount uint8  // ramSize / 0x2000, rounded up to at least covers ramSize
	hasBattery   bool
	hasRTC       bool
	hasRumble    bool
}

// NewCartridge creates an empty cartridge with no mapper, useful for running
// the core without a ROM loaded (e.g. to inspect the BIOS alone).
func NewCartridge() *Cartridge {
	return &Cartridge{
		data:    make([]byte, 0x8000),
		mbcType: NoMBCType,
	}
}

// NewCartridgeWithData parses a ROM image's header and returns a Cartridge
// ready to be wired into an MBC via NewWithCartridge. It returns one of the
// load-time sentinel errors (wrapped with the offending byte) when the
// header declares something this core cannot run.
func NewCartridgeWithData(raw []byte) (*Cartridge, error) {
	if len(raw) < 0x150 {
		return nil, fmt.Errorf("%w: rom image too short to contain a header (%d bytes)", ErrUnsupportedMapper, len(raw))
	}

	titleBytes := raw[titleAddress : titleAddress+titleLength]

	cart := &Cartridge{
		data:           make([]byte, len(raw)),
		title:          cleanGameboyTitle(titleBytes),
		headerChecksum: bit.Combine(raw[headerChecksumAddress+1], raw[headerChecksumAddress]),
		globalChecksum: bit.Combine(raw[globalChecksumAddress+1], raw[globalChecksumAddress]),
		version:        raw[versionNumberAddress],
		cartType:       raw[cartridgeTypeAddress],
		romSizeCode:    raw[romSizeAddress],
		ramSizeCode:    raw[ramSizeAddress],
	}
	copy(cart.data, raw)

	if err := cart.classify(); err != nil {
		return nil, err
	}
	if err := cart.validateRomSize(); err != nil {
		return nil, err
	}

	return cart, nil
}

// classify derives mbcType/hasBattery/hasRTC/hasRumble/ramSize from the raw
// header bytes. The 0x01-0x03 range is the "bank-1 variant" the base spec
// names explicitly; 0x0F-0x13 (MBC3) and 0x19-0x1E (MBC5) are the enrichment
// this core adds on top, using the standard cartridge-type table. Anything
// else, including MBC2's 0x05-0x06, is rejected: MBC2 has no implementation
// to route to.
func (c *Cartridge) classify() error {
	switch c.cartType {
	case 0x00:
		c.mbcType = NoMBCType
	case 0x08:
		c.mbcType = NoMBCType
	case 0x09:
		c.mbcType = NoMBCType
		c.hasBattery = true
	case 0x01:
		c.mbcType = MBC1Type
	case 0x02:
		c.mbcType = MBC1Type
	case 0x03:
		c.mbcType = MBC1Type
		c.hasBattery = true
	case 0x0F:
		c.mbcType = MBC3Type
		c.hasRTC = true
		c.hasBattery = true
	case 0x10:
		c.mbcType = MBC3Type
		c.hasRTC = true
		c.hasBattery = true
	case 0x11:
		c.mbcType = MBC3Type
	case 0x12:
		c.mbcType = MBC3Type
	case 0x13:
		c.mbcType = MBC3Type
		c.hasBattery = true
	case 0x19:
		c.mbcType = MBC5Type
	case 0x1A:
		c.mbcType = MBC5Type
	case 0x1B:
		c.mbcType = MBC5Type
		c.hasBattery = true
	case 0x1C:
		c.mbcType = MBC5Type
		c.hasRumble = true
	case 0x1D:
		c.mbcType = MBC5Type
		c.hasRumble = true
	case 0x1E:
		c.mbcType = MBC5Type
		c.hasRumble = true
		c.hasBattery = true
	default:
		c.mbcType = MBCUnknownType
		return fmt.Errorf("%w: cartridge type 0x%02X", ErrUnsupportedMapper, c.cartType)
	}

	ramSize, ramBanks, err := ramSizeFromCode(c.ramSizeCode)
	if err != nil {
		return err
	}
	c.ramSize = ramSize
	c.ramBankCount = ramBanks
	return nil
}

// ramSizeFromCode follows the base spec's literal 0x01-0x03 table, extended
// with the two larger official codes (0x04, 0x05) so MBC3/MBC5 cartridges
// that actually ship with more RAM than a bank-1 cartridge can have don't
// silently get truncated to zero.
func ramSizeFromCode(code uint8) (size uint32, banks uint8, err error) {
	switch code {
	case 0x00:
		return 0, 0, nil
	case 0x01:
		return 0x800, 1, nil // 2 KiB, rounded up to one 8 KiB bank slot
	case 0x02:
		return 0x2000, 1, nil // 8 KiB
	case 0x03:
		return 0x8000, 4, nil // 32 KiB
	case 0x04:
		return 0x20000, 16, nil // 128 KiB
	case 0x05:
		return 0x10000, 8, nil // 64 KiB
	default:
		return 0, 0, fmt.Errorf("%w: ram size code 0x%02X", ErrInvalidRamSize, code)
	}
}

// validateRomSize rejects images too large for the banking scheme the
// declared mapper supports; NoMBC additionally cannot bank at all.
func (c *Cartridge) validateRomSize() error {
	var maxBytes int
	switch c.mbcType {
	case NoMBCType:
		maxBytes = 0x8000
	case MBC1Type, MBC3Type:
		maxBytes = 0x4000 * 128 // 7-bit bank index ceiling shared by both
	case MBC5Type:
		maxBytes = 0x4000 * 512 // 9-bit bank index
	}
	if maxBytes > 0 && len(c.data) > maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d byte limit for mapper %d", ErrRomTooLarge, len(c.data), maxBytes, c.mbcType)
	}
	return nil
}

// ReadByte reads a byte at the specified address. Does not check bounds, so
// the caller must make sure the address is valid for the cartridge.
func (c Cartridge) ReadByte(addr uint16) uint8 {
	return c.data[addr]
}
