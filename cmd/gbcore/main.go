package main

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/dmg-core/gbcore/gb"
	"github.com/dmg-core/gbcore/gb/video"
	"github.com/dmg-core/gbcore/internal/render"
)

func main() {
	app := cli.NewApp()
	app.Name = "gbcore"
	app.Usage = "gbcore [options] <ROM file>"
	app.Description = "A Game Boy emulator core with a headless and terminal frontend"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rom",
			Usage: "path to the ROM file",
		},
		cli.StringFlag{
			Name:  "boot-rom",
			Usage: "path to a boot ROM image to overlay at 0x0000-0x00FF",
		},
		cli.BoolFlag{
			Name:  "headless",
			Usage: "run without a terminal display",
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "number of frames to run in headless mode (required for headless)",
		},
		cli.IntFlag{
			Name:  "snapshot-interval",
			Usage: "save a frame snapshot every N frames in headless mode (0 = disabled)",
		},
		cli.StringFlag{
			Name:  "snapshot-dir",
			Usage: "directory to save frame snapshots (default: a temp directory)",
		},
		cli.BoolFlag{
			Name:  "test-pattern",
			Usage: "render a fixed test pattern instead of running a ROM",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		slog.Error("gbcore exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Bool("test-pattern") {
		return runTestPattern()
	}

	romPath := c.String("rom")
	if romPath == "" {
		if c.NArg() > 0 {
			romPath = c.Args().Get(0)
		} else {
			cli.ShowAppHelp(c)
			return errors.New("no ROM path provided")
		}
	}

	emu, err := jeebie.NewWithFile(romPath)
	if err != nil {
		return err
	}

	if bootROM := c.String("boot-rom"); bootROM != "" {
		data, err := os.ReadFile(bootROM)
		if err != nil {
			return fmt.Errorf("loading boot rom: %w", err)
		}
		emu.GetMMU().LoadBIOS(data)
	} else {
		emu.GetMMU().SkipBIOS()
		emu.GetCPU().SkipBIOS()
	}

	if c.Bool("headless") {
		return runHeadless(emu, c, romPath)
	}

	renderer, err := render.New()
	if err != nil {
		return err
	}
	return renderer.Run(emu)
}

func runHeadless(emu *jeebie.Emulator, c *cli.Context, romPath string) error {
	frames := c.Int("frames")
	if frames <= 0 {
		return errors.New("headless mode requires --frames with a positive value")
	}

	snapshotInterval := c.Int("snapshot-interval")
	snapshotDir := c.String("snapshot-dir")
	if snapshotInterval > 0 {
		if snapshotDir == "" {
			var err error
			snapshotDir, err = os.MkdirTemp("", "gbcore-snapshots-*")
			if err != nil {
				return fmt.Errorf("creating snapshot directory: %w", err)
			}
		} else if err := os.MkdirAll(snapshotDir, 0755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}

	romName := filepath.Base(romPath)
	romName = romName[:len(romName)-len(filepath.Ext(romName))]

	for i := 1; i <= frames; i++ {
		emu.RunFrame()

		if snapshotInterval > 0 && i%snapshotInterval == 0 {
			path := filepath.Join(snapshotDir, fmt.Sprintf("%s_frame_%d.png", romName, i))
			if err := saveSnapshot(emu, path); err != nil {
				slog.Error("failed to save snapshot", "frame", i, "path", path, "error", err)
			}
		}

		if i%60 == 0 {
			slog.Info("frame progress", "completed", i, "total", frames)
		}
	}

	slog.Info("headless run completed", "frames", frames, "instructions", emu.GetInstructionCount())
	return nil
}

// saveSnapshot writes the emulator's current frame as a PNG, one pixel per
// Game Boy pixel.
func saveSnapshot(emu *jeebie.Emulator, path string) error {
	fb := emu.GetCurrentFrame()
	img := image.NewRGBA(image.Rect(0, 0, video.FramebufferWidth, video.FramebufferHeight))
	for i, pixel := range fb.ToSlice() {
		r := byte(pixel >> 24)
		g := byte(pixel >> 16)
		b := byte(pixel >> 8)
		a := byte(pixel)
		img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = r, g, b, a
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer file.Close()

	return png.Encode(file, img)
}

func runTestPattern() error {
	renderer, err := render.New()
	if err != nil {
		return err
	}
	emu := jeebie.New()
	return renderer.Run(emu)
}
