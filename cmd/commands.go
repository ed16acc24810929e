package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	posixpath "path"
	"path/filepath"
	"strings"

	"github.com/noxer/bytewriter"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"github.com/xaionaro-go/bytesextra"
	"golang.org/x/text/encoding/charmap"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/disks"
	"github.com/dargueta/yepp/driver"
	"github.com/dargueta/yepp/emulator"
	"github.com/dargueta/yepp/protocol"
	"github.com/dargueta/yepp/utilities/compression"
)

var codePages = map[string]*charmap.Charmap{
	"437":  charmap.CodePage437,
	"850":  charmap.CodePage850,
	"852":  charmap.CodePage852,
	"866":  charmap.CodePage866,
	"1252": charmap.Windows1252,
}

// session is one command's view of the emulated player.
type session struct {
	fs      afero.Fs
	path    string
	logger  *slog.Logger
	device  *emulator.Device
	kind    yepp.Bank
	options driver.Options
}

func parseBank(name string) (yepp.Bank, error) {
	switch strings.ToLower(name) {
	case "internal":
		return yepp.BankInternal, nil
	case "card", "external":
		return yepp.BankExternal, nil
	default:
		return 0, fmt.Errorf("unknown memory %q, expected internal or card", name)
	}
}

func newSession(ctx *cli.Context) (*session, error) {
	level := slog.LevelWarn
	if ctx.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	kind, err := parseBank(ctx.String("bank"))
	if err != nil {
		return nil, err
	}
	model, err := disks.GetModel(ctx.String("model"))
	if err != nil {
		return nil, err
	}
	codePage, ok := codePages[ctx.String("codepage")]
	if !ok {
		return nil, fmt.Errorf("unsupported code page %q", ctx.String("codepage"))
	}

	return &session{
		fs:     afero.NewOsFs(),
		path:   ctx.String("image"),
		logger: logger,
		kind:   kind,
		options: driver.Options{
			Logger:   logger,
			CodePage: codePage,
			Model:    model,
		},
	}, nil
}

// openSession loads the snapshot named by the --image flag.
func openSession(ctx *cli.Context) (*session, error) {
	s, err := newSession(ctx)
	if err != nil {
		return nil, err
	}
	s.device, err = emulator.LoadSnapshot(s.fs, s.path, s.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) save() error {
	return emulator.SaveSnapshot(s.fs, s.path, s.device)
}

// memory returns the selected bank, accessed through the command protocol the
// way a real player would be.
func (s *session) memory(kind yepp.Bank) (driver.Memory, error) {
	bank := s.device.Bank(kind)
	if bank == nil {
		return nil, yepp.ErrMemoryNotAvailable.WithMessage(
			fmt.Sprintf("the player has no %s memory", kind))
	}
	client := protocol.NewDevice(s.device, s.logger)
	return client.Bank(kind, bank.SectorsPerBlock(), bank.Capacity()), nil
}

func (s *session) mount() (*driver.Volume, error) {
	memory, err := s.memory(s.kind)
	if err != nil {
		return nil, err
	}
	return driver.Mount(memory, s.kind, s.options)
}

// withVolume mounts the selected memory, runs `action` on it, and if
// `modifies` is set, saves the snapshot.
func withVolume(ctx *cli.Context, modifies bool, action func(*driver.Volume) error) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	vol, err := s.mount()
	if err != nil {
		return err
	}

	err = action(vol)
	closeErr := vol.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	if modifies {
		return s.save()
	}
	return nil
}

func createImage(ctx *cli.Context) error {
	s, err := newSession(ctx)
	if err != nil {
		return err
	}

	model := s.options.Model
	s.device = emulator.NewDevice(fmt.Sprintf("%s emulator", model.Name), s.logger)
	s.device.Attach(
		yepp.BankInternal, emulator.NewInternalFlash(model.InternalMB, model.Megablock))

	if cardMB := ctx.Uint("card"); cardMB != 0 {
		card, err := emulator.NewSmartMedia(cardMB)
		if err != nil {
			return err
		}
		s.device.Attach(yepp.BankExternal, card)
	}

	for _, kind := range []yepp.Bank{yepp.BankInternal, yepp.BankExternal} {
		if s.device.Bank(kind) == nil {
			continue
		}
		err = s.format(kind)
		if err != nil {
			return err
		}
	}
	return s.save()
}

func (s *session) format(kind yepp.Bank) error {
	memory, err := s.memory(kind)
	if err != nil {
		return err
	}
	vol, err := driver.Format(memory, kind, s.options)
	if err != nil {
		return err
	}
	return vol.Close()
}

func formatBank(ctx *cli.Context) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	err = s.format(s.kind)
	if err != nil {
		return err
	}
	return s.save()
}

func showInfo(ctx *cli.Context) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("firmware: %s\n", s.device.Version())

	for _, kind := range []yepp.Bank{yepp.BankInternal, yepp.BankExternal} {
		if s.device.Bank(kind) == nil {
			fmt.Printf("%s: not present\n", kind)
			continue
		}
		s.kind = kind
		vol, err := s.mount()
		if err != nil {
			fmt.Printf("%s: can't mount: %s\n", kind, err)
			continue
		}

		bank := vol.Bank()
		free, err := vol.FreeSpace()
		if err != nil {
			return err
		}
		fmt.Printf(
			"%s: %dMB, %d-byte clusters, %d of %d bytes free, folders: %t\n",
			kind,
			bank.Capacity/(1024*1024),
			vol.ClusterSize(),
			free,
			vol.TotalSpace(),
			bank.SupportsFolders)
		if zones := vol.Zones(); zones != nil {
			stats := zones.Stats()
			fmt.Printf(
				"  zones: %d, mapped %d, free %d, defective %d, reserved %d\n",
				stats.Zones,
				stats.Mapped,
				stats.Free,
				stats.Defect,
				stats.Reserved)
		}
	}
	return nil
}

func listFolder(ctx *cli.Context) error {
	return withVolume(ctx, false, func(vol *driver.Volume) error {
		if ctx.NArg() > 0 {
			err := vol.Chdir(ctx.Args().First())
			if err != nil {
				return err
			}
		}

		infos, err := vol.List()
		if err != nil {
			return err
		}
		for _, info := range infos {
			kind := "-"
			if info.IsDir {
				kind = "d"
			}
			fmt.Printf(
				"%s %10d %s %-12s %s\n",
				kind,
				info.Size,
				info.ModTime.Format("2006-01-02 15:04"),
				info.ShortName,
				info.Name)
		}
		return nil
	})
}

func progressPrinter(name string) yepp.ProgressSink {
	return yepp.ProgressFunc(func(done, total uint64) bool {
		fmt.Fprintf(os.Stderr, "\r%s: %d/%d bytes", name, done, total)
		if done == total {
			fmt.Fprintln(os.Stderr)
		}
		return true
	})
}

// splitTarget separates the folder part of a path on the player from the file
// name.
func splitTarget(target string) (string, string) {
	target = driver.NormalizePath(target)
	return posixpath.Split(target)
}

func putFile(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("missing the file to copy")
	}
	hostPath := ctx.Args().Get(0)
	target := ctx.Args().Get(1)
	if target == "" {
		target = filepath.Base(hostPath)
	}

	hostFS := afero.NewOsFs()
	source, err := hostFS.Open(hostPath)
	if err != nil {
		return err
	}
	defer source.Close()
	stat, err := source.Stat()
	if err != nil {
		return err
	}

	return withVolume(ctx, true, func(vol *driver.Volume) error {
		folder, name := splitTarget(target)
		if folder != "" {
			err := vol.Chdir(folder)
			if err != nil {
				return err
			}
		}
		_, err := vol.Put(name, source, uint64(stat.Size()), progressPrinter(name))
		return err
	})
}

func getFile(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("missing the file to copy")
	}
	target := ctx.Args().Get(0)
	folder, name := splitTarget(target)
	hostPath := ctx.Args().Get(1)
	if hostPath == "" {
		hostPath = name
	}

	return withVolume(ctx, false, func(vol *driver.Volume) error {
		if folder != "" {
			err := vol.Chdir(folder)
			if err != nil {
				return err
			}
		}

		dest, err := afero.NewOsFs().Create(hostPath)
		if err != nil {
			return err
		}
		defer dest.Close()

		_, err = vol.Get(name, dest, progressPrinter(name))
		return err
	})
}

func removeEntry(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected one name")
	}
	folder, name := splitTarget(ctx.Args().First())

	return withVolume(ctx, true, func(vol *driver.Volume) error {
		if folder != "" {
			err := vol.Chdir(folder)
			if err != nil {
				return err
			}
		}
		info, err := vol.Stat(name)
		if err != nil {
			return err
		}
		if info.IsDir {
			return vol.Rmdir(name)
		}
		return vol.Delete(name)
	})
}

func renameEntry(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected the old and new names")
	}
	folder, oldName := splitTarget(ctx.Args().Get(0))
	newName := ctx.Args().Get(1)

	return withVolume(ctx, true, func(vol *driver.Volume) error {
		if folder != "" {
			err := vol.Chdir(folder)
			if err != nil {
				return err
			}
		}
		return vol.Rename(oldName, newName)
	})
}

func reorderEntry(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("missing the file to move")
	}
	folder, name := splitTarget(ctx.Args().Get(0))
	before := ctx.Args().Get(1)

	return withVolume(ctx, true, func(vol *driver.Volume) error {
		if folder != "" {
			err := vol.Chdir(folder)
			if err != nil {
				return err
			}
		}
		return vol.Move(name, before)
	})
}

func makeFolder(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected one folder name")
	}
	folder, name := splitTarget(ctx.Args().First())

	return withVolume(ctx, true, func(vol *driver.Volume) error {
		if folder != "" {
			err := vol.Chdir(folder)
			if err != nil {
				return err
			}
		}
		return vol.Mkdir(name)
	})
}

func showFreeSpace(ctx *cli.Context) error {
	return withVolume(ctx, false, func(vol *driver.Volume) error {
		free, err := vol.FreeSpace()
		if err != nil {
			return err
		}
		total := vol.TotalSpace()
		fmt.Printf(
			"%d bytes free of %d (%.1f%% used)\n",
			free,
			total,
			100*float64(total-free)/float64(total))
		return nil
	})
}

func saveBankImage(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected an output file")
	}
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	bank := s.device.Bank(s.kind)
	if bank == nil {
		return yepp.ErrMemoryNotAvailable.WithMessage(
			fmt.Sprintf("the player has no %s memory", s.kind))
	}

	output, err := s.fs.Create(ctx.Args().First())
	if err != nil {
		return err
	}
	defer output.Close()

	reader, writer := io.Pipe()
	go func() {
		writer.CloseWithError(bank.Dump(writer))
	}()
	defer reader.Close()

	n, err := compression.CompressImage(reader, output)
	if err != nil {
		return err
	}
	s.logger.Info("memory image saved", slog.String("bank", s.kind.String()), slog.Int64("rle8_bytes", n))
	return nil
}

func restoreBankImage(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected an input file")
	}
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	bank := s.device.Bank(s.kind)
	if bank == nil {
		return yepp.ErrMemoryNotAvailable.WithMessage(
			fmt.Sprintf("the player has no %s memory", s.kind))
	}

	input, err := s.fs.Open(ctx.Args().First())
	if err != nil {
		return err
	}
	defer input.Close()

	image := make([]byte, emulator.RawSize(bank.SectorsPerBlock(), bank.TotalBlocks()))
	n, err := compression.DecompressImage(input, bytewriter.New(image))
	if err != nil {
		return err
	}
	if n != int64(len(image)) {
		return fmt.Errorf("image is %d bytes, the %s memory needs %d", n, s.kind, len(image))
	}

	s.device.Attach(
		s.kind,
		emulator.NewBank(
			bytesextra.NewReadWriteSeeker(image), bank.SectorsPerBlock(), bank.TotalBlocks()))
	return s.save()
}
