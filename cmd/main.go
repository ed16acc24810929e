package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	yerrors "github.com/dargueta/yepp/errors"
)

func main() {
	app := cli.App{
		Usage: "Manage emulated YEPP player memories",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "snapshot file holding the emulated player",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "bank",
				Aliases: []string{"b"},
				Usage:   "memory to operate on: internal or card",
				Value:   "card",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "player model, needed for internal memory",
				Value:   "yp-910",
			},
			&cli.StringFlag{
				Name:  "codepage",
				Usage: "OEM code page of short names (437, 850, 852, 866, 1252)",
				Value: "437",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debugging information",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Create a new player with formatted memories",
				Action: createImage,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:  "card",
						Usage: "size of the inserted card in MB, 0 for none",
						Value: 32,
					},
				},
			},
			{
				Name:   "info",
				Usage:  "Show the player's memories and their layout",
				Action: showInfo,
			},
			{
				Name:   "format",
				Usage:  "Erase every file on a memory",
				Action: formatBank,
			},
			{
				Name:      "ls",
				Usage:     "List a folder",
				Action:    listFolder,
				ArgsUsage: "[FOLDER]",
			},
			{
				Name:      "put",
				Usage:     "Copy a file to the player",
				Action:    putFile,
				ArgsUsage: "HOST_FILE [NAME]",
			},
			{
				Name:      "get",
				Usage:     "Copy a file from the player",
				Action:    getFile,
				ArgsUsage: "NAME [HOST_FILE]",
			},
			{
				Name:      "rm",
				Usage:     "Delete a file or an empty folder",
				Action:    removeEntry,
				ArgsUsage: "NAME",
			},
			{
				Name:      "mv",
				Usage:     "Rename a file or folder",
				Action:    renameEntry,
				ArgsUsage: "OLD_NAME NEW_NAME",
			},
			{
				Name:      "order",
				Usage:     "Move a file before another one in the play order",
				Action:    reorderEntry,
				ArgsUsage: "NAME [BEFORE]",
			},
			{
				Name:      "mkdir",
				Usage:     "Create a folder",
				Action:    makeFolder,
				ArgsUsage: "NAME",
			},
			{
				Name:   "df",
				Usage:  "Show free space",
				Action: showFreeSpace,
			},
			{
				Name:      "snapshot",
				Usage:     "Save a compressed raw image of a memory",
				Action:    saveBankImage,
				ArgsUsage: "OUTPUT",
			},
			{
				Name:      "restore",
				Usage:     "Replace a memory with a raw image saved by snapshot",
				Action:    restoreBankImage,
				ArgsUsage: "INPUT",
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %s\n", err.Error())
		os.Exit(int(yerrors.CodeOf(err)))
	}
}
