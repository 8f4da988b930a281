// Command playlist-mirror mirrors YouTube channels and Discogs labels into
// Spotify playlists.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/justestif/go-playlist-mirror/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := NewRunner(logging.New(os.Stderr), os.Stdout)

	app := &cli.Command{
		Name:  "playlist-mirror",
		Usage: "Mirror channel and label tracks into Spotify playlists",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Commands: r.register(),
	}
	return app.Run(ctx, os.Args)
}
