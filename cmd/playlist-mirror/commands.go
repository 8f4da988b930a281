package main

import "github.com/urfave/cli/v3"

func (r *Runner) register() []*cli.Command {
	return []*cli.Command{
		initCommand(r),
		migrateCommand(r),
		loginCommand(r),
		logoutCommand(r),
		registerCommand(r),
		importCommand(r),
		syncCommand(r),
		serveCommand(r),
		pruneCommand(r),
		statsCommand(r),
	}
}

func initCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Write an example configuration file",
		Action: r.Init,
	}
}

func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "down",
				Usage: "Revert the most recent migration",
			},
		},
		Action: r.Migrate,
	}
}

func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "login",
		Usage:  "Authorize the Spotify account that owns the playlists",
		Action: r.Login,
	}
}

func logoutCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Remove the stored Spotify token",
		Action: r.Logout,
	}
}

func registerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Register a channel or label and run its first cycle",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "source"},
			&cli.StringArg{Name: "id"},
			&cli.StringArg{Name: "name"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "thumbnail",
				Usage: "Thumbnail URL used as playlist cover",
			},
			&cli.BoolFlag{
				Name:  "no-sync",
				Usage: "Only register, do not run a cycle",
			},
		},
		Action: r.Register,
	}
}

func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import tracks from a JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "JSON array of tracks",
				Required: true,
			},
		},
		Action: r.Import,
	}
}

func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one sync cycle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "Source of a signaled entity (yt or dg)",
			},
			&cli.StringFlag{
				Name:  "entity",
				Usage: "Entity to sync instead of following the cursors",
			},
		},
		Action: r.Sync,
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve sync triggers and metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr)",
			},
		},
		Action: r.Serve,
	}
}

func pruneCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Remove a catalog track from every playlist of an entity",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "source"},
			&cli.StringArg{Name: "id"},
			&cli.StringArg{Name: "uri"},
		},
		Action: r.Prune,
	}
}

func statsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show the playlists of an entity",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "source"},
			&cli.StringArg{Name: "id"},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Stats,
	}
}
