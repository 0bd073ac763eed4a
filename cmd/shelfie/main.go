// Package main is the shelfie command line client.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/docopt/docopt-go"
	"github.com/samber/do/v2"

	"github.com/shelfieapp/shelfie/internal/config"
	"github.com/shelfieapp/shelfie/internal/di"
	"github.com/shelfieapp/shelfie/internal/logger"
)

const version = "0.1.0"

const usage = `Shelfie keeps track of the books you are reading.

Books live on this device until you log in; after that they live in your
remote library and every device signed in as you sees the same books.

Usage:
    shelfie list [--status=<status>] [--json]
    shelfie show <id> [--json]
    shelfie tags
    shelfie add <title> <author> [--status=<status>] [--rating=<n>]
        [--tag=<tag>...] [--cover=<url>] [--description=<text>] [--inline-cover]
    shelfie update <id> [--title=<title>] [--author=<author>] [--status=<status>]
        [--rating=<n>] [--tag=<tag>... | --clear-tags] [--cover=<url>]
        [--description=<text>] [--inline-cover]
    shelfie delete <id>
    shelfie comment <id> <text>
    shelfie uncomment <id> <comment-id>
    shelfie login <token>
    shelfie logout
    shelfie whoami
    shelfie -h | --help
    shelfie --version

Options:
    -h --help               Show this screen.
    --version               Show version.
    --status=<status>       reading, will-read, finished or dropped.
    --rating=<n>            Rating from 0 to 5.
    --tag=<tag>             Tag the book; repeat for more tags.
    --clear-tags            Remove every tag.
    --cover=<url>           Cover image URL.
    --inline-cover          Embed the cover image as a data URL.
    --description=<text>    Free-form description.
    --title=<title>         New title.
    --author=<author>       New author.
    --json                  Print JSON instead of text.

Configuration comes from the environment and .env: DATA_PATH, REMOTE_BACKEND
(sqlite or http), REMOTE_URL, REMOTE_DB_PATH, TOKEN_KEY, LOG_LEVEL.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shelfie: %v\n", err)
		os.Exit(2)
	}

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "shelfie: %v\n", err)
		os.Exit(1)
	}
}

func run(opts docopt.Opts, out io.Writer) error {
	cfg, err := config.Load(nil, nil)
	if err != nil {
		return err
	}

	injector := di.NewClientContainer(cfg)
	log := do.MustInvoke[*logger.Logger](injector)
	defer func() {
		if err := injector.Shutdown(); err != nil {
			log.Debug("shutdown error", "error", err)
		}
	}()

	a, err := newApp(injector, out)
	if err != nil {
		return err
	}
	defer a.close()

	return a.dispatch(opts)
}
