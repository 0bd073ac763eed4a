// Package main is shelfd, the shelfie document server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"

	"github.com/shelfieapp/shelfie/internal/auth"
	"github.com/shelfieapp/shelfie/internal/config"
	"github.com/shelfieapp/shelfie/internal/di"
	"github.com/shelfieapp/shelfie/internal/di/providers"
	"github.com/shelfieapp/shelfie/internal/logger"
)

const usage = `Usage:
  shelfd serve [flags]                  Run the document server
  shelfd mint-token [flags] <user-id>   Print a token for user-id
  shelfd gen-key                        Print a fresh TOKEN_KEY

Run "shelfd <command> -h" to list the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err = serve(ctx, args)
		stop()
	case "mint-token":
		err = mintToken(args, os.Stdout)
	case "gen-key":
		err = genKey(os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "shelfd: unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "shelfd: %v\n", err)
		os.Exit(1)
	}
}

// serve runs the document server until ctx is done or it fails to listen.
func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("shelfd serve", flag.ContinueOnError)
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}

	injector := di.NewServerContainer(cfg)
	log := do.MustInvoke[*logger.Logger](injector)

	srv, err := do.Invoke[*providers.HTTPServerHandle](injector)
	if err != nil {
		_ = injector.Shutdown()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("document server listening", "addr", srv.Addr, "db", cfg.Remote.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down document server")

		// The container closes the server before the store it reads from.
		if err := injector.Shutdown(); err != nil {
			log.Error("shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("document server stopped")
	return nil
}

// mintToken prints a token for the user id given as the only argument.
func mintToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("shelfd mint-token", flag.ContinueOnError)
	email := fs.String("email", "", "Email carried by the token")
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("mint-token takes exactly one user id")
	}
	userID := fs.Arg(0)

	injector := di.NewServerContainer(cfg)
	defer injector.Shutdown()

	tokens, err := do.Invoke[*auth.TokenService](injector)
	if err != nil {
		return err
	}
	token, err := tokens.Generate(userID, *email)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func genKey(out io.Writer) error {
	key, err := auth.GenerateKeyHex()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key)
	return nil
}
