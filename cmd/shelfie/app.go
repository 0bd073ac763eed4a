package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/samber/do/v2"

	"github.com/shelfieapp/shelfie/internal/covers"
	"github.com/shelfieapp/shelfie/internal/di/providers"
	"github.com/shelfieapp/shelfie/internal/domain"
	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/events"
	"github.com/shelfieapp/shelfie/internal/identity"
	"github.com/shelfieapp/shelfie/internal/logger"
	"github.com/shelfieapp/shelfie/internal/syncer"
)

// snapshotWait bounds how long a command waits for the remote to echo a
// change back before printing.
const snapshotWait = 3 * time.Second

type app struct {
	injector do.Injector
	out      io.Writer
	log      *logger.Logger

	bus     *providers.BusHandle
	events  *events.Client
	subject *identity.Subject
	coord   *syncer.Coordinator
}

func newApp(injector do.Injector, out io.Writer) (*app, error) {
	log := do.MustInvoke[*logger.Logger](injector)
	bus := do.MustInvoke[*providers.BusHandle](injector)

	// Listen before the coordinator exists so the first snapshot of a
	// restored session is not missed.
	client, err := bus.Connect("")
	if err != nil {
		return nil, err
	}

	coord, err := do.Invoke[*providers.CoordinatorHandle](injector)
	if err != nil {
		bus.Disconnect(client.ID)
		return nil, err
	}

	a := &app{
		injector: injector,
		out:      out,
		log:      log,
		bus:      bus,
		events:   client,
		subject:  do.MustInvoke[*identity.Subject](injector),
		coord:    coord.Coordinator,
	}

	if ident := a.subject.Current(); ident != nil {
		if a.coord.Mode().Kind == syncer.Remote {
			a.awaitSnapshot()
		} else {
			log.Warn("remote library unavailable, showing books on this device", "user_id", ident.UserID)
		}
	}
	return a, nil
}

func (a *app) close() {
	a.bus.Disconnect(a.events.ID)
}

func (a *app) dispatch(opts docopt.Opts) error {
	ctx := context.Background()

	commands := []struct {
		name string
		fn   func(context.Context, docopt.Opts) error
	}{
		{"list", a.list},
		{"show", a.show},
		{"tags", a.tags},
		{"add", a.add},
		{"update", a.update},
		{"delete", a.remove},
		{"comment", a.comment},
		{"uncomment", a.uncomment},
		{"login", a.login},
		{"logout", a.logout},
		{"whoami", a.whoami},
	}
	for _, cmd := range commands {
		if ok, _ := opts.Bool(cmd.name); ok {
			return cmd.fn(ctx, opts)
		}
	}
	return fmt.Errorf("unknown command")
}

// awaitSnapshot waits until the coordinator applies a snapshot, a transition
// fails, or snapshotWait passes.
func (a *app) awaitSnapshot() {
	timer := time.NewTimer(snapshotWait)
	defer timer.Stop()

	for {
		select {
		case evt, ok := <-a.events.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case events.SnapshotApplied, events.TransitionFailed:
				return
			}
		case <-timer.C:
			a.log.Debug("no snapshot before timeout", "wait", snapshotWait)
			return
		}
	}
}

// drainEvents discards queued events so awaitSnapshot only sees what follows.
func (a *app) drainEvents() {
	for {
		select {
		case _, ok := <-a.events.Events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// mutate runs op and reports its outcome. A pending remote write waits for
// the snapshot that carries it. A local write that was applied but not saved
// is reported as a warning, not a failure.
func (a *app) mutate(ctx context.Context, target string, op func(context.Context) (syncer.Result, error)) (syncer.Result, error) {
	a.drainEvents()

	res, err := op(ctx)
	if err != nil {
		if res.Outcome == syncer.Applied && domainerrors.Is(err, domainerrors.ErrPersistence) {
			a.log.Warn("change applied but not saved on this device", "error", err)
			return res, nil
		}
		return res, err
	}

	switch res.Outcome {
	case syncer.NoOp:
		return res, domainerrors.NotFoundf("book %s not found", target)
	case syncer.Pending:
		a.awaitSnapshot()
	}
	return res, nil
}

func (a *app) list(_ context.Context, opts docopt.Opts) error {
	books := a.coord.Books()
	if raw, ok := opts["--status"].(string); ok {
		status, err := parseStatus(raw)
		if err != nil {
			return err
		}
		books = a.coord.ByStatus(status)
	}

	if asJSON, _ := opts.Bool("--json"); asJSON {
		return a.printJSON(books)
	}
	if len(books) == 0 {
		fmt.Fprintln(a.out, "No books yet.")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tRATING\tTITLE\tAUTHOR\tTAGS")
	for _, b := range books {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			b.ID, b.Status.Label(), stars(b.Rating), b.Title, b.Author, strings.Join(b.Tags, ", "))
	}
	return tw.Flush()
}

func (a *app) show(_ context.Context, opts docopt.Opts) error {
	id, _ := opts.String("<id>")
	b, ok := a.coord.Book(id)
	if !ok {
		return domainerrors.NotFoundf("book %s not found", id)
	}
	if asJSON, _ := opts.Bool("--json"); asJSON {
		return a.printJSON(b)
	}

	fmt.Fprintf(a.out, "%s by %s\n", b.Title, b.Author)
	fmt.Fprintf(a.out, "  id:       %s\n", b.ID)
	fmt.Fprintf(a.out, "  status:   %s\n", b.Status.Label())
	fmt.Fprintf(a.out, "  rating:   %s\n", stars(b.Rating))
	if len(b.Tags) > 0 {
		fmt.Fprintf(a.out, "  tags:     %s\n", strings.Join(b.Tags, ", "))
	}
	if b.Description != "" {
		fmt.Fprintf(a.out, "  about:    %s\n", b.Description)
	}
	if b.CoverURL != "" {
		fmt.Fprintf(a.out, "  cover:    %s\n", abbreviate(b.CoverURL, 60))
	}
	fmt.Fprintf(a.out, "  added:    %s\n", b.AddedAt.Local().Format(time.DateTime))
	fmt.Fprintf(a.out, "  updated:  %s\n", b.UpdatedAt.Local().Format(time.DateTime))
	for _, c := range b.Comments {
		fmt.Fprintf(a.out, "  - [%s] %s (%s)\n", c.ID, c.Text, c.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func (a *app) tags(context.Context, docopt.Opts) error {
	for _, t := range a.coord.Tags() {
		fmt.Fprintln(a.out, t)
	}
	return nil
}

func (a *app) add(ctx context.Context, opts docopt.Opts) error {
	in, err := bookInput(opts)
	if err != nil {
		return err
	}
	if inline, _ := opts.Bool("--inline-cover"); inline {
		in.CoverURL = a.inliner().Inline(ctx, in.CoverURL)
	}

	res, err := a.mutate(ctx, "", func(ctx context.Context) (syncer.Result, error) {
		return a.coord.AddBook(ctx, in)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", res.Outcome, res.Book.ID)
	return nil
}

func (a *app) update(ctx context.Context, opts docopt.Opts) error {
	id, _ := opts.String("<id>")
	u, err := bookUpdate(opts)
	if err != nil {
		return err
	}
	if inline, _ := opts.Bool("--inline-cover"); inline && u.CoverURL != nil {
		cover := a.inliner().Inline(ctx, *u.CoverURL)
		u.CoverURL = &cover
	}

	res, err := a.mutate(ctx, id, func(ctx context.Context) (syncer.Result, error) {
		return a.coord.UpdateBook(ctx, id, u)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", res.Outcome, id)
	return nil
}

func (a *app) remove(ctx context.Context, opts docopt.Opts) error {
	id, _ := opts.String("<id>")
	res, err := a.mutate(ctx, id, func(ctx context.Context) (syncer.Result, error) {
		return a.coord.DeleteBook(ctx, id)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", res.Outcome, id)
	return nil
}

func (a *app) comment(ctx context.Context, opts docopt.Opts) error {
	id, _ := opts.String("<id>")
	text, _ := opts.String("<text>")
	res, err := a.mutate(ctx, id, func(ctx context.Context) (syncer.Result, error) {
		return a.coord.AddComment(ctx, id, text)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", res.Outcome, res.CommentID)
	return nil
}

func (a *app) uncomment(ctx context.Context, opts docopt.Opts) error {
	id, _ := opts.String("<id>")
	commentID, _ := opts.String("<comment-id>")
	res, err := a.mutate(ctx, id, func(ctx context.Context) (syncer.Result, error) {
		return a.coord.DeleteComment(ctx, id, commentID)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", res.Outcome, commentID)
	return nil
}

func (a *app) login(ctx context.Context, opts docopt.Opts) error {
	token, _ := opts.String("<token>")
	rem, err := do.Invoke[*providers.Remote](a.injector)
	if err != nil {
		return err
	}

	a.drainEvents()
	ident, err := a.subject.SignIn(ctx, rem.Verifier, token)
	if err != nil {
		return err
	}
	if mode := a.coord.Mode(); mode.Kind != syncer.Remote || mode.UserID != ident.UserID {
		return fmt.Errorf("signed in as %s but the remote library could not be opened; books stay on this device", ident.UserID)
	}
	a.awaitSnapshot()

	fmt.Fprintf(a.out, "signed in as %s, %d books in your library\n", ident.UserID, len(a.coord.Books()))
	return nil
}

func (a *app) logout(context.Context, docopt.Opts) error {
	if a.subject.Current() == nil {
		fmt.Fprintln(a.out, "not signed in")
		return nil
	}
	a.subject.SignOut()
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func (a *app) whoami(context.Context, docopt.Opts) error {
	ident := a.subject.Current()
	if ident == nil {
		fmt.Fprintf(a.out, "not signed in (mode %s)\n", a.coord.Mode())
		return nil
	}
	if ident.Email != "" {
		fmt.Fprintf(a.out, "%s <%s> (mode %s)\n", ident.UserID, ident.Email, a.coord.Mode())
		return nil
	}
	fmt.Fprintf(a.out, "%s (mode %s)\n", ident.UserID, a.coord.Mode())
	return nil
}

func (a *app) inliner() *covers.Inliner {
	return do.MustInvoke[*covers.Inliner](a.injector)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func bookInput(opts docopt.Opts) (domain.BookInput, error) {
	in := domain.BookInput{Status: domain.StatusWillRead}
	in.Title, _ = opts.String("<title>")
	in.Author, _ = opts.String("<author>")

	if raw, ok := opts["--status"].(string); ok {
		status, err := parseStatus(raw)
		if err != nil {
			return in, err
		}
		in.Status = status
	}
	if raw, ok := opts["--rating"].(string); ok {
		rating, err := parseRating(raw)
		if err != nil {
			return in, err
		}
		in.Rating = rating
	}
	if tags, ok := opts["--tag"].([]string); ok {
		in.Tags = tags
	}
	in.CoverURL, _ = opts["--cover"].(string)
	in.Description, _ = opts["--description"].(string)
	return in, nil
}

func bookUpdate(opts docopt.Opts) (domain.BookUpdate, error) {
	var u domain.BookUpdate
	if v, ok := opts["--title"].(string); ok {
		u.Title = &v
	}
	if v, ok := opts["--author"].(string); ok {
		u.Author = &v
	}
	if v, ok := opts["--cover"].(string); ok {
		u.CoverURL = &v
	}
	if v, ok := opts["--description"].(string); ok {
		u.Description = &v
	}
	if raw, ok := opts["--status"].(string); ok {
		status, err := parseStatus(raw)
		if err != nil {
			return u, err
		}
		u.Status = &status
	}
	if raw, ok := opts["--rating"].(string); ok {
		rating, err := parseRating(raw)
		if err != nil {
			return u, err
		}
		u.Rating = &rating
	}
	if tags, ok := opts["--tag"].([]string); ok && len(tags) > 0 {
		u.Tags = &tags
	}
	if clearTags, _ := opts.Bool("--clear-tags"); clearTags {
		empty := []string{}
		u.Tags = &empty
	}
	if u.IsEmpty() {
		return u, domainerrors.Validation("nothing to update")
	}
	return u, nil
}

func parseStatus(raw string) (domain.Status, error) {
	status := domain.Status(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", domainerrors.Validationf("invalid status %q (want reading, will-read, finished or dropped)", raw)
	}
	return status, nil
}

func parseRating(raw string) (int, error) {
	rating, err := strconv.Atoi(raw)
	if err != nil || !domain.ValidRating(rating) {
		return 0, domainerrors.Validationf("invalid rating %q (want %d to %d)", raw, domain.MinRating, domain.MaxRating)
	}
	return rating, nil
}

func stars(rating int) string {
	if rating <= 0 {
		return "-"
	}
	return strings.Repeat("*", rating)
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
