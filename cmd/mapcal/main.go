// Package main provides the mapcal command line client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/syncclient"
)

// Version is set at compile time via ldflags.
var Version = "dev"

const usage = `usage: mapcal [-api URL] [-v] <command> [args]

commands:
  list                          list calendar ids
  create [-id ID] [-start DATE] [-days N]
                                create a calendar
  show <id>                     print a calendar
  delete <id>                   delete a calendar
  session [-tz ZONE] <id>       edit a calendar interactively
`

// globalFlags holds options shared by every command.
type globalFlags struct {
	apiURL  string
	verbose bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var g globalFlags
	fs := flag.NewFlagSet("mapcal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringVar(&g.apiURL, "api", envOr("MAPCAL_API_URL", "http://localhost:8080"), "calendar API base URL")
	fs.BoolVar(&g.verbose, "v", false, "log sync activity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level := zerolog.WarnLevel
	if g.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Str("version", Version).
		Logger()

	transport := syncclient.NewHTTPTransport(syncclient.HTTPTransportConfig{
		BaseURL: g.apiURL,
		Logger:  log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "list":
		err = listCalendars(ctx, transport, stdout)
	case "create":
		err = createCalendar(ctx, transport, rest, stdout, stderr)
	case "show":
		err = showCalendar(ctx, transport, rest, stdout)
	case "delete":
		err = deleteCalendar(ctx, transport, rest, stdout, log)
	case "session":
		err = runSession(ctx, transport, rest, sessionIO{in: stdin, out: stdout, errOut: stderr}, log)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fs.Usage()
		return 2
	default:
		fmt.Fprintf(stderr, "mapcal %s: %v\n", cmd, describeError(err))
		return 1
	}
}

var errUsage = errors.New("usage")

func listCalendars(ctx context.Context, t *syncclient.HTTPTransport, out io.Writer) error {
	ids, err := t.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func createCalendar(ctx context.Context, t *syncclient.HTTPTransport, args []string, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "calendar id (generated when empty)")
	start := fs.String("start", "", "first day, YYYY-MM-DD (default: today)")
	days := fs.Int("days", 0, "number of days shown (default: 7)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var doc *calendar.Document
	if *start != "" || *days > 0 {
		startDate := *start
		if startDate == "" {
			startDate = calendar.FormatDate(time.Now())
		}
		if _, err := calendar.ParseDate(startDate); err != nil {
			return fmt.Errorf("start date %q: %w", startDate, err)
		}
		n := *days
		if n <= 0 {
			n = 7
		}
		d := calendar.New(startDate, n)
		doc = &d
	}

	entry, err := t.Create(ctx, *id, doc)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, entry.ID)
	return nil
}

func showCalendar(ctx context.Context, t *syncclient.HTTPTransport, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	entry, err := t.Get(ctx, args[0])
	if err != nil {
		return err
	}
	printEntry(out, entry.ID, entry.Revision, entry.Document)
	return nil
}

func deleteCalendar(ctx context.Context, t *syncclient.HTTPTransport, args []string, out io.Writer, log zerolog.Logger) error {
	if len(args) != 1 {
		return errUsage
	}
	client := syncclient.New(syncclient.Config{Transport: t, Logger: log})
	if err := client.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %s\n", args[0])
	return nil
}

func describeError(err error) string {
	switch {
	case errors.Is(err, syncclient.ErrNotFound):
		return "calendar not found"
	case syncclient.IsUnreachable(err):
		return "calendar server unreachable"
	default:
		return err.Error()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
