package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/planner"
	"github.com/mapcal/mapcal/internal/syncclient"
)

const sessionHelp = `commands:
  show            print the working document
  plan <text>     ask the planner for events
  apply           apply the last proposal
  rollback        undo the last applied proposal
  focus <n>       set the focused day index
  delete          delete this calendar and exit
  status          print sync state
  help            print this help
  quit            save pending edits and exit
`

// sessionIO carries the streams of an interactive session.
type sessionIO struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// session is the state of one interactive editing session.
type session struct {
	id        string
	timezone  string
	focus     int
	history   []planner.Message
	proposal  *planner.Proposal
	client    *syncclient.Client
	transport *syncclient.HTTPTransport
	io        sessionIO
}

func runSession(ctx context.Context, transport *syncclient.HTTPTransport, args []string, sio sessionIO, log zerolog.Logger) error {
	fs := flag.NewFlagSet("session", flag.ContinueOnError)
	fs.SetOutput(sio.errOut)
	tz := fs.String("tz", "", "IANA timezone used for planning (default: local)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	zone := *tz
	if zone == "" {
		zone = time.Local.String()
		if zone == "Local" {
			zone = planner.DefaultTimezone
		}
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return fmt.Errorf("timezone %q: %w", zone, err)
	}

	s := &session{
		id:        fs.Arg(0),
		timezone:  zone,
		transport: transport,
		io:        sio,
	}
	s.client = syncclient.New(syncclient.Config{
		Transport: transport,
		Logger:    log,
		OnChange: func(_ calendar.Document, revision int64) {
			log.Debug().Int64("revision", revision).Msg("document changed")
		},
	})
	if err := s.client.Open(ctx, s.id); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.client.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("poller stopped")
		}
	}()
	defer func() {
		cancel()
		<-done
		s.client.Wait()
	}()

	fmt.Fprintf(sio.out, "opened %s at revision %d (type help for commands)\n", s.id, s.client.Revision())
	return s.loop(ctx)
}

// loop reads commands until quit, end of input or cancellation.
func (s *session) loop(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.io.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(s.io.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.io.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.io.out)
				return nil
			}
			quit, err := s.exec(ctx, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(s.io.errOut, "error: %s\n", describeError(err))
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *session) exec(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprint(s.io.out, sessionHelp)
	case "show":
		printEntry(s.io.out, s.id, s.client.Revision(), s.client.Document())
	case "status":
		fmt.Fprintf(s.io.out, "calendar %s revision %d state %s focus %d rollback %t\n",
			s.id, s.client.Revision(), s.client.State(), s.focus, s.client.CanRollback())
	case "focus":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return false, fmt.Errorf("focus expects a day index >= 0, got %q", arg)
		}
		s.focus = n
	case "plan":
		if arg == "" {
			return false, errors.New("plan expects a request, e.g. plan lunch at the Louvre on Tuesday")
		}
		return false, s.plan(ctx, arg)
	case "apply":
		if s.proposal == nil {
			return false, errors.New("no proposal to apply")
		}
		if err := s.client.ApplyPlan(s.proposal, s.focus); err != nil {
			return false, err
		}
		s.proposal = nil
		fmt.Fprintln(s.io.out, "applied")
	case "delete":
		s.client.Wait()
		if err := s.client.Delete(ctx, s.id); err != nil {
			return false, err
		}
		s.proposal = nil
		fmt.Fprintf(s.io.out, "deleted %s\n", s.id)
		return true, nil
	case "rollback":
		snap, ok, err := s.client.Rollback()
		if err != nil {
			return false, err
		}
		if !ok {
			fmt.Fprintln(s.io.out, "nothing to roll back")
			return false, nil
		}
		s.focus = snap.FocusIndex
		fmt.Fprintf(s.io.out, "rolled back, focus %d\n", s.focus)
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}

func (s *session) plan(ctx context.Context, text string) error {
	s.history = append(s.history, planner.Message{Role: planner.RoleUser, Content: text})

	proposal, err := s.transport.Plan(ctx, s.id, planner.Request{
		Messages:   s.history,
		Timezone:   s.timezone,
		FocusIndex: s.focus,
	})
	if err != nil {
		s.history = s.history[:len(s.history)-1]
		return err
	}

	s.history = append(s.history, planner.Message{Role: planner.RoleAssistant, Content: proposal.Message})
	fmt.Fprintln(s.io.out, proposal.Message)

	if proposal.Status != planner.StatusReady || proposal.Document == nil {
		s.proposal = nil
		return nil
	}
	s.proposal = proposal
	if sum := proposal.Summary; sum != nil {
		fmt.Fprintf(s.io.out, "proposal: %d new, %d invalid, %d overlapping",
			sum.Created, sum.SkippedInvalid, sum.SkippedOverlap)
		if len(sum.Unresolved) > 0 {
			fmt.Fprintf(s.io.out, ", unresolved: %s", strings.Join(sum.Unresolved, ", "))
		}
		fmt.Fprintln(s.io.out)
	}
	fmt.Fprintln(s.io.out, "type apply to keep it")
	return nil
}

// printEntry writes a calendar header followed by one line per event.
func printEntry(out io.Writer, id string, revision int64, doc calendar.Document) {
	end, err := doc.EndDate()
	if err != nil {
		end = "?"
	}
	fmt.Fprintf(out, "%s (revision %d) %s..%s %02d:00-%02d:00 %s\n",
		id, revision, doc.StartDate, end, doc.StartHour, doc.EndHour, doc.ViewMode)

	events := doc.Listing()
	if len(events) == 0 {
		fmt.Fprintln(out, "  no events")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, ev := range events {
		date, err := doc.DateOf(ev.DayIndex)
		if err != nil {
			date = fmt.Sprintf("day %d", ev.DayIndex)
		}
		where := ""
		if ev.Location != nil {
			where = ev.Location.Name
		}
		if ev.Destination != nil {
			where += " -> " + ev.Destination.Name
		}
		if ev.Route != nil {
			where += fmt.Sprintf(" (%.1f km)", float64(ev.Route.DistanceMeters)/1000)
		}
		fmt.Fprintf(tw, "  %s\t%s-%s\t%s\t%s\n",
			date, planner.FormatClock(ev.StartMinutes), planner.FormatClock(ev.EndMinutes), ev.Title, where)
	}
	tw.Flush()
}
