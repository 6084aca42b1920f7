// Package syncclient keeps a local working copy of one calendar in step with the
// store server: it polls for newer revisions and pushes local edits tagged with the
// document and revision they were made against.
package syncclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/planner"
	"github.com/mapcal/mapcal/internal/rollback"
	"github.com/mapcal/mapcal/internal/store"
)

// Sync client errors.
var (
	ErrNotFound    = errors.New("calendar not found")
	ErrUnreachable = errors.New("calendar server unreachable")
	ErrStale       = errors.New("proposal was computed for another calendar")
	ErrNotOpen     = errors.New("no calendar is open")
	ErrNoDocument  = errors.New("proposal has no document to apply")
	ErrOutdated    = errors.New("proposal was computed against an older revision")
)

// State is the activity of the client.
type State int

const (
	StateIdle State = iota
	StateSyncing
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateSyncing:
		return "syncing"
	case StateSaving:
		return "saving"
	default:
		return "idle"
	}
}

const (
	// DefaultPollInterval is the poll cadence while the server is reachable.
	DefaultPollInterval = 2 * time.Second
	// DefaultOutageInterval is the poll cadence during an outage.
	DefaultOutageInterval = 15 * time.Second
)

// Config holds configuration for the sync client.
type Config struct {
	// Transport reaches the store server (required).
	Transport Transport

	// Ledger holds rollback snapshots (optional, a private ledger is used if nil).
	Ledger *rollback.Ledger

	// PollInterval is the cadence while reachable (default: 2s).
	PollInterval time.Duration

	// OutageInterval is the cadence during an outage (default: 15s).
	OutageInterval time.Duration

	// OnChange is called after the working document is replaced by server state (optional).
	OnChange func(doc calendar.Document, revision int64)

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is the sync client for one active calendar at a time.
// It is safe for concurrent use.
type Client struct {
	transport      Transport
	ledger         *rollback.Ledger
	pollInterval   time.Duration
	outageInterval time.Duration
	onChange       func(calendar.Document, int64)
	logger         zerolog.Logger

	mu       sync.Mutex
	id       string
	working  calendar.Document
	base     calendar.Document
	revision int64
	online   bool
	syncing  bool
	inFlight int
	dirty    bool
	seq      uint64
	saves    sync.WaitGroup
}

// New creates a sync client with no calendar open.
func New(cfg Config) *Client {
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	outageInterval := cfg.OutageInterval
	if outageInterval == 0 {
		outageInterval = DefaultOutageInterval
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = rollback.NewLedger()
	}

	return &Client{
		transport:      cfg.Transport,
		ledger:         ledger,
		pollInterval:   pollInterval,
		outageInterval: outageInterval,
		onChange:       cfg.OnChange,
		logger:         cfg.Logger,
		online:         true,
	}
}

// Open makes id the active calendar, fetching its current document and revision.
// An unknown id returns ErrNotFound and leaves the previous calendar active.
func (c *Client) Open(ctx context.Context, id string) error {
	c.mu.Lock()
	c.syncing = true
	c.mu.Unlock()

	entry, err := c.transport.Get(ctx, id)

	c.mu.Lock()
	c.syncing = false
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			c.markOfflineLocked(err)
		}
		c.mu.Unlock()
		return err
	}
	c.markOnlineLocked()
	c.id = id
	c.adoptLocked(entry)
	c.dirty = false
	// Responses to saves for the previous calendar are now stale.
	c.seq++
	c.mu.Unlock()

	c.logger.Info().
		Str("calendar_id", id).
		Int64("revision", entry.Revision).
		Msg("calendar opened")
	c.changed(entry)
	return nil
}

// Run polls the active calendar until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	timer := time.NewTimer(c.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := c.Poll(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		timer.Reset(c.interval())
	}
}

// Poll fetches the active calendar once. A strictly newer revision replaces the
// working document and base. Unreachable errors switch to the outage cadence.
func (c *Client) Poll(ctx context.Context) error {
	c.mu.Lock()
	id := c.id
	if id == "" {
		c.mu.Unlock()
		return ErrNotOpen
	}
	c.syncing = true
	c.mu.Unlock()

	entry, err := c.transport.Get(ctx, id)

	c.mu.Lock()
	c.syncing = false
	if id != c.id {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			c.markOfflineLocked(err)
		}
		c.mu.Unlock()
		return err
	}
	c.markOnlineLocked()

	if entry.Revision > c.revision {
		c.adoptLocked(entry)
		c.dirty = false
		c.mu.Unlock()
		c.logger.Debug().
			Str("calendar_id", id).
			Int64("revision", entry.Revision).
			Msg("applied remote revision")
		c.changed(entry)
		return nil
	}

	// An edit made during an outage is pushed again once the server is back.
	if c.dirty && c.inFlight == 0 {
		c.scheduleSaveLocked()
	}
	c.mu.Unlock()
	return nil
}

// Edit applies fn to the working document and schedules a save.
func (c *Client) Edit(fn func(doc *calendar.Document)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.id == "" {
		return ErrNotOpen
	}
	fn(&c.working)
	c.scheduleSaveLocked()
	return nil
}

// Replace swaps the working document and schedules a save.
func (c *Client) Replace(doc calendar.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.id == "" {
		return ErrNotOpen
	}
	c.working = doc.Clone()
	c.scheduleSaveLocked()
	return nil
}

// ApplyPlan applies a planning proposal to the active calendar. A proposal computed
// for a different calendar is discarded with ErrStale and captures no snapshot.
// Otherwise the current working document is captured for rollback first.
//
// When the client has moved past the proposal's revision, or holds unsaved edits,
// the plan is merged into the working document against the proposal's base so
// changes made after planning survive. Without a base such a proposal is refused
// with ErrOutdated.
func (c *Client) ApplyPlan(proposal *planner.Proposal, focusIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.id == "" {
		return ErrNotOpen
	}
	if proposal.CalendarID != c.id {
		c.logger.Info().
			Str("proposal_calendar_id", proposal.CalendarID).
			Str("active_calendar_id", c.id).
			Msg("discarding stale proposal")
		return ErrStale
	}
	if proposal.Document == nil {
		return ErrNoDocument
	}

	planned := proposal.Document.Clone()
	moved := c.revision != proposal.BaseRevision || !c.working.Equal(c.base)
	if moved {
		if proposal.Base == nil {
			return ErrOutdated
		}
		planned = calendar.Merge(c.working, *proposal.Base, planned)
	}

	c.ledger.Capture(c.id, c.working, focusIndex)
	c.working = planned
	c.scheduleSaveLocked()

	c.logger.Info().
		Str("calendar_id", c.id).
		Int64("proposal_revision", proposal.BaseRevision).
		Int64("revision", c.revision).
		Bool("merged", moved).
		Msg("applied plan")
	return nil
}

// Delete removes calendar id on the server and drops its rollback snapshot. Deleting
// the active calendar closes it. An id the server no longer knows is still forgotten
// locally and reported as ErrNotFound.
func (c *Client) Delete(ctx context.Context, id string) error {
	err := c.transport.Delete(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		if errors.Is(err, ErrUnreachable) {
			c.mu.Lock()
			c.markOfflineLocked(err)
			c.mu.Unlock()
		}
		return err
	}
	c.ledger.Forget(id)

	c.mu.Lock()
	if c.id == id {
		c.id = ""
		c.working = calendar.Document{}
		c.base = calendar.Document{}
		c.revision = 0
		c.dirty = false
		c.seq++
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.logger.Info().Str("calendar_id", id).Msg("calendar deleted")
	return nil
}

// Rollback restores the document captured by the last ApplyPlan on the active
// calendar and schedules a save. It reports false when no snapshot is held.
func (c *Client) Rollback() (rollback.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.id == "" {
		return rollback.Snapshot{}, false, ErrNotOpen
	}
	snap, ok := c.ledger.Consume(c.id)
	if !ok {
		return rollback.Snapshot{}, false, nil
	}

	c.working = snap.Document.Clone()
	c.scheduleSaveLocked()
	c.logger.Info().Str("calendar_id", c.id).Msg("rolled back last plan")
	return snap, true, nil
}

// CanRollback reports whether a snapshot is held for the active calendar.
func (c *Client) CanRollback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id != "" && c.ledger.Has(c.id)
}

// Forget discards the rollback snapshot of a deleted calendar.
func (c *Client) Forget(id string) {
	c.ledger.Forget(id)
}

// Wait blocks until all scheduled saves have completed.
func (c *Client) Wait() {
	c.saves.Wait()
}

// CalendarID returns the active calendar id, or "" when none is open.
func (c *Client) CalendarID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Document returns a copy of the working document.
func (c *Client) Document() calendar.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.working.Clone()
}

// Revision returns the revision of the current base.
func (c *Client) Revision() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Online reports whether the last server round trip succeeded.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// State returns the current activity.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.inFlight > 0:
		return StateSaving
	case c.syncing:
		return StateSyncing
	default:
		return StateIdle
	}
}

// scheduleSaveLocked dispatches a save of the working document. Callers hold c.mu.
func (c *Client) scheduleSaveLocked() {
	c.seq++
	seq := c.seq
	id := c.id
	req := calendar.SaveRequest{
		Document:     c.working.Clone(),
		Base:         ptr(c.base.Clone()),
		BaseRevision: ptr(c.revision),
	}
	c.inFlight++
	c.saves.Add(1)

	go c.save(id, seq, req)
}

func (c *Client) save(id string, seq uint64, req calendar.SaveRequest) {
	defer c.saves.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.outageInterval)
	defer cancel()

	entry, err := c.transport.Put(ctx, id, req)

	c.mu.Lock()
	c.inFlight--
	if err != nil {
		if errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded) {
			c.markOfflineLocked(err)
			if id == c.id {
				c.dirty = true
			}
		} else {
			c.logger.Error().Err(err).
				Str("calendar_id", id).
				Uint64("seq", seq).
				Msg("save rejected")
		}
		c.mu.Unlock()
		return
	}
	c.markOnlineLocked()

	if id != c.id || seq != c.seq || entry.Revision < c.revision {
		c.mu.Unlock()
		c.logger.Debug().
			Str("calendar_id", id).
			Uint64("seq", seq).
			Int64("revision", entry.Revision).
			Msg("discarding superseded save response")
		return
	}
	c.adoptLocked(entry)
	c.dirty = false
	c.mu.Unlock()

	c.changed(entry)
}

// adoptLocked makes entry the working document and base. Callers hold c.mu.
func (c *Client) adoptLocked(entry *store.Entry) {
	c.working = entry.Document.Clone()
	c.base = entry.Document.Clone()
	c.revision = entry.Revision
}

// markOfflineLocked records an outage, logging only the transition.
func (c *Client) markOfflineLocked(err error) {
	if !c.online {
		return
	}
	c.online = false
	c.logger.Warn().Err(err).
		Str("calendar_id", c.id).
		Dur("retry_interval", c.outageInterval).
		Msg("calendar server unreachable, slowing down polling")
}

func (c *Client) markOnlineLocked() {
	if c.online {
		return
	}
	c.online = true
	c.logger.Info().Str("calendar_id", c.id).Msg("calendar server reachable again")
}

func (c *Client) interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online {
		return c.pollInterval
	}
	return c.outageInterval
}

func (c *Client) changed(entry *store.Entry) {
	if c.onChange != nil {
		c.onChange(entry.Document.Clone(), entry.Revision)
	}
}

func ptr[T any](v T) *T {
	return &v
}
