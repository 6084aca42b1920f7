// Package store holds the authoritative calendar documents, one per calendar id,
// with a revision counter and a synchronous durable mirror.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/calendar"
)

// Store errors.
var (
	ErrNotFound  = errors.New("calendar not found")
	ErrExists    = errors.New("calendar already exists")
	ErrInvalidID = errors.New("invalid calendar id")
)

var idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Entry is a calendar document at a given revision.
type Entry struct {
	ID        string            `json:"id"`
	Document  calendar.Document `json:"document"`
	Revision  int64             `json:"revision"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Config holds configuration for the store.
type Config struct {
	// Mirror is the durable backing storage (required).
	Mirror Mirror

	// Notifier is told about accepted revisions (optional).
	Notifier Notifier

	// Metrics records save outcomes (optional).
	Metrics *Metrics

	// Logger for store operations.
	Logger zerolog.Logger

	// Now overrides the clock (optional).
	Now func() time.Time
}

// Store is the keyed, revisioned calendar store.
//
// Mutations of one calendar are serialized by that calendar's lock, and the mirror
// write happens inside the same critical section as the in-memory swap so the two
// never diverge. Different calendars never contend.
type Store struct {
	mirror   Mirror
	notifier Notifier
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu        sync.Mutex
	doc       calendar.Document
	revision  int64
	updatedAt time.Time
	deleted   bool
}

// New creates a store. Call Load to hydrate it from the mirror.
func New(cfg Config) *Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		mirror:   cfg.Mirror,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      now,
		entries:  make(map[string]*entry),
	}
}

// Load hydrates the store from the mirror, replacing any in-memory state.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.mirror.Load(ctx)
	if err != nil {
		return fmt.Errorf("load calendars: %w", err)
	}

	entries := make(map[string]*entry, len(records))
	for _, rec := range records {
		entries[rec.ID] = &entry{
			doc:       rec.Document,
			revision:  rec.Revision,
			updatedAt: rec.UpdatedAt,
		}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.logger.Info().Int("calendars", len(entries)).Msg("calendar store loaded")
	return nil
}

// ValidID reports whether id may be used as a calendar id.
func ValidID(id string) bool {
	return idRegex.MatchString(id)
}

// Create registers a new calendar at revision 0.
func (s *Store) Create(ctx context.Context, id string, doc calendar.Document) (*Entry, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	if doc.Events == nil {
		doc.Events = make(map[int][]calendar.Event)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return nil, ErrExists
	}

	e := &entry{doc: doc.Clone(), revision: 0, updatedAt: s.now().UTC()}
	if err := s.mirror.Save(ctx, e.record(id)); err != nil {
		return nil, fmt.Errorf("persist calendar %s: %w", id, err)
	}
	s.entries[id] = e

	s.logger.Info().Str("calendar_id", id).Msg("calendar created")
	return e.snapshot(id), nil
}

// Get returns the current document and revision.
func (s *Store) Get(_ context.Context, id string) (*Entry, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, ErrNotFound
	}
	return e.snapshot(id), nil
}

// List returns all calendar ids in lexical order.
func (s *Store) List(_ context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Put saves incoming for id.
//
// When baseRevision is nil or equals the current revision nothing happened since the
// caller's last sync and incoming is taken verbatim. Otherwise incoming is reconciled
// against the current document with calendar.Merge. A result equal to the current
// document leaves the revision unchanged and writes nothing.
func (s *Store) Put(ctx context.Context, id string, incoming, base calendar.Document, baseRevision *int64) (*Entry, error) {
	if err := incoming.Validate(); err != nil {
		return nil, err
	}

	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return nil, ErrNotFound
	}

	merged := baseRevision != nil && *baseRevision != e.revision
	var next calendar.Document
	if merged {
		next = calendar.Merge(e.doc, base, incoming)
	} else {
		next = incoming.Clone()
	}

	if next.Equal(e.doc) {
		snap := e.snapshot(id)
		e.mu.Unlock()
		s.metrics.recordSave(ctx, merged, false)
		s.logger.Debug().
			Str("calendar_id", id).
			Int64("revision", snap.Revision).
			Bool("merged", merged).
			Msg("save was a no-op")
		return snap, nil
	}

	candidate := entry{doc: next, revision: e.revision + 1, updatedAt: s.now().UTC()}
	if err := s.mirror.Save(ctx, candidate.record(id)); err != nil {
		e.mu.Unlock()
		s.logger.Error().Err(err).Str("calendar_id", id).Msg("failed to persist calendar")
		return nil, fmt.Errorf("persist calendar %s: %w", id, err)
	}
	e.doc = candidate.doc
	e.revision = candidate.revision
	e.updatedAt = candidate.updatedAt
	snap := e.snapshot(id)
	e.mu.Unlock()

	s.metrics.recordSave(ctx, merged, true)
	s.logger.Debug().
		Str("calendar_id", id).
		Int64("revision", snap.Revision).
		Bool("merged", merged).
		Int("events", snap.Document.EventCount()).
		Msg("calendar saved")

	s.notify(ctx, id, snap.Revision)
	return snap, nil
}

// Delete removes a calendar and its durable record.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.mirror.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete calendar %s: %w", id, err)
	}
	e.deleted = true
	delete(s.entries, id)

	s.logger.Info().Str("calendar_id", id).Msg("calendar deleted")
	return nil
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *Store) notify(ctx context.Context, id string, revision int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.CalendarChanged(ctx, id, revision); err != nil {
		s.logger.Warn().Err(err).
			Str("calendar_id", id).
			Int64("revision", revision).
			Msg("failed to publish calendar change")
	}
}

func (e *entry) record(id string) Record {
	return Record{ID: id, Document: e.doc, Revision: e.revision, UpdatedAt: e.updatedAt}
}

func (e *entry) snapshot(id string) *Entry {
	return &Entry{
		ID:        id,
		Document:  e.doc.Clone(),
		Revision:  e.revision,
		UpdatedAt: e.updatedAt,
	}
}
