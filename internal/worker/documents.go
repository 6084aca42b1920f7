package worker

import (
	"context"
	"errors"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/store"
	"github.com/mapcal/mapcal/internal/syncclient"
)

// Documents reads and saves calendars. The sync client's HTTP transport satisfies
// it when the worker runs as its own process.
type Documents interface {
	Get(ctx context.Context, id string) (*store.Entry, error)
	Put(ctx context.Context, id string, req calendar.SaveRequest) (*store.Entry, error)
	List(ctx context.Context) ([]string, error)
}

// StoreDocuments adapts an in-process store to Documents.
type StoreDocuments struct {
	Store *store.Store
}

// Get returns the current entry.
func (d StoreDocuments) Get(ctx context.Context, id string) (*store.Entry, error) {
	return d.Store.Get(ctx, id)
}

// Put saves through the store's merge path.
func (d StoreDocuments) Put(ctx context.Context, id string, req calendar.SaveRequest) (*store.Entry, error) {
	base := req.Document
	if req.Base != nil {
		base = *req.Base
	}
	return d.Store.Put(ctx, id, req.Document, base, req.BaseRevision)
}

// List returns all calendar ids.
func (d StoreDocuments) List(ctx context.Context) ([]string, error) {
	return d.Store.List(ctx), nil
}

// isGone reports whether err means the calendar no longer exists.
func isGone(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, syncclient.ErrNotFound)
}

var (
	_ Documents = StoreDocuments{}
	_ Documents = (*syncclient.HTTPTransport)(nil)
)
