// Package cache implements the ticket-based, revision-numbered job cache
// (C9): callers acquire a ticket for a (cacheName, key) pair before
// mutating the entry behind it, and present that ticket's revision back
// when committing the mutation so concurrent writers are serialized by
// optimistic-concurrency conflict rather than by a held lock.
package cache

import (
	"context"
	"time"
)

// EntryStatus is a caller-declared application status string, opaque to
// the engine (e.g. a job-lifecycle state such as "READY" or "RUNNING"
// set by the caller's addEntry/updateEntry). The engine never inspects
// or assigns it itself; it only stores and filters on it (§4.9's
// queryStatus).
type EntryStatus string

// Entry is one cached value, identified by (CacheName, Key) and versioned
// by Revision. Revision increments by one on every committed mutation.
type Entry struct {
	CacheName string
	Key       string
	Revision  int64
	Status    EntryStatus
	Value     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ticket grants its holder the exclusive right to commit one mutation of
// the (CacheName, Key) entry it was opened against, so long as the
// mutation is submitted before ExpiryTime and targets the entry at
// exactly Revision.
type Ticket struct {
	ID         string
	CacheName  string
	Key        string
	Revision   int64
	GrantTime  time.Time
	ExpiryTime time.Time
}

// Engine is the ticket engine's API (C9). All methods are safe for
// concurrent use across goroutines and, for the Postgres-backed
// implementation, across processes.
type Engine interface {
	// OpenNewTicket grants a ticket with Revision 0 for a (cacheName, key)
	// that has no entry yet; the entry itself is created by AddEntry.
	// Returns CodeKeyExists if an entry already exists for that key, or
	// CodeTicketConflict if another ticket is already open for it.
	OpenNewTicket(ctx context.Context, cacheName, key string, ttl time.Duration) (*Ticket, error)

	// OpenTicket grants a ticket against an existing entry's current
	// revision. Returns CodeEntryNotFound if no entry exists, or
	// CodeTicketConflict if another ticket is already open for the key.
	OpenTicket(ctx context.Context, cacheName, key string, ttl time.Duration) (*Ticket, error)

	// CloseTicket releases ticketID without committing any mutation.
	CloseTicket(ctx context.Context, ticketID string) error

	// AddEntry commits status and value as the initial content of the
	// entry opened by ticketID (which must have come from OpenNewTicket),
	// advances its revision to 1, and releases the ticket.
	AddEntry(ctx context.Context, ticketID string, status EntryStatus, value []byte) (*Entry, error)

	// UpdateEntry commits status and value as the new content of the
	// entry opened by ticketID, provided the entry's current revision
	// still matches the ticket's Revision; advances the revision by one
	// and releases the ticket. Returns CodeRevisionConflict on a
	// mismatch.
	UpdateEntry(ctx context.Context, ticketID string, status EntryStatus, value []byte) (*Entry, error)

	// RemoveEntry deletes the entry opened by ticketID, provided its
	// revision still matches, and releases the ticket.
	RemoveEntry(ctx context.Context, ticketID string) error

	// GetEntry reads the current entry for (cacheName, key) without
	// requiring a ticket. This is §4.9's queryKey(key) -> Entry?.
	GetEntry(ctx context.Context, cacheName, key string) (*Entry, error)

	// QueryStatus returns every entry in cacheName whose Status is one of
	// statuses; when includeOpenTickets is false, entries whose key
	// currently has an open ticket are filtered out of the result. This
	// is §4.9's queryStatus(statuses, includeOpenTickets) -> [Entry], the
	// query an orchestrator worker uses to find, e.g., every READY entry
	// with no ticket currently held against it.
	QueryStatus(ctx context.Context, cacheName string, statuses []EntryStatus, includeOpenTickets bool) ([]*Entry, error)

	// ListKeys lists every key with an entry in cacheName. Not part of
	// §4.9; a convenience for the admin API's key-browsing endpoint.
	ListKeys(ctx context.Context, cacheName string) ([]string, error)

	// TicketStatus reports whether a ticket is currently open for
	// (cacheName, key), and its id if so. Not part of §4.9; a convenience
	// for the admin API's per-key status endpoint.
	TicketStatus(ctx context.Context, cacheName, key string) (open bool, ticketID string, err error)
}
