package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracdap/platform-gateway/internal/apperror"
)

// MemoryEngine is an in-process Engine backed by a mutex-guarded map. It
// implements the same revision/ticket semantics as the Postgres-backed
// engine and is used for local development and unit tests.
type MemoryEngine struct {
	mu      sync.Mutex
	entries map[entryKey]*Entry
	tickets map[string]*ticketState // ticket id -> state
	byKey   map[entryKey]string     // entryKey -> open ticket id

	closed chan struct{}
	wg     sync.WaitGroup
}

type entryKey struct {
	cacheName string
	key       string
}

type ticketState struct {
	ticket  Ticket
	isNew   bool // came from OpenNewTicket; AddEntry vs UpdateEntry is chosen accordingly
}

// NewMemoryEngine constructs a MemoryEngine and starts its background
// expiry sweep, which runs every sweepInterval to release tickets whose
// ExpiryTime has passed without a commit.
func NewMemoryEngine(sweepInterval time.Duration) *MemoryEngine {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}

	e := &MemoryEngine{
		entries: make(map[entryKey]*Entry),
		tickets: make(map[string]*ticketState),
		byKey:   make(map[entryKey]string),
		closed:  make(chan struct{}),
	}

	e.wg.Add(1)
	go e.sweepLoop(sweepInterval)

	return e
}

// Close stops the background sweep goroutine.
func (e *MemoryEngine) Close() {
	close(e.closed)
	e.wg.Wait()
}

func (e *MemoryEngine) sweepLoop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.sweepExpired()
		}
	}
}

func (e *MemoryEngine) sweepExpired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepExpiredLocked()
}

// sweepExpiredLocked releases every ticket whose expiry has passed. Called
// under e.mu, both from the background loop and inline from every open
// call per §4.9 ("expiry sweep on every open call").
func (e *MemoryEngine) sweepExpiredLocked() {
	now := time.Now()
	for id, st := range e.tickets {
		if now.After(st.ticket.ExpiryTime) {
			delete(e.tickets, id)
			delete(e.byKey, entryKey{st.ticket.CacheName, st.ticket.Key})
		}
	}
}

func newTicketID() string {
	return uuid.NewString()
}

func (e *MemoryEngine) OpenNewTicket(_ context.Context, cacheName, key string, ttl time.Duration) (*Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepExpiredLocked()

	ek := entryKey{cacheName, key}
	if _, exists := e.entries[ek]; exists {
		return nil, apperror.New(apperror.CodeKeyExists, "entry already exists for key").WithField(key)
	}
	if _, open := e.byKey[ek]; open {
		return nil, apperror.New(apperror.CodeTicketConflict, "a ticket is already open for this key").WithField(key)
	}

	now := time.Now()
	t := &Ticket{
		ID:         newTicketID(),
		CacheName:  cacheName,
		Key:        key,
		Revision:   0,
		GrantTime:  now,
		ExpiryTime: now.Add(ttl),
	}
	e.tickets[t.ID] = &ticketState{ticket: *t, isNew: true}
	e.byKey[ek] = t.ID

	return t, nil
}

func (e *MemoryEngine) OpenTicket(_ context.Context, cacheName, key string, ttl time.Duration) (*Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepExpiredLocked()

	ek := entryKey{cacheName, key}
	entry, exists := e.entries[ek]
	if !exists {
		return nil, apperror.ErrEntryNotFound
	}
	if _, open := e.byKey[ek]; open {
		return nil, apperror.New(apperror.CodeTicketConflict, "a ticket is already open for this key").WithField(key)
	}

	now := time.Now()
	t := &Ticket{
		ID:         newTicketID(),
		CacheName:  cacheName,
		Key:        key,
		Revision:   entry.Revision,
		GrantTime:  now,
		ExpiryTime: now.Add(ttl),
	}
	e.tickets[t.ID] = &ticketState{ticket: *t}
	e.byKey[ek] = t.ID

	return t, nil
}

func (e *MemoryEngine) CloseTicket(_ context.Context, ticketID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.tickets[ticketID]
	if !ok {
		return apperror.ErrTicketNotFound
	}
	delete(e.tickets, ticketID)
	delete(e.byKey, entryKey{st.ticket.CacheName, st.ticket.Key})
	return nil
}

func (e *MemoryEngine) AddEntry(_ context.Context, ticketID string, status EntryStatus, value []byte) (*Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.tickets[ticketID]
	if !ok {
		return nil, apperror.ErrTicketNotFound
	}
	if !st.isNew {
		return nil, apperror.New(apperror.CodeTicketConflict, "ticket was not opened with OpenNewTicket")
	}

	ek := entryKey{st.ticket.CacheName, st.ticket.Key}
	now := time.Now()
	entry := &Entry{
		CacheName: st.ticket.CacheName,
		Key:       st.ticket.Key,
		Revision:  1,
		Status:    status,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.entries[ek] = entry
	delete(e.tickets, ticketID)
	delete(e.byKey, ek)

	out := *entry
	return &out, nil
}

func (e *MemoryEngine) UpdateEntry(_ context.Context, ticketID string, status EntryStatus, value []byte) (*Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.tickets[ticketID]
	if !ok {
		return nil, apperror.ErrTicketNotFound
	}

	ek := entryKey{st.ticket.CacheName, st.ticket.Key}
	entry, exists := e.entries[ek]
	if !exists {
		return nil, apperror.ErrEntryNotFound
	}
	if entry.Revision != st.ticket.Revision {
		return nil, apperror.ErrRevisionConflict.WithDetails("ticket_revision", st.ticket.Revision).WithDetails("entry_revision", entry.Revision)
	}

	entry.Revision++
	entry.Status = status
	entry.Value = value
	entry.UpdatedAt = time.Now()

	delete(e.tickets, ticketID)
	delete(e.byKey, ek)

	out := *entry
	return &out, nil
}

func (e *MemoryEngine) RemoveEntry(_ context.Context, ticketID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.tickets[ticketID]
	if !ok {
		return apperror.ErrTicketNotFound
	}

	ek := entryKey{st.ticket.CacheName, st.ticket.Key}
	entry, exists := e.entries[ek]
	if !exists {
		return apperror.ErrEntryNotFound
	}
	if entry.Revision != st.ticket.Revision {
		return apperror.ErrRevisionConflict
	}

	delete(e.entries, ek)
	delete(e.tickets, ticketID)
	delete(e.byKey, ek)
	return nil
}

func (e *MemoryEngine) GetEntry(_ context.Context, cacheName, key string) (*Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[entryKey{cacheName, key}]
	if !ok {
		return nil, apperror.ErrEntryNotFound
	}
	out := *entry
	return &out, nil
}

// QueryStatus returns every entry in cacheName whose Status is one of
// statuses, optionally filtering out keys with a currently open ticket.
func (e *MemoryEngine) QueryStatus(_ context.Context, cacheName string, statuses []EntryStatus, includeOpenTickets bool) ([]*Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepExpiredLocked()

	wanted := make(map[EntryStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []*Entry
	for ek, entry := range e.entries {
		if ek.cacheName != cacheName || !wanted[entry.Status] {
			continue
		}
		if !includeOpenTickets {
			if _, open := e.byKey[ek]; open {
				continue
			}
		}
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

func (e *MemoryEngine) ListKeys(_ context.Context, cacheName string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var keys []string
	for ek := range e.entries {
		if ek.cacheName == cacheName {
			keys = append(keys, ek.key)
		}
	}
	return keys, nil
}

func (e *MemoryEngine) TicketStatus(_ context.Context, cacheName, key string) (bool, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepExpiredLocked()

	id, open := e.byKey[entryKey{cacheName, key}]
	return open, id, nil
}
