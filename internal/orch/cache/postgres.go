package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tracdap/platform-gateway/internal/apperror"
	"github.com/tracdap/platform-gateway/internal/orch/database"
)

// postgresUniqueViolation is Postgres's SQLSTATE for a unique-index
// conflict; cache_ticket's unique index on (cache_name, key) is the
// mutual-exclusion primitive OpenTicket/OpenNewTicket rely on instead of
// an explicit advisory lock (§4.9).
const postgresUniqueViolation = "23505"

// PostgresEngine is an Engine backed by the cache_entry/cache_ticket
// tables, safe for use by multiple gateway/orchestrator processes sharing
// one database.
type PostgresEngine struct {
	db database.DB
}

// NewPostgresEngine wraps db as an Engine.
func NewPostgresEngine(db database.DB) *PostgresEngine {
	return &PostgresEngine{db: db}
}

// sweepExpired deletes every row in cache_ticket whose expiry_time has
// passed, run at the start of every ticket-opening call per §4.9.
func (e *PostgresEngine) sweepExpired(ctx context.Context) error {
	_, err := e.db.Exec(ctx, `DELETE FROM cache_ticket WHERE expiry_time < now()`)
	return err
}

func (e *PostgresEngine) OpenNewTicket(ctx context.Context, cacheName, key string, ttl time.Duration) (*Ticket, error) {
	if err := e.sweepExpired(ctx); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "sweep expired tickets")
	}

	var count int
	err := e.db.QueryRow(ctx,
		`SELECT count(*) FROM cache_entry WHERE cache_name = $1 AND key = $2`,
		cacheName, key).Scan(&count)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "check existing entry")
	}
	if count > 0 {
		return nil, apperror.New(apperror.CodeKeyExists, "entry already exists for key").WithField(key)
	}

	t := &Ticket{
		ID:        newTicketID(),
		CacheName: cacheName,
		Key:       key,
		Revision:  0,
		GrantTime: time.Now(),
	}
	t.ExpiryTime = t.GrantTime.Add(ttl)

	_, err = e.db.Exec(ctx,
		`INSERT INTO cache_ticket (ticket_id, cache_name, key, revision, grant_time, expiry_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.CacheName, t.Key, t.Revision, t.GrantTime, t.ExpiryTime)
	if isUniqueViolation(err) {
		return nil, apperror.New(apperror.CodeTicketConflict, "a ticket is already open for this key").WithField(key)
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "insert ticket")
	}

	return t, nil
}

func (e *PostgresEngine) OpenTicket(ctx context.Context, cacheName, key string, ttl time.Duration) (*Ticket, error) {
	if err := e.sweepExpired(ctx); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "sweep expired tickets")
	}

	var revision int64
	err := e.db.QueryRow(ctx,
		`SELECT revision FROM cache_entry WHERE cache_name = $1 AND key = $2`,
		cacheName, key).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrEntryNotFound
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "read entry revision")
	}

	t := &Ticket{
		ID:        newTicketID(),
		CacheName: cacheName,
		Key:       key,
		Revision:  revision,
		GrantTime: time.Now(),
	}
	t.ExpiryTime = t.GrantTime.Add(ttl)

	_, err = e.db.Exec(ctx,
		`INSERT INTO cache_ticket (ticket_id, cache_name, key, revision, grant_time, expiry_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.CacheName, t.Key, t.Revision, t.GrantTime, t.ExpiryTime)
	if isUniqueViolation(err) {
		return nil, apperror.New(apperror.CodeTicketConflict, "a ticket is already open for this key").WithField(key)
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "insert ticket")
	}

	return t, nil
}

func (e *PostgresEngine) CloseTicket(ctx context.Context, ticketID string) error {
	tag, err := e.db.Exec(ctx, `DELETE FROM cache_ticket WHERE ticket_id = $1`, ticketID)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "delete ticket")
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrTicketNotFound
	}
	return nil
}

func (e *PostgresEngine) lookupTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	var t Ticket
	err := e.db.QueryRow(ctx,
		`SELECT ticket_id, cache_name, key, revision, grant_time, expiry_time
		 FROM cache_ticket WHERE ticket_id = $1`,
		ticketID).Scan(&t.ID, &t.CacheName, &t.Key, &t.Revision, &t.GrantTime, &t.ExpiryTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrTicketNotFound
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "lookup ticket")
	}
	if time.Now().After(t.ExpiryTime) {
		return nil, apperror.ErrTicketClosed
	}
	return &t, nil
}

func (e *PostgresEngine) AddEntry(ctx context.Context, ticketID string, status EntryStatus, value []byte) (*Entry, error) {
	t, err := e.lookupTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Revision != 0 {
		return nil, apperror.New(apperror.CodeTicketConflict, "ticket was not opened with OpenNewTicket")
	}

	entry := &Entry{
		CacheName: t.CacheName,
		Key:       t.Key,
		Revision:  1,
		Status:    status,
		Value:     value,
	}
	err = e.db.QueryRow(ctx,
		`INSERT INTO cache_entry (cache_name, key, revision, status, value_blob)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		entry.CacheName, entry.Key, entry.Revision, entry.Status, entry.Value,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, apperror.New(apperror.CodeKeyExists, "entry already exists for key").WithField(t.Key)
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "insert entry")
	}

	if _, err := e.db.Exec(ctx, `DELETE FROM cache_ticket WHERE ticket_id = $1`, ticketID); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "release ticket")
	}

	return entry, nil
}

func (e *PostgresEngine) UpdateEntry(ctx context.Context, ticketID string, status EntryStatus, value []byte) (*Entry, error) {
	t, err := e.lookupTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	entry := &Entry{CacheName: t.CacheName, Key: t.Key}
	tag, scanErr := e.updateEntryRow(ctx, t, status, value, entry)
	if scanErr != nil {
		return nil, scanErr
	}
	if tag == 0 {
		// distinguish "entry missing" from "revision mismatch"
		var exists bool
		_ = e.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cache_entry WHERE cache_name=$1 AND key=$2)`,
			t.CacheName, t.Key).Scan(&exists)
		if !exists {
			return nil, apperror.ErrEntryNotFound
		}
		return nil, apperror.ErrRevisionConflict
	}

	if _, err := e.db.Exec(ctx, `DELETE FROM cache_ticket WHERE ticket_id = $1`, ticketID); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "release ticket")
	}

	return entry, nil
}

func (e *PostgresEngine) updateEntryRow(ctx context.Context, t *Ticket, status EntryStatus, value []byte, entry *Entry) (int64, error) {
	row := e.db.QueryRow(ctx,
		`UPDATE cache_entry
		 SET revision = revision + 1, status = $1, value_blob = $2, updated_at = now()
		 WHERE cache_name = $3 AND key = $4 AND revision = $5
		 RETURNING revision, status, created_at, updated_at`,
		status, value, t.CacheName, t.Key, t.Revision)

	err := row.Scan(&entry.Revision, &entry.Status, &entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperror.Wrap(err, apperror.CodeUnavailable, "update entry")
	}
	entry.Value = value
	return 1, nil
}

func (e *PostgresEngine) RemoveEntry(ctx context.Context, ticketID string) error {
	t, err := e.lookupTicket(ctx, ticketID)
	if err != nil {
		return err
	}

	tag, err := e.db.Exec(ctx,
		`DELETE FROM cache_entry WHERE cache_name = $1 AND key = $2 AND revision = $3`,
		t.CacheName, t.Key, t.Revision)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "delete entry")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		_ = e.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cache_entry WHERE cache_name=$1 AND key=$2)`,
			t.CacheName, t.Key).Scan(&exists)
		if !exists {
			return apperror.ErrEntryNotFound
		}
		return apperror.ErrRevisionConflict
	}

	if _, err := e.db.Exec(ctx, `DELETE FROM cache_ticket WHERE ticket_id = $1`, ticketID); err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "release ticket")
	}
	return nil
}

func (e *PostgresEngine) GetEntry(ctx context.Context, cacheName, key string) (*Entry, error) {
	entry := &Entry{CacheName: cacheName, Key: key}
	err := e.db.QueryRow(ctx,
		`SELECT revision, status, value_blob, created_at, updated_at
		 FROM cache_entry WHERE cache_name = $1 AND key = $2`,
		cacheName, key,
	).Scan(&entry.Revision, &entry.Status, &entry.Value, &entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrEntryNotFound
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "read entry")
	}
	return entry, nil
}

// QueryStatus returns every entry in cacheName whose status is one of
// statuses, optionally excluding keys with a currently open ticket.
func (e *PostgresEngine) QueryStatus(ctx context.Context, cacheName string, statuses []EntryStatus, includeOpenTickets bool) ([]*Entry, error) {
	query := `SELECT cache_name, key, revision, status, value_blob, created_at, updated_at
		 FROM cache_entry
		 WHERE cache_name = $1 AND status = ANY($2)`
	if !includeOpenTickets {
		query += ` AND NOT EXISTS (
			SELECT 1 FROM cache_ticket t
			WHERE t.cache_name = cache_entry.cache_name AND t.key = cache_entry.key
		)`
	}

	rows, err := e.db.Query(ctx, query, cacheName, statuses)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "query status")
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry := &Entry{}
		if err := rows.Scan(&entry.CacheName, &entry.Key, &entry.Revision, &entry.Status,
			&entry.Value, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeUnavailable, "scan entry")
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (e *PostgresEngine) ListKeys(ctx context.Context, cacheName string) ([]string, error) {
	rows, err := e.db.Query(ctx, `SELECT key FROM cache_entry WHERE cache_name = $1 ORDER BY key`, cacheName)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "query keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeUnavailable, "scan key")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (e *PostgresEngine) TicketStatus(ctx context.Context, cacheName, key string) (bool, string, error) {
	if err := e.sweepExpired(ctx); err != nil {
		return false, "", apperror.Wrap(err, apperror.CodeUnavailable, "sweep expired tickets")
	}

	var ticketID string
	err := e.db.QueryRow(ctx,
		`SELECT ticket_id FROM cache_ticket WHERE cache_name = $1 AND key = $2`,
		cacheName, key).Scan(&ticketID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", apperror.Wrap(err, apperror.CodeUnavailable, "query ticket status")
	}
	return true, ticketID, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation
}
