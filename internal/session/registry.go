// Package session tracks driver connection identity. The in-process
// registry is authoritative for socket membership; the durable store is
// authoritative for identity and expiry, which is what lets a
// reconnecting driver resume the same session after a process restart.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var ErrUnknownSession = errors.New("unknown session")

// Entry is the in-process view of a driver session.
type Entry struct {
	ID        string
	DriverID  string
	Name      string
	Online    bool
	Conns     map[string]struct{}
	ExpiresAt time.Time
}

func (e *Entry) connIDs() []string {
	out := make([]string, 0, len(e.Conns))
	for id := range e.Conns {
		out = append(out, id)
	}
	return out
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Entry

	store storage.SessionStore
	log   *slog.Logger
	ttl   time.Duration

	Now func() time.Time // test seam
}

func NewRegistry(store storage.SessionStore, log *slog.Logger, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{
		sessions: make(map[string]*Entry),
		store:    store,
		log:      log,
		ttl:      ttl,
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Announce registers (or refreshes) a session for a driver. An empty
// sessionID mints a fresh one; a known id keeps its identity.
func (r *Registry) Announce(ctx context.Context, sessionID, driverID, name string) (*Entry, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		e = &Entry{ID: sessionID, DriverID: driverID, Name: name, Conns: make(map[string]struct{})}
		r.sessions[sessionID] = e
	}
	if driverID != "" {
		e.DriverID = driverID
	}
	if name != "" {
		e.Name = name
	}
	e.ExpiresAt = r.now().Add(r.ttl)
	row := r.toRow(e)
	r.mu.Unlock()

	if err := r.store.SaveSession(ctx, row); err != nil {
		return nil, err
	}
	return r.snapshot(sessionID), nil
}

// Resolve returns the session for the given id. On an in-process miss
// it falls back to the durable copy and reconstructs the entry with the
// identical id: the driver keeps their cached identity across a process
// restart, but must re-announce presence (online starts false).
func (r *Registry) Resolve(ctx context.Context, sessionID string) (*Entry, error) {
	r.mu.Lock()
	if _, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		return r.snapshot(sessionID), nil
	}
	r.mu.Unlock()

	row, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, err
	}
	if row.ExpiresAt.Before(r.now()) {
		return nil, ErrUnknownSession
	}

	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		e = &Entry{
			ID:        row.ID,
			DriverID:  row.DriverID,
			Name:      row.Name,
			Online:    false, // driver must re-announce presence
			Conns:     make(map[string]struct{}),
			ExpiresAt: row.ExpiresAt,
		}
		r.sessions[sessionID] = e
	}
	r.mu.Unlock()

	if r.log != nil {
		r.log.Info("session recovered from durable store",
			"session_id", sessionID, "driver_id", e.DriverID)
	}
	return r.snapshot(sessionID), nil
}

// SetOnline flips presence on both copies.
func (r *Registry) SetOnline(ctx context.Context, sessionID string, online bool) (*Entry, error) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownSession
	}
	e.Online = online
	r.mu.Unlock()

	if err := r.store.SetSessionOnline(ctx, sessionID, online); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return r.snapshot(sessionID), nil
}

// AddConn attaches a live connection to the session.
func (r *Registry) AddConn(sessionID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	e.Conns[connID] = struct{}{}
	return true
}

// RemoveConn detaches a connection. When the last live connection
// drops, the session is flipped offline so orders are never dispatched
// to a silently-disconnected driver.
func (r *Registry) RemoveConn(ctx context.Context, sessionID, connID string) (wentOffline bool) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(e.Conns, connID)
	wentOffline = len(e.Conns) == 0 && e.Online
	if wentOffline {
		e.Online = false
	}
	r.mu.Unlock()

	if wentOffline {
		if err := r.store.SetSessionOnline(ctx, sessionID, false); err != nil && r.log != nil {
			r.log.Warn("offline flag write failed", "session_id", sessionID, "error", err)
		}
	}
	return wentOffline
}

// SessionForConn finds the session owning a connection id.
func (r *Registry) SessionForConn(connID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.sessions {
		if _, ok := e.Conns[connID]; ok {
			return r.snapshotLocked(id), true
		}
	}
	return nil, false
}

func (r *Registry) snapshot(sessionID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(sessionID)
}

func (r *Registry) snapshotLocked(sessionID string) *Entry {
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := &Entry{
		ID:        e.ID,
		DriverID:  e.DriverID,
		Name:      e.Name,
		Online:    e.Online,
		Conns:     make(map[string]struct{}, len(e.Conns)),
		ExpiresAt: e.ExpiresAt,
	}
	for c := range e.Conns {
		cp.Conns[c] = struct{}{}
	}
	return cp
}

func (r *Registry) toRow(e *Entry) *models.DriverSession {
	return &models.DriverSession{
		ID:        e.ID,
		DriverID:  e.DriverID,
		Name:      e.Name,
		Online:    e.Online,
		ExpiresAt: e.ExpiresAt,
	}
}
