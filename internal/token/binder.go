// Package token issues per-order capability tokens to ordering clients.
// A token is minted once at order creation and bound to at most one
// live connection at a time; everything here is process-local and a
// lost token means the client re-authenticates through its own session.
package token

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrTokenMismatch = errors.New("order token invalid")
	// ErrTokenBound means the token is held by another connection that
	// is still live; rebinding only works after that connection drops.
	ErrTokenBound = errors.New("order token bound to a live connection")
)

type binding struct {
	token  string
	connID string // empty until a connection joins
}

// Binder maps orders to their client tokens and bound connections. The
// liveness check is injected so the binder stays transport-agnostic.
type Binder struct {
	mu     sync.Mutex
	orders map[string]*binding
	alive  func(connID string) bool
}

func NewBinder(alive func(connID string) bool) *Binder {
	if alive == nil {
		alive = func(string) bool { return false }
	}
	return &Binder{orders: make(map[string]*binding), alive: alive}
}

// Issue mints the token for a freshly created order.
func (b *Binder) Issue(orderID string) string {
	tok := uuid.New().String()
	b.mu.Lock()
	b.orders[orderID] = &binding{token: tok}
	b.mu.Unlock()
	return tok
}

// Bind attaches a connection to the order's token. Rebinding to a new
// connection is only permitted once the previously bound connection is
// no longer live; a live binding is never stolen.
func (b *Binder) Bind(orderID, tok, connID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.orders[orderID]
	if !ok || bd.token != tok {
		return ErrTokenMismatch
	}
	if bd.connID != "" && bd.connID != connID && b.alive(bd.connID) {
		return ErrTokenBound
	}
	bd.connID = connID
	return nil
}

// Validate checks that the token is correct and presented by the bound
// connection. An empty connID is a connectionless presentation (the
// HTTP fallback) and is accepted on the token alone.
func (b *Binder) Validate(orderID, tok, connID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.orders[orderID]
	if !ok || bd.token != tok {
		return ErrTokenMismatch
	}
	if connID != "" && bd.connID != connID {
		return ErrTokenMismatch
	}
	return nil
}

// BoundConn returns the connection currently holding the order token.
func (b *Binder) BoundConn(orderID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.orders[orderID]
	if !ok || bd.connID == "" {
		return "", false
	}
	return bd.connID, true
}

// Clear drops the token, on terminal order states.
func (b *Binder) Clear(orderID string) {
	b.mu.Lock()
	delete(b.orders, orderID)
	b.mu.Unlock()
}
