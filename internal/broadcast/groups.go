// Package broadcast maintains the live connection groups the engine
// fans events out to: the online-drivers group and one group per order.
package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Conn is a live transport connection. The websocket implementation
// lives in conn.go; tests substitute fakes.
type Conn interface {
	ID() string
	Send(v any) error
	Close() error
}

type statusStamp struct {
	status models.OrderStatus
	at     time.Time
}

// Groups is the broadcast-group registry. All state is process-local
// and disposable: membership is rebuilt from reconnecting clients.
type Groups struct {
	mu         sync.Mutex
	conns      map[string]Conn
	online     map[string]struct{}            // online-drivers group, by conn id
	orders     map[string]map[string]struct{} // per-order groups
	lastStatus map[string]statusStamp         // (order,status) debounce

	debounce time.Duration
	log      *slog.Logger

	Now func() time.Time // test seam
}

func NewGroups(log *slog.Logger, debounce time.Duration) *Groups {
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	return &Groups{
		conns:      make(map[string]Conn),
		online:     make(map[string]struct{}),
		orders:     make(map[string]map[string]struct{}),
		lastStatus: make(map[string]statusStamp),
		debounce:   debounce,
		log:        log,
	}
}

func (g *Groups) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Register makes a connection addressable.
func (g *Groups) Register(c Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.ID()] = c
}

// Unregister removes a connection from every group.
func (g *Groups) Unregister(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, connID)
	delete(g.online, connID)
	for orderID, members := range g.orders {
		delete(members, connID)
		if len(members) == 0 {
			delete(g.orders, orderID)
		}
	}
}

// Alive reports whether a connection is still registered.
func (g *Groups) Alive(connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.conns[connID]
	return ok
}

// JoinOnline adds connections to the online-drivers group.
func (g *Groups) JoinOnline(connIDs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range connIDs {
		if _, ok := g.conns[id]; ok {
			g.online[id] = struct{}{}
		}
	}
}

// LeaveOnline removes connections from the online-drivers group.
func (g *Groups) LeaveOnline(connIDs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range connIDs {
		delete(g.online, id)
	}
}

// JoinOrder subscribes a connection to one order's events.
func (g *Groups) JoinOrder(orderID, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[connID]; !ok {
		return
	}
	members, ok := g.orders[orderID]
	if !ok {
		members = make(map[string]struct{})
		g.orders[orderID] = members
	}
	members[connID] = struct{}{}
}

// DropOrder forgets an order's group (terminal states).
func (g *Groups) DropOrder(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.orders, orderID)
	delete(g.lastStatus, orderID)
}

// BroadcastOnline fans v out to every online driver connection.
func (g *Groups) BroadcastOnline(v any) {
	g.send(g.onlineConns(), v)
}

// BroadcastOrder fans v out to every watcher of an order.
func (g *Groups) BroadcastOrder(orderID string, v any) {
	g.send(g.orderConns(orderID), v)
}

// SendTo delivers v to a single connection, if it is still live.
func (g *Groups) SendTo(connID string, v any) bool {
	g.mu.Lock()
	c, ok := g.conns[connID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	if err := c.Send(v); err != nil {
		if g.log != nil {
			g.log.Warn("send failed", "conn_id", connID, "error", err)
		}
		return false
	}
	return true
}

// BroadcastStatus fans a status change out to the order's group unless
// the same (order, status) pair was already announced within the
// debounce window. Re-announcements after a reconnect are thereby
// suppressed without touching stored state. Returns whether it sent.
func (g *Groups) BroadcastStatus(orderID string, ev models.StatusChangedEvent) bool {
	now := g.now()
	g.mu.Lock()
	if st, ok := g.lastStatus[orderID]; ok && st.status == ev.Status && now.Sub(st.at) < g.debounce {
		g.mu.Unlock()
		return false
	}
	g.lastStatus[orderID] = statusStamp{status: ev.Status, at: now}
	g.mu.Unlock()

	g.BroadcastOrder(orderID, ev)
	return true
}

func (g *Groups) onlineConns() []Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Conn, 0, len(g.online))
	for id := range g.online {
		if c, ok := g.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (g *Groups) orderConns(orderID string) []Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	members := g.orders[orderID]
	out := make([]Conn, 0, len(members))
	for id := range members {
		if c, ok := g.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (g *Groups) send(conns []Conn, v any) {
	for _, c := range conns {
		if err := c.Send(v); err != nil && g.log != nil {
			g.log.Warn("broadcast write failed", "conn_id", c.ID(), "error", err)
		}
	}
}
