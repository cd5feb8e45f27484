package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is the envelope for every inbound websocket message. The Type
// field selects the operation; the rest of the fields are read or
// ignored per type.
type frame struct {
	Type string `json:"type"`

	SessionID string `json:"session_id,omitempty"`
	DriverID  string `json:"driver_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Online    bool   `json:"online,omitempty"`

	OrderID    string `json:"order_id,omitempty"`
	OrderToken string `json:"order_token,omitempty"`

	Status         models.OrderStatus   `json:"status,omitempty"`
	WaitingMinutes float64              `json:"waiting_minutes,omitempty"`
	ArrivedAt      *time.Time           `json:"arrived_at,omitempty"`
	Stop           int                  `json:"stop,omitempty"`
	ElapsedSeconds float64              `json:"elapsed_seconds,omitempty"`
	Method         models.PaymentMethod `json:"method,omitempty"`

	Body   string  `json:"body,omitempty"`
	Lat    float64 `json:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

type ackFrame struct {
	Type  string `json:"type"` // "ack" or "error"
	Ref   string `json:"ref"`  // the inbound frame type
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := broadcast.NewWSConn(raw)
	s.Engine.Groups.Register(conn)
	observability.WSConnections.Inc()
	defer func() {
		s.Engine.DropConn(r.Context(), conn.ID())
		observability.WSConnections.Dec()
		conn.Close()
	}()

	// the driver's session, set by the announce frame
	var sid string
	if v := sessionID(r); v != "" {
		sid = v
	}

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.Send(ackFrame{Type: "error", Error: "malformed frame"})
			continue
		}
		ctx := r.Context()

		switch f.Type {
		case "announce":
			entry, err := s.Engine.Announce(ctx, firstNonEmpty(f.SessionID, sid), f.DriverID, f.Name, conn.ID())
			if err != nil {
				conn.Send(ackFrame{Type: "error", Ref: f.Type, Error: err.Error()})
				continue
			}
			sid = entry.ID
			conn.Send(ackFrame{Type: "ack", Ref: f.Type, Data: map[string]any{"session_id": entry.ID, "online": entry.Online}})
		case "online":
			s.reply(conn, f, nil, s.Engine.SetOnline(ctx, sid, f.Online))
		case "accept":
			o, err := s.Engine.Accept(ctx, sid, f.OrderID)
			s.reply(conn, f, o, err)
		case "decline":
			s.Engine.Decline(ctx, sid, f.OrderID)
			conn.Send(ackFrame{Type: "ack", Ref: f.Type})
		case "status":
			o, err := s.Engine.UpdateStatus(ctx, sid, f.OrderID, f.Status, f.WaitingMinutes, f.ArrivedAt)
			s.reply(conn, f, o, err)
		case "stop_start":
			o, err := s.Engine.StartPaidStop(ctx, sid, f.OrderID, f.Stop, f.ElapsedSeconds)
			s.reply(conn, f, o, err)
		case "stop_end":
			o, err := s.Engine.EndPaidStop(ctx, sid, f.OrderID)
			s.reply(conn, f, o, err)
		case "payment_confirm":
			o, err := s.Engine.ConfirmPayment(ctx, sid, f.OrderID, f.Method)
			s.reply(conn, f, o, err)
		case "cancel":
			o, err := s.Engine.Cancel(ctx, f.OrderID, "driver", f.Reason)
			s.reply(conn, f, o, err)
		case "location":
			s.reply(conn, f, nil, s.Engine.ReportLocation(ctx, sid, f.OrderID, f.Lat, f.Lon))
		case "chat":
			s.Engine.SendChat(ctx, f.OrderID, "driver", f.Body)
			conn.Send(ackFrame{Type: "ack", Ref: f.Type})
		default:
			conn.Send(ackFrame{Type: "error", Ref: f.Type, Error: "unknown frame type"})
		}
	}
}

func (s *Server) handleClientWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := broadcast.NewWSConn(raw)
	s.Engine.Groups.Register(conn)
	observability.WSConnections.Inc()
	defer func() {
		s.Engine.Groups.Unregister(conn.ID())
		observability.WSConnections.Dec()
		conn.Close()
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.Send(ackFrame{Type: "error", Error: "malformed frame"})
			continue
		}
		ctx := r.Context()

		switch f.Type {
		case "join":
			o, err := s.Engine.JoinOrder(ctx, f.OrderID, f.OrderToken, conn.ID())
			s.reply(conn, f, o, err)
		case "cancel":
			o, err := s.Engine.ClientCancel(ctx, f.OrderID, f.OrderToken, conn.ID(), f.Reason)
			s.reply(conn, f, o, err)
		case "chat":
			s.reply(conn, f, nil, s.Engine.ClientChat(ctx, f.OrderID, f.OrderToken, conn.ID(), f.Body))
		case "location":
			s.reply(conn, f, nil, s.Engine.ClientLocation(ctx, f.OrderID, f.OrderToken, conn.ID(), f.Lat, f.Lon))
		case "payment_retry":
			o, err := s.Engine.RetryPayment(ctx, f.OrderID, f.OrderToken, conn.ID())
			s.reply(conn, f, o, err)
		case "payment_cash":
			o, err := s.Engine.SwitchToCash(ctx, f.OrderID, f.OrderToken, conn.ID())
			s.reply(conn, f, o, err)
		case "confirm_payment_intent":
			// informational: the client-side SDK confirmed the card
			// intent; settlement still rides on the driver's confirm
			conn.Send(ackFrame{Type: "ack", Ref: f.Type})
		default:
			conn.Send(ackFrame{Type: "error", Ref: f.Type, Error: "unknown frame type"})
		}
	}
}

func (s *Server) reply(conn *broadcast.WSConn, f frame, data any, err error) {
	if err != nil {
		conn.Send(ackFrame{Type: "error", Ref: f.Type, Error: err.Error()})
		return
	}
	ack := ackFrame{Type: "ack", Ref: f.Type}
	if data != nil {
		ack.Data = data
	}
	conn.Send(ack)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
