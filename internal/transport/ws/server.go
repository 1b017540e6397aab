package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/economy"
	"outpost.ai/internal/sim/world"
)

// Limits bounds how fast one connection may submit commands.
type Limits struct {
	CommandsPerSec float64
	Burst          int
	// SubmitTimeout bounds the wait for a command result (default 5s).
	SubmitTimeout time.Duration
}

type Server struct {
	world  *world.World
	log    *log.Logger
	limits Limits

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger, limits Limits) *Server {
	if limits.CommandsPerSec <= 0 {
		limits.CommandsPerSec = 20
	}
	if limits.Burst <= 0 {
		limits.Burst = 40
	}
	if limits.SubmitTimeout <= 0 {
		limits.SubmitTimeout = 5 * time.Second
	}
	return &Server{
		world:  w,
		log:    logger,
		limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type conn struct {
	id      string
	out     chan []byte
	limiter *rate.Limiter
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wsc, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer wsc.Close()

		c, hello := s.handshake(wsc)
		if c == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if hello.Events {
			subID, events := s.world.Subscribe(cap(c.out))
			defer s.world.Unsubscribe(subID)
			go s.forwardEvents(ctx, c, events)
		}

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = wsc.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := wsc.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = wsc.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := wsc.ReadMessage()
			if err != nil {
				break
			}
			s.handleMessage(ctx, c, msg)
		}

		cancel()
		_ = wsc.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handshake(wsc *websocket.Conn) (*conn, protocol.HelloMsg) {
	var hello protocol.HelloMsg
	_ = wsc.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := wsc.ReadMessage()
	if err != nil {
		return nil, hello
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = wsc.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil, hello
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, hello
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = wsc.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil, hello
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 64
	}
	if maxQ > 1024 {
		maxQ = 1024
	}
	c := &conn{
		id:      uuid.NewString(),
		out:     make(chan []byte, maxQ),
		limiter: rate.NewLimiter(rate.Limit(s.limits.CommandsPerSec), s.limits.Burst),
	}

	st := s.world.State()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ConnectionID:    c.id,
		SessionID:       st.Session,
		CatalogDigest:   st.CatalogDigest,
		Buildings:       len(st.Buildings),
	}
	if err := writeJSON(wsc, welcome); err != nil {
		return nil, hello
	}
	name := strings.TrimSpace(hello.ClientName)
	if name == "" {
		name = "client"
	}
	if s.log != nil {
		s.log.Printf("connection %s (%s) joined, events=%v", c.id, name, hello.Events)
	}
	return c, hello
}

func (s *Server) handleMessage(ctx context.Context, c *conn, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.reply(ctx, c, protocol.ResultMsg{Type: protocol.TypeResult, Code: protocol.ErrProtoBadRequest, Message: "malformed json"})
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.reply(ctx, c, protocol.ResultMsg{Type: protocol.TypeResult, Code: protocol.ErrProtoBadRequest, Message: "bad protocol_version"})
		return
	}

	switch base.Type {
	case protocol.TypeCommand:
		var cmd protocol.CommandMsg
		if err := json.Unmarshal(msg, &cmd); err != nil {
			s.reply(ctx, c, protocol.ResultMsg{Type: protocol.TypeResult, Code: protocol.ErrProtoBadRequest, Message: err.Error()})
			return
		}
		if !c.limiter.Allow() {
			s.reply(ctx, c, protocol.ResultMsg{Type: protocol.TypeResult, Ref: cmd.ID, Code: protocol.ErrRateLimit, Message: "too many commands"})
			return
		}
		s.reply(ctx, c, s.submit(ctx, c, cmd))

	case protocol.TypeQuery:
		var q protocol.QueryMsg
		_ = json.Unmarshal(msg, &q)
		s.reply(ctx, c, world.StateMessage(s.world.State(), q.ID))

	default:
		s.reply(ctx, c, protocol.ResultMsg{Type: protocol.TypeResult, Code: protocol.ErrProtoBadRequest, Message: "unknown message type " + base.Type})
	}
}

func (s *Server) submit(ctx context.Context, c *conn, cmd protocol.CommandMsg) protocol.ResultMsg {
	sctx, cancel := context.WithTimeout(ctx, s.limits.SubmitTimeout)
	defer cancel()
	res, err := s.world.Submit(sctx, world.Command{
		Name:       cmd.Command,
		BuildingID: cmd.BuildingID,
		Resource:   cmd.Resource,
		Amount:     cmd.Amount,
		Slot:       cmd.Slot,
		Source:     c.id,
	})
	if err != nil {
		// A queued command keeps the world's E_OUTCOME_UNKNOWN code.
		code := res.Code
		if code == "" {
			code = protocol.ErrInternal
			if errors.Is(err, context.DeadlineExceeded) {
				code = protocol.ErrEngineBusy
			}
		}
		res = economy.Result{OK: false, Code: code, Message: err.Error()}
	}
	return world.ResultMessage(cmd.ID, res)
}

// forwardEvents copies world events onto the connection queue. Events that do
// not fit are dropped; replies to commands are never displaced.
func (s *Server) forwardEvents(ctx context.Context, c *conn, events <-chan world.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(world.EventMessage(ev))
			if err != nil {
				continue
			}
			select {
			case c.out <- b:
			default:
			}
		}
	}
}

func (s *Server) reply(ctx context.Context, c *conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	case <-ctx.Done():
	}
}

func writeJSON(wsc *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = wsc.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return wsc.WriteMessage(websocket.TextMessage, b)
}
