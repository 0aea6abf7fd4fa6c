package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/atulpatil/drawbridge/internal/protocol"
	"github.com/atulpatil/drawbridge/internal/registry"
)

const appendTimeout = 5 * time.Second

// OperationLog is the durability sink consumed by the router. Appends are
// fire-and-forget: broadcast is the source of real-time truth and a failed
// append is only logged.
type OperationLog interface {
	AppendOperation(ctx context.Context, roomID, userID, payload string) error
}

type broadcastReq struct {
	src     registry.Conn
	roomID  string
	message string
}

// Router dispatches inbound frames: join/leave mutate the registry
// synchronously, chat frames are queued and fanned out by a single Run
// goroutine so all room members observe broadcasts in the same order.
type Router struct {
	reg       *registry.Registry
	ops       OperationLog
	log       zerolog.Logger
	broadcast chan broadcastReq
}

func NewRouter(reg *registry.Registry, ops OperationLog, log zerolog.Logger) *Router {
	return &Router{
		reg:       reg,
		ops:       ops,
		log:       log.With().Str("component", "router").Logger(),
		broadcast: make(chan broadcastReq, 256),
	}
}

// Route handles one inbound frame from src. Malformed frames produce an
// error frame back to src only and never affect other connections.
func (rt *Router) Route(src registry.Conn, frame []byte) {
	in, err := protocol.ParseInbound(frame)
	if err != nil {
		rt.send(src, protocol.Error(err.Error()))
		return
	}

	switch in.Type {
	case protocol.TypeJoinRoom:
		rt.reg.Join(src, in.RoomID)
		rt.send(src, protocol.RoomJoined(in.RoomID))
	case protocol.TypeLeaveRoom:
		rt.reg.Leave(src, in.RoomID)
	case protocol.TypeChat:
		rt.broadcast <- broadcastReq{src: src, roomID: in.RoomID, message: in.Message}
	}
}

// Run consumes queued chat broadcasts until ctx is cancelled. One message
// is fanned out to completion before the next starts.
func (rt *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-rt.broadcast:
			rt.fanOut(req)
		}
	}
}

func (rt *Router) fanOut(req broadcastReq) {
	out := protocol.Chat(req.roomID, req.message, req.src.UserID(), time.Now())
	frame, err := protocol.Marshal(out)
	if err != nil {
		rt.log.Error().Err(err).Msg("marshal chat frame")
		return
	}

	members := rt.reg.Members(req.roomID)
	for _, m := range members {
		if !m.Enqueue(frame) {
			// Slow or broken peer: drop it, keep delivering to the rest.
			rt.log.Warn().
				Str("conn", m.ID()).
				Str("room", req.roomID).
				Msg("outbound queue full, disconnecting peer")
			go m.Close()
		}
	}

	// Durability is independent of live membership: a chat to an empty
	// room is still logged.
	go rt.append(req)
}

func (rt *Router) append(req broadcastReq) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if err := rt.ops.AppendOperation(ctx, req.roomID, req.src.UserID(), req.message); err != nil {
		rt.log.Error().
			Err(err).
			Str("room", req.roomID).
			Str("user", req.src.UserID()).
			Msg("append operation failed")
	}
}

func (rt *Router) send(c registry.Conn, out protocol.Outbound) {
	frame, err := protocol.Marshal(out)
	if err != nil {
		rt.log.Error().Err(err).Msg("marshal outbound frame")
		return
	}
	if !c.Enqueue(frame) {
		go c.Close()
	}
}
