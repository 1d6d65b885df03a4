// Package ws adapts websocket frames to room commands and room output back to frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/byte-battle-backend/internal/battle"
	"github.com/DoyleJ11/byte-battle-backend/internal/problem"
	"github.com/DoyleJ11/byte-battle-backend/internal/room"
	"github.com/DoyleJ11/byte-battle-backend/internal/session"
	"github.com/DoyleJ11/byte-battle-backend/pkg/types"
)

// Rooms is the part of the room store the dispatcher needs.
type Rooms interface {
	Create(ctx context.Context, host room.Client) (*room.Room, error)
	Get(ctx context.Context, code string) (*room.Room, bool)
}

type Options struct {
	// ReadTimeout must exceed KeepaliveInterval.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// KeepaliveInterval is how often clients are told to send battle_heartbeat.
	KeepaliveInterval time.Duration
	OriginPatterns    []string
	OutboxSize        int
}

func (o *Options) defaults() {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 32
	}
}

var errUnknownEvent = errors.New("unknown event")

func Handler(rooms Rooms, reg session.Registry, logger *zap.Logger, opts Options) http.HandlerFunc {
	opts.defaults()
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := strings.TrimSpace(r.URL.Query().Get("player_id"))
		if playerID == "" {
			playerID = uuid.NewString()
		}
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			name = "Player-" + playerID[:min(4, len(playerID))]
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan types.ServerMessage, opts.OutboxSize)
		c := &client{
			id:     playerID,
			name:   name,
			out:    out,
			rooms:  rooms,
			reg:    reg,
			log:    logger.With(zap.String("player", playerID)),
			joined: make(map[string]*room.Room),
		}
		defer c.detachAll()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case msg := <-out:
					payload, err := json.Marshal(msg)
					if err != nil {
						c.log.Error("encode frame", zap.String("event", msg.Type), zap.Error(err))
						continue
					}
					ctx, cancel := context.WithTimeout(writeCtx, opts.WriteTimeout)
					err = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
					if err != nil {
						writeCancel()
						return
					}
				}
			}
		}()

		c.push(types.EvtSession, types.Session{
			PlayerID:          playerID,
			HeartbeatInterval: int(opts.KeepaliveInterval / time.Second),
		})
		c.log.Info("client connected")

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(writeCtx, opts.ReadTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					c.log.Info("client disconnected")
				default:
					c.log.Debug("read failed", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				c.push(types.EvtError, types.Error{Message: "bad json", Kind: string(battle.KindProtocolViolation)})
				continue
			}
			if err := c.dispatch(writeCtx, cm); err != nil {
				c.log.Debug("event rejected", zap.String("event", cm.Type), zap.Error(err))
				c.push(types.EvtError, battle.ErrorMessage(err))
			}
		}
	}
}

type client struct {
	id     string
	name   string
	out    chan types.ServerMessage
	rooms  Rooms
	reg    session.Registry
	log    *zap.Logger
	joined map[string]*room.Room
}

func (c *client) self() room.Client {
	return room.Client{ID: c.id, Name: c.name, Outbox: c.out}
}

// push queues a frame from the connection itself. A full outbox drops it.
func (c *client) push(event string, data any) {
	select {
	case c.out <- types.ServerMessage{Type: event, Data: data}:
	default:
		c.log.Warn("outbox full, dropping frame", zap.String("event", event))
	}
}

func (c *client) dispatch(ctx context.Context, m types.ClientMessage) error {
	switch m.Type {
	case types.EvtCreate:
		return c.create(ctx)
	case types.EvtRejoinAttempt:
		return c.rejoin(ctx, m)
	}

	cmd, err := toCommand(m)
	if err != nil {
		return err
	}

	if cmd.Type == battle.CmdJoinRequest {
		if bound, ok := c.liveBinding(ctx); ok && bound != normalize(m.RoomCode) {
			return fmt.Errorf("%w: %s", battle.ErrAlreadyInRoom, bound)
		}
	}

	rm, ok := c.rooms.Get(ctx, m.RoomCode)
	if !ok {
		return battle.ErrRoomNotFound
	}
	return c.forward(ctx, rm, cmd)
}

func (c *client) create(ctx context.Context) error {
	if code, ok := c.liveBinding(ctx); ok {
		return fmt.Errorf("%w: %s", battle.ErrAlreadyInRoom, code)
	}
	rm, err := c.rooms.Create(ctx, c.self())
	if err != nil {
		return err
	}
	c.joined[rm.Code()] = rm
	c.log.Info("room created", zap.String("room", rm.Code()))
	return nil
}

// rejoin accepts an explicit code or falls back to the registry binding.
func (c *client) rejoin(ctx context.Context, m types.ClientMessage) error {
	code := normalize(m.RoomCode)
	if code == "" {
		bound, ok, err := c.reg.Resolve(ctx, c.id)
		if err != nil {
			return err
		}
		if !ok {
			return battle.ErrRoomExpired
		}
		code = bound
	}
	rm, ok := c.rooms.Get(ctx, code)
	if !ok {
		return battle.ErrRoomExpired
	}
	return c.forward(ctx, rm, battle.Command{Type: battle.CmdRejoin})
}

func (c *client) forward(ctx context.Context, rm *room.Room, cmd battle.Command) error {
	if err := rm.Send(ctx, room.FromClient{From: c.self(), Cmd: cmd}); err != nil {
		if errors.Is(err, room.ErrClosed) {
			delete(c.joined, rm.Code())
			return battle.ErrRoomExpired
		}
		return err
	}
	c.joined[rm.Code()] = rm
	return nil
}

// liveBinding reports the room this player is bound to. A binding whose room is gone,
// left behind by a restart, is cleared so a room can claim the player again.
func (c *client) liveBinding(ctx context.Context) (string, bool) {
	code, ok, err := c.reg.Resolve(ctx, c.id)
	if err != nil {
		c.log.Warn("session resolve failed", zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	if _, live := c.rooms.Get(ctx, code); !live {
		if err := c.reg.Unbind(ctx, c.id, code); err != nil {
			c.log.Warn("stale session unbind failed", zap.String("room", code), zap.Error(err))
		}
		return "", false
	}
	return code, true
}

func (c *client) detachAll() {
	for _, rm := range c.joined {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = rm.Send(ctx, room.Detach{PlayerID: c.id, Outbox: c.out})
		cancel()
	}
}

func toCommand(m types.ClientMessage) (battle.Command, error) {
	switch m.Type {
	case types.EvtJoinRequest:
		return battle.Command{Type: battle.CmdJoinRequest}, nil
	case types.EvtJoinResponse:
		return battle.Command{Type: battle.CmdJoinResponse, Accepted: m.Accepted}, nil
	case types.EvtConfirmJoin:
		return battle.Command{Type: battle.CmdConfirmJoin}, nil
	case types.EvtHeartbeat:
		return battle.Command{Type: battle.CmdHeartbeat}, nil
	case types.EvtChatSend:
		return battle.Command{Type: battle.CmdChat, Text: m.Message}, nil
	case types.EvtSubmit:
		return battle.Command{Type: battle.CmdSubmit, Code: m.Code}, nil
	case types.EvtRematchVote:
		return battle.Command{Type: battle.CmdRematchVote, Vote: battle.Vote(m.Vote)}, nil
	case types.EvtLeave:
		return battle.Command{Type: battle.CmdLeave}, nil
	case types.EvtStart:
		cfg := battle.RoundConfig{
			Language: m.Language,
			Duration: time.Duration(m.Duration) * time.Second,
		}
		if m.Difficulty != "" {
			d, ok := problem.ParseDifficulty(m.Difficulty)
			if !ok {
				return battle.Command{}, fmt.Errorf("%w: unknown difficulty %q", battle.ErrInvalidConfig, m.Difficulty)
			}
			cfg.Difficulty = d
		}
		if m.Duration < 0 {
			return battle.Command{}, fmt.Errorf("%w: negative duration", battle.ErrInvalidConfig)
		}
		return battle.Command{Type: battle.CmdStart, Config: cfg}, nil
	default:
		return battle.Command{}, fmt.Errorf("%w %q", errUnknownEvent, m.Type)
	}
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
