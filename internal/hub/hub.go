// Package hub is the room store: an actor that owns every live room by code.
package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/byte-battle-backend/internal/battle"
	"github.com/DoyleJ11/byte-battle-backend/internal/room"
)

const (
	codeCharset     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 4
	maxCodeAttempts = 64
)

var ErrNoFreeCode = errors.New("hub: could not allocate a room code")

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Host  room.Client
	Reply chan CreateResult
}

type CreateResult struct {
	Room *room.Room
	Err  error
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

// RemoveRoom only removes Room if it is still the one stored under Code.
type RemoveRoom struct {
	Code string
	Room *room.Room
}

type ListRooms struct {
	Reply chan []*room.Room
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Config struct {
	Rules battle.Rules
	// Room is the template every new room is built from. OnClose is set by the hub.
	Room room.Deps
	// NewCode defaults to GenerateCode.
	NewCode func() (string, error)
}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	cfg    Config
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if cfg.NewCode == nil {
		cfg.NewCode = GenerateCode
	}
	if cfg.Room.Logger == nil {
		cfg.Room.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		cfg:    cfg,
		log:    cfg.Room.Logger.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				rm, err := h.create(msg.Host)
				msg.Reply <- CreateResult{Room: rm, Err: err}

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // May be nil

			case RemoveRoom:
				if cur := h.rooms[msg.Code]; cur != nil && (msg.Room == nil || cur == msg.Room) {
					delete(h.rooms, msg.Code)
					h.log.Info("room removed", zap.String("room", msg.Code), zap.Int("live", len(h.rooms)))
				}

			case ListRooms:
				out := make([]*room.Room, 0, len(h.rooms))
				for _, rm := range h.rooms {
					out = append(out, rm)
				}
				msg.Reply <- out

			case ShutdownHub:
				for _, rm := range h.rooms {
					_ = rm.Send(h.ctx, room.Shutdown{})
				}
				clear(h.rooms)
				h.cancel()
			}
		}
	}
}

// create retries code generation until it finds a code no live room holds.
func (h *Hub) create(host room.Client) (*room.Room, error) {
	var code string
	for range maxCodeAttempts {
		c, err := h.cfg.NewCode()
		if err != nil {
			return nil, err
		}
		if h.rooms[c] == nil {
			code = c
			break
		}
		h.log.Debug("room code collision, regenerating", zap.String("room", c))
	}
	if code == "" {
		return nil, ErrNoFreeCode
	}

	deps := h.cfg.Room
	var rm *room.Room
	deps.OnClose = func(code string) {
		select {
		case h.inbox <- RemoveRoom{Code: code, Room: rm}:
		case <-h.ctx.Done():
		}
	}
	rm = room.New(h.ctx, code, host, h.cfg.Rules, deps)
	h.rooms[code] = rm
	return rm, nil
}

// Create opens a new room hosted by host.
func (h *Hub) Create(ctx context.Context, host room.Client) (*room.Room, error) {
	reply := make(chan CreateResult, 1)
	if err := h.send(ctx, CreateRoom{Host: host, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.Room, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get looks a room up by code, case-insensitively.
func (h *Hub) Get(ctx context.Context, code string) (*room.Room, bool) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, GetRoom{Code: NormalizeCode(code), Reply: reply}); err != nil {
		return nil, false
	}
	select {
	case rm := <-reply:
		return rm, rm != nil
	case <-ctx.Done():
		return nil, false
	}
}

func (h *Hub) List(ctx context.Context) []*room.Room {
	reply := make(chan []*room.Room, 1)
	if err := h.send(ctx, ListRooms{Reply: reply}); err != nil {
		return nil
	}
	select {
	case rooms := <-reply:
		return rooms
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}
