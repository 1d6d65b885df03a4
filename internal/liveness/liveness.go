// Package liveness periodically injects a sweep into every live room. Rooms decide for
// themselves who is stale.
package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/DoyleJ11/byte-battle-backend/internal/room"
)

type RoomLister interface {
	List(ctx context.Context) []*room.Room
}

type Monitor struct {
	rooms    RoomLister
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewMonitor(rooms RoomLister, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{rooms: rooms, interval: interval, now: time.Now, log: logger.Named("liveness")}
}

// Run sweeps every interval until ctx is done. Intervals under a second are rounded up.
func (m *Monitor) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", m.interval), func() { m.SweepOnce(ctx) }); err != nil {
		return fmt.Errorf("liveness: schedule: %w", err)
	}
	c.Start()
	m.log.Info("liveness monitor started", zap.Duration("interval", m.interval))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// SweepOnce sends one Sweep to every room and returns how many accepted it.
func (m *Monitor) SweepOnce(ctx context.Context) int {
	now := m.now()
	sent := 0
	for _, rm := range m.rooms.List(ctx) {
		sendCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := rm.Send(sendCtx, room.Sweep{Now: now})
		cancel()
		if err != nil {
			m.log.Debug("sweep skipped", zap.String("room", rm.Code()), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}
