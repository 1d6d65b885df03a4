package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/byte-battle-backend/internal/room"
	"github.com/DoyleJ11/byte-battle-backend/pkg/types"
)

// RoomLookup finds live rooms by code.
type RoomLookup interface {
	Get(ctx context.Context, code string) (*room.Room, bool)
}

func GetRoom(rooms RoomLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		rm, ok := rooms.Get(r.Context(), code)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		reply := make(chan room.View, 1)
		if err := rm.Send(ctx, room.GetState{Reply: reply}); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}

		select {
		case v := <-reply:
			snap := v.State.Snapshot()
			snap.Version = v.Version
			writeJSON(w, http.StatusOK, snap)
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "room busy"})
		}
	}
}

// XPLookup reads a player's XP total from the ledger.
type XPLookup interface {
	Total(ctx context.Context, playerID string) (int, error)
}

func GetPlayerXP(ledger XPLookup, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		total, err := ledger.Total(r.Context(), id)
		if err != nil {
			logger.Error("xp lookup failed", zap.String("player", id), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, types.PlayerXP{PlayerID: id, XP: total})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
