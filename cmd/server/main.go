package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/byte-battle-backend/internal/config"
	"github.com/DoyleJ11/byte-battle-backend/internal/httpapi"
	"github.com/DoyleJ11/byte-battle-backend/internal/hub"
	"github.com/DoyleJ11/byte-battle-backend/internal/judge"
	"github.com/DoyleJ11/byte-battle-backend/internal/liveness"
	"github.com/DoyleJ11/byte-battle-backend/internal/problem"
	"github.com/DoyleJ11/byte-battle-backend/internal/rewards"
	"github.com/DoyleJ11/byte-battle-backend/internal/room"
	"github.com/DoyleJ11/byte-battle-backend/internal/session"
	"github.com/DoyleJ11/byte-battle-backend/internal/ws"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.LogDev)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg session.Registry = session.NewMemory()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		reg = session.NewRedis(rdb, cfg.Redis.SessionTTL)
		logger.Info("session registry: redis", zap.String("addr", cfg.Redis.Addr))
	}

	var ledger rewards.Store = rewards.NewMemory()
	if cfg.DB.DSN != "" {
		store, err := rewards.OpenPostgres(ctx, cfg.DB.DSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		ledger = store
		logger.Info("xp ledger: postgres")
	}

	var gateway judge.Gateway = judge.Lenient{}
	if cfg.Judge.URL != "" {
		gateway = judge.NewRetrying(judge.NewHTTPGateway(cfg.Judge.URL, cfg.Judge.Timeout), cfg.RetryPolicy(), logger)
		logger.Info("judge: http", zap.String("url", cfg.Judge.URL))
	} else {
		logger.Warn("no judge configured, accepting submissions without evaluation")
	}

	h := hub.NewHub(ctx, hub.Config{
		Rules: cfg.Rules(),
		Room: room.Deps{
			Registry: reg,
			Judge:    gateway,
			Problems: problem.NewCatalog(problem.Builtin, uint64(time.Now().UnixNano())),
			Rewards:  ledger,
			Logger:   logger,
		},
	})

	handler := httpapi.SetupRoutes(h, ledger, ws.Handler(h, reg, logger, ws.Options{
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		KeepaliveInterval: cfg.Liveness.KeepaliveInterval,
		OriginPatterns:    cfg.HTTP.OriginPatterns,
	}), logger)
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return liveness.NewMonitor(h, cfg.Liveness.SweepInterval, logger).Run(gctx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
