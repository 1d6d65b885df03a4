package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/byte-battle-backend/internal/battle"
)

type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects with a few retries and migrates the ledger table.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*GormStore, error) {
	var db *gorm.DB
	op := func() error {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			logger.Warn("postgres connect failed, retrying", zap.Error(err))
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 3), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("rewards: connect: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&XPAward{}); err != nil {
		return nil, fmt.Errorf("rewards: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Award(ctx context.Context, code string, round int, res battle.Result) error {
	rows := awardsFor(code, round, res)
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("rewards: record %s: %w", code, err)
	}
	return nil
}

func (s *GormStore) Total(ctx context.Context, playerID string) (int, error) {
	var total int
	err := s.db.WithContext(ctx).Model(&XPAward{}).
		Where("player_id = ?", playerID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("rewards: total %s: %w", playerID, err)
	}
	return total, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
