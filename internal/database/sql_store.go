package database

import (
	"context"
	"fmt"

	"channel-gate/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// batchSize keeps statements under sqlite's bound-variable limit
const batchSize = 100

// SQLStore keeps one row per subscriber; Save makes the table equal the mapping
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore wraps an open gorm connection and migrates the subscriber table
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&models.SubscriberRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Load 读取全部订阅记录
func (s *SQLStore) Load(ctx context.Context) (models.Subscribers, error) {
	var rows []models.SubscriberRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}

	subs := make(models.Subscribers, len(rows))
	for _, row := range rows {
		subs[row.Identity] = row.ToSubscription()
	}
	return subs, nil
}

// Save 在一个事务中写入完整映射
func (s *SQLStore) Save(ctx context.Context, subs models.Subscribers) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(subs) == 0 {
			return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.SubscriberRow{}).Error
		}

		ids := subs.IDs()
		rows := make([]models.SubscriberRow, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, models.NewSubscriberRow(id, subs[id]))
		}

		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity"}},
			DoUpdates: clause.AssignmentColumns([]string{"expiry_ts", "status", "last_payment_at", "expired_at", "updated_at"}),
		}).CreateInBatches(&rows, batchSize).Error
		if err != nil {
			return fmt.Errorf("upsert subscribers: %w", err)
		}

		var existing []int64
		if err := tx.Model(&models.SubscriberRow{}).Pluck("identity", &existing).Error; err != nil {
			return fmt.Errorf("list subscribers: %w", err)
		}
		var stale []int64
		for _, id := range existing {
			if _, ok := subs[id]; !ok {
				stale = append(stale, id)
			}
		}
		for start := 0; start < len(stale); start += batchSize {
			end := min(start+batchSize, len(stale))
			if err := tx.Where("identity IN ?", stale[start:end]).Delete(&models.SubscriberRow{}).Error; err != nil {
				return fmt.Errorf("prune subscribers: %w", err)
			}
		}
		return nil
	})
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
