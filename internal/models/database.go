package models

import (
	"time"
)

// SubscriberRow is the SQL representation of one Subscribers entry
type SubscriberRow struct {
	Identity      int64     `gorm:"primaryKey;autoIncrement:false"`
	ExpiryTS      int64     `gorm:"not null;index"`
	Status        string    `gorm:"not null;size:20;index"`
	LastPaymentAt string    `gorm:"size:40"`
	ExpiredAt     string    `gorm:"size:40"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (SubscriberRow) TableName() string {
	return "subscriber"
}

// ToSubscription converts a row to the domain record
func (r SubscriberRow) ToSubscription() Subscription {
	return Subscription{
		ExpiryTS:      r.ExpiryTS,
		Status:        SubscriptionStatus(r.Status),
		LastPaymentAt: r.LastPaymentAt,
		ExpiredAt:     r.ExpiredAt,
	}
}

// NewSubscriberRow converts a domain record to a row
func NewSubscriberRow(identity int64, sub Subscription) SubscriberRow {
	return SubscriberRow{
		Identity:      identity,
		ExpiryTS:      sub.ExpiryTS,
		Status:        string(sub.Status),
		LastPaymentAt: sub.LastPaymentAt,
		ExpiredAt:     sub.ExpiredAt,
	}
}
