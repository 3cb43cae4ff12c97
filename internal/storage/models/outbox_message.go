package models

import (
	"time"

	"gorm.io/datatypes"
)

// 发件箱消息状态
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 待补发的队列消息
type OutboxMessage struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement"`
	AggregateID      string         `gorm:"type:varchar(64);not null;index"`
	EventType        string         `gorm:"type:varchar(255);not null"`
	Payload          datatypes.JSON `gorm:"type:json;not null"`
	TargetExchange   string         `gorm:"type:varchar(255);not null"`
	TargetRoutingKey string         `gorm:"type:varchar(255);not null"`
	Status           string         `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_outbox_status_created_at"`
	RetryCount       int            `gorm:"default:0"`
	CreatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_outbox_status_created_at,sort:asc"`
	ProcessedAt      *time.Time     `gorm:"type:datetime(6);null"`
	ErrorMessage     string         `gorm:"type:text"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
